package middleware

import (
	"context"
	"net/http"
)

type contextKey string

const (
	tokenKey     contextKey = "token"
	keyPrefixKey contextKey = "key_prefix"
	requestIDKey contextKey = "request_id"
)

// GetRequestID returns the id assigned by Logger.
func GetRequestID(r *http.Request) (string, bool) {
	id, ok := r.Context().Value(requestIDKey).(string)
	return id, ok
}

func setToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey, token)
}

// GetToken returns the bearer credential presented with the request.
func GetToken(r *http.Request) (string, bool) {
	token, ok := r.Context().Value(tokenKey).(string)
	return token, ok
}

func setKeyPrefix(ctx context.Context, prefix string) context.Context {
	return context.WithValue(ctx, keyPrefixKey, prefix)
}

// GetKeyPrefix returns the stable, non-secret fingerprint of the credential.
func GetKeyPrefix(r *http.Request) (string, bool) {
	prefix, ok := r.Context().Value(keyPrefixKey).(string)
	return prefix, ok
}

// WithCredential returns ctx carrying token as if Authenticate had run.
func WithCredential(ctx context.Context, token string) context.Context {
	return setKeyPrefix(setToken(ctx, token), Fingerprint(token))
}

// ExportedKeyPrefixKey returns the context key for key_prefix (for testing).
func ExportedKeyPrefixKey() contextKey {
	return keyPrefixKey
}
