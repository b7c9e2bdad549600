package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/maskview/internal/api/response"
)

const fingerprintLen = 12

// Auth requires a bearer credential on every request. The credential is not
// validated here; it is forwarded to the backend, which owns authorization.
type Auth struct{}

// NewAuth creates a new Auth middleware.
func NewAuth() *Auth {
	return &Auth{}
}

// Authenticate extracts the Bearer token and sets it, together with its
// fingerprint, in the request context.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r)
		if token == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}

		r = r.WithContext(WithCredential(r.Context(), token))
		next.ServeHTTP(w, r)
	})
}

// Fingerprint derives a short identifier for a credential, used for rate
// limiting, cache scoping and view ownership. It never reveals the token.
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "mv_" + hex.EncodeToString(sum[:])[:fingerprintLen]
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
