// Package auth provides the credential collaborator that attaches a bearer
// token to every outbound backend request.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoToken is returned when no credential is available.
var ErrNoToken = errors.New("no auth token available")

// TokenSource supplies the bearer credential for outbound requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed credential, typically the one presented by the
// browser when it opened a view.
type StaticToken string

func (t StaticToken) Token(_ context.Context) (string, error) {
	if strings.TrimSpace(string(t)) == "" {
		return "", ErrNoToken
	}
	return string(t), nil
}

// Apply sets the Authorization header from ts. A nil source leaves the
// request unauthenticated.
func Apply(ctx context.Context, ts TokenSource, req *http.Request) error {
	if ts == nil {
		return nil
	}
	token, err := ts.Token(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

type tokenState struct {
	Token    string `json:"token"`
	Username string `json:"username,omitempty"`
}

// FileTokenStore reads and writes the session token as a JSON file on disk.
type FileTokenStore struct {
	path string
}

// NewFileTokenStore builds a FileTokenStore rooted at the provided path.
func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{path: path}
}

// Token loads the stored credential. A missing file resolves to ErrNoToken.
func (s *FileTokenStore) Token(_ context.Context) (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNoToken
		}
		return "", fmt.Errorf("read token file: %w", err)
	}

	var state tokenState
	if err := json.Unmarshal(data, &state); err != nil {
		return "", fmt.Errorf("decode token file: %w", err)
	}
	if strings.TrimSpace(state.Token) == "" {
		return "", ErrNoToken
	}
	return state.Token, nil
}

// Save persists the credential with restricted permissions.
func (s *FileTokenStore) Save(token, username string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("ensure token directory: %w", err)
	}

	data, err := json.MarshalIndent(tokenState{Token: token, Username: username}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode token file: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	return nil
}

// Clear removes the stored credential. Removing a missing file is not an error.
func (s *FileTokenStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove token file: %w", err)
	}
	return nil
}

var (
	_ TokenSource = StaticToken("")
	_ TokenSource = (*FileTokenStore)(nil)
)
