package auth_test

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/kiranshivaraju/maskview/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticToken(t *testing.T) {
	tok, err := auth.StaticToken("abc").Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)
}

func TestStaticToken_Empty(t *testing.T) {
	_, err := auth.StaticToken("  ").Token(context.Background())
	assert.ErrorIs(t, err, auth.ErrNoToken)
}

func TestApply_SetsBearer(t *testing.T) {
	req := httptest.NewRequest("GET", "/x", nil)
	require.NoError(t, auth.Apply(context.Background(), auth.StaticToken("tok-1"), req))
	assert.Equal(t, "Bearer tok-1", req.Header.Get("Authorization"))
}

func TestApply_NilSource(t *testing.T) {
	req := httptest.NewRequest("GET", "/x", nil)
	require.NoError(t, auth.Apply(context.Background(), nil, req))
	assert.Empty(t, req.Header.Get("Authorization"))
}

func TestFileTokenStore_SaveLoadClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token.json")
	s := auth.NewFileTokenStore(path)

	_, err := s.Token(context.Background())
	assert.ErrorIs(t, err, auth.ErrNoToken)

	require.NoError(t, s.Save("secret", "alice"))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	tok, err := s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "secret", tok)

	require.NoError(t, s.Clear())
	require.NoError(t, s.Clear())
	_, err = s.Token(context.Background())
	assert.ErrorIs(t, err, auth.ErrNoToken)
}

func TestFileTokenStore_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := auth.NewFileTokenStore(path).Token(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode token file")
}
