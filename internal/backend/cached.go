package backend

import (
	"bytes"
	"context"
	"log/slog"
	"time"
)

// MaxCachedArtifactBytes bounds the payloads written to the artifact cache.
const MaxCachedArtifactBytes = 8 << 20

// ArtifactCache is the subset of cache.Cache used to share artifact payloads
// between views.
type ArtifactCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// CachedClient serves GetArtifact from a cache before asking the backend.
// Cache failures are logged and fall through to the backend.
type CachedClient struct {
	Client
	cache  ArtifactCache
	key    func(artifactID string) string
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedClient wraps next. key builds the cache key for an artifact ID.
func NewCachedClient(next Client, cache ArtifactCache, key func(string) string, ttl time.Duration, logger *slog.Logger) *CachedClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedClient{Client: next, cache: cache, key: key, ttl: ttl, logger: logger}
}

func (c *CachedClient) GetArtifact(ctx context.Context, artifactID string) (*Artifact, error) {
	key := c.key(artifactID)

	raw, found, err := c.cache.Get(ctx, key)
	switch {
	case err != nil:
		c.logger.Warn("artifact cache read failed", "artifact_id", artifactID, "error", err)
	case found:
		if a, ok := decodeArtifact(artifactID, raw); ok {
			return a, nil
		}
		_ = c.cache.Delete(ctx, key)
	}

	a, err := c.Client.GetArtifact(ctx, artifactID)
	if err != nil {
		return nil, err
	}

	if len(a.Data) <= MaxCachedArtifactBytes {
		if err := c.cache.Set(ctx, key, encodeArtifact(a), c.ttl); err != nil {
			c.logger.Warn("artifact cache write failed", "artifact_id", artifactID, "error", err)
		}
	}
	return a, nil
}

// Cached artifacts are stored as "<content type>\n<payload>".
func encodeArtifact(a *Artifact) []byte {
	out := make([]byte, 0, len(a.ContentType)+1+len(a.Data))
	out = append(out, a.ContentType...)
	out = append(out, '\n')
	return append(out, a.Data...)
}

func decodeArtifact(id string, raw []byte) (*Artifact, bool) {
	i := bytes.IndexByte(raw, '\n')
	if i < 0 {
		return nil, false
	}
	return &Artifact{ID: id, ContentType: string(raw[:i]), Data: raw[i+1:]}, true
}

var _ Client = (*CachedClient)(nil)
