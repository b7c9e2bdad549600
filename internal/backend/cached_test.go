package backend

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memCache struct {
	mu     sync.Mutex
	data   map[string][]byte
	getErr error
}

func (m *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string][]byte)
	}
	m.data[key] = value
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func artifactKey(id string) string { return "artifact:" + id }

func TestCachedClient_HitSkipsBackend(t *testing.T) {
	var hits int
	ts := backendServer(t, func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png-bytes"))
	})

	mc := &memCache{}
	c := NewCachedClient(newTestClient(t, ts.URL), mc, artifactKey, time.Minute, nil)

	first, err := c.GetArtifact(context.Background(), "g1")
	require.NoError(t, err)
	second, err := c.GetArtifact(context.Background(), "g1")
	require.NoError(t, err)

	assert.Equal(t, 1, hits)
	assert.Equal(t, first.Data, second.Data)
	assert.Equal(t, "image/png", second.ContentType)
	assert.Equal(t, "g1", second.ID)
	assert.Contains(t, mc.data, "artifact:g1")
}

func TestCachedClient_ReadErrorFallsThrough(t *testing.T) {
	ts := backendServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("data"))
	})

	c := NewCachedClient(newTestClient(t, ts.URL), &memCache{getErr: errors.New("redis down")}, artifactKey, time.Minute, nil)
	a, err := c.GetArtifact(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), a.Data)
}

func TestCachedClient_CorruptEntryRefetched(t *testing.T) {
	ts := backendServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("fresh"))
	})

	mc := &memCache{data: map[string][]byte{"artifact:g1": []byte("no-separator")}}
	c := NewCachedClient(newTestClient(t, ts.URL), mc, artifactKey, time.Minute, nil)

	a, err := c.GetArtifact(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, []byte("fresh"), a.Data)
	assert.Equal(t, []byte("image/png\nfresh"), mc.data["artifact:g1"])
}

func TestCachedClient_ErrorsNotCached(t *testing.T) {
	ts := backendServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	mc := &memCache{}
	c := NewCachedClient(newTestClient(t, ts.URL), mc, artifactKey, time.Minute, nil)

	_, err := c.GetArtifact(context.Background(), "g1")
	assert.ErrorIs(t, err, ErrTransientFetch)
	assert.Empty(t, mc.data)
}

func TestCachedClient_DelegatesStatus(t *testing.T) {
	ts := backendServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"_id":"job-1","status":"running"}`))
	})

	c := NewCachedClient(newTestClient(t, ts.URL), &memCache{}, artifactKey, time.Minute, nil)
	job, err := c.GetInference(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.ID)
}
