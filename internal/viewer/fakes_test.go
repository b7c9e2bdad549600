package viewer_test

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kiranshivaraju/maskview/internal/backend"
	"github.com/kiranshivaraju/maskview/internal/blob"
	"github.com/kiranshivaraju/maskview/internal/cvat"
	"github.com/kiranshivaraju/maskview/internal/viewer"
	"github.com/kiranshivaraju/maskview/pkg/models"
	"github.com/stretchr/testify/require"
)

type step struct {
	job *models.InferenceJob
	err error
}

// fakeBackend serves scripted job statuses and in-memory artifacts.
type fakeBackend struct {
	mu        sync.Mutex
	jobs      map[string][]step
	statusHit map[string]int
	artifacts map[string][]byte
	artErrs   map[string]error
	artHits   map[string]int
	gate      chan struct{}
	archive   []byte
	dlErr     error

	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		jobs:      make(map[string][]step),
		statusHit: make(map[string]int),
		artifacts: make(map[string][]byte),
		artErrs:   make(map[string]error),
		artHits:   make(map[string]int),
	}
}

func (f *fakeBackend) script(id string, steps ...step) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[id] = steps
}

func (f *fakeBackend) GetInference(ctx context.Context, id string) (*models.InferenceJob, error) {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		old := f.maxInflight.Load()
		if n <= old || f.maxInflight.CompareAndSwap(old, n) {
			break
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	steps, ok := f.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: status 404", backend.ErrNotFound)
	}
	i := f.statusHit[id]
	f.statusHit[id]++
	if i >= len(steps) {
		i = len(steps) - 1
	}
	if steps[i].err != nil {
		return nil, steps[i].err
	}
	cp := *steps[i].job
	cp.Normalize()
	return &cp, nil
}

func (f *fakeBackend) GetArtifact(ctx context.Context, artifactID string) (*backend.Artifact, error) {
	if f.gate != nil {
		<-f.gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.artHits[artifactID]++
	if err := f.artErrs[artifactID]; err != nil {
		return nil, err
	}
	data, ok := f.artifacts[artifactID]
	if !ok {
		return nil, fmt.Errorf("%w: status 404", backend.ErrNotFound)
	}
	return &backend.Artifact{ID: artifactID, ContentType: "image/png", Data: data}, nil
}

func (f *fakeBackend) Download(ctx context.Context, id string) (io.ReadCloser, error) {
	if f.dlErr != nil {
		return nil, f.dlErr
	}
	return io.NopCloser(bytes.NewReader(f.archive)), nil
}

func (f *fakeBackend) statusCalls(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusHit[id]
}

func (f *fakeBackend) artifactCalls(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.artHits[id]
}

type fakePusher struct {
	mu    sync.Mutex
	calls [][]string
	jobs  []string
	res   *cvat.PushResult
	err   error

	// accepted runs after a successful push, before it returns.
	accepted func()
}

func (p *fakePusher) Push(ctx context.Context, jobID string, filenames []string) (*cvat.PushResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, filenames)
	p.jobs = append(p.jobs, jobID)
	if p.err != nil {
		return nil, p.err
	}
	if p.accepted != nil {
		p.accepted()
	}
	return p.res, nil
}

func (p *fakePusher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type fakeStatusCache struct {
	mu       sync.Mutex
	statuses map[string]string
}

func (c *fakeStatusCache) SetJobStatus(ctx context.Context, jobID string, status string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.statuses == nil {
		c.statuses = make(map[string]string)
	}
	c.statuses[jobID] = status
	return nil
}

func (c *fakeStatusCache) get(jobID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statuses[jobID]
}

type fakePushStore struct {
	mu      sync.Mutex
	records []*models.PushRecord
}

func (s *fakePushStore) CreatePushRecord(ctx context.Context, rec *models.PushRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func pending(id string) step {
	return step{job: &models.InferenceJob{ID: id, DatasetID: "ds-1", Status: models.JobStatusPending}}
}

func running(id string) step {
	return step{job: &models.InferenceJob{ID: id, DatasetID: "ds-1", Status: models.JobStatusRunning}}
}

func failed(id string) step {
	return step{job: &models.InferenceJob{ID: id, DatasetID: "ds-1", Status: models.JobStatusFailed}}
}

func completed(id string, results ...models.ResultItem) step {
	return step{job: &models.InferenceJob{ID: id, DatasetID: "ds-1", Status: models.JobStatusCompleted, Results: results}}
}

func pngBytes(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type harness struct {
	backend *fakeBackend
	pusher  *fakePusher
	blobs   *blob.Registry
	view    *viewer.View
}

func newHarness(t *testing.T, interval time.Duration, mutate ...func(*viewer.Options)) *harness {
	t.Helper()
	h := &harness{
		backend: newFakeBackend(),
		pusher:  &fakePusher{res: &cvat.PushResult{TaskURL: "http://cvat/tasks/7"}},
		blobs:   blob.NewRegistry(),
	}
	opts := viewer.Options{
		Backend:            h.backend,
		Pusher:             h.pusher,
		Blobs:              h.blobs,
		PollInterval:       interval,
		HydrateConcurrency: 4,
	}
	for _, m := range mutate {
		m(&opts)
	}
	h.view = viewer.NewView(opts)
	t.Cleanup(h.view.Close)
	return h
}

func (h *harness) waitSettled(t *testing.T) viewer.State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	state, err := h.view.Wait(ctx)
	require.NoError(t, err)
	return state
}
