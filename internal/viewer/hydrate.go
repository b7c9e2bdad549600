package viewer

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kiranshivaraju/maskview/internal/backend"
	"github.com/kiranshivaraju/maskview/internal/blob"
	"github.com/kiranshivaraju/maskview/pkg/models"
	"golang.org/x/sync/errgroup"
)

// ArtifactFetcher reads one binary artifact by reference.
type ArtifactFetcher interface {
	GetArtifact(ctx context.Context, artifactID string) (*backend.Artifact, error)
}

// Hydrator turns the artifact references of a completed job into handles.
type Hydrator struct {
	fetcher ArtifactFetcher
	blobs   *blob.Registry
	limit   int
	logger  *slog.Logger
}

// NewHydrator creates a Hydrator running at most limit fetches at once.
func NewHydrator(fetcher ArtifactFetcher, blobs *blob.Registry, limit int, logger *slog.Logger) *Hydrator {
	if limit < 1 {
		limit = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hydrator{fetcher: fetcher, blobs: blobs, limit: limit, logger: logger}
}

// Hydrate fetches every present artifact reference of results. The returned
// batch has exactly one key per source filename; when filenames repeat only
// the first item is fetched. A failed fetch leaves its slot empty and never
// affects siblings. The caller owns every handle in the batch.
func (h *Hydrator) Hydrate(ctx context.Context, results []models.ResultItem) Batch {
	batch := make(Batch, len(results))
	unique := make([]models.ResultItem, 0, len(results))
	for _, item := range results {
		if _, dup := batch[item.SourceFilename]; dup {
			h.logger.Warn("duplicate result filename skipped", "filename", item.SourceFilename)
			continue
		}
		batch[item.SourceFilename] = Slots{}
		unique = append(unique, item)
	}
	var mu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(h.limit)

	for _, item := range unique {
		for _, kind := range models.ArtifactKinds {
			ref, ok := item.Artifact(kind)
			if !ok {
				continue
			}
			filename := item.SourceFilename
			kind := kind // per-iteration copy (go < 1.22 loop semantics)

			g.Go(func() error {
				a, err := h.fetcher.GetArtifact(ctx, ref)
				if err != nil {
					h.logger.Warn("artifact fetch failed",
						"filename", filename,
						"slot", string(kind),
						"artifact_id", ref,
						"error", err,
					)
					return nil
				}

				handle := h.blobs.Create(a.Data, a.ContentType)

				mu.Lock()
				slots := batch[filename]
				slots.set(kind, &handle)
				batch[filename] = slots
				mu.Unlock()
				return nil
			})
		}
	}

	// Fetch goroutines never fail; errors degrade to empty slots.
	_ = g.Wait()
	return batch
}
