package viewer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/maskview/internal/backend"
	"github.com/kiranshivaraju/maskview/pkg/models"
)

// StatusFetcher reads the current state of one inference job.
type StatusFetcher interface {
	GetInference(ctx context.Context, id string) (*models.InferenceJob, error)
}

// PollHooks observe a poll loop. Any hook may be nil.
type PollHooks struct {
	// OnStatus is called after every successful fetch, terminal or not.
	OnStatus func(job *models.InferenceJob)
	// OnError is called for fetch failures that do not stop polling.
	OnError func(err error)
	// OnScheduled is called when the next fetch is armed.
	OnScheduled func(at time.Time)
}

// Poller fetches a job's status until it reaches a terminal state.
//
// Fetches are strictly sequential: the retry timer is armed only after the
// previous request has settled, so at most one request is in flight.
type Poller struct {
	fetcher     StatusFetcher
	interval    time.Duration
	maxAttempts int
	logger      *slog.Logger
}

// NewPoller creates a Poller. maxAttempts of zero polls without limit.
func NewPoller(fetcher StatusFetcher, interval time.Duration, maxAttempts int, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		fetcher:     fetcher,
		interval:    interval,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Run polls jobID and returns the first job observed in a terminal status.
// It returns backend.ErrNotFound if the job does not exist, ErrPollLimit when
// the attempt cap is reached, and ctx.Err() when cancelled. Transient fetch
// errors are reported through hooks.OnError and retried at the normal
// interval.
func (p *Poller) Run(ctx context.Context, jobID string, hooks PollHooks) (*models.InferenceJob, error) {
	for attempt := 1; ; attempt++ {
		job, err := p.fetcher.GetInference(ctx, jobID)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		switch {
		case err == nil:
			if hooks.OnStatus != nil {
				hooks.OnStatus(job)
			}
			if job.Status.IsTerminal() {
				return job, nil
			}
		case errors.Is(err, backend.ErrNotFound), errors.Is(err, backend.ErrRejected):
			return nil, err
		default:
			p.logger.Warn("job status fetch failed",
				"job_id", jobID,
				"attempt", attempt,
				"error", err,
			)
			if hooks.OnError != nil {
				hooks.OnError(err)
			}
		}

		if p.maxAttempts > 0 && attempt >= p.maxAttempts {
			return nil, fmt.Errorf("%w: %d attempts for job %s", ErrPollLimit, attempt, jobID)
		}

		timer := time.NewTimer(p.interval)
		if hooks.OnScheduled != nil {
			hooks.OnScheduled(time.Now().Add(p.interval))
		}
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
