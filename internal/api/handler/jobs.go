package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/maskview/internal/api/middleware"
	"github.com/kiranshivaraju/maskview/internal/api/response"
	"github.com/kiranshivaraju/maskview/internal/auth"
	"github.com/kiranshivaraju/maskview/internal/backend"
	"github.com/kiranshivaraju/maskview/internal/cache"
	"github.com/kiranshivaraju/maskview/internal/store"
	"github.com/kiranshivaraju/maskview/internal/viewer"
	"github.com/kiranshivaraju/maskview/pkg/models"
)

// PushLister is the subset of store.Store the push history endpoint needs.
type PushLister interface {
	ListPushRecords(ctx context.Context, filter store.PushFilter) ([]*models.PushRecord, int, error)
}

// StatusReader is the subset of cache.Cache the job status endpoint needs.
type StatusReader interface {
	GetJobStatus(ctx context.Context, jobID string) (cache.JobStatus, bool, error)
}

// JobAccess confirms that a credential may read a job. The backend is the
// only authority on that, so implementations ask it.
type JobAccess interface {
	CheckJob(ctx context.Context, token, jobID string) error
}

// ClientAccess checks access by reading the job through a backend client
// built for the caller's credential.
type ClientAccess viewer.ClientFactory

func (f ClientAccess) CheckJob(ctx context.Context, token, jobID string) error {
	client, _ := f(auth.StaticToken(token))
	_, err := client.GetInference(ctx, jobID)
	return err
}

// authorizeJob writes the error response and returns false unless the caller
// can read jobID. Jobs the backend hides or refuses look the same: 404.
func authorizeJob(w http.ResponseWriter, r *http.Request, access JobAccess, jobID string, logger *slog.Logger) bool {
	token, _ := mw.GetToken(r)
	err := access.CheckJob(r.Context(), token, jobID)
	switch {
	case err == nil:
		return true
	case errors.Is(err, backend.ErrNotFound), errors.Is(err, backend.ErrRejected), errors.Is(err, auth.ErrNoToken):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
	default:
		logger.Warn("job access check failed", "job_id", jobID, "error", err)
		response.Error(w, http.StatusBadGateway, "BACKEND_UNAVAILABLE", "Backend unavailable", nil)
	}
	return false
}

// NewListPushesHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}/pushes.
func NewListPushesHandler(pushes PushLister, access JobAccess, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobID")
		if jobID == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobID is required", nil)
			return
		}
		if !authorizeJob(w, r, access, jobID, logger) {
			return
		}

		filter := store.PushFilter{
			JobID: jobID,
			Page:  queryInt(r, "page", 1),
			Limit: queryInt(r, "limit", 20),
		}
		if filter.Page < 1 {
			filter.Page = 1
		}
		if filter.Limit < 1 || filter.Limit > 100 {
			filter.Limit = 20
		}

		records, total, err := pushes.ListPushRecords(r.Context(), filter)
		if err != nil {
			logger.Error("list push records failed", "job_id", jobID, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}
		if records == nil {
			records = []*models.PushRecord{}
		}

		response.Collection(w, records, response.PaginationMeta{
			Page:    filter.Page,
			Limit:   filter.Limit,
			Total:   total,
			HasNext: filter.Page*filter.Limit < total,
		})
	}
}

// NewJobStatusHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}/status.
// It reports the status last observed by any view, once the backend has
// confirmed the caller can read the job.
func NewJobStatusHandler(statuses StatusReader, access JobAccess, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobID")
		if !authorizeJob(w, r, access, jobID, logger) {
			return
		}

		entry, ok, err := statuses.GetJobStatus(r.Context(), jobID)
		if err != nil {
			logger.Warn("job status lookup failed", "job_id", jobID, "error", err)
			response.Error(w, http.StatusServiceUnavailable, "CACHE_UNAVAILABLE", "Status cache unavailable", nil)
			return
		}
		if !ok {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "No status observed for this job", nil)
			return
		}

		response.JSON(w, map[string]any{
			"job_id":      jobID,
			"status":      entry.Status,
			"terminal":    models.JobStatus(entry.Status).IsTerminal(),
			"observed_at": entry.ObservedAt,
		})
	}
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
