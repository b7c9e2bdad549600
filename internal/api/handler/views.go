package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/maskview/internal/api/middleware"
	"github.com/kiranshivaraju/maskview/internal/api/response"
	"github.com/kiranshivaraju/maskview/internal/auth"
	"github.com/kiranshivaraju/maskview/internal/backend"
	"github.com/kiranshivaraju/maskview/internal/cvat"
	"github.com/kiranshivaraju/maskview/internal/viewer"
	"github.com/kiranshivaraju/maskview/pkg/models"
)

// Views serves the /api/v1/views endpoints.
type Views struct {
	registry *viewer.Registry
	logger   *slog.Logger
}

func NewViews(registry *viewer.Registry, logger *slog.Logger) *Views {
	if logger == nil {
		logger = slog.Default()
	}
	return &Views{registry: registry, logger: logger}
}

// Create handles POST /api/v1/views. An optional job_id navigates the new
// view immediately.
func (h *Views) Create(w http.ResponseWriter, r *http.Request) {
	token, ok := mw.GetToken(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing credential", nil)
		return
	}
	owner, _ := mw.GetKeyPrefix(r)

	var req struct {
		JobID string `json:"job_id"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
	}

	v := h.registry.Open(owner, auth.StaticToken(token))
	if req.JobID != "" {
		if err := v.Navigate(req.JobID); err != nil {
			h.registry.Close(v.ID())
			writeViewError(w, err)
			return
		}
	}

	response.Created(w, v.Snapshot())
}

// Get handles GET /api/v1/views/{viewID}.
func (h *Views) Get(w http.ResponseWriter, r *http.Request) {
	v, ok := h.lookup(w, r)
	if !ok {
		return
	}
	response.JSON(w, v.Snapshot())
}

// Delete handles DELETE /api/v1/views/{viewID}.
func (h *Views) Delete(w http.ResponseWriter, r *http.Request) {
	v, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := h.registry.Close(v.ID()); err != nil {
		writeViewError(w, err)
		return
	}
	response.NoContent(w)
}

// Navigate handles PUT /api/v1/views/{viewID}/job.
func (h *Views) Navigate(w http.ResponseWriter, r *http.Request) {
	v, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req struct {
		JobID string `json:"job_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return
	}

	if err := v.Navigate(req.JobID); err != nil {
		writeViewError(w, err)
		return
	}
	response.JSON(w, v.Snapshot())
}

// Toggle handles POST /api/v1/views/{viewID}/selection/toggle.
func (h *Views) Toggle(w http.ResponseWriter, r *http.Request) {
	v, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req struct {
		Filename string `json:"filename"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return
	}
	if req.Filename == "" {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "filename is required", nil)
		return
	}

	selected, err := v.Toggle(req.Filename)
	if err != nil {
		writeViewError(w, err)
		return
	}
	response.JSON(w, map[string]any{
		"filename": req.Filename,
		"selected": selected,
	})
}

// ClearSelection handles DELETE /api/v1/views/{viewID}/selection.
func (h *Views) ClearSelection(w http.ResponseWriter, r *http.Request) {
	v, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := v.ClearSelection(); err != nil {
		writeViewError(w, err)
		return
	}
	response.JSON(w, v.Snapshot())
}

// SetOverlay handles PUT /api/v1/views/{viewID}/overlay. Both fields are
// optional; the request is rejected as a whole if either is invalid.
func (h *Views) SetOverlay(w http.ResponseWriter, r *http.Request) {
	v, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req struct {
		Overlay *models.ArtifactKind `json:"overlay"`
		Opacity *float64             `json:"opacity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return
	}

	if req.Opacity != nil {
		if err := v.SetOpacity(*req.Opacity); err != nil {
			writeViewError(w, err)
			return
		}
	}
	if req.Overlay != nil {
		if err := v.SetOverlay(*req.Overlay); err != nil {
			writeViewError(w, err)
			return
		}
	}
	response.JSON(w, v.Snapshot())
}

// Push handles POST /api/v1/views/{viewID}/push.
func (h *Views) Push(w http.ResponseWriter, r *http.Request) {
	v, ok := h.lookup(w, r)
	if !ok {
		return
	}

	res, err := v.Push(r.Context())
	if err != nil {
		writeViewError(w, err)
		return
	}
	response.JSON(w, map[string]string{"task_url": res.TaskURL})
}

// Download handles GET /api/v1/views/{viewID}/download by streaming the
// backend archive.
func (h *Views) Download(w http.ResponseWriter, r *http.Request) {
	v, ok := h.lookup(w, r)
	if !ok {
		return
	}

	archive, err := v.Download(r.Context())
	if err != nil {
		writeViewError(w, err)
		return
	}
	defer archive.Body.Close()

	n, err := response.Attachment(w, "application/zip", archive.Filename, archive.Body)
	if err != nil {
		h.logger.Warn("archive stream interrupted", "view_id", v.ID().String(), "bytes", n, "error", err)
	}
}

// Handle handles GET /api/v1/views/{viewID}/handles/{handleID}.
func (h *Views) Handle(w http.ResponseWriter, r *http.Request) {
	v, ok := h.lookup(w, r)
	if !ok {
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "handleID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "handleID must be a valid UUID", nil)
		return
	}

	data, contentType, err := v.OpenHandle(id)
	if err != nil {
		writeViewError(w, err)
		return
	}

	response.Bytes(w, contentType, response.CacheImmutable, data)
}

// Composite handles GET /api/v1/views/{viewID}/composite?filename=.
func (h *Views) Composite(w http.ResponseWriter, r *http.Request) {
	v, ok := h.lookup(w, r)
	if !ok {
		return
	}

	filename := r.URL.Query().Get("filename")
	if filename == "" {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "filename is required", nil)
		return
	}

	png, err := v.Composite(filename)
	if err != nil {
		writeViewError(w, err)
		return
	}

	response.Bytes(w, "image/png", response.CacheNone, png)
}

func (h *Views) lookup(w http.ResponseWriter, r *http.Request) (*viewer.View, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "viewID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "viewID must be a valid UUID", nil)
		return nil, false
	}
	owner, _ := mw.GetKeyPrefix(r)

	v, err := h.registry.Owned(owner, id)
	if err != nil {
		writeViewError(w, err)
		return nil, false
	}
	return v, true
}

// writeViewError maps viewer, backend and CVAT errors onto the API envelope.
func writeViewError(w http.ResponseWriter, err error) {
	var rej *cvat.RejectionError
	switch {
	case errors.Is(err, viewer.ErrViewNotFound), errors.Is(err, viewer.ErrViewClosed):
		response.Error(w, http.StatusNotFound, "VIEW_NOT_FOUND", "View not found", nil)
	case errors.Is(err, viewer.ErrEmptyJobID):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "job_id is required", nil)
	case errors.Is(err, viewer.ErrInvalidOpacity):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "opacity must be between 0 and 1", nil)
	case errors.Is(err, viewer.ErrInvalidOverlay):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "overlay must be class_mask or instance_mask", nil)
	case errors.Is(err, viewer.ErrNoSelection):
		response.Error(w, http.StatusUnprocessableEntity, "NO_SELECTION", viewer.NoSelectionMessage, nil)
	case errors.Is(err, viewer.ErrNotReady):
		response.Error(w, http.StatusConflict, "NOT_READY", "Inference results are not ready", nil)
	case errors.Is(err, viewer.ErrUnknownItem):
		response.Error(w, http.StatusNotFound, "UNKNOWN_ITEM", "No such result in the current job", nil)
	case errors.Is(err, viewer.ErrUnknownHandle):
		response.Error(w, http.StatusNotFound, "HANDLE_NOT_FOUND", "Handle not found", nil)
	case errors.Is(err, viewer.ErrUnavailable):
		response.Error(w, http.StatusNotFound, "IMAGE_UNAVAILABLE", viewer.UnavailablePlaceholder, nil)
	case errors.As(err, &rej):
		response.Error(w, http.StatusBadGateway, "CVAT_REJECTED", rej.Message, nil)
	case errors.Is(err, cvat.ErrUnreachable):
		response.Error(w, http.StatusBadGateway, "CVAT_UNAVAILABLE", cvat.FallbackMessage, nil)
	case errors.Is(err, backend.ErrNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Inference not found", nil)
	case errors.Is(err, backend.ErrRejected):
		response.Error(w, http.StatusBadGateway, "BACKEND_REJECTED", err.Error(), nil)
	case errors.Is(err, backend.ErrTransientFetch):
		response.Error(w, http.StatusBadGateway, "BACKEND_UNAVAILABLE", "The backend is not available", nil)
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
	}
}
