package viewer

import "errors"

// Sentinel errors returned by View and Registry operations.
var (
	ErrNoSelection    = errors.New("no selection")
	ErrNotReady       = errors.New("job results not ready")
	ErrUnknownItem    = errors.New("filename not in current results")
	ErrUnknownHandle  = errors.New("handle not owned by view")
	ErrUnavailable    = errors.New("artifact unavailable")
	ErrInvalidOpacity = errors.New("opacity must be within [0, 1]")
	ErrInvalidOverlay = errors.New("overlay must be class_mask or instance_mask")
	ErrViewClosed     = errors.New("view closed")
	ErrViewNotFound   = errors.New("view not found")
	ErrEmptyJobID     = errors.New("job id must not be empty")
	ErrPollLimit      = errors.New("poll attempts exhausted")
)

// User-facing messages.
const (
	NoSelectionMessage    = "Select at least one image."
	RunningMessage        = "Inference is still running. This page will refresh automatically."
	FailedMessage         = "This inference failed. Please review the backend logs."
	NotFoundMessage       = "Inference not found."
	RejectedMessage       = "The backend refused access to this inference. Sign in again and reopen it."
	PollLimitMessage      = "Stopped checking the inference status. Reopen the job to resume."
	DownloadFailedMessage = "Unable to download results"

	LoadingPlaceholder     = "Loading source image…"
	UnavailablePlaceholder = "Image unavailable"
	MarkedCaption          = "Marked for CVAT"
	UnmarkedCaption        = "Review and mark for correction if needed"
)
