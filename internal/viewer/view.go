package viewer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/maskview/internal/backend"
	"github.com/kiranshivaraju/maskview/internal/blob"
	"github.com/kiranshivaraju/maskview/internal/cvat"
	"github.com/kiranshivaraju/maskview/internal/render"
	"github.com/kiranshivaraju/maskview/pkg/models"
)

// State is the lifecycle state of the job displayed by a View.
type State string

const (
	StateIdle      State = "idle"
	StatePolling   State = "polling"
	StateHydrating State = "hydrating"
	StateReady     State = "ready"
	StateFailed    State = "failed"
)

const (
	DefaultOverlay = models.ArtifactInstanceMask
	DefaultOpacity = 0.6

	maxNotices = 32
)

// StatusCache stores the last observed status of a job so other views and
// replicas can read it without polling.
type StatusCache interface {
	SetJobStatus(ctx context.Context, jobID string, status string, ttl time.Duration) error
}

// PushStore records successful pushes to CVAT.
type PushStore interface {
	CreatePushRecord(ctx context.Context, rec *models.PushRecord) error
}

// Options wires a View to its collaborators. Backend, Pusher and Blobs are
// required.
type Options struct {
	Backend            backend.Client
	Pusher             cvat.Pusher
	Blobs              *blob.Registry
	PollInterval       time.Duration
	MaxPollAttempts    int
	HydrateConcurrency int
	Statuses           StatusCache
	StatusTTL          time.Duration
	Pushes             PushStore
	Logger             *slog.Logger
}

// Notice is a one-shot user notification.
type Notice struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Archive is an open result archive. The caller must close Body.
type Archive struct {
	Filename string
	Body     io.ReadCloser
}

// View is one mounted inference detail view. It owns the handles hydrated
// for the displayed job and the selection made over its results.
//
// All exported methods are safe for concurrent use. Responses that arrive
// for a job the view has navigated away from are discarded.
type View struct {
	id       uuid.UUID
	owner    string
	opts     Options
	poller   *Poller
	hydrator *Hydrator
	logger   *slog.Logger

	mu         sync.Mutex
	gen        uint64
	jobID      string
	job        *models.InferenceJob
	state      State
	handles    *HandleSet
	selection  *SelectionSet
	overlay    models.ArtifactKind
	opacity    float64
	nextPoll   time.Time
	message    string
	cvatLink   string
	notices    []Notice
	cancel     context.CancelFunc
	settled    chan struct{}
	closed     bool
	lastActive time.Time

	wg sync.WaitGroup
}

// NewView creates an idle view.
func NewView(opts Options) *View {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.StatusTTL <= 0 {
		opts.StatusTTL = time.Hour
	}

	id := uuid.New()
	logger := opts.Logger.With("view_id", id.String())

	return &View{
		id:         id,
		opts:       opts,
		poller:     NewPoller(opts.Backend, opts.PollInterval, opts.MaxPollAttempts, logger),
		hydrator:   NewHydrator(opts.Backend, opts.Blobs, opts.HydrateConcurrency, logger),
		logger:     logger,
		state:      StateIdle,
		handles:    NewHandleSet(opts.Blobs),
		selection:  NewSelectionSet(),
		overlay:    DefaultOverlay,
		opacity:    DefaultOpacity,
		lastActive: time.Now(),
	}
}

func (v *View) ID() uuid.UUID { return v.id }

// LastActive returns when the view was last used.
func (v *View) LastActive() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastActive
}

// Navigate switches the view to jobID. Handles of the previous job are
// released and the selection is cleared before polling starts.
func (v *View) Navigate(jobID string) error {
	if jobID == "" {
		return ErrEmptyJobID
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrViewClosed
	}
	v.touch()

	released := v.resetLocked()
	v.jobID = jobID
	v.state = StatePolling
	v.message = RunningMessage

	ctx, cancel := context.WithCancel(context.Background())
	v.cancel = cancel
	settled := make(chan struct{})
	v.settled = settled

	v.logger.Info("view navigated", "job_id", jobID, "released_handles", released)

	v.wg.Add(1)
	go v.run(ctx, v.gen, jobID, settled)
	return nil
}

// resetLocked returns the view to Idle for the current identity: cancels the
// poll loop, releases every handle, and clears selection and CVAT link.
func (v *View) resetLocked() int {
	if v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
	v.gen++
	released := v.handles.ReleaseAll()
	v.selection.Clear()
	v.cvatLink = ""
	v.job = nil
	v.jobID = ""
	v.nextPoll = time.Time{}
	v.message = ""
	v.state = StateIdle
	return released
}

func (v *View) run(ctx context.Context, gen uint64, jobID string, settled chan struct{}) {
	defer v.wg.Done()
	defer close(settled)

	job, err := v.poller.Run(ctx, jobID, PollHooks{
		OnStatus:    func(j *models.InferenceJob) { v.observe(ctx, gen, j) },
		OnError:     func(err error) { v.pollFailed(gen, err) },
		OnScheduled: func(at time.Time) { v.scheduled(gen, at) },
	})
	if err != nil {
		switch {
		case ctx.Err() != nil:
		case errors.Is(err, backend.ErrNotFound):
			v.fail(gen, NotFoundMessage)
		case errors.Is(err, backend.ErrRejected):
			v.fail(gen, RejectedMessage)
		case errors.Is(err, ErrPollLimit):
			v.fail(gen, PollLimitMessage)
		default:
			v.fail(gen, err.Error())
		}
		return
	}

	if job.Status == models.JobStatusFailed {
		v.fail(gen, FailedMessage)
		return
	}

	if !v.beginHydration(gen) {
		return
	}
	batch := v.hydrator.Hydrate(ctx, job.Results)
	v.finishHydration(gen, batch)
}

func (v *View) observe(ctx context.Context, gen uint64, job *models.InferenceJob) {
	v.mu.Lock()
	if gen != v.gen {
		v.mu.Unlock()
		return
	}
	v.job = job
	v.nextPoll = time.Time{}
	v.mu.Unlock()

	if v.opts.Statuses != nil {
		if err := v.opts.Statuses.SetJobStatus(ctx, job.ID, string(job.Status), v.opts.StatusTTL); err != nil {
			v.logger.Debug("status cache write failed", "job_id", job.ID, "error", err)
		}
	}
}

func (v *View) pollFailed(gen uint64, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if gen != v.gen {
		return
	}
	v.notifyLocked("error", fmt.Sprintf("Could not refresh inference status: %v", err))
}

func (v *View) scheduled(gen uint64, at time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if gen == v.gen {
		v.nextPoll = at
	}
}

func (v *View) fail(gen uint64, msg string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if gen != v.gen {
		return
	}
	v.state = StateFailed
	v.message = msg
	v.nextPoll = time.Time{}
	v.logger.Info("view failed", "job_id", v.jobID, "reason", msg)
}

func (v *View) beginHydration(gen uint64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if gen != v.gen {
		return false
	}
	v.state = StateHydrating
	v.message = ""
	return true
}

func (v *View) finishHydration(gen uint64, batch Batch) {
	v.mu.Lock()
	if gen != v.gen {
		v.mu.Unlock()
		n := releaseBatch(v.opts.Blobs, batch)
		v.logger.Debug("discarded stale hydration", "released_handles", n)
		return
	}
	defer v.mu.Unlock()

	v.handles.Replace(batch)
	v.state = StateReady
	v.logger.Info("view ready", "job_id", v.jobID, "items", len(batch), "handles", v.handles.Len())
}

// Toggle flips the selection of filename, which must belong to the current
// results. It returns whether filename is selected afterwards.
func (v *View) Toggle(filename string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return false, ErrViewClosed
	}
	v.touch()
	if !v.hasItemLocked(filename) {
		return false, ErrUnknownItem
	}
	return v.selection.Toggle(filename), nil
}

func (v *View) ClearSelection() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrViewClosed
	}
	v.touch()
	v.selection.Clear()
	return nil
}

// SetOverlay selects which mask is composited over the source image.
func (v *View) SetOverlay(kind models.ArtifactKind) error {
	if kind != models.ArtifactClassMask && kind != models.ArtifactInstanceMask {
		return ErrInvalidOverlay
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrViewClosed
	}
	v.touch()
	v.overlay = kind
	return nil
}

func (v *View) SetOpacity(opacity float64) error {
	if math.IsNaN(opacity) || opacity < 0 || opacity > 1 {
		return ErrInvalidOpacity
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrViewClosed
	}
	v.touch()
	v.opacity = opacity
	return nil
}

// Push submits the current selection to CVAT. It sends exactly one request
// and never retries. An empty selection or a job that is not ready fails
// with ErrNoSelection without sending anything.
func (v *View) Push(ctx context.Context) (*cvat.PushResult, error) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil, ErrViewClosed
	}
	v.touch()
	if v.state != StateReady || v.selection.Len() == 0 {
		v.notifyLocked("error", NoSelectionMessage)
		v.mu.Unlock()
		return nil, ErrNoSelection
	}
	gen := v.gen
	jobID := v.jobID
	filenames := v.selection.Items()
	v.mu.Unlock()

	res, err := v.opts.Pusher.Push(ctx, jobID, filenames)
	if err != nil {
		msg := cvat.FallbackMessage
		var rej *cvat.RejectionError
		if errors.As(err, &rej) {
			msg = rej.Message
		}
		v.logger.Error("cvat push failed", "job_id", jobID, "filenames", len(filenames), "error", err)

		v.mu.Lock()
		if gen == v.gen {
			v.notifyLocked("error", msg)
		}
		v.mu.Unlock()
		return nil, err
	}

	v.mu.Lock()
	if gen == v.gen {
		v.cvatLink = res.TaskURL
		v.notifyLocked("info", "Pushed to CVAT")
	}
	v.mu.Unlock()

	v.logger.Info("pushed to cvat", "job_id", jobID, "filenames", len(filenames), "task_url", res.TaskURL)

	if v.opts.Pushes != nil {
		rec := &models.PushRecord{
			ID:        uuid.New(),
			JobID:     jobID,
			Filenames: filenames,
			TaskURL:   res.TaskURL,
			CreatedAt: time.Now().UTC(),
		}
		// CVAT already holds the task; record it even if the caller went away.
		if err := v.opts.Pushes.CreatePushRecord(context.WithoutCancel(ctx), rec); err != nil {
			v.logger.Warn("push history write failed", "job_id", jobID, "error", err)
		}
	}

	return res, nil
}

// Download opens the result archive of the displayed job. It is only
// available once the job is ready.
func (v *View) Download(ctx context.Context) (*Archive, error) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil, ErrViewClosed
	}
	v.touch()
	if v.state != StateReady {
		v.mu.Unlock()
		return nil, ErrNotReady
	}
	gen := v.gen
	jobID := v.jobID
	v.mu.Unlock()

	body, err := v.opts.Backend.Download(ctx, jobID)
	if err != nil {
		v.logger.Error("download failed", "job_id", jobID, "error", err)
		v.mu.Lock()
		if gen == v.gen {
			v.notifyLocked("error", DownloadFailedMessage)
		}
		v.mu.Unlock()
		return nil, err
	}

	return &Archive{Filename: ArchiveFilename(jobID), Body: body}, nil
}

// ArchiveFilename is the name offered for a job's result archive.
func ArchiveFilename(jobID string) string {
	return fmt.Sprintf("inference_%s.zip", jobID)
}

// OpenHandle returns the payload of a handle owned by this view.
func (v *View) OpenHandle(id uuid.UUID) ([]byte, string, error) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil, "", ErrViewClosed
	}
	v.touch()
	owned := v.handles.Owns(id)
	v.mu.Unlock()

	if !owned {
		return nil, "", ErrUnknownHandle
	}
	data, ct, err := v.opts.Blobs.Open(id)
	if err != nil {
		return nil, "", ErrUnknownHandle
	}
	return data, ct, nil
}

// Composite renders the source image of filename with the active mask
// overlaid at the current opacity, encoded as PNG.
func (v *View) Composite(filename string) ([]byte, error) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil, ErrViewClosed
	}
	v.touch()
	if v.state != StateReady {
		v.mu.Unlock()
		return nil, ErrNotReady
	}
	slots, ok := v.handles.Slots(filename)
	overlay, opacity := v.overlay, v.opacity
	v.mu.Unlock()

	if !ok {
		return nil, ErrUnknownItem
	}
	if slots.Source == nil {
		return nil, fmt.Errorf("%w: no source image for %s", ErrUnavailable, filename)
	}

	src, _, err := v.opts.Blobs.Open(slots.Source.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var mask []byte
	if h := slots.Get(overlay); h != nil {
		if mask, _, err = v.opts.Blobs.Open(h.ID); err != nil {
			mask = nil
		}
	}

	return render.Composite(src, mask, opacity)
}

// Wait blocks until the displayed job is Ready or Failed.
func (v *View) Wait(ctx context.Context) (State, error) {
	for {
		v.mu.Lock()
		if v.closed {
			v.mu.Unlock()
			return StateIdle, ErrViewClosed
		}
		state := v.state
		settled := v.settled
		v.mu.Unlock()

		switch state {
		case StateReady, StateFailed:
			return state, nil
		case StateIdle:
			return state, ErrNotReady
		}

		select {
		case <-ctx.Done():
			return state, ctx.Err()
		case <-settled:
		}
	}
}

// Close tears the view down, releasing every handle. It blocks until the
// poll loop has exited and is safe to call more than once.
func (v *View) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	released := v.resetLocked()
	v.closed = true
	v.mu.Unlock()

	v.wg.Wait()
	v.logger.Info("view closed", "released_handles", released)
}

func (v *View) hasItemLocked(filename string) bool {
	if v.job == nil {
		return false
	}
	for _, item := range v.job.Results {
		if item.SourceFilename == filename {
			return true
		}
	}
	return false
}

func (v *View) notifyLocked(level, msg string) {
	if len(v.notices) >= maxNotices {
		v.notices = v.notices[1:]
	}
	v.notices = append(v.notices, Notice{Level: level, Message: msg, At: time.Now().UTC()})
}

func (v *View) touch() {
	v.lastActive = time.Now()
}
