package viewer_test

import (
	"context"
	"fmt"
	"image/color"
	"io"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/maskview/internal/backend"
	"github.com/kiranshivaraju/maskview/internal/cvat"
	"github.com/kiranshivaraju/maskview/internal/viewer"
	"github.com/kiranshivaraju/maskview/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readyHarness(t *testing.T, mutate ...func(*viewer.Options)) *harness {
	t.Helper()
	h := newHarness(t, 10*time.Millisecond, mutate...)
	h.backend.artifacts["g1"] = pngBytes(t, color.Black)
	h.backend.artifacts["m1"] = pngBytes(t, color.White)
	h.backend.script("job-1", completed("job-1",
		models.ResultItem{SourceFilename: "a.png", SourceImageGridFSID: models.Ref("g1"), InstanceMaskID: models.Ref("m1")},
		models.ResultItem{SourceFilename: "b.png"},
	))
	require.NoError(t, h.view.Navigate("job-1"))
	require.Equal(t, viewer.StateReady, h.waitSettled(t))
	return h
}

func TestView_PendingJobSchedulesPoll(t *testing.T) {
	h := newHarness(t, 5*time.Second)
	h.backend.script("job-1", pending("job-1"))

	before := time.Now()
	require.NoError(t, h.view.Navigate("job-1"))

	require.Eventually(t, func() bool {
		return h.view.Snapshot().NextPollAt != nil
	}, time.Second, 5*time.Millisecond)

	snap := h.view.Snapshot()
	assert.Equal(t, viewer.StatePolling, snap.State)
	assert.True(t, snap.Running)
	assert.Equal(t, models.JobStatusPending, snap.JobStatus)
	assert.Equal(t, viewer.RunningMessage, snap.StatusMessage)
	assert.Empty(t, snap.Entries)
	assert.WithinDuration(t, before.Add(5*time.Second), *snap.NextPollAt, 500*time.Millisecond)
	assert.False(t, snap.Actions.CanDownload)
	assert.False(t, snap.Actions.CanPush)
	assert.Equal(t, 1, h.backend.statusCalls("job-1"))
}

func TestView_CompletedHydratesOnce(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond)
	h.backend.artifacts["g1"] = []byte("source")
	h.backend.script("job-1", running("job-1"), completed("job-1",
		models.ResultItem{SourceFilename: "a.png", SourceImageGridFSID: models.Ref("g1")},
	))

	require.NoError(t, h.view.Navigate("job-1"))
	assert.Equal(t, viewer.StateReady, h.waitSettled(t))

	snap := h.view.Snapshot()
	require.Len(t, snap.Entries, 1)
	e := snap.Entries[0]
	assert.Equal(t, "a.png", e.Filename)
	require.NotNil(t, e.Slots.Source)
	assert.Nil(t, e.Slots.ClassMask)
	assert.Nil(t, e.Slots.InstanceMask)
	assert.Empty(t, e.Placeholder)
	assert.Equal(t, viewer.UnmarkedCaption, e.Caption)
	assert.Nil(t, snap.NextPollAt)
	assert.False(t, snap.Running)

	assert.Equal(t, 1, h.backend.artifactCalls("g1"))
	assert.Equal(t, 1, h.blobs.Live())

	data, ct, err := h.view.OpenHandle(e.Slots.Source.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("source"), data)
	assert.Equal(t, "image/png", ct)
}

func TestView_PartialHydration(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond)
	h.backend.artifacts["g1"] = []byte("source")
	h.backend.artErrs["g2"] = backend.ErrTransientFetch
	h.backend.script("job-1", completed("job-1",
		models.ResultItem{SourceFilename: "a.png", SourceImageGridFSID: models.Ref("g1"), ClassMaskID: models.Ref("g2")},
		models.ResultItem{SourceFilename: "empty.png"},
	))

	require.NoError(t, h.view.Navigate("job-1"))
	assert.Equal(t, viewer.StateReady, h.waitSettled(t))

	snap := h.view.Snapshot()
	require.Len(t, snap.Entries, 2)
	assert.NotNil(t, snap.Entries[0].Slots.Source)
	assert.Nil(t, snap.Entries[0].Slots.ClassMask)
	assert.Equal(t, viewer.UnavailablePlaceholder, snap.Entries[1].Placeholder)
}

func TestView_FailedJob(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond)
	h.backend.script("job-1", running("job-1"), failed("job-1"))

	require.NoError(t, h.view.Navigate("job-1"))
	assert.Equal(t, viewer.StateFailed, h.waitSettled(t))

	snap := h.view.Snapshot()
	assert.Equal(t, viewer.FailedMessage, snap.StatusMessage)
	assert.Equal(t, models.JobStatusFailed, snap.JobStatus)
	assert.Empty(t, snap.Entries)
	assert.False(t, snap.Actions.CanDownload)
	assert.Equal(t, 0, h.blobs.Live())
}

func TestView_NotFoundFails(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond)

	require.NoError(t, h.view.Navigate("missing"))
	assert.Equal(t, viewer.StateFailed, h.waitSettled(t))
	assert.Equal(t, viewer.NotFoundMessage, h.view.Snapshot().StatusMessage)
}

func TestView_RejectedCredentialStopsPolling(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond)
	h.backend.script("job-1", step{err: fmt.Errorf("%w: status 403: Forbidden", backend.ErrRejected)}, running("job-1"))

	require.NoError(t, h.view.Navigate("job-1"))
	assert.Equal(t, viewer.StateFailed, h.waitSettled(t))

	snap := h.view.Snapshot()
	assert.Equal(t, viewer.RejectedMessage, snap.StatusMessage)
	assert.Nil(t, snap.NextPollAt)
	assert.Empty(t, snap.Notices)
	assert.Equal(t, 1, h.backend.statusCalls("job-1"))
}

func TestView_PollLimitFails(t *testing.T) {
	h := newHarness(t, time.Millisecond, func(o *viewer.Options) { o.MaxPollAttempts = 2 })
	h.backend.script("job-1", running("job-1"))

	require.NoError(t, h.view.Navigate("job-1"))
	assert.Equal(t, viewer.StateFailed, h.waitSettled(t))
	assert.Equal(t, viewer.PollLimitMessage, h.view.Snapshot().StatusMessage)
	assert.Equal(t, 2, h.backend.statusCalls("job-1"))
}

func TestView_TransientErrorNotifiesOnce(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond)
	h.backend.script("job-1", step{err: backend.ErrTransientFetch}, completed("job-1"))

	require.NoError(t, h.view.Navigate("job-1"))
	assert.Equal(t, viewer.StateReady, h.waitSettled(t))

	snap := h.view.Snapshot()
	require.Len(t, snap.Notices, 1)
	assert.Equal(t, "error", snap.Notices[0].Level)
	assert.Empty(t, h.view.Snapshot().Notices, "notices are drained on read")
}

func TestView_PushSelection(t *testing.T) {
	store := &fakePushStore{}
	h := readyHarness(t, func(o *viewer.Options) { o.Pushes = store })

	selected, err := h.view.Toggle("a.png")
	require.NoError(t, err)
	assert.True(t, selected)

	snap := h.view.Snapshot()
	assert.True(t, snap.Actions.CanPush)
	assert.Equal(t, viewer.MarkedCaption, snap.Entries[0].Caption)

	res, err := h.view.Push(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "http://cvat/tasks/7", res.TaskURL)

	require.Equal(t, 1, h.pusher.count())
	assert.Equal(t, []string{"a.png"}, h.pusher.calls[0])
	assert.Equal(t, "job-1", h.pusher.jobs[0])

	snap = h.view.Snapshot()
	assert.Equal(t, "http://cvat/tasks/7", snap.CVATLink)
	assert.Equal(t, []string{"a.png"}, snap.Selection, "push keeps the selection")

	require.Len(t, store.records, 1)
	assert.Equal(t, "job-1", store.records[0].JobID)
	assert.Equal(t, []string{"a.png"}, store.records[0].Filenames)
}

func TestView_PushRecordedAfterCallerCancels(t *testing.T) {
	store := &fakePushStore{}
	h := readyHarness(t, func(o *viewer.Options) { o.Pushes = store })

	_, err := h.view.Toggle("a.png")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.pusher.accepted = cancel

	res, err := h.view.Push(ctx)
	require.NoError(t, err)
	assert.Equal(t, "http://cvat/tasks/7", res.TaskURL)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.records, 1)
	assert.Equal(t, res.TaskURL, store.records[0].TaskURL)
}

func TestView_PushEmptySelection(t *testing.T) {
	h := readyHarness(t)

	_, err := h.view.Push(context.Background())
	assert.ErrorIs(t, err, viewer.ErrNoSelection)
	assert.Equal(t, 0, h.pusher.count())

	snap := h.view.Snapshot()
	require.Len(t, snap.Notices, 1)
	assert.Equal(t, viewer.NoSelectionMessage, snap.Notices[0].Message)
}

func TestView_PushBeforeReady(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.backend.script("job-1", running("job-1"))
	require.NoError(t, h.view.Navigate("job-1"))

	_, err := h.view.Push(context.Background())
	assert.ErrorIs(t, err, viewer.ErrNoSelection)
	assert.Equal(t, 0, h.pusher.count())
}

func TestView_PushRejectedSurfacesMessage(t *testing.T) {
	h := readyHarness(t)
	h.pusher.err = &cvat.RejectionError{StatusCode: 400, Message: "Inference not completed (status : running)"}

	_, err := h.view.Toggle("a.png")
	require.NoError(t, err)

	_, err = h.view.Push(context.Background())
	assert.ErrorIs(t, err, cvat.ErrRejected)
	assert.Equal(t, 1, h.pusher.count())

	snap := h.view.Snapshot()
	require.Len(t, snap.Notices, 1)
	assert.Equal(t, "Inference not completed (status : running)", snap.Notices[0].Message)
	assert.Empty(t, snap.CVATLink)
}

func TestView_PushUnreachableUsesFallback(t *testing.T) {
	h := readyHarness(t)
	h.pusher.err = cvat.ErrUnreachable

	_, err := h.view.Toggle("a.png")
	require.NoError(t, err)
	_, err = h.view.Push(context.Background())
	require.Error(t, err)

	snap := h.view.Snapshot()
	require.Len(t, snap.Notices, 1)
	assert.Equal(t, cvat.FallbackMessage, snap.Notices[0].Message)
}

func TestView_ToggleUnknownItem(t *testing.T) {
	h := readyHarness(t)

	_, err := h.view.Toggle("zzz.png")
	assert.ErrorIs(t, err, viewer.ErrUnknownItem)
	assert.Empty(t, h.view.Snapshot().Selection)
}

func TestView_ToggleTwice(t *testing.T) {
	h := readyHarness(t)

	_, err := h.view.Toggle("b.png")
	require.NoError(t, err)
	selected, err := h.view.Toggle("b.png")
	require.NoError(t, err)
	assert.False(t, selected)
	assert.Empty(t, h.view.Snapshot().Selection)
}

func TestView_NavigateReleasesAndClears(t *testing.T) {
	h := readyHarness(t)
	require.Equal(t, 2, h.blobs.Live())

	_, err := h.view.Toggle("a.png")
	require.NoError(t, err)
	_, err = h.view.Push(context.Background())
	require.NoError(t, err)

	h.backend.script("job-2", pending("job-2"))
	require.NoError(t, h.view.Navigate("job-2"))

	assert.Equal(t, 0, h.blobs.Live())
	snap := h.view.Snapshot()
	assert.Equal(t, "job-2", snap.JobID)
	assert.Empty(t, snap.Selection)
	assert.Empty(t, snap.Entries)
	assert.Empty(t, snap.CVATLink)
	assert.Equal(t, viewer.StatePolling, snap.State)
}

func TestView_NavigateMidPollDiscardsStaleResponses(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond)
	h.backend.script("job-1", running("job-1"))
	h.backend.script("job-2", pending("job-2"))

	require.NoError(t, h.view.Navigate("job-1"))
	require.Eventually(t, func() bool { return h.backend.statusCalls("job-1") >= 2 }, time.Second, time.Millisecond)

	require.NoError(t, h.view.Navigate("job-2"))
	job1Calls := h.backend.statusCalls("job-1")

	require.Eventually(t, func() bool {
		return h.view.Snapshot().JobStatus == models.JobStatusPending
	}, time.Second, time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, h.backend.statusCalls("job-1"), job1Calls+1, "job-1 polling must stop")
	assert.Equal(t, "job-2", h.view.Snapshot().JobID)
}

func TestView_StaleHydrationReleased(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond)
	h.backend.gate = make(chan struct{})
	h.backend.artifacts["g1"] = []byte("src")
	h.backend.script("job-1", completed("job-1",
		models.ResultItem{SourceFilename: "a.png", SourceImageGridFSID: models.Ref("g1")},
	))
	h.backend.script("job-2", running("job-2"))

	require.NoError(t, h.view.Navigate("job-1"))
	require.Eventually(t, func() bool {
		return h.view.Snapshot().State == viewer.StateHydrating
	}, time.Second, time.Millisecond)

	loading := h.view.Snapshot()
	require.Len(t, loading.Entries, 1)
	assert.Equal(t, viewer.LoadingPlaceholder, loading.Entries[0].Placeholder)

	require.NoError(t, h.view.Navigate("job-2"))
	assert.Equal(t, "job-2", h.view.Snapshot().JobID)
	close(h.backend.gate)

	// Close waits for the abandoned hydration pass to finish.
	h.view.Close()
	assert.Equal(t, 1, h.backend.artifactCalls("g1"))
	assert.Equal(t, 0, h.blobs.Live())
}

func TestView_CloseReleasesEverything(t *testing.T) {
	h := readyHarness(t)
	require.Equal(t, 2, h.blobs.Live())

	h.view.Close()
	assert.Equal(t, 0, h.blobs.Live())

	h.view.Close()

	assert.ErrorIs(t, h.view.Navigate("job-2"), viewer.ErrViewClosed)
	_, err := h.view.Toggle("a.png")
	assert.ErrorIs(t, err, viewer.ErrViewClosed)
	_, err = h.view.Push(context.Background())
	assert.ErrorIs(t, err, viewer.ErrViewClosed)
}

func TestView_CloseWhilePolling(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.backend.script("job-1", running("job-1"))
	require.NoError(t, h.view.Navigate("job-1"))

	done := make(chan struct{})
	go func() {
		h.view.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close blocked on the poll loop")
	}
}

func TestView_NavigateEmptyJobID(t *testing.T) {
	h := newHarness(t, time.Second)
	assert.ErrorIs(t, h.view.Navigate(""), viewer.ErrEmptyJobID)
}

func TestView_OverlayAndOpacity(t *testing.T) {
	h := readyHarness(t)

	snap := h.view.Snapshot()
	assert.Equal(t, models.ArtifactInstanceMask, snap.Overlay)
	assert.Equal(t, 0.6, snap.Opacity)
	assert.Equal(t, 60, snap.OpacityPercent)
	assert.NotNil(t, snap.Entries[0].Mask)

	require.NoError(t, h.view.SetOverlay(models.ArtifactClassMask))
	require.NoError(t, h.view.SetOpacity(0.25))
	snap = h.view.Snapshot()
	assert.Equal(t, models.ArtifactClassMask, snap.Overlay)
	assert.Equal(t, 25, snap.OpacityPercent)
	assert.Nil(t, snap.Entries[0].Mask)

	assert.ErrorIs(t, h.view.SetOverlay(models.ArtifactSource), viewer.ErrInvalidOverlay)
	assert.ErrorIs(t, h.view.SetOpacity(-0.1), viewer.ErrInvalidOpacity)
	assert.ErrorIs(t, h.view.SetOpacity(1.01), viewer.ErrInvalidOpacity)
	assert.ErrorIs(t, h.view.SetOpacity(math.NaN()), viewer.ErrInvalidOpacity)
	require.NoError(t, h.view.SetOpacity(0))
	require.NoError(t, h.view.SetOpacity(1))
}

func TestView_Download(t *testing.T) {
	h := readyHarness(t)
	h.backend.archive = []byte("PK\x03\x04")

	archive, err := h.view.Download(context.Background())
	require.NoError(t, err)
	defer archive.Body.Close()

	assert.Equal(t, "inference_job-1.zip", archive.Filename)
	data, err := io.ReadAll(archive.Body)
	require.NoError(t, err)
	assert.Equal(t, []byte("PK\x03\x04"), data)
}

func TestView_DownloadNotReady(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.backend.script("job-1", running("job-1"))
	require.NoError(t, h.view.Navigate("job-1"))

	_, err := h.view.Download(context.Background())
	assert.ErrorIs(t, err, viewer.ErrNotReady)
}

func TestView_DownloadFailureNotifies(t *testing.T) {
	h := readyHarness(t)
	h.backend.dlErr = backend.ErrTransientFetch

	_, err := h.view.Download(context.Background())
	assert.ErrorIs(t, err, backend.ErrTransientFetch)

	snap := h.view.Snapshot()
	require.Len(t, snap.Notices, 1)
	assert.Equal(t, viewer.DownloadFailedMessage, snap.Notices[0].Message)
}

func TestView_OpenHandleRejectsForeignHandles(t *testing.T) {
	h := readyHarness(t)
	foreign := h.blobs.Create([]byte("other"), "image/png")
	t.Cleanup(func() { h.blobs.Revoke(foreign.ID) })

	_, _, err := h.view.OpenHandle(foreign.ID)
	assert.ErrorIs(t, err, viewer.ErrUnknownHandle)
	_, _, err = h.view.OpenHandle(uuid.New())
	assert.ErrorIs(t, err, viewer.ErrUnknownHandle)
}

func TestView_Composite(t *testing.T) {
	h := readyHarness(t)

	out, err := h.view.Composite("a.png")
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG", string(out[:4]))

	_, err = h.view.Composite("b.png")
	assert.ErrorIs(t, err, viewer.ErrUnavailable)

	_, err = h.view.Composite("nope.png")
	assert.ErrorIs(t, err, viewer.ErrUnknownItem)
}

func TestView_RecordsObservedStatus(t *testing.T) {
	cache := &fakeStatusCache{}
	h := newHarness(t, 10*time.Millisecond, func(o *viewer.Options) { o.Statuses = cache })
	h.backend.script("job-1", running("job-1"), failed("job-1"))

	require.NoError(t, h.view.Navigate("job-1"))
	h.waitSettled(t)

	assert.Equal(t, "failed", cache.get("job-1"))
}

func TestView_WaitIdle(t *testing.T) {
	h := newHarness(t, time.Second)
	_, err := h.view.Wait(context.Background())
	assert.ErrorIs(t, err, viewer.ErrNotReady)
}

func TestView_MaxOneInFlight(t *testing.T) {
	h := newHarness(t, time.Millisecond)
	h.backend.script("job-1", running("job-1"))

	require.NoError(t, h.view.Navigate("job-1"))
	require.Eventually(t, func() bool { return h.backend.statusCalls("job-1") >= 20 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, int32(1), h.backend.maxInflight.Load())
}
