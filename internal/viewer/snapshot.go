package viewer

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/maskview/internal/blob"
	"github.com/kiranshivaraju/maskview/pkg/models"
)

// Snapshot is the observable state of a View at one instant.
type Snapshot struct {
	ViewID         uuid.UUID           `json:"view_id"`
	JobID          string              `json:"job_id,omitempty"`
	DatasetID      string              `json:"dataset_id,omitempty"`
	State          State               `json:"state"`
	JobStatus      models.JobStatus    `json:"job_status,omitempty"`
	Running        bool                `json:"running"`
	StatusMessage  string              `json:"status_message,omitempty"`
	NextPollAt     *time.Time          `json:"next_poll_at,omitempty"`
	Entries        []Entry             `json:"entries"`
	Selection      []string            `json:"selection"`
	Overlay        models.ArtifactKind `json:"overlay"`
	Opacity        float64             `json:"opacity"`
	OpacityPercent int                 `json:"opacity_percent"`
	Actions        Actions             `json:"actions"`
	CVATLink       string              `json:"cvat_link,omitempty"`
	Notices        []Notice            `json:"notices"`
}

// Entry is one rendered result item.
type Entry struct {
	Filename    string       `json:"filename"`
	Slots       Slots        `json:"slots"`
	Mask        *blob.Handle `json:"mask,omitempty"`
	Placeholder string       `json:"placeholder,omitempty"`
	Selected    bool         `json:"selected"`
	Caption     string       `json:"caption"`
}

// Actions reports which buttons are enabled. It depends only on the state
// and the selection size.
type Actions struct {
	CanDownload bool `json:"can_download"`
	CanPush     bool `json:"can_push"`
}

func actionsFor(state State, selected int) Actions {
	return Actions{
		CanDownload: state == StateReady,
		CanPush:     state == StateReady && selected > 0,
	}
}

// Snapshot returns the current state and drains pending notices.
func (v *View) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.touch()

	s := Snapshot{
		ViewID:         v.id,
		JobID:          v.jobID,
		State:          v.state,
		Running:        v.state == StatePolling || v.state == StateHydrating,
		StatusMessage:  v.message,
		Entries:        []Entry{},
		Selection:      v.selection.Items(),
		Overlay:        v.overlay,
		Opacity:        v.opacity,
		OpacityPercent: int(math.Round(v.opacity * 100)),
		Actions:        actionsFor(v.state, v.selection.Len()),
		CVATLink:       v.cvatLink,
		Notices:        v.notices,
	}
	v.notices = nil
	if s.Notices == nil {
		s.Notices = []Notice{}
	}

	if !v.nextPoll.IsZero() {
		at := v.nextPoll
		s.NextPollAt = &at
	}

	if v.job != nil {
		s.DatasetID = v.job.DatasetID
		s.JobStatus = v.job.Status
	}

	if v.job == nil || (v.state != StateHydrating && v.state != StateReady) {
		return s
	}

	seen := make(map[string]struct{}, len(v.job.Results))
	for _, item := range v.job.Results {
		if _, dup := seen[item.SourceFilename]; dup {
			continue
		}
		seen[item.SourceFilename] = struct{}{}
		e := Entry{
			Filename: item.SourceFilename,
			Selected: v.selection.Contains(item.SourceFilename),
		}
		if slots, ok := v.handles.Slots(item.SourceFilename); ok {
			e.Slots = slots
			e.Mask = slots.Get(v.overlay)
		}
		if e.Slots.Source == nil {
			if v.state == StateHydrating {
				e.Placeholder = LoadingPlaceholder
			} else {
				e.Placeholder = UnavailablePlaceholder
			}
		}
		e.Caption = UnmarkedCaption
		if e.Selected {
			e.Caption = MarkedCaption
		}
		s.Entries = append(s.Entries, e)
	}

	return s
}
