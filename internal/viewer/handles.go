package viewer

import (
	"github.com/google/uuid"
	"github.com/kiranshivaraju/maskview/internal/blob"
	"github.com/kiranshivaraju/maskview/pkg/models"
)

// Slots holds the handles hydrated for one result item. A nil slot means
// the artifact was absent or could not be fetched.
type Slots struct {
	Source       *blob.Handle `json:"source,omitempty"`
	ClassMask    *blob.Handle `json:"class_mask,omitempty"`
	InstanceMask *blob.Handle `json:"instance_mask,omitempty"`
}

func (s Slots) Get(kind models.ArtifactKind) *blob.Handle {
	switch kind {
	case models.ArtifactSource:
		return s.Source
	case models.ArtifactClassMask:
		return s.ClassMask
	case models.ArtifactInstanceMask:
		return s.InstanceMask
	}
	return nil
}

func (s *Slots) set(kind models.ArtifactKind, h *blob.Handle) {
	switch kind {
	case models.ArtifactSource:
		s.Source = h
	case models.ArtifactClassMask:
		s.ClassMask = h
	case models.ArtifactInstanceMask:
		s.InstanceMask = h
	}
}

func (s Slots) each(fn func(blob.Handle)) {
	for _, h := range []*blob.Handle{s.Source, s.ClassMask, s.InstanceMask} {
		if h != nil {
			fn(*h)
		}
	}
}

// Batch is the result of one hydration pass, keyed by source filename.
type Batch map[string]Slots

// releaseBatch revokes every handle in b and returns how many were live.
func releaseBatch(reg *blob.Registry, b Batch) int {
	n := 0
	for _, slots := range b {
		slots.each(func(h blob.Handle) {
			if reg.Revoke(h.ID) {
				n++
			}
		})
	}
	return n
}

// HandleSet owns the handles of the currently displayed job. Replace always
// releases the previous batch before adopting the next one.
type HandleSet struct {
	reg   *blob.Registry
	batch Batch
	owned map[uuid.UUID]struct{}
}

func NewHandleSet(reg *blob.Registry) *HandleSet {
	return &HandleSet{reg: reg, owned: make(map[uuid.UUID]struct{})}
}

// Replace releases the current batch and takes ownership of b. It returns
// the number of handles released.
func (h *HandleSet) Replace(b Batch) int {
	released := h.ReleaseAll()
	h.batch = b
	for _, slots := range b {
		slots.each(func(bh blob.Handle) { h.owned[bh.ID] = struct{}{} })
	}
	return released
}

// ReleaseAll revokes every owned handle exactly once.
func (h *HandleSet) ReleaseAll() int {
	n := releaseBatch(h.reg, h.batch)
	h.batch = nil
	clear(h.owned)
	return n
}

func (h *HandleSet) Slots(filename string) (Slots, bool) {
	s, ok := h.batch[filename]
	return s, ok
}

func (h *HandleSet) Owns(id uuid.UUID) bool {
	_, ok := h.owned[id]
	return ok
}

func (h *HandleSet) Len() int {
	return len(h.owned)
}
