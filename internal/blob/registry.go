// Package blob holds in-memory binary payloads behind revocable handles.
//
// A handle is valid from Create until Revoke. Every Create must be matched
// by exactly one Revoke; Live reports how many handles are outstanding.
package blob

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

var ErrRevoked = errors.New("blob handle revoked or unknown")

// Handle identifies a live payload. It is safe to copy.
type Handle struct {
	ID          uuid.UUID `json:"id"`
	ContentType string    `json:"content_type"`
	Size        int       `json:"size"`
}

type entry struct {
	data        []byte
	contentType string
}

// Registry owns payloads until their handles are revoked.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[uuid.UUID]entry)}
}

// Create stores data and returns a new live handle for it.
func (r *Registry) Create(data []byte, contentType string) Handle {
	id := uuid.New()
	r.mu.Lock()
	r.entries[id] = entry{data: data, contentType: contentType}
	r.mu.Unlock()
	return Handle{ID: id, ContentType: contentType, Size: len(data)}
}

// Open returns the payload behind a live handle.
func (r *Registry) Open(id uuid.UUID) ([]byte, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, "", ErrRevoked
	}
	return e.data, e.contentType, nil
}

// Revoke releases the payload. It reports false if the handle was already
// revoked, so a double release is detectable.
func (r *Registry) Revoke(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return false
	}
	delete(r.entries, id)
	return true
}

// Live returns the number of outstanding handles.
func (r *Registry) Live() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
