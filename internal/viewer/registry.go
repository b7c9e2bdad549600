package viewer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/maskview/internal/auth"
	"github.com/kiranshivaraju/maskview/internal/backend"
	"github.com/kiranshivaraju/maskview/internal/cvat"
)

// ClientFactory scopes the backend and CVAT clients to one credential.
type ClientFactory func(ts auth.TokenSource) (backend.Client, cvat.Pusher)

// Registry tracks the open views of a server.
type Registry struct {
	base    Options
	clients ClientFactory
	logger  *slog.Logger

	mu    sync.Mutex
	views map[uuid.UUID]*View
}

// NewRegistry creates a Registry. base supplies every Options field except
// Backend and Pusher, which come from clients per view.
func NewRegistry(base Options, clients ClientFactory) *Registry {
	if base.Logger == nil {
		base.Logger = slog.Default()
	}
	return &Registry{
		base:    base,
		clients: clients,
		logger:  base.Logger,
		views:   make(map[uuid.UUID]*View),
	}
}

// Open creates an idle view authenticating with ts. owner identifies the
// credential; only the same owner can look the view up again with Owned.
func (r *Registry) Open(owner string, ts auth.TokenSource) *View {
	opts := r.base
	opts.Backend, opts.Pusher = r.clients(ts)
	v := NewView(opts)
	v.owner = owner

	r.mu.Lock()
	r.views[v.ID()] = v
	r.mu.Unlock()
	return v
}

func (r *Registry) Get(id uuid.UUID) (*View, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.views[id]
	if !ok {
		return nil, ErrViewNotFound
	}
	return v, nil
}

// Owned returns the view only if it was opened by owner.
func (r *Registry) Owned(owner string, id uuid.UUID) (*View, error) {
	v, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	if v.owner != owner {
		return nil, ErrViewNotFound
	}
	return v, nil
}

// Close tears down and forgets the view.
func (r *Registry) Close(id uuid.UUID) error {
	r.mu.Lock()
	v, ok := r.views[id]
	delete(r.views, id)
	r.mu.Unlock()

	if !ok {
		return ErrViewNotFound
	}
	v.Close()
	return nil
}

// CloseAll tears down every view. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	views := r.views
	r.views = make(map[uuid.UUID]*View)
	r.mu.Unlock()

	for _, v := range views {
		v.Close()
	}
}

// ReapIdle closes views unused for longer than maxIdle and returns how many
// were closed.
func (r *Registry) ReapIdle(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	r.mu.Lock()
	var stale []*View
	for id, v := range r.views {
		if v.LastActive().Before(cutoff) {
			stale = append(stale, v)
			delete(r.views, id)
		}
	}
	r.mu.Unlock()

	for _, v := range stale {
		v.Close()
	}
	if len(stale) > 0 {
		r.logger.Info("reaped idle views", "count", len(stale))
	}
	return len(stale)
}

// RunReaper calls ReapIdle every interval until ctx is done.
func (r *Registry) RunReaper(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.ReapIdle(maxIdle)
		}
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.views)
}
