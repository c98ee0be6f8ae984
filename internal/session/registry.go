// Package session tracks the live selection sessions of the HTTP API.
package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/3leaps/catalog/pkg/selection"
)

var (
	// ErrNotFound is returned for unknown or expired session IDs.
	ErrNotFound = errors.New("session not found")

	// ErrLimitReached is returned when MaxSessions live sessions exist.
	ErrLimitReached = errors.New("session limit reached")
)

// Options configure a Registry.
type Options struct {
	// IdleTTL evicts sessions not touched for this long. Zero disables eviction.
	IdleTTL time.Duration

	// MaxSessions caps live sessions. Zero means no cap.
	MaxSessions int

	// OnCount receives the number of registered sessions after every
	// change. Called without the registry lock held.
	OnCount func(n int)

	Logger *zap.Logger
}

// Registry maps session IDs to sessions.
type Registry struct {
	opts Options
	now  func() time.Time

	mu       sync.RWMutex
	sessions map[string]*selection.Session
}

// NewRegistry returns an empty registry.
func NewRegistry(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Registry{
		opts:     opts,
		now:      time.Now,
		sessions: make(map[string]*selection.Session),
	}
}

// Create starts an empty session with a fresh ID.
func (r *Registry) Create() (*selection.Session, error) {
	r.mu.Lock()
	if r.opts.MaxSessions > 0 && len(r.sessions) >= r.opts.MaxSessions {
		swept := r.sweepLocked()
		if len(r.sessions) >= r.opts.MaxSessions {
			n := len(r.sessions)
			r.mu.Unlock()
			if swept > 0 {
				r.notify(n)
			}
			return nil, ErrLimitReached
		}
	}

	s := selection.NewSession(uuid.NewString())
	r.sessions[s.ID()] = s
	n := len(r.sessions)
	r.mu.Unlock()

	r.notify(n)
	r.opts.Logger.Debug("session created", zap.String("session_id", s.ID()))
	return s, nil
}

// Restore registers a session under id holding state. It replaces any
// session with the same id.
func (r *Registry) Restore(id string, state selection.State) *selection.Session {
	s := selection.NewSession(id)
	s.Apply(func(selection.State) selection.State { return state })

	r.mu.Lock()
	r.sessions[id] = s
	n := len(r.sessions)
	r.mu.Unlock()

	r.notify(n)
	return s
}

// Get returns the live session for id.
func (r *Registry) Get(id string) (*selection.Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok || r.expired(s) {
		return nil, ErrNotFound
	}
	return s, nil
}

// Delete discards a session. Discarding clears the selection, so whatever
// still holds the session sees it empty.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	n := len(r.sessions)
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	r.notify(n)
	s.Clear()
	r.opts.Logger.Debug("session deleted", zap.String("session_id", id))
	return nil
}

// Len returns the number of registered sessions, expired or not.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sessions returns every live session ordered by creation time.
func (r *Registry) Sessions() []*selection.Session {
	r.mu.RLock()
	out := make([]*selection.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if !r.expired(s) {
			out = append(out, s)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt().Before(out[j].CreatedAt()) })
	return out
}

// Sweep evicts expired sessions and returns how many were removed.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	removed := r.sweepLocked()
	n := len(r.sessions)
	r.mu.Unlock()

	if removed > 0 {
		r.notify(n)
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if r.opts.IdleTTL <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.opts.Logger.Info("expired sessions evicted", zap.Int("count", n))
			}
		}
	}
}

func (r *Registry) sweepLocked() int {
	n := 0
	for id, s := range r.sessions {
		if r.expired(s) {
			delete(r.sessions, id)
			n++
		}
	}
	return n
}

func (r *Registry) notify(n int) {
	if r.opts.OnCount != nil {
		r.opts.OnCount(n)
	}
}

func (r *Registry) expired(s *selection.Session) bool {
	if r.opts.IdleTTL <= 0 {
		return false
	}
	return r.now().Sub(s.LastTouched()) > r.opts.IdleTTL
}
