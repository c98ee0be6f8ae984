package selection

import (
	"sync"
	"time"

	"github.com/3leaps/catalog/pkg/handle"
)

// Session owns the selection of one browsing scope.
//
// A Session is created when a view mounts and discarded when it unmounts or
// navigates away. Mutations are serialized, standing in for the single update
// queue of a UI event loop. Pass the Session to whatever needs it; there is
// no package-level instance.
type Session struct {
	id      string
	created time.Time

	mu      sync.Mutex
	state   State
	touched time.Time
}

// NewSession creates an empty session.
func NewSession(id string) *Session {
	now := time.Now()
	return &Session{id: id, created: now, touched: now}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time {
	return s.created
}

// LastTouched returns when the session was last read or mutated.
func (s *Session) LastTouched() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touched
}

// Snapshot returns the current state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = time.Now()
	return s.state
}

// Apply runs r against the current state and stores the result.
func (s *Session) Apply(r Reducer) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = r(s.state)
	s.touched = time.Now()
	return s.state
}

// Merge applies Merge to the session.
func (s *Session) Merge(items []string, bucket, path string, filter *string) State {
	return s.Apply(Merge(items, bucket, path, filter))
}

// Remove applies Remove to the session and reports whole-state emptiness.
func (s *Session) Remove(prefix handle.PrefixKey, index int) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, isEmpty := Remove(prefix, index)(s.state)
	s.state = next
	s.touched = time.Now()
	return next, isEmpty
}

// RemoveByPrefix applies RemoveByPrefix to the session.
func (s *Session) RemoveByPrefix(prefix handle.PrefixKey) State {
	return s.Apply(RemoveByPrefix(prefix))
}

// Clear empties the session.
func (s *Session) Clear() State {
	return s.Apply(Clear())
}

// ClearIf empties the session only if it still holds expected.
//
// Consuming actions use this after they finish so that rows selected while
// the action was in flight are not thrown away.
func (s *Session) ClearIf(expected State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Equal(expected) {
		return false
	}
	s.state = Empty()
	s.touched = time.Now()
	return true
}
