// Package bookmarks persists named groups of bookmarked object handles.
//
// A Store keeps an in-memory copy of every group so membership checks are
// cheap enough to run once per listing row. Writes go to SQL first, except
// for Toggle, which applies to the cache immediately and compensates if the
// write fails.
package bookmarks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/3leaps/catalog/pkg/handle"
)

// DefaultGroup is the group used when none is named.
const DefaultGroup = "main"

// timeFormat is fixed width so created_at sorts lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// ErrInvalidGroup is returned for empty group names.
var ErrInvalidGroup = errors.New("bookmark group name is required")

// Entry is one bookmarked handle.
type Entry struct {
	Group     string          `json:"group"`
	Handle    handle.Location `json:"handle"`
	CreatedAt time.Time       `json:"created_at"`
}

// Store is a bookmarks database plus its membership cache.
type Store struct {
	db *sql.DB

	mu    sync.RWMutex
	cache map[string]map[handle.Location]struct{}
}

// NewStore loads every group from db, which must already be migrated.
func NewStore(ctx context.Context, db *sql.DB) (*Store, error) {
	s := &Store{db: db, cache: make(map[string]map[handle.Location]struct{})}

	rows, err := db.QueryContext(ctx, `SELECT group_name, bucket, object_key, version FROM bookmarks`)
	if err != nil {
		return nil, fmt.Errorf("load bookmarks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var group string
		var loc handle.Location
		if err := rows.Scan(&group, &loc.Bucket, &loc.Key, &loc.Version); err != nil {
			return nil, fmt.Errorf("scan bookmark: %w", err)
		}
		s.cacheAdd(group, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load bookmarks: %w", err)
	}
	return s, nil
}

// Add bookmarks loc in group. Adding an existing bookmark is a no-op.
func (s *Store) Add(ctx context.Context, group string, loc handle.Location) error {
	if group == "" {
		return ErrInvalidGroup
	}
	if err := s.insert(ctx, group, loc); err != nil {
		return err
	}
	s.mu.Lock()
	s.cacheAdd(group, loc)
	s.mu.Unlock()
	return nil
}

// Remove deletes loc from group. Removing a missing bookmark is a no-op.
func (s *Store) Remove(ctx context.Context, group string, loc handle.Location) error {
	if group == "" {
		return ErrInvalidGroup
	}
	if err := s.delete(ctx, group, loc); err != nil {
		return err
	}
	s.mu.Lock()
	s.cacheRemove(group, loc)
	s.mu.Unlock()
	return nil
}

// Contains reports whether loc is bookmarked in group.
func (s *Store) Contains(group string, loc handle.Location) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.cache[group][loc]
	return ok
}

// Count returns the number of bookmarks in group.
func (s *Store) Count(group string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache[group])
}

// Groups returns every non-empty group name, sorted.
func (s *Store) Groups() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.cache))
	for g, m := range s.cache {
		if len(m) > 0 {
			out = append(out, g)
		}
	}
	sort.Strings(out)
	return out
}

// List returns the bookmarks of group, oldest first.
func (s *Store) List(ctx context.Context, group string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT bucket, object_key, version, created_at
		FROM bookmarks
		WHERE group_name = ?
		ORDER BY created_at, bucket, object_key, version`, group)
	if err != nil {
		return nil, fmt.Errorf("list bookmarks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		e := Entry{Group: group}
		var created string
		if err := rows.Scan(&e.Handle.Bucket, &e.Handle.Key, &e.Handle.Version, &created); err != nil {
			return nil, fmt.Errorf("scan bookmark: %w", err)
		}
		if t, err := time.Parse(timeFormat, created); err == nil {
			e.CreatedAt = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Toggle flips the membership of loc in group and reports whether it is now
// bookmarked.
func (s *Store) Toggle(ctx context.Context, group string, loc handle.Location) (bool, error) {
	op, err := s.BeginToggle(group, loc)
	if err != nil {
		return false, err
	}
	if err := op.Commit(ctx); err != nil {
		return !op.Added, err
	}
	return op.Added, nil
}

// PendingToggle is a tentatively applied toggle. Exactly one of Commit or
// Rollback must be called.
type PendingToggle struct {
	store *Store
	group string
	loc   handle.Location
	done  bool

	// Added is true when the toggle adds the bookmark.
	Added bool
}

// BeginToggle applies a toggle to the cache only. Contains reflects it
// immediately.
func (s *Store) BeginToggle(group string, loc handle.Location) (*PendingToggle, error) {
	if group == "" {
		return nil, ErrInvalidGroup
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, present := s.cache[group][loc]
	if present {
		s.cacheRemove(group, loc)
	} else {
		s.cacheAdd(group, loc)
	}
	return &PendingToggle{store: s, group: group, loc: loc, Added: !present}, nil
}

// Commit persists the toggle. On failure the cache is compensated and the
// write error returned.
func (p *PendingToggle) Commit(ctx context.Context) error {
	if p.done {
		return nil
	}
	p.done = true

	var err error
	if p.Added {
		err = p.store.insert(ctx, p.group, p.loc)
	} else {
		err = p.store.delete(ctx, p.group, p.loc)
	}
	if err != nil {
		p.compensate()
		return err
	}
	return nil
}

// Rollback undoes the tentative change without writing.
func (p *PendingToggle) Rollback() {
	if p.done {
		return
	}
	p.done = true
	p.compensate()
}

func (p *PendingToggle) compensate() {
	s := p.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Added {
		s.cacheRemove(p.group, p.loc)
	} else {
		s.cacheAdd(p.group, p.loc)
	}
}

func (s *Store) insert(ctx context.Context, group string, loc handle.Location) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bookmarks (group_name, bucket, object_key, version, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(group_name, bucket, object_key, version) DO NOTHING`,
		group, loc.Bucket, loc.Key, loc.Version, time.Now().UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("add bookmark %s: %w", loc, err)
	}
	return nil
}

func (s *Store) delete(ctx context.Context, group string, loc handle.Location) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM bookmarks
		WHERE group_name = ? AND bucket = ? AND object_key = ? AND version = ?`,
		group, loc.Bucket, loc.Key, loc.Version)
	if err != nil {
		return fmt.Errorf("remove bookmark %s: %w", loc, err)
	}
	return nil
}

// cacheAdd and cacheRemove require s.mu held (or exclusive access).
func (s *Store) cacheAdd(group string, loc handle.Location) {
	m, ok := s.cache[group]
	if !ok {
		m = make(map[handle.Location]struct{})
		s.cache[group] = m
	}
	m[loc] = struct{}{}
}

func (s *Store) cacheRemove(group string, loc handle.Location) {
	m := s.cache[group]
	delete(m, loc)
	if len(m) == 0 {
		delete(s.cache, group)
	}
}
