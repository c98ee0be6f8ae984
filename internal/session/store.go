package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/3leaps/catalog/pkg/selection"
)

// Snapshot is the on-disk form of one session.
type Snapshot struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	SavedAt   time.Time       `json:"saved_at"`
	Selection selection.State `json:"selection"`
}

// Store persists session snapshots as one JSON file per session:
//
//	<root>/<session_id>.json
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: strings.TrimSpace(root)}
}

func (s *Store) path(id string) string {
	return filepath.Join(s.root, id+".json")
}

// Write replaces the snapshot for snap.ID atomically.
func (s *Store) Write(snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("snapshot is nil")
	}
	id := strings.TrimSpace(snap.ID)
	if id == "" || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("invalid session id %q", snap.ID)
	}
	if s.root == "" {
		return fmt.Errorf("session store root dir is empty")
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(s.root, id+".json.tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp session file: %w", err)
	}
	if err := os.Rename(tmpName, s.path(id)); err != nil {
		return fmt.Errorf("rename session file: %w", err)
	}
	return nil
}

// Remove deletes a snapshot. A missing snapshot is not an error.
func (s *Store) Remove(id string) error {
	err := os.Remove(s.path(id))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// List returns every readable snapshot, oldest first. Unreadable files are
// skipped.
func (s *Store) List() ([]Snapshot, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session dir: %w", err)
	}

	out := make([]Snapshot, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		b, err := os.ReadFile(filepath.Join(s.root, entry.Name()))
		if err != nil {
			continue
		}
		var snap Snapshot
		if err := json.Unmarshal(b, &snap); err != nil || snap.ID == "" {
			continue
		}
		out = append(out, snap)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Save writes a snapshot of every live, non-empty session in r and removes
// snapshots of sessions that are now empty.
func (r *Registry) Save(store *Store) error {
	var errs []error
	for _, s := range r.Sessions() {
		state := s.Snapshot()
		if state.IsEmpty() {
			if err := store.Remove(s.ID()); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		snap := &Snapshot{ID: s.ID(), CreatedAt: s.CreatedAt(), SavedAt: time.Now().UTC(), Selection: state}
		if err := store.Write(snap); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Load restores every snapshot in store into r and returns how many were
// restored.
func (r *Registry) Load(store *Store) (int, error) {
	snaps, err := store.List()
	if err != nil {
		return 0, err
	}
	for _, snap := range snaps {
		r.Restore(snap.ID, snap.Selection)
	}
	return len(snaps), nil
}
