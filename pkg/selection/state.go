// Package selection tracks which listing rows are selected, grouped by the S3
// prefix they were listed under.
//
// State is an immutable value. Reducers take the previous State and return
// the next one; nothing in this package holds hidden state except Session,
// which is an explicit, injectable owner of one State.
package selection

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/3leaps/catalog/pkg/handle"
)

// State maps prefix keys to the ordered row IDs selected under them.
//
// Prefixes iterate in first-insertion order. The zero value is the empty
// state. Sequences are shared between states and must never be mutated in
// place.
type State struct {
	keys    []handle.PrefixKey
	entries map[handle.PrefixKey][]string
}

// Empty returns the canonical empty state.
func Empty() State {
	return State{}
}

// FromMap builds a State from a plain map. Prefixes are ordered by the
// supplied order; keys missing from order are appended in sorted order.
func FromMap(m map[handle.PrefixKey][]string, order ...handle.PrefixKey) State {
	var s State
	for _, k := range order {
		if items, ok := m[k]; ok {
			s = s.with(k, slices.Clone(items))
		}
	}
	rest := make([]handle.PrefixKey, 0, len(m))
	for k := range m {
		if !s.Has(k) {
			rest = append(rest, k)
		}
	}
	slices.Sort(rest)
	for _, k := range rest {
		s = s.with(k, slices.Clone(m[k]))
	}
	return s
}

// Keys returns the prefixes in iteration order.
func (s State) Keys() []handle.PrefixKey {
	return slices.Clone(s.keys)
}

// Len returns the number of prefixes, including ones with no rows.
func (s State) Len() int {
	return len(s.keys)
}

// Has reports whether the prefix has an entry.
func (s State) Has(prefix handle.PrefixKey) bool {
	_, ok := s.entries[prefix]
	return ok
}

// Items returns a copy of the rows selected under prefix.
func (s State) Items(prefix handle.PrefixKey) []string {
	return slices.Clone(s.entries[prefix])
}

// TotalCount is the sum of sequence lengths across all prefixes.
func (s State) TotalCount() int {
	n := 0
	for _, items := range s.entries {
		n += len(items)
	}
	return n
}

// IsEmpty reports whether no row is selected under any prefix.
func (s State) IsEmpty() bool {
	return s.TotalCount() == 0
}

// IsSelected reports whether rowID is selected under prefix.
func (s State) IsSelected(prefix handle.PrefixKey, rowID string) bool {
	return slices.Contains(s.entries[prefix], rowID)
}

// ToMap returns a copy of the state as a plain map.
func (s State) ToMap() map[handle.PrefixKey][]string {
	m := make(map[handle.PrefixKey][]string, len(s.keys))
	for _, k := range s.keys {
		m[k] = slices.Clone(s.entries[k])
	}
	return m
}

// Equal reports value equality: same prefixes with the same ordered rows.
// Prefix iteration order does not participate.
func (s State) Equal(other State) bool {
	if len(s.keys) != len(other.keys) {
		return false
	}
	for k, items := range s.entries {
		otherItems, ok := other.entries[k]
		if !ok || !slices.Equal(items, otherItems) {
			return false
		}
	}
	return true
}

// with returns a copy of s with prefix set to items.
// Existing prefixes keep their position; new ones are appended.
func (s State) with(prefix handle.PrefixKey, items []string) State {
	next := State{
		keys:    s.keys,
		entries: make(map[handle.PrefixKey][]string, len(s.entries)+1),
	}
	for k, v := range s.entries {
		next.entries[k] = v
	}
	if _, ok := s.entries[prefix]; !ok {
		next.keys = append(slices.Clone(s.keys), prefix)
	}
	if items == nil {
		items = []string{}
	}
	next.entries[prefix] = items
	return next
}

// without returns a copy of s with prefix removed.
func (s State) without(prefix handle.PrefixKey) State {
	if _, ok := s.entries[prefix]; !ok {
		return s
	}
	if len(s.keys) == 1 {
		return Empty()
	}
	next := State{
		keys:    make([]handle.PrefixKey, 0, len(s.keys)-1),
		entries: make(map[handle.PrefixKey][]string, len(s.entries)-1),
	}
	for _, k := range s.keys {
		if k == prefix {
			continue
		}
		next.keys = append(next.keys, k)
		next.entries[k] = s.entries[k]
	}
	return next
}

// MarshalJSON encodes the state as a JSON object, preserving prefix order.
func (s State) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range s.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(string(k))
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(s.entries[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object of prefix key to row ID arrays,
// preserving the document's key order.
func (s *State) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*s = Empty()
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("selection: expected object, got %v", tok)
	}

	next := Empty()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("selection: expected string key, got %v", tok)
		}
		var items []string
		if err := dec.Decode(&items); err != nil {
			return fmt.Errorf("selection: prefix %q: %w", key, err)
		}
		next = next.with(handle.PrefixKey(key), items)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*s = next
	return nil
}
