package selection

import (
	"fmt"

	"github.com/3leaps/catalog/pkg/handle"
)

// PrefixHandles is one prefix of a projected selection.
type PrefixHandles struct {
	// Prefix is the encoded prefix key.
	Prefix handle.PrefixKey `json:"prefix"`

	// Base is the decoded prefix location, used as a display header.
	Base handle.Location `json:"base"`

	// Handles are the selected rows resolved against Base, in selection order.
	Handles []handle.Location `json:"handles"`
}

// HandlesMap is a projected selection in prefix iteration order.
type HandlesMap []PrefixHandles

// Get returns the handles for prefix.
func (m HandlesMap) Get(prefix handle.PrefixKey) ([]handle.Location, bool) {
	for _, ph := range m {
		if ph.Prefix == prefix {
			return ph.Handles, true
		}
	}
	return nil, false
}

// ToMap returns the projection as a plain map.
func (m HandlesMap) ToMap() map[handle.PrefixKey][]handle.Location {
	out := make(map[handle.PrefixKey][]handle.Location, len(m))
	for _, ph := range m {
		out[ph.Prefix] = ph.Handles
	}
	return out
}

// Flatten concatenates the handles of every prefix in order.
func (m HandlesMap) Flatten() []handle.Location {
	n := 0
	for _, ph := range m {
		n += len(ph.Handles)
	}
	out := make([]handle.Location, 0, n)
	for _, ph := range m {
		out = append(out, ph.Handles...)
	}
	return out
}

// ToHandlesMap resolves every selected row to a concrete location.
//
// Prefixes with no rows are kept with an empty handle list. A prefix key that
// fails to decode aborts the projection with an error wrapping
// handle.ErrMalformedPrefixKey.
func ToHandlesMap(s State) (HandlesMap, error) {
	out := make(HandlesMap, 0, len(s.keys))
	for _, prefix := range s.keys {
		base, err := handle.DecodePrefix(prefix)
		if err != nil {
			return nil, fmt.Errorf("project selection: %w", err)
		}
		items := s.entries[prefix]
		handles := make([]handle.Location, 0, len(items))
		for _, id := range items {
			handles = append(handles, handle.JoinRelative(base, id))
		}
		out = append(out, PrefixHandles{Prefix: prefix, Base: base, Handles: handles})
	}
	return out, nil
}

// ToHandlesList flattens ToHandlesMap in prefix order, then row order.
func ToHandlesList(s State) ([]handle.Location, error) {
	m, err := ToHandlesMap(s)
	if err != nil {
		return nil, err
	}
	return m.Flatten(), nil
}
