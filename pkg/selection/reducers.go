package selection

import (
	"slices"
	"strings"

	"github.com/3leaps/catalog/pkg/handle"
)

// Reducer computes the next State from the previous one.
type Reducer func(prev State) State

// RemoveReducer is a Reducer that also reports whether the whole resulting
// selection is empty.
type RemoveReducer func(prev State) (next State, isEmpty bool)

// Merge records the rows selected while viewing bucket/path.
//
// With a nil filter the rows under the prefix are replaced wholesale by items.
// With a filter, rows starting with *filter are dropped and items are
// appended after the survivors, which keep their relative order. Other
// prefixes pass through unchanged. An empty path is the bucket root.
func Merge(items []string, bucket, path string, filter *string) Reducer {
	prefix := handle.EncodePrefix(bucket, path)
	incoming := slices.Clone(items)
	var f *string
	if filter != nil {
		v := *filter
		f = &v
	}

	return func(prev State) State {
		if f == nil {
			return prev.with(prefix, slices.Clone(incoming))
		}

		existing := prev.entries[prefix]
		next := make([]string, 0, len(existing)+len(incoming))
		for _, id := range existing {
			if !strings.HasPrefix(id, *f) {
				next = append(next, id)
			}
		}
		next = append(next, incoming...)
		return prev.with(prefix, next)
	}
}

// Remove drops the row at index under prefix.
//
// A prefix left without rows is deleted from the state. An unknown prefix or
// out-of-range index returns prev unchanged.
func Remove(prefix handle.PrefixKey, index int) RemoveReducer {
	return func(prev State) (State, bool) {
		items, ok := prev.entries[prefix]
		if !ok || index < 0 || index >= len(items) {
			return prev, prev.IsEmpty()
		}

		var next State
		if len(items) == 1 {
			next = prev.without(prefix)
		} else {
			remaining := make([]string, 0, len(items)-1)
			remaining = append(remaining, items[:index]...)
			remaining = append(remaining, items[index+1:]...)
			next = prev.with(prefix, remaining)
		}
		return next, next.IsEmpty()
	}
}

// RemoveByPrefix deletes every row selected under prefix.
func RemoveByPrefix(prefix handle.PrefixKey) Reducer {
	return func(prev State) State {
		return prev.without(prefix)
	}
}

// Clear returns the canonical empty state.
func Clear() Reducer {
	return func(State) State {
		return Empty()
	}
}

// Chain composes reducers left to right.
func Chain(reducers ...Reducer) Reducer {
	return func(prev State) State {
		for _, r := range reducers {
			prev = r(prev)
		}
		return prev
	}
}
