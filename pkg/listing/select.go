package listing

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/3leaps/catalog/pkg/handle"
	"github.com/3leaps/catalog/pkg/selection"
)

// SelectableIDs returns the IDs of every row that may enter a selection.
func SelectableIDs(items []Item) []string {
	ids := make([]string, 0, len(items))
	for _, it := range items {
		if handle.IsSelectable(it.ID()) {
			ids = append(ids, it.ID())
		}
	}
	return ids
}

// SelectionChange is a grid row-selection event for one listed prefix.
type SelectionChange struct {
	Bucket   string   `json:"bucket" yaml:"bucket"`
	Path     string   `json:"path" yaml:"path"`
	Selected []string `json:"items" yaml:"items"`
	// Filter is set when the change came from select-all-matching.
	Filter *string `json:"filter,omitempty" yaml:"filter,omitempty"`
}

// Reducer returns the selection.Merge for this change. The ".." row is
// dropped.
func (c SelectionChange) Reducer() selection.Reducer {
	ids := make([]string, 0, len(c.Selected))
	for _, id := range c.Selected {
		if handle.IsSelectable(id) {
			ids = append(ids, id)
		}
	}
	return selection.Merge(ids, c.Bucket, c.Path, c.Filter)
}

// SelectMatching returns the change that selects every row starting with
// filter, keeping unrelated rows already selected under the prefix.
func SelectMatching(page *Page, filter string) SelectionChange {
	var ids []string
	for _, id := range SelectableIDs(page.Items) {
		if strings.HasPrefix(id, filter) {
			ids = append(ids, id)
		}
	}
	f := filter
	return SelectionChange{Bucket: page.Bucket, Path: page.Path, Selected: ids, Filter: &f}
}

// SelectGlob returns the change that replaces the prefix's selection with the
// rows whose ID matches pattern. Patterns use doublestar syntax, so "**"
// crosses the "/" in directory row IDs.
func SelectGlob(page *Page, pattern string) (SelectionChange, error) {
	if !doublestar.ValidatePattern(pattern) {
		return SelectionChange{}, fmt.Errorf("invalid glob pattern %q", pattern)
	}
	var ids []string
	for _, id := range SelectableIDs(page.Items) {
		if doublestar.MatchUnvalidated(pattern, id) {
			ids = append(ids, id)
		}
	}
	return SelectionChange{Bucket: page.Bucket, Path: page.Path, Selected: ids}, nil
}
