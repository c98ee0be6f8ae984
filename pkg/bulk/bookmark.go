package bulk

import (
	"context"

	"github.com/3leaps/catalog/pkg/handle"
)

// Bookmarker stores handles in a named bookmark group.
type Bookmarker interface {
	Add(ctx context.Context, group string, loc handle.Location) error
}

// Bookmark adds every handle to group.
func Bookmark(ctx context.Context, store Bookmarker, group string, handles []handle.Location, cfg Config) *Result {
	return Run(ctx, ActionBookmark, handles, func(ctx context.Context, loc handle.Location) error {
		return store.Add(ctx, group, loc)
	}, cfg)
}
