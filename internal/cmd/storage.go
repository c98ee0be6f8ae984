package cmd

import (
	"context"
	"database/sql"

	"github.com/3leaps/catalog/internal/config"
	"github.com/3leaps/catalog/pkg/bookmarks"
	"github.com/3leaps/catalog/pkg/provider"
	"github.com/3leaps/catalog/pkg/provider/file"
	"github.com/3leaps/catalog/pkg/provider/s3"
)

// newResolver returns the bucket resolver for the configured backend and a
// func releasing its providers.
func newResolver(cfg *config.Config) (provider.Resolver, string, func()) {
	if cfg.Storage.Provider == string(provider.ProviderFile) {
		return file.NewResolver(cfg.Storage.Root), string(provider.ProviderFile), func() {}
	}

	r := s3.NewResolver(s3.Config{
		Region:         cfg.S3.Region,
		Endpoint:       cfg.S3.Endpoint,
		Profile:        cfg.S3.Profile,
		ForcePathStyle: cfg.S3.ForcePathStyle,
		MaxKeys:        cfg.S3.MaxKeys,
	})
	return r.Func(), string(provider.ProviderS3), func() { _ = r.Close() }
}

// openBookmarks opens and migrates the bookmarks database.
func openBookmarks(ctx context.Context, cfg *config.Config) (*bookmarks.Store, *sql.DB, error) {
	db, err := bookmarks.Open(ctx, bookmarks.Config{
		Path:      cfg.Bookmarks.Path,
		URL:       cfg.Bookmarks.URL,
		AuthToken: cfg.Bookmarks.AuthToken,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := bookmarks.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	store, err := bookmarks.NewStore(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return store, db, nil
}
