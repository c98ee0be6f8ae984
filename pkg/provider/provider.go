// Package provider defines the storage a catalog browses: a recursive
// listing used to expand selected prefixes, plus optional capabilities
// (delimiter listing for the grid, stat, delete) detected by type assertion.
//
// A Provider is bound to one bucket. Selections may span buckets, so callers
// hold a Resolver and ask it for the provider of each handle's bucket.
package provider

import (
	"context"
	"time"
)

// Provider is a bucket-scoped store. Implementations must be safe for
// concurrent use.
type Provider interface {
	// List returns one page of the objects under opts.Prefix, recursively.
	List(ctx context.Context, opts ListOptions) (*ListResult, error)

	Close() error
}

// Resolver returns the provider serving bucket. Implementations cache
// providers; callers must not Close what a Resolver returns.
type Resolver func(ctx context.Context, bucket string) (Provider, error)

// ListOptions selects one page of a recursive listing.
type ListOptions struct {
	Prefix            string
	ContinuationToken string

	// MaxKeys caps the page size. Zero uses the provider default.
	MaxKeys int
}

// ListResult is one page of a recursive listing.
type ListResult struct {
	Objects           []ObjectSummary
	ContinuationToken string
	IsTruncated       bool
}

// ObjectSummary is what a listing knows about one object.
type ObjectSummary struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// ProviderType names a storage backend. It is the provider field of JSONL
// records.
type ProviderType string

const (
	ProviderS3 ProviderType = "s3"

	// ProviderFile serves buckets from directories under a local root.
	ProviderFile ProviderType = "file"
)

func (p ProviderType) String() string {
	return string(p)
}
