package provider

import (
	"context"
	"fmt"
)

// DelimiterLister lists one level of a bucket: the objects directly under
// Prefix and the child prefixes (full keys ending in Delimiter). It backs the
// listing grid.
type DelimiterLister interface {
	ListWithDelimiter(ctx context.Context, opts ListWithDelimiterOptions) (*ListWithDelimiterResult, error)
}

// ListWithDelimiterOptions selects one page of a delimiter listing. Only "/"
// is supported as a delimiter by the bundled providers.
type ListWithDelimiterOptions struct {
	Prefix            string
	Delimiter         string
	ContinuationToken string
	MaxKeys           int
}

// ListWithDelimiterResult is one page of a delimiter listing.
type ListWithDelimiterResult struct {
	Objects        []ObjectSummary
	CommonPrefixes []string

	ContinuationToken string
	IsTruncated       bool
}

// Stater reads the metadata of one object. A missing key returns an error
// for which IsNotFound reports true.
type Stater interface {
	Head(ctx context.Context, key string) (*ObjectMeta, error)
}

// ObjectMeta is the metadata Head returns.
type ObjectMeta struct {
	ObjectSummary
	ContentType string
	VersionID   string
	Metadata    map[string]string
}

// ObjectDeleter deletes objects. Deleting a missing key succeeds, as on S3.
type ObjectDeleter interface {
	DeleteObject(ctx context.Context, key string) error
}

// VersionDeleter deletes one version of an object.
type VersionDeleter interface {
	DeleteObjectVersion(ctx context.Context, key, versionID string) error
}

// ResolveDelimiterLister resolves bucket and asserts delimiter listing
// support. Missing support is reported as ErrUnsupported.
func ResolveDelimiterLister(ctx context.Context, resolve Resolver, bucket string) (DelimiterLister, error) {
	p, err := resolve(ctx, bucket)
	if err != nil {
		return nil, err
	}
	l, ok := p.(DelimiterLister)
	if !ok {
		return nil, fmt.Errorf("bucket %s: delimiter listing: %w", bucket, ErrUnsupported)
	}
	return l, nil
}

// Stat resolves bucket and heads key.
func Stat(ctx context.Context, resolve Resolver, bucket, key string) (*ObjectMeta, error) {
	p, err := resolve(ctx, bucket)
	if err != nil {
		return nil, err
	}
	s, ok := p.(Stater)
	if !ok {
		return nil, fmt.Errorf("bucket %s: head: %w", bucket, ErrUnsupported)
	}
	return s.Head(ctx, key)
}
