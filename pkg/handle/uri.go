package handle

import (
	"errors"
	"fmt"
	"strings"
)

// URI parsing errors
var (
	// ErrInvalidURI indicates the URI could not be parsed.
	ErrInvalidURI = errors.New("invalid URI")

	// ErrUnsupportedProvider indicates the URI scheme is not supported.
	ErrUnsupportedProvider = errors.New("unsupported provider")

	// ErrMissingBucket indicates the URI is missing a bucket name.
	ErrMissingBucket = errors.New("missing bucket name")
)

// ObjectURI is a user-typed cloud storage URI.
//
// Unlike a PrefixKey, the key is taken literally: "s3://bucket/a b/" names
// the key "a b/", with no percent-decoding.
//
// Example URIs:
//   - s3://bucket
//   - s3://bucket/prefix/
//   - s3://bucket/key/path.txt
type ObjectURI struct {
	// Provider is the storage provider (e.g., "s3").
	Provider string

	// Bucket is the bucket name.
	Bucket string

	// Key is the object key or prefix. Empty for bucket root.
	Key string
}

// String returns the URI in canonical form.
func (u *ObjectURI) String() string {
	return fmt.Sprintf("%s://%s/%s", u.Provider, u.Bucket, u.Key)
}

// IsPrefix returns true if the URI represents a prefix (ends with / or is the bucket root).
func (u *ObjectURI) IsPrefix() bool {
	return u.Key == "" || strings.HasSuffix(u.Key, "/")
}

// Location returns the URI as a Location.
func (u *ObjectURI) Location() Location {
	return Location{Bucket: u.Bucket, Key: u.Key}
}

// ParseURI parses a cloud storage URI into its components.
//
// Parsing is manual so that characters such as "?" and "#" stay part of the
// key instead of being treated as query or fragment delimiters.
func ParseURI(uri string) (*ObjectURI, error) {
	if uri == "" {
		return nil, fmt.Errorf("%w: empty URI", ErrInvalidURI)
	}

	schemeEnd := strings.Index(uri, "://")
	if schemeEnd == -1 {
		return nil, fmt.Errorf("%w: missing scheme (expected s3://...)", ErrInvalidURI)
	}

	provider := strings.ToLower(uri[:schemeEnd])
	if provider != Scheme {
		return nil, fmt.Errorf("%w: %s (supported: s3)", ErrUnsupportedProvider, provider)
	}

	remainder := uri[schemeEnd+3:]
	bucket, key, _ := strings.Cut(remainder, "/")
	if bucket == "" {
		return nil, fmt.Errorf("%w: in %s", ErrMissingBucket, uri)
	}
	if strings.ContainsAny(bucket, " #?%") {
		return nil, fmt.Errorf("%w: invalid bucket name %q", ErrInvalidURI, bucket)
	}

	return &ObjectURI{Provider: provider, Bucket: bucket, Key: key}, nil
}
