// Package handle converts between structured S3 locations and the canonical
// prefix keys used to group selected listing rows.
//
// A PrefixKey is the percent-encoded "s3://bucket/seg/seg/" form of a
// directory-like location. Encoding is per path segment, so "/" separators are
// never escaped while characters such as space and "#" always are. Every
// prefix encodes to exactly one string regardless of how the caller spelled it.
package handle

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Scheme is the URI scheme for S3 locations.
const Scheme = "s3"

// ParentRow is the navigation pseudo-row shown above a listing.
// It is never a selectable object.
const ParentRow = ".."

// ErrMalformedPrefixKey indicates a PrefixKey string cannot be decoded.
//
// The selection store is only populated through EncodePrefix, so this error
// signals state corruption rather than bad user input.
var ErrMalformedPrefixKey = errors.New("malformed prefix key")

// Location identifies an S3 object or prefix.
type Location struct {
	// Bucket is the bucket name.
	Bucket string `json:"bucket" yaml:"bucket"`

	// Key is the object key. Prefixes end with "/"; the bucket root is "".
	Key string `json:"key" yaml:"key"`

	// Version is an optional object version ID.
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
}

// IsPrefix reports whether the location denotes a directory-like prefix.
func (l Location) IsPrefix() bool {
	return l.Key == "" || strings.HasSuffix(l.Key, "/")
}

// String renders the location as an unencoded s3:// URI for display and logs.
func (l Location) String() string {
	s := Scheme + "://" + l.Bucket + "/" + l.Key
	if l.Version != "" {
		s += "?versionId=" + l.Version
	}
	return s
}

// PrefixKey is the canonical encoded form of a prefix location.
type PrefixKey string

// String returns the encoded key.
func (k PrefixKey) String() string {
	return string(k)
}

// EncodePrefix returns the canonical PrefixKey for a bucket and key.
//
// The key is normalized to end with "/". An empty key denotes the bucket root.
func EncodePrefix(bucket, key string) PrefixKey {
	key = EnsureTrailingSlash(key)

	var b strings.Builder
	b.Grow(len(Scheme) + 4 + len(bucket) + len(key))
	b.WriteString(Scheme)
	b.WriteString("://")
	b.WriteString(url.PathEscape(bucket))
	b.WriteByte('/')
	if key != "" {
		// key ends with "/", so the last segment is always empty.
		segments := strings.Split(key, "/")
		for i, seg := range segments {
			if i > 0 {
				b.WriteByte('/')
			}
			b.WriteString(url.PathEscape(seg))
		}
	}
	return PrefixKey(b.String())
}

// EncodeLocation is EncodePrefix for a Location. Version is ignored.
func EncodeLocation(loc Location) PrefixKey {
	return EncodePrefix(loc.Bucket, loc.Key)
}

// DecodePrefix is the inverse of EncodePrefix.
//
// It fails with an error wrapping ErrMalformedPrefixKey when the scheme is
// missing, the bucket is empty, the key does not denote a prefix, or a
// percent-escape is invalid.
func DecodePrefix(k PrefixKey) (Location, error) {
	s := string(k)
	rest, ok := strings.CutPrefix(s, Scheme+"://")
	if !ok {
		return Location{}, fmt.Errorf("%w: %q: missing %s:// scheme", ErrMalformedPrefixKey, s, Scheme)
	}

	rawBucket, rawKey, ok := strings.Cut(rest, "/")
	if !ok {
		return Location{}, fmt.Errorf("%w: %q: missing path separator after bucket", ErrMalformedPrefixKey, s)
	}
	if rawBucket == "" {
		return Location{}, fmt.Errorf("%w: %q: empty bucket", ErrMalformedPrefixKey, s)
	}
	if rawKey != "" && !strings.HasSuffix(rawKey, "/") {
		return Location{}, fmt.Errorf("%w: %q: key must end with /", ErrMalformedPrefixKey, s)
	}

	bucket, err := url.PathUnescape(rawBucket)
	if err != nil {
		return Location{}, fmt.Errorf("%w: %q: bucket: %v", ErrMalformedPrefixKey, s, err)
	}
	key, err := url.PathUnescape(rawKey)
	if err != nil {
		return Location{}, fmt.Errorf("%w: %q: key: %v", ErrMalformedPrefixKey, s, err)
	}

	return Location{Bucket: bucket, Key: key}, nil
}

// Canonicalize re-encodes a PrefixKey so that differently escaped spellings of
// the same prefix compare equal.
func Canonicalize(k PrefixKey) (PrefixKey, error) {
	loc, err := DecodePrefix(k)
	if err != nil {
		return "", err
	}
	return EncodeLocation(loc), nil
}

// JoinRelative resolves a row identifier against its owning prefix.
//
// The row ID is appended literally; encoding belongs to the PrefixKey layer
// only. Row IDs containing "/" denote descendants.
func JoinRelative(prefix Location, rowID string) Location {
	return Location{
		Bucket: prefix.Bucket,
		Key:    EnsureTrailingSlash(prefix.Key) + rowID,
	}
}

// EnsureTrailingSlash adds a trailing slash if not present.
// Returns empty string unchanged.
func EnsureTrailingSlash(key string) string {
	if key == "" || strings.HasSuffix(key, "/") {
		return key
	}
	return key + "/"
}

// IsSelectable reports whether a row ID may enter a selection.
func IsSelectable(rowID string) bool {
	return rowID != "" && rowID != ParentRow
}
