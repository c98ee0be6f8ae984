// Package file serves buckets from a local directory tree.
//
// Each bucket is a subdirectory of Root and keys are slash-separated paths
// under it. Empty directories are reported as prefixes, mirroring the
// zero-byte "folder" markers S3 consoles create.
package file

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/3leaps/catalog/pkg/provider"
)

// DefaultMaxKeys is the default page size.
const DefaultMaxKeys = 1000

// Provider implements provider.Provider for one local bucket directory.
type Provider struct {
	bucket  string
	baseDir string
}

var (
	_ provider.Provider        = (*Provider)(nil)
	_ provider.DelimiterLister = (*Provider)(nil)
	_ provider.ObjectDeleter   = (*Provider)(nil)
	_ provider.Stater          = (*Provider)(nil)
)

// Config configures a local bucket.
type Config struct {
	// Root is the directory holding one subdirectory per bucket.
	Root string

	// Bucket is the bucket name.
	Bucket string
}

// Validate checks that required configuration is present.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Root) == "" {
		return fmt.Errorf("root dir is required")
	}
	if c.Bucket == "" || strings.ContainsAny(c.Bucket, `/\`) || c.Bucket == "." || c.Bucket == ".." {
		return fmt.Errorf("invalid bucket name %q", c.Bucket)
	}
	return nil
}

// New opens a local bucket. The bucket directory must exist.
func New(cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base := filepath.Join(filepath.Clean(cfg.Root), cfg.Bucket)
	st, err := os.Stat(base)
	if err != nil || !st.IsDir() {
		return nil, &provider.ProviderError{Op: "New", Provider: provider.ProviderFile, Bucket: cfg.Bucket, Err: provider.ErrBucketNotFound}
	}
	return &Provider{bucket: cfg.Bucket, baseDir: base}, nil
}

// NewResolver returns a resolver serving every bucket under root.
func NewResolver(root string) provider.Resolver {
	return func(_ context.Context, bucket string) (provider.Provider, error) {
		return New(Config{Root: root, Bucket: bucket})
	}
}

func (p *Provider) Close() error { return nil }

// List returns objects whose key starts with the prefix, in key order.
func (p *Provider) List(ctx context.Context, opts provider.ListOptions) (*provider.ListResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := p.walk(strings.TrimPrefix(opts.Prefix, "/"), false)
	if err != nil {
		return nil, p.wrapError("List", opts.Prefix, err)
	}
	page, token := paginate(entries, opts.ContinuationToken, opts.MaxKeys)

	res := &provider.ListResult{Objects: make([]provider.ObjectSummary, 0, len(page))}
	for _, e := range page {
		res.Objects = append(res.Objects, e.summary)
	}
	res.ContinuationToken = token
	res.IsTruncated = token != ""
	return res, nil
}

// ListWithDelimiter returns the direct children of the prefix. Only "/" is
// supported as a delimiter.
func (p *Provider) ListWithDelimiter(ctx context.Context, opts provider.ListWithDelimiterOptions) (*provider.ListWithDelimiterResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.Delimiter != "" && opts.Delimiter != "/" {
		return nil, &provider.ProviderError{Op: "ListWithDelimiter", Provider: provider.ProviderFile, Bucket: p.bucket, Err: provider.ErrUnsupported}
	}

	entries, err := p.walk(strings.TrimPrefix(opts.Prefix, "/"), true)
	if err != nil {
		return nil, p.wrapError("ListWithDelimiter", opts.Prefix, err)
	}
	page, token := paginate(entries, opts.ContinuationToken, opts.MaxKeys)

	res := &provider.ListWithDelimiterResult{ContinuationToken: token, IsTruncated: token != ""}
	for _, e := range page {
		if e.prefix {
			res.CommonPrefixes = append(res.CommonPrefixes, e.key)
			continue
		}
		res.Objects = append(res.Objects, e.summary)
	}
	return res, nil
}

func (p *Provider) Head(ctx context.Context, key string) (*provider.ObjectMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := p.fullPath(key)
	if err != nil {
		return nil, p.wrapError("Head", key, err)
	}
	st, err := os.Stat(full)
	if err != nil {
		return nil, p.wrapError("Head", key, err)
	}
	if st.IsDir() {
		return nil, p.wrapError("Head", key, fs.ErrNotExist)
	}

	return &provider.ObjectMeta{
		ObjectSummary: provider.ObjectSummary{Key: strings.TrimPrefix(key, "/"), Size: st.Size(), LastModified: st.ModTime()},
	}, nil
}

// DeleteObject removes a file. Keys ending in "/" remove the directory when
// no files remain beneath it. Missing keys are not an error.
func (p *Provider) DeleteObject(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := p.fullPath(key)
	if err != nil {
		return p.wrapError("DeleteObject", key, err)
	}
	if full == p.baseDir {
		return p.wrapError("DeleteObject", key, fmt.Errorf("refusing to delete bucket root"))
	}
	if strings.HasSuffix(key, "/") {
		return p.removeEmptyTree(key, full)
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return p.wrapError("DeleteObject", key, err)
	}
	return nil
}

func (p *Provider) removeEmptyTree(key, dir string) error {
	hasFiles := false
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			hasFiles = true
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return p.wrapError("DeleteObject", key, err)
	}
	if hasFiles {
		return p.wrapError("DeleteObject", key, fmt.Errorf("prefix is not empty"))
	}
	if err := os.RemoveAll(dir); err != nil {
		return p.wrapError("DeleteObject", key, err)
	}
	return nil
}

type entry struct {
	key     string
	prefix  bool
	summary provider.ObjectSummary
}

// walk collects entries under the bucket whose key starts with prefix. With
// delimit, entries are collapsed to the first "/" after the prefix.
func (p *Provider) walk(prefix string, delimit bool) ([]entry, error) {
	seen := make(map[string]bool)
	var out []entry

	err := filepath.WalkDir(p.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if path == p.baseDir {
			return nil
		}
		rel, err := filepath.Rel(p.baseDir, path)
		if err != nil {
			return nil
		}
		key := filepath.ToSlash(rel)
		if d.IsDir() {
			key += "/"
			// Skip subtrees that cannot contain matches.
			if !strings.HasPrefix(key, prefix) && !strings.HasPrefix(prefix, key) {
				return fs.SkipDir
			}
		}
		if !strings.HasPrefix(key, prefix) || key == prefix {
			return nil
		}

		if delimit {
			rest := key[len(prefix):]
			if i := strings.Index(rest, "/"); i >= 0 {
				cp := prefix + rest[:i+1]
				if !seen[cp] {
					seen[cp] = true
					out = append(out, entry{key: cp, prefix: true})
				}
				return nil
			}
		} else if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		out = append(out, entry{key: key, summary: provider.ObjectSummary{Key: key, Size: info.Size(), LastModified: info.ModTime()}})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out, nil
}

// paginate returns the page starting strictly after token and the token for
// the next page, empty when the listing is complete.
func paginate(entries []entry, token string, maxKeys int) ([]entry, string) {
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	start := 0
	if token != "" {
		start = sort.Search(len(entries), func(i int) bool { return entries[i].key > token })
	}
	end := min(start+maxKeys, len(entries))
	if end < len(entries) {
		return entries[start:end], entries[end-1].key
	}
	return entries[start:end], ""
}

func (p *Provider) fullPath(key string) (string, error) {
	key = strings.TrimPrefix(strings.TrimSpace(key), "/")
	// Prevent path traversal.
	clean := strings.TrimPrefix(filepath.Clean("/"+key), "/")
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("invalid key path")
	}
	return filepath.Join(p.baseDir, filepath.FromSlash(clean)), nil
}

func (p *Provider) wrapError(op, key string, err error) error {
	wrapped := &provider.ProviderError{Op: op, Provider: provider.ProviderFile, Bucket: p.bucket, Key: key, Err: err}
	switch {
	case os.IsNotExist(err):
		wrapped.Err = provider.ErrNotFound
	case os.IsPermission(err):
		wrapped.Err = provider.ErrAccessDenied
	}
	return wrapped
}
