package listing

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/3leaps/catalog/pkg/handle"
	"github.com/3leaps/catalog/pkg/provider"
)

// DefaultMaxItems caps the rows collected for one prefix.
const DefaultMaxItems = 10000

// Options configures List.
type Options struct {
	// PageSize is the provider page size. Zero uses the provider default.
	PageSize int

	// MaxItems stops listing once this many rows are collected.
	// Zero uses DefaultMaxItems; negative means no cap.
	MaxItems int
}

// Page is the grid content for one prefix.
type Page struct {
	Bucket string
	// Path is the listed key, normalized to end with "/" (empty at the root).
	Path   string
	Prefix handle.PrefixKey
	Items  []Item

	// Truncated reports that MaxItems was reached before the listing ended.
	Truncated bool
}

// List fetches the direct children of bucket/path and returns them as rows:
// the ".." row first (except at the bucket root), then child prefixes and
// objects in the order the provider returns them.
func List(ctx context.Context, lister provider.DelimiterLister, bucket, keyPath string, opts Options) (*Page, error) {
	keyPath = handle.EnsureTrailingSlash(strings.TrimPrefix(keyPath, "/"))
	maxItems := opts.MaxItems
	if maxItems == 0 {
		maxItems = DefaultMaxItems
	}

	page := &Page{
		Bucket: bucket,
		Path:   keyPath,
		Prefix: handle.EncodePrefix(bucket, keyPath),
	}
	if keyPath != "" {
		page.Items = append(page.Items, ParentItem{To: handle.Location{Bucket: bucket, Key: parentKey(keyPath)}})
	}

	token := ""
	for {
		res, err := lister.ListWithDelimiter(ctx, provider.ListWithDelimiterOptions{
			Prefix:            keyPath,
			Delimiter:         "/",
			ContinuationToken: token,
			MaxKeys:           opts.PageSize,
		})
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", page.Prefix, err)
		}

		for _, cp := range res.CommonPrefixes {
			page.Items = append(page.Items, DirItem{
				Name: strings.TrimPrefix(cp, keyPath),
				To:   handle.Location{Bucket: bucket, Key: cp},
			})
		}
		for _, obj := range res.Objects {
			// Folder marker objects for the listed prefix itself.
			if obj.Key == keyPath {
				continue
			}
			page.Items = append(page.Items, FileItem{
				Name:         strings.TrimPrefix(obj.Key, keyPath),
				To:           handle.Location{Bucket: bucket, Key: obj.Key},
				Size:         obj.Size,
				LastModified: obj.LastModified,
			})
		}

		if maxItems > 0 && len(page.Items) >= maxItems {
			page.Truncated = len(page.Items) > maxItems || res.IsTruncated
			page.Items = page.Items[:maxItems]
			return page, nil
		}
		if !res.IsTruncated || res.ContinuationToken == "" {
			return page, nil
		}
		token = res.ContinuationToken
	}
}

func parentKey(keyPath string) string {
	trimmed := strings.TrimSuffix(keyPath, "/")
	dir := path.Dir(trimmed)
	if dir == "." || dir == "/" {
		return ""
	}
	return dir + "/"
}
