package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/catalog/pkg/provider"
)

func writeTree(t *testing.T, root string, files ...string) {
	t.Helper()
	for _, f := range files {
		full := filepath.Join(root, filepath.FromSlash(f))
		if f[len(f)-1] == '/' {
			require.NoError(t, os.MkdirAll(full, 0o755))
			continue
		}
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(f), 0o644))
	}
}

func newBucket(t *testing.T) (*Provider, string) {
	t.Helper()
	root := t.TempDir()
	writeTree(t, root,
		"media/photos/a.jpg",
		"media/photos/b.jpg",
		"media/photos/2024/c.jpg",
		"media/photos/empty/",
		"media/readme.txt",
	)
	p, err := New(Config{Root: root, Bucket: "media"})
	require.NoError(t, err)
	return p, root
}

func TestNew_MissingBucket(t *testing.T) {
	_, err := New(Config{Root: t.TempDir(), Bucket: "nope"})
	require.Error(t, err)
	assert.True(t, provider.IsBucketNotFound(err))

	_, err = New(Config{Root: t.TempDir(), Bucket: "../x"})
	require.Error(t, err)
}

func TestProvider_ListWithDelimiter(t *testing.T) {
	p, _ := newBucket(t)
	ctx := context.Background()

	res, err := p.ListWithDelimiter(ctx, provider.ListWithDelimiterOptions{Prefix: "photos/", Delimiter: "/"})
	require.NoError(t, err)
	assert.Equal(t, []string{"photos/2024/", "photos/empty/"}, res.CommonPrefixes)
	require.Len(t, res.Objects, 2)
	assert.Equal(t, "photos/a.jpg", res.Objects[0].Key)
	assert.Equal(t, "photos/b.jpg", res.Objects[1].Key)
	assert.False(t, res.IsTruncated)

	root, err := p.ListWithDelimiter(ctx, provider.ListWithDelimiterOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"photos/"}, root.CommonPrefixes)
	require.Len(t, root.Objects, 1)
	assert.Equal(t, "readme.txt", root.Objects[0].Key)
}

func TestProvider_ListWithDelimiterPaginates(t *testing.T) {
	p, _ := newBucket(t)
	ctx := context.Background()

	var keys []string
	token := ""
	for {
		res, err := p.ListWithDelimiter(ctx, provider.ListWithDelimiterOptions{Prefix: "photos/", MaxKeys: 1, ContinuationToken: token})
		require.NoError(t, err)
		keys = append(keys, res.CommonPrefixes...)
		for _, o := range res.Objects {
			keys = append(keys, o.Key)
		}
		if !res.IsTruncated {
			break
		}
		token = res.ContinuationToken
	}
	assert.Equal(t, []string{"photos/2024/", "photos/a.jpg", "photos/b.jpg", "photos/empty/"}, keys)
}

func TestProvider_ListRecursive(t *testing.T) {
	p, _ := newBucket(t)

	res, err := p.List(context.Background(), provider.ListOptions{Prefix: "photos/"})
	require.NoError(t, err)

	var keys []string
	for _, o := range res.Objects {
		keys = append(keys, o.Key)
	}
	assert.Equal(t, []string{"photos/2024/c.jpg", "photos/a.jpg", "photos/b.jpg"}, keys)
}

func TestProvider_HeadAndDelete(t *testing.T) {
	p, root := newBucket(t)
	ctx := context.Background()

	meta, err := p.Head(ctx, "photos/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, int64(len("media/photos/a.jpg")), meta.Size)

	require.NoError(t, p.DeleteObject(ctx, "photos/a.jpg"))
	_, err = p.Head(ctx, "photos/a.jpg")
	assert.True(t, provider.IsNotFound(err))

	// Missing keys are fine.
	require.NoError(t, p.DeleteObject(ctx, "photos/a.jpg"))

	require.NoError(t, p.DeleteObject(ctx, "photos/empty/"))
	_, err = os.Stat(filepath.Join(root, "media", "photos", "empty"))
	assert.True(t, os.IsNotExist(err))

	assert.Error(t, p.DeleteObject(ctx, ""))
}

func TestProvider_UnsupportedDelimiter(t *testing.T) {
	p, _ := newBucket(t)
	_, err := p.ListWithDelimiter(context.Background(), provider.ListWithDelimiterOptions{Delimiter: "|"})
	assert.ErrorIs(t, err, provider.ErrUnsupported)
}

func TestNewResolver(t *testing.T) {
	_, root := newBucket(t)
	resolve := NewResolver(root)

	p, err := resolve(context.Background(), "media")
	require.NoError(t, err)
	st, ok := p.(provider.Stater)
	require.True(t, ok)
	_, err = st.Head(context.Background(), "readme.txt")
	assert.NoError(t, err)

	_, err = resolve(context.Background(), "missing")
	assert.Error(t, err)
}
