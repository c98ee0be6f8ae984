package listing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/catalog/pkg/handle"
	"github.com/3leaps/catalog/pkg/provider"
	"github.com/3leaps/catalog/pkg/selection"
)

type mockLister struct {
	pages []*provider.ListWithDelimiterResult
	calls []provider.ListWithDelimiterOptions
	err   error
}

func (m *mockLister) ListWithDelimiter(_ context.Context, opts provider.ListWithDelimiterOptions) (*provider.ListWithDelimiterResult, error) {
	m.calls = append(m.calls, opts)
	if m.err != nil {
		return nil, m.err
	}
	p := m.pages[0]
	m.pages = m.pages[1:]
	return p, nil
}

func ids(items []Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID())
	}
	return out
}

func TestList_Paginates(t *testing.T) {
	lister := &mockLister{pages: []*provider.ListWithDelimiterResult{
		{
			CommonPrefixes:    []string{"photos/2024/"},
			Objects:           []provider.ObjectSummary{{Key: "photos/"}, {Key: "photos/a #1.jpg", Size: 3}},
			IsTruncated:       true,
			ContinuationToken: "t1",
		},
		{
			Objects: []provider.ObjectSummary{{Key: "photos/b.jpg"}},
		},
	}}

	page, err := List(context.Background(), lister, "bucket", "photos", Options{})
	require.NoError(t, err)

	assert.Equal(t, "photos/", page.Path)
	assert.Equal(t, handle.PrefixKey("s3://bucket/photos/"), page.Prefix)
	assert.Equal(t, []string{"..", "2024/", "a #1.jpg", "b.jpg"}, ids(page.Items))
	assert.False(t, page.Truncated)

	require.Len(t, lister.calls, 2)
	assert.Equal(t, "/", lister.calls[0].Delimiter)
	assert.Equal(t, "t1", lister.calls[1].ContinuationToken)

	parent, ok := page.Items[0].(ParentItem)
	require.True(t, ok)
	assert.Equal(t, handle.Location{Bucket: "bucket", Key: ""}, parent.To)

	file, ok := page.Items[2].(FileItem)
	require.True(t, ok)
	assert.Equal(t, "photos/a #1.jpg", file.To.Key)
	assert.Equal(t, int64(3), file.Size)
}

func TestList_RootHasNoParentRow(t *testing.T) {
	lister := &mockLister{pages: []*provider.ListWithDelimiterResult{
		{CommonPrefixes: []string{"photos/"}, Objects: []provider.ObjectSummary{{Key: "readme.txt"}}},
	}}

	page, err := List(context.Background(), lister, "bucket", "", Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"photos/", "readme.txt"}, ids(page.Items))
	assert.Equal(t, handle.PrefixKey("s3://bucket/"), page.Prefix)
}

func TestList_MaxItems(t *testing.T) {
	lister := &mockLister{pages: []*provider.ListWithDelimiterResult{
		{Objects: []provider.ObjectSummary{{Key: "a"}, {Key: "b"}, {Key: "c"}}, IsTruncated: true, ContinuationToken: "x"},
	}}

	page, err := List(context.Background(), lister, "bucket", "", Options{MaxItems: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(page.Items))
	assert.True(t, page.Truncated)
	assert.Len(t, lister.calls, 1)
}

func TestList_Error(t *testing.T) {
	lister := &mockLister{err: &provider.ProviderError{Op: "ListWithDelimiter", Provider: provider.ProviderS3, Err: provider.ErrAccessDenied}}

	_, err := List(context.Background(), lister, "bucket", "x/", Options{})
	require.Error(t, err)
	assert.True(t, provider.IsAccessDenied(err))
	assert.Contains(t, err.Error(), "s3://bucket/x/")
}

func TestParentKey(t *testing.T) {
	assert.Equal(t, "", parentKey("a/"))
	assert.Equal(t, "a/", parentKey("a/b/"))
	assert.Equal(t, "a/b/", parentKey("a/b/c/"))
}

func TestMatch(t *testing.T) {
	kind := func(it Item) string {
		return Match(it,
			func(ParentItem) string { return "up" },
			func(d DirItem) string { return "dir:" + d.Name },
			func(f FileItem) string { return "file:" + f.Name },
		)
	}
	assert.Equal(t, "up", kind(ParentItem{}))
	assert.Equal(t, "dir:x/", kind(DirItem{Name: "x/"}))
	assert.Equal(t, "file:y", kind(FileItem{Name: "y"}))
	assert.Equal(t, "dir", KindDir.String())
}

func testPage() *Page {
	return &Page{
		Bucket: "bucket",
		Path:   "p/",
		Prefix: handle.EncodePrefix("bucket", "p/"),
		Items: []Item{
			ParentItem{},
			DirItem{Name: "temp/"},
			FileItem{Name: "keep.txt"},
			FileItem{Name: "temp-1.txt"},
			FileItem{Name: "img.jpg"},
		},
	}
}

func TestSelectableIDs(t *testing.T) {
	assert.Equal(t, []string{"temp/", "keep.txt", "temp-1.txt", "img.jpg"}, SelectableIDs(testPage().Items))
}

func TestSelectionChange_DropsParentRow(t *testing.T) {
	change := SelectionChange{Bucket: "bucket", Path: "p/", Selected: []string{"..", "a"}}
	st := change.Reducer()(selection.Empty())
	assert.Equal(t, []string{"a"}, st.Items("s3://bucket/p/"))
}

func TestSelectMatching(t *testing.T) {
	page := testPage()
	st := selection.Merge([]string{"keep.txt", "temp-old"}, "bucket", "p/", nil)(selection.Empty())

	change := SelectMatching(page, "temp")
	require.NotNil(t, change.Filter)
	st = change.Reducer()(st)

	assert.Equal(t, []string{"keep.txt", "temp/", "temp-1.txt"}, st.Items(page.Prefix))
}

func TestSelectGlob(t *testing.T) {
	page := testPage()

	change, err := SelectGlob(page, "*.{txt,jpg}")
	require.NoError(t, err)
	assert.Nil(t, change.Filter)
	assert.Equal(t, []string{"keep.txt", "temp-1.txt", "img.jpg"}, change.Selected)

	_, err = SelectGlob(page, "[")
	assert.Error(t, err)
}

func TestList_ContextError(t *testing.T) {
	lister := &mockLister{err: context.Canceled}
	_, err := List(context.Background(), lister, "bucket", "", Options{})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestPage_Rows(t *testing.T) {
	mod := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	page := &Page{
		Bucket: "bucket",
		Path:   "photos/",
		Prefix: handle.EncodePrefix("bucket", "photos/"),
		Items: []Item{
			ParentItem{To: handle.Location{Bucket: "bucket"}},
			DirItem{Name: "2024/", To: handle.Location{Bucket: "bucket", Key: "photos/2024/"}},
			FileItem{Name: "a #1.jpg", To: handle.Location{Bucket: "bucket", Key: "photos/a #1.jpg"}, Size: 3, LastModified: mod},
		},
	}
	state := selection.Merge([]string{"a #1.jpg"}, "bucket", "photos/", nil)(selection.Empty())

	rows := page.Rows(RowOptions{
		Selection:  &state,
		Bookmarked: func(loc handle.Location) bool { return loc.Key == "photos/a #1.jpg" },
	})

	require.Len(t, rows, 3)
	assert.Equal(t, "parent", rows[0].Kind)
	assert.Equal(t, "s3://bucket/", rows[0].URI)
	assert.Equal(t, "dir", rows[1].Kind)
	assert.False(t, rows[1].Selected)
	assert.Equal(t, "a #1.jpg", rows[2].ID)
	assert.Equal(t, "s3://bucket/photos/a #1.jpg", rows[2].URI)
	assert.Equal(t, int64(3), rows[2].Size)
	assert.Equal(t, mod, rows[2].LastModified)
	assert.True(t, rows[2].Selected)
	assert.True(t, rows[2].Bookmarked)
	for _, r := range rows {
		assert.Equal(t, "s3://bucket/photos/", r.Prefix)
	}

	plain := page.Rows(RowOptions{})
	assert.False(t, plain[2].Selected)
	assert.False(t, plain[2].Bookmarked)
}
