package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/3leaps/catalog/internal/errors"
	"github.com/3leaps/catalog/internal/server/handlers"
	"github.com/3leaps/catalog/internal/session"
	"github.com/3leaps/catalog/pkg/bookmarks"
	"github.com/3leaps/catalog/pkg/bulk"
	"github.com/3leaps/catalog/pkg/handle"
	"github.com/3leaps/catalog/pkg/provider"
	"github.com/3leaps/catalog/pkg/provider/file"
)

func TestServerUsesStandardErrorHandlers(t *testing.T) {
	srv := New("127.0.0.1", 0)

	req := httptest.NewRequest(http.MethodGet, "/does-not-exist", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "NOT_FOUND", body.Error.Code)
}

func TestServer_Port(t *testing.T) {
	tests := []struct {
		name string
		port int
	}{
		{"default port", 8080},
		{"custom port", 9000},
		{"zero port", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.port, New("127.0.0.1", tt.port).Port())
		})
	}
}

func TestServer_MethodNotAllowed(t *testing.T) {
	srv := New("127.0.0.1", 0)

	req := httptest.NewRequest(http.MethodPost, "/version", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "METHOD_NOT_ALLOWED", body.Error.Code)
}

func TestServer_RoutesRegistered(t *testing.T) {
	handlers.InitHealthManager("test")
	srv := New("127.0.0.1", 0)

	for _, path := range []string{"/health", "/health/live", "/health/ready", "/health/startup", "/version"} {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusOK, rec.Code)
		})
	}
}

func TestServer_APIDisabledWithoutOption(t *testing.T) {
	rec := httptest.NewRecorder()
	New("127.0.0.1", 0).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sessions", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// apiHarness serves the API over a file-backed bucket tree.
type apiHarness struct {
	t    *testing.T
	root string
	h    http.Handler
	bm   *bookmarks.Store
}

func newHarness(t *testing.T, files ...string) *apiHarness {
	t.Helper()
	root := t.TempDir()
	for _, f := range files {
		full := filepath.Join(root, "bucket", filepath.FromSlash(f))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte("data"), 0o644))
	}

	ctx := context.Background()
	db, err := bookmarks.Open(ctx, bookmarks.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, bookmarks.Migrate(ctx, db))
	store, err := bookmarks.NewStore(ctx, db)
	require.NoError(t, err)

	api := &handlers.API{
		Sessions:     session.NewRegistry(session.Options{}),
		Resolve:      file.NewResolver(root),
		Bookmarks:    store,
		DefaultGroup: bookmarks.DefaultGroup,
		Bulk:         bulk.Config{Concurrency: 2},
		SummaryLimit: 3,
	}
	return &apiHarness{t: t, root: root, h: New("127.0.0.1", 0, WithAPI(api)).Handler(), bm: store}
}

func (a *apiHarness) do(method, path string, body any, into any) int {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	rec := httptest.NewRecorder()
	a.h.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
	if into != nil {
		require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), into), rec.Body.String())
	}
	return rec.Code
}

type view struct {
	ID         string              `json:"id"`
	Selection  map[string][]string `json:"selection"`
	TotalCount int                 `json:"totalCount"`
	IsEmpty    bool                `json:"isEmpty"`
}

func (a *apiHarness) newSession() string {
	var created struct {
		ID string `json:"id"`
	}
	require.Equal(a.t, http.StatusCreated, a.do(http.MethodPost, "/v1/sessions", nil, &created))
	require.NotEmpty(a.t, created.ID)
	return created.ID
}

func TestAPI_SelectionLifecycle(t *testing.T) {
	a := newHarness(t)
	id := a.newSession()
	base := "/v1/sessions/" + id

	var v view
	require.Equal(t, http.StatusOK, a.do(http.MethodPost, base+"/merge", map[string]any{
		"bucket": "bucket", "path": "pre #! fix/", "items": []string{"..", "a.txt", "b.txt"},
	}, &v))
	prefix := string(handle.EncodePrefix("bucket", "pre #! fix/"))
	assert.Equal(t, "s3://bucket/pre%20%23%21%20fix/", prefix)
	assert.Equal(t, []string{"a.txt", "b.txt"}, v.Selection[prefix])
	assert.Equal(t, 2, v.TotalCount)

	require.Equal(t, http.StatusOK, a.do(http.MethodPost, base+"/remove", map[string]any{"prefix": prefix, "index": 5}, &v))
	assert.Equal(t, 2, v.TotalCount, "out-of-range remove is a no-op")

	require.Equal(t, http.StatusOK, a.do(http.MethodPost, base+"/remove", map[string]any{"prefix": prefix, "index": 0}, &v))
	assert.Equal(t, []string{"b.txt"}, v.Selection[prefix])
	assert.False(t, v.IsEmpty)

	var flat struct {
		Handles []handle.Location `json:"handles"`
	}
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, base+"/handles?flat=true", nil, &flat))
	assert.Equal(t, []handle.Location{{Bucket: "bucket", Key: "pre #! fix/b.txt"}}, flat.Handles)

	require.Equal(t, http.StatusOK, a.do(http.MethodDelete, base+"/prefixes?prefix="+url.QueryEscape(prefix), nil, &v))
	assert.True(t, v.IsEmpty)

	require.Equal(t, http.StatusNoContent, a.do(http.MethodDelete, base, nil, nil))
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, base, nil, nil))
}

func TestAPI_MergeValidation(t *testing.T) {
	a := newHarness(t)
	base := "/v1/sessions/" + a.newSession()

	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPost, base+"/merge", map[string]any{"items": []string{"a"}}, nil))
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPost, base+"/merge", map[string]any{"bucket": "b", "bogus": 1}, nil))
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodPost, "/v1/sessions/nope/merge", map[string]any{"bucket": "b"}, nil))
}

func TestAPI_ListingAndSelect(t *testing.T) {
	a := newHarness(t, "photos/a1.jpg", "photos/a2.jpg", "photos/b.png", "photos/2024/c.jpg")
	id := a.newSession()

	var v view
	require.Equal(t, http.StatusOK, a.do(http.MethodPost, "/v1/sessions/"+id+"/select", map[string]any{
		"uri": "s3://bucket/photos/", "filter": "a",
	}, &v))
	prefix := string(handle.EncodePrefix("bucket", "photos/"))
	assert.ElementsMatch(t, []string{"a1.jpg", "a2.jpg"}, v.Selection[prefix])

	require.Equal(t, http.StatusOK, a.do(http.MethodPost, "/v1/sessions/"+id+"/select", map[string]any{
		"uri": "s3://bucket/photos/", "glob": "*.png",
	}, &v))
	assert.Equal(t, []string{"b.png"}, v.Selection[prefix])

	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPost, "/v1/sessions/"+id+"/select", map[string]any{"uri": "s3://bucket/photos/"}, nil))

	var page struct {
		Prefix string `json:"prefix"`
		Rows   []struct {
			ID       string `json:"id"`
			Kind     string `json:"kind"`
			Selected bool   `json:"selected"`
		} `json:"rows"`
	}
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/v1/listing?session="+id+"&uri="+url.QueryEscape("s3://bucket/photos/"), nil, &page))
	assert.Equal(t, prefix, page.Prefix)
	require.NotEmpty(t, page.Rows)
	assert.Equal(t, "parent", page.Rows[0].Kind)
	selected := map[string]bool{}
	for _, r := range page.Rows {
		selected[r.ID] = r.Selected
	}
	assert.True(t, selected["b.png"])
	assert.False(t, selected["a1.jpg"])
	assert.Contains(t, selected, "2024/")

	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodGet, "/v1/listing?uri="+url.QueryEscape("s3://bucket/photos/a1.jpg"), nil, nil))
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, "/v1/listing?uri="+url.QueryEscape("s3://missing/"), nil, nil))
}

type actionResult struct {
	OK      bool   `json:"ok"`
	Total   int    `json:"total"`
	Markers int    `json:"markers"`
	Message string `json:"message"`
	Cleared bool   `json:"cleared"`
	Failed  []struct {
		Code string `json:"code"`
	} `json:"failed"`
}

func TestAPI_DeleteActionClearsOnSuccess(t *testing.T) {
	a := newHarness(t, "keep.txt", "a.txt", "dir/x.txt", "dir/sub/y.txt")
	id := a.newSession()
	base := "/v1/sessions/" + id

	require.Equal(t, http.StatusOK, a.do(http.MethodPost, base+"/merge", map[string]any{
		"bucket": "bucket", "path": "", "items": []string{"a.txt", "dir/"},
	}, nil))

	var res actionResult
	require.Equal(t, http.StatusOK, a.do(http.MethodPost, base+"/actions/delete", nil, &res))
	assert.True(t, res.OK)
	assert.True(t, res.Cleared)
	assert.Equal(t, "Deleted 3 objects", res.Message)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 1, res.Markers, "dir/ is removed but not counted as an object")

	_, err := os.Stat(filepath.Join(a.root, "bucket", "keep.txt"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(a.root, "bucket", "dir"))
	assert.True(t, os.IsNotExist(err))

	var v view
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, base, nil, &v))
	assert.True(t, v.IsEmpty)

	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPost, base+"/actions/delete", nil, nil), "empty selection")
}

func TestAPI_DeleteActionKeepsSelectionOnFailure(t *testing.T) {
	a := newHarness(t, "a.txt")
	base := "/v1/sessions/" + a.newSession()

	require.Equal(t, http.StatusOK, a.do(http.MethodPost, base+"/merge", map[string]any{
		"bucket": "missing", "path": "", "items": []string{"x.txt"},
	}, nil))

	var res actionResult
	require.Equal(t, http.StatusOK, a.do(http.MethodPost, base+"/actions/delete", map[string]any{"concurrency": 1}, &res))
	assert.False(t, res.OK)
	assert.False(t, res.Cleared)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "NOT_FOUND", res.Failed[0].Code)
	assert.Equal(t, "Failed to delete 1 of 1 object: x.txt", res.Message)

	var v view
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, base, nil, &v))
	assert.Equal(t, 1, v.TotalCount)
}

func TestAPI_BookmarkAndDownload(t *testing.T) {
	a := newHarness(t, "a.txt", "b.txt")
	base := "/v1/sessions/" + a.newSession()

	require.Equal(t, http.StatusOK, a.do(http.MethodPost, base+"/merge", map[string]any{
		"bucket": "bucket", "path": "", "items": []string{"a.txt", "b.txt"},
	}, nil))

	var res actionResult
	require.Equal(t, http.StatusOK, a.do(http.MethodPost, base+"/actions/bookmark", map[string]any{"group": "fav"}, &res))
	assert.True(t, res.OK)
	assert.False(t, res.Cleared)
	assert.True(t, a.bm.Contains("fav", handle.Location{Bucket: "bucket", Key: "a.txt"}))

	var dl bulk.DownloadRequest
	require.Equal(t, http.StatusOK, a.do(http.MethodPost, base+"/actions/download-request", nil, &dl))
	assert.Equal(t, "bucket", dl.Bucket)
	assert.Equal(t, []bulk.DownloadFile{{Key: "a.txt"}, {Key: "b.txt"}}, dl.Files)

	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPost, base+"/actions/download-request", map[string]any{"bucket": "other"}, nil))

	var toggled struct {
		Bookmarked bool `json:"bookmarked"`
	}
	require.Equal(t, http.StatusOK, a.do(http.MethodPost, "/v1/bookmarks/toggle", map[string]any{"group": "fav", "uri": "s3://bucket/a.txt"}, &toggled))
	assert.False(t, toggled.Bookmarked)

	var groups struct {
		Groups []string `json:"groups"`
	}
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/v1/bookmarks", nil, &groups))
	assert.Equal(t, []string{"fav"}, groups.Groups)

	var listed struct {
		Bookmarks []bookmarks.Entry `json:"bookmarks"`
	}
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/v1/bookmarks?group=fav", nil, &listed))
	require.Len(t, listed.Bookmarks, 1)
	assert.Equal(t, "b.txt", listed.Bookmarks[0].Handle.Key)
}

func TestAPI_RemoveCanonicalizesPrefix(t *testing.T) {
	a := newHarness(t)
	base := "/v1/sessions/" + a.newSession()

	var v view
	require.Equal(t, http.StatusOK, a.do(http.MethodPost, base+"/merge", map[string]any{
		"bucket": "bucket", "path": "A b/", "items": []string{"x.txt", "y.txt"},
	}, &v))
	require.Contains(t, v.Selection, "s3://bucket/A%20b/")

	require.Equal(t, http.StatusOK, a.do(http.MethodPost, base+"/remove", map[string]any{"prefix": "s3://bucket/%41%20b/", "index": 0}, &v))
	assert.Equal(t, []string{"y.txt"}, v.Selection["s3://bucket/A%20b/"])
	assert.Equal(t, 1, v.TotalCount)

	var body apperrors.HTTPErrorResponse
	require.Equal(t, http.StatusBadRequest, a.do(http.MethodPost, base+"/remove", map[string]any{"prefix": "nope", "index": 0}, &body))
	assert.Equal(t, "BAD_REQUEST", body.Error.Code)
}

// cancellingStore cancels the request that started the delete on its first
// call.
type cancellingStore struct {
	cancel context.CancelFunc

	mu      sync.Mutex
	deleted []string
}

func (s *cancellingStore) List(context.Context, provider.ListOptions) (*provider.ListResult, error) {
	return &provider.ListResult{}, nil
}

func (s *cancellingStore) Close() error { return nil }

func (s *cancellingStore) DeleteObject(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.deleted) == 0 {
		s.cancel()
	}
	s.deleted = append(s.deleted, key)
	return ctx.Err()
}

func TestAPI_DeleteActionSurvivesClientDisconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := &cancellingStore{cancel: cancel}

	api := &handlers.API{
		Sessions: session.NewRegistry(session.Options{}),
		Resolve: func(context.Context, string) (provider.Provider, error) {
			return store, nil
		},
		Bulk: bulk.Config{Concurrency: 1},
	}
	a := &apiHarness{t: t, h: New("127.0.0.1", 0, WithAPI(api)).Handler()}
	base := "/v1/sessions/" + a.newSession()

	require.Equal(t, http.StatusOK, a.do(http.MethodPost, base+"/merge", map[string]any{
		"bucket": "bucket", "path": "p/", "items": []string{"a", "b", "c", "d"},
	}, nil))

	req := httptest.NewRequest(http.MethodPost, base+"/actions/delete", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	a.h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res actionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.OK, res.Message)
	assert.Equal(t, "Deleted 4 objects", res.Message)
	assert.True(t, res.Cleared)
	assert.ElementsMatch(t, []string{"p/a", "p/b", "p/c", "p/d"}, store.deleted)
	assert.Error(t, ctx.Err())
}
