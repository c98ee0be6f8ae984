package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/3leaps/catalog/internal/errors"
	"github.com/3leaps/catalog/pkg/bulk"
	"github.com/3leaps/catalog/pkg/handle"
	"github.com/3leaps/catalog/pkg/listing"
	"github.com/3leaps/catalog/pkg/output"
	"github.com/3leaps/catalog/pkg/provider"
	"github.com/3leaps/catalog/pkg/selection"
)

type itemFailure struct {
	Handle  handle.Location `json:"handle"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
}

// actionResponse is the aggregate outcome of a consuming action.
type actionResponse struct {
	Action    string        `json:"action"`
	OK        bool          `json:"ok"`
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Markers   int           `json:"markers,omitempty"`
	Failed    []itemFailure `json:"failed,omitempty"`
	Message   string        `json:"message"`
	Duration  string        `json:"duration"`

	// Cleared reports that the selection was emptied after the action.
	Cleared bool `json:"cleared"`
}

func (a *API) respondResult(w http.ResponseWriter, res *bulk.Result, cleared bool) {
	resp := actionResponse{
		Action:    res.Action.Verb,
		OK:        res.OK(),
		Total:     res.Total,
		Succeeded: len(res.Succeeded),
		Markers:   len(res.Markers),
		Message:   res.Summary(a.SummaryLimit),
		Duration:  res.Duration.Round(time.Millisecond).String(),
		Cleared:   cleared,
	}
	for _, f := range res.Failed {
		resp.Failed = append(resp.Failed, itemFailure{Handle: f.Handle, Code: provider.Code(f.Err), Message: f.Err.Error()})
	}
	apperrors.WriteJSON(w, http.StatusOK, resp)
}

// selectedHandles returns the session's state and its flat projection.
func (a *API) selectedHandles(w http.ResponseWriter, r *http.Request, s *selection.Session) (selection.State, []handle.Location, bool) {
	state := s.Snapshot()
	list, err := selection.ToHandlesList(state)
	if err != nil {
		respondWithError(w, r, apperrors.WrapInternal(err, "project selection"))
		return state, nil, false
	}
	if len(list) == 0 {
		respondWithError(w, r, apperrors.BadRequest("selection is empty", bulk.ErrEmptySelection))
		return state, nil, false
	}
	return state, list, true
}

// actionContext detaches a started bulk action from the client connection:
// once started it always runs every item. Server shutdown still waits for
// the handler through http.Server.Shutdown.
func actionContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

type deleteRequest struct {
	Concurrency *int `json:"concurrency,omitempty"`
}

func (a *API) deleteAction(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	var req deleteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	state, list, ok := a.selectedHandles(w, r, s)
	if !ok {
		return
	}

	cfg := a.Bulk
	if req.Concurrency != nil && *req.Concurrency >= 0 {
		cfg.Concurrency = *req.Concurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = a.logger()
	}

	res := bulk.Delete(actionContext(r), a.Resolve, list, cfg)
	cleared := false
	if res.OK() {
		cleared = s.ClearIf(state)
	}
	a.logger().Info("delete action finished",
		zap.String("session_id", s.ID()),
		zap.Int("total", res.Total),
		zap.Int("failed", len(res.Failed)),
		zap.Bool("cleared", cleared))
	a.respondResult(w, res, cleared)
}

type bookmarkRequest struct {
	Group string `json:"group,omitempty"`
}

func (a *API) bookmarkAction(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	if a.Bookmarks == nil {
		respondWithError(w, r, apperrors.New(http.StatusNotImplemented, provider.CodeUnsupported, "bookmarks are not configured"))
		return
	}
	var req bookmarkRequest
	if !decodeBody(w, r, &req) {
		return
	}
	_, list, ok := a.selectedHandles(w, r, s)
	if !ok {
		return
	}

	group := req.Group
	if group == "" {
		group = a.DefaultGroup
	}
	cfg := a.Bulk
	if cfg.Logger == nil {
		cfg.Logger = a.logger()
	}
	a.respondResult(w, bulk.Bookmark(actionContext(r), a.Bookmarks, group, list, cfg), false)
}

type downloadBody struct {
	Bucket string `json:"bucket,omitempty"`
}

func (a *API) downloadRequest(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	var req downloadBody
	if !decodeBody(w, r, &req) {
		return
	}
	list, err := selection.ToHandlesList(s.Snapshot())
	if err != nil {
		respondWithError(w, r, apperrors.WrapInternal(err, "project selection"))
		return
	}
	dl, err := bulk.BuildDownloadRequest(req.Bucket, list)
	if err != nil {
		respondWithError(w, r, apperrors.BadRequest("cannot build download request", err))
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, dl)
}

// list resolves uri and lists its prefix.
func (a *API) list(ctx context.Context, uri string) (*listing.Page, error) {
	parsed, err := handle.ParseURI(uri)
	if err != nil {
		return nil, apperrors.BadRequest("invalid uri", err)
	}
	if !parsed.IsPrefix() {
		return nil, apperrors.BadRequest("uri must name a prefix", fmt.Errorf("append '/' to %s", uri))
	}

	lister, err := provider.ResolveDelimiterLister(ctx, a.Resolve, parsed.Bucket)
	if err != nil {
		return nil, err
	}
	return listing.List(ctx, lister, parsed.Bucket, parsed.Key, a.Listing)
}

type listingResponse struct {
	Bucket    string             `json:"bucket"`
	Path      string             `json:"path"`
	Prefix    handle.PrefixKey   `json:"prefix"`
	Truncated bool               `json:"truncated"`
	Rows      []output.RowRecord `json:"rows"`
}

func (a *API) getListing(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := a.list(r.Context(), q.Get("uri"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	var opts listing.RowOptions
	if id := q.Get("session"); id != "" {
		s, err := a.Sessions.Get(id)
		if err != nil {
			respondWithError(w, r, apperrors.NotFound(fmt.Sprintf("session %s not found", id)))
			return
		}
		state := s.Snapshot()
		opts.Selection = &state
	}
	if a.Bookmarks != nil {
		group := q.Get("group")
		if group == "" {
			group = a.DefaultGroup
		}
		opts.Bookmarked = func(loc handle.Location) bool { return a.Bookmarks.Contains(group, loc) }
	}

	apperrors.WriteJSON(w, http.StatusOK, listingResponse{
		Bucket:    page.Bucket,
		Path:      page.Path,
		Prefix:    page.Prefix,
		Truncated: page.Truncated,
		Rows:      page.Rows(opts),
	})
}

func (a *API) listBookmarks(w http.ResponseWriter, r *http.Request) {
	if a.Bookmarks == nil {
		respondWithError(w, r, apperrors.New(http.StatusNotImplemented, provider.CodeUnsupported, "bookmarks are not configured"))
		return
	}
	group := r.URL.Query().Get("group")
	if group == "" {
		apperrors.WriteJSON(w, http.StatusOK, map[string]any{"groups": a.Bookmarks.Groups()})
		return
	}
	entries, err := a.Bookmarks.List(r.Context(), group)
	if err != nil {
		respondWithError(w, r, apperrors.WrapInternal(err, "list bookmarks"))
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, map[string]any{"group": group, "bookmarks": entries})
}

type toggleRequest struct {
	Group   string `json:"group,omitempty"`
	URI     string `json:"uri"`
	Version string `json:"version,omitempty"`
}

func (a *API) toggleBookmark(w http.ResponseWriter, r *http.Request) {
	if a.Bookmarks == nil {
		respondWithError(w, r, apperrors.New(http.StatusNotImplemented, provider.CodeUnsupported, "bookmarks are not configured"))
		return
	}
	var req toggleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	parsed, err := handle.ParseURI(req.URI)
	if err != nil {
		respondWithError(w, r, apperrors.BadRequest("invalid uri", err))
		return
	}
	group := req.Group
	if group == "" {
		group = a.DefaultGroup
	}
	loc := parsed.Location()
	loc.Version = req.Version

	added, err := a.Bookmarks.Toggle(r.Context(), group, loc)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			respondWithError(w, r, err)
			return
		}
		respondWithError(w, r, apperrors.WrapInternal(err, "toggle bookmark").
			WithDetails(map[string]any{"bookmarked": added}))
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, map[string]any{"group": group, "handle": loc, "bookmarked": added})
}
