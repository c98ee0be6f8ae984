package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/catalog/internal/errors"
	"github.com/3leaps/catalog/internal/session"
	"github.com/3leaps/catalog/pkg/bookmarks"
	"github.com/3leaps/catalog/pkg/bulk"
	"github.com/3leaps/catalog/pkg/handle"
	"github.com/3leaps/catalog/pkg/listing"
	"github.com/3leaps/catalog/pkg/provider"
	"github.com/3leaps/catalog/pkg/selection"
)

const maxBodyBytes = 4 << 20

// BookmarkStore is the part of the bookmarks store the API uses.
type BookmarkStore interface {
	bulk.Bookmarker
	Contains(group string, loc handle.Location) bool
	Groups() []string
	List(ctx context.Context, group string) ([]bookmarks.Entry, error)
	Toggle(ctx context.Context, group string, loc handle.Location) (bool, error)
}

// API serves the /v1 selection endpoints.
type API struct {
	Sessions *session.Registry
	Resolve  provider.Resolver

	// Bookmarks may be nil; bookmark endpoints then answer 501.
	Bookmarks    BookmarkStore
	DefaultGroup string

	Bulk         bulk.Config
	SummaryLimit int
	Listing      listing.Options

	Logger *zap.Logger
}

// Routes mounts the API on r.
func (a *API) Routes(r chi.Router) {
	r.Get("/listing", a.getListing)

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", a.createSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", a.getSession)
			r.Delete("/", a.deleteSession)
			r.Post("/merge", a.merge)
			r.Post("/select", a.selectMatching)
			r.Post("/remove", a.remove)
			r.Delete("/prefixes", a.removePrefix)
			r.Post("/clear", a.clear)
			r.Get("/handles", a.handles)
			r.Post("/actions/delete", a.deleteAction)
			r.Post("/actions/bookmark", a.bookmarkAction)
			r.Post("/actions/download-request", a.downloadRequest)
		})
	})

	r.Route("/bookmarks", func(r chi.Router) {
		r.Get("/", a.listBookmarks)
		r.Post("/toggle", a.toggleBookmark)
	})
}

func (a *API) logger() *zap.Logger {
	if a.Logger == nil {
		return zap.NewNop()
	}
	return a.Logger
}

// stateView is the selection context exposed to action components.
type stateView struct {
	ID         string          `json:"id"`
	Selection  selection.State `json:"selection"`
	TotalCount int             `json:"totalCount"`
	IsEmpty    bool            `json:"isEmpty"`
}

func viewOf(id string, s selection.State) stateView {
	return stateView{ID: id, Selection: s, TotalCount: s.TotalCount(), IsEmpty: s.IsEmpty()}
}

func (a *API) session(w http.ResponseWriter, r *http.Request) (*selection.Session, bool) {
	id := chi.URLParam(r, "id")
	s, err := a.Sessions.Get(id)
	if err != nil {
		respondWithError(w, r, apperrors.NotFound(fmt.Sprintf("session %s not found", id)))
		return nil, false
	}
	return s, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, into any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil && !errors.Is(err, io.EOF) {
		respondWithError(w, r, apperrors.BadRequest("invalid request body", err))
		return false
	}
	return true
}

func (a *API) createSession(w http.ResponseWriter, r *http.Request) {
	s, err := a.Sessions.Create()
	if err != nil {
		respondWithError(w, r, apperrors.New(http.StatusTooManyRequests, apperrors.CodeConflict, err.Error()))
		return
	}
	apperrors.WriteJSON(w, http.StatusCreated, map[string]any{"id": s.ID(), "created_at": s.CreatedAt().UTC()})
}

func (a *API) getSession(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, viewOf(s.ID(), s.Snapshot()))
}

func (a *API) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := a.Sessions.Delete(chi.URLParam(r, "id")); err != nil {
		respondWithError(w, r, apperrors.NotFound(err.Error()))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) merge(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	var change listing.SelectionChange
	if !decodeBody(w, r, &change) {
		return
	}
	if change.Bucket == "" {
		respondWithError(w, r, apperrors.BadRequest("bucket is required", nil))
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, viewOf(s.ID(), s.Apply(change.Reducer())))
}

type selectRequest struct {
	URI    string  `json:"uri"`
	Filter *string `json:"filter,omitempty"`
	Glob   string  `json:"glob,omitempty"`
}

func (a *API) selectMatching(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	var req selectRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if (req.Filter == nil) == (req.Glob == "") {
		respondWithError(w, r, apperrors.BadRequest("exactly one of filter or glob is required", nil))
		return
	}

	page, err := a.list(r.Context(), req.URI)
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	var change listing.SelectionChange
	if req.Glob != "" {
		change, err = listing.SelectGlob(page, req.Glob)
		if err != nil {
			respondWithError(w, r, apperrors.BadRequest("invalid glob", err))
			return
		}
	} else {
		change = listing.SelectMatching(page, *req.Filter)
	}
	apperrors.WriteJSON(w, http.StatusOK, viewOf(s.ID(), s.Apply(change.Reducer())))
}

type removeRequest struct {
	Prefix handle.PrefixKey `json:"prefix"`
	Index  int              `json:"index"`
}

func (a *API) remove(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	var req removeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	prefix, err := handle.Canonicalize(req.Prefix)
	if err != nil {
		respondWithError(w, r, apperrors.BadRequest("invalid prefix", err))
		return
	}
	state, _ := s.Remove(prefix, req.Index)
	apperrors.WriteJSON(w, http.StatusOK, viewOf(s.ID(), state))
}

func (a *API) removePrefix(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	prefix, err := handle.Canonicalize(handle.PrefixKey(r.URL.Query().Get("prefix")))
	if err != nil {
		respondWithError(w, r, apperrors.BadRequest("invalid prefix", err))
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, viewOf(s.ID(), s.RemoveByPrefix(prefix)))
}

func (a *API) clear(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, viewOf(s.ID(), s.Clear()))
}

func (a *API) handles(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	state := s.Snapshot()
	if r.URL.Query().Get("flat") == "true" {
		list, err := selection.ToHandlesList(state)
		if err != nil {
			respondWithError(w, r, apperrors.WrapInternal(err, "project selection"))
			return
		}
		apperrors.WriteJSON(w, http.StatusOK, map[string]any{"handles": list})
		return
	}
	m, err := selection.ToHandlesMap(state)
	if err != nil {
		respondWithError(w, r, apperrors.WrapInternal(err, "project selection"))
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, map[string]any{"prefixes": m})
}
