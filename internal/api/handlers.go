package api

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/lightbox/internal/apperr"
	"github.com/starford/lightbox/internal/assetservice"
	"github.com/starford/lightbox/internal/grid"
	"github.com/starford/lightbox/internal/index"
	"github.com/starford/lightbox/internal/models"
	"github.com/starford/lightbox/internal/storage"
	"github.com/starford/lightbox/internal/thumbs"
)

// Collections lists catalogue collections.
type Collections interface {
	Collections() ([]index.CollectionInfo, error)
}

// Handler holds API route handlers.
type Handler struct {
	root    string
	grid    *grid.Controller
	assets  *assetservice.Service
	catalog Collections
}

// NewHandler creates a new Handler. root bounds the paths that thumbnail and
// preview requests may read.
func NewHandler(root string, g *grid.Controller, assets *assetservice.Service, catalog Collections) *Handler {
	return &Handler{root: root, grid: g, assets: assets, catalog: catalog}
}

// assetPath extracts the absolute asset path from the wildcard segment.
// Supports encoded slashes from clients (e.g. trips%2Fbeach.jpg).
func assetPath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	if decoded, err := url.PathUnescape(raw); err == nil {
		raw = decoded
	}
	return "/" + raw
}

// parseFilter reads the grid filter from query parameters.
func parseFilter(q url.Values) (models.FilterState, error) {
	f := models.FilterState{
		Collection: q.Get("collection"),
		Search:     q.Get("search"),
		Kinds:      q["kind"],
	}
	var err error
	if v := q.Get("from"); v != "" {
		if f.From, err = parseDate(v, false); err != nil {
			return f, err
		}
	}
	if v := q.Get("to"); v != "" {
		if f.To, err = parseDate(v, true); err != nil {
			return f, err
		}
	}
	return f, nil
}

// parseDate accepts RFC 3339 timestamps or plain dates. A plain "to" date
// covers the whole day.
func parseDate(v string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad date %q", apperr.ErrInvalidArgument, v)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Second)
	}
	return t, nil
}

// ListAssets handles GET /api/assets.
//
//	@Summary		Load the grid page for a filter
//	@Tags			assets
//	@Produce		json
//	@Param			collection	query		string	false	"Collection name"
//	@Param			search		query		string	false	"Name or path substring"
//	@Param			from		query		string	false	"Earliest capture date"
//	@Param			to			query		string	false	"Latest capture date"
//	@Param			kind		query		[]string	false	"Extension chips"
//	@Success		200			{object}	PageResponse
//	@Security		BearerAuth
//	@Router			/assets [get]
func (h *Handler) ListAssets(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r.URL.Query())
	if err != nil {
		writeError(w, "parse filter", err)
		return
	}
	page, err := h.grid.LoadPage(r.Context(), filter)
	if err != nil {
		writeError(w, "load page", err)
		return
	}
	writeJSON(w, http.StatusOK, newPageResponse(page))
}

// MoreAssets handles POST /api/assets/more.
//
//	@Summary		Grow the grid by one page
//	@Tags			assets
//	@Produce		json
//	@Success		200	{object}	PageResponse
//	@Security		BearerAuth
//	@Router			/assets/more [post]
func (h *Handler) MoreAssets(w http.ResponseWriter, r *http.Request) {
	page, err := h.grid.RequestMore(r.Context())
	if err != nil {
		writeError(w, "request more", err)
		return
	}
	writeJSON(w, http.StatusOK, newPageResponse(page))
}

// Viewport handles POST /api/viewport.
func (h *Handler) Viewport(w http.ResponseWriter, r *http.Request) {
	var req ViewportRequest
	if !decodeBody(w, r, &req) {
		return
	}
	win, rebuild, err := h.grid.OnViewportResize(r.Context(), req.Width)
	if err != nil {
		writeError(w, "viewport", err)
		return
	}
	writeJSON(w, http.StatusOK, ViewportResponse{Window: win, Rebuild: rebuild})
}

// ListCollections handles GET /api/collections.
//
//	@Summary		List collections with asset counts
//	@Tags			assets
//	@Produce		json
//	@Success		200	{object}	CollectionsResponse
//	@Security		BearerAuth
//	@Router			/collections [get]
func (h *Handler) ListCollections(w http.ResponseWriter, _ *http.Request) {
	cols, err := h.catalog.Collections()
	if err != nil {
		writeError(w, "list collections", err)
		return
	}
	if cols == nil {
		cols = []index.CollectionInfo{}
	}
	writeJSON(w, http.StatusOK, CollectionsResponse{Collections: cols})
}

// Thumbnail handles GET /api/thumbnails/*.
func (h *Handler) Thumbnail(w http.ResponseWriter, r *http.Request) {
	h.serveImage(w, r, "thumbnail", h.grid.Thumbnail)
}

// Preview handles GET /api/preview/*.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	h.serveImage(w, r, "preview", h.grid.Preview)
}

func (h *Handler) serveImage(
	w http.ResponseWriter,
	r *http.Request,
	op string,
	load func(context.Context, string) (image.Image, error),
) {
	path := assetPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	if h.root != "" && !storage.Under(h.root, path) {
		writeJSON(w, http.StatusBadRequest, errorBody("path is outside the library"))
		return
	}
	img, err := load(r.Context(), path)
	if err != nil {
		writeError(w, op, err)
		return
	}
	data, err := thumbs.EncodeJPEG(img)
	if err != nil {
		writeError(w, op+" encode", err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		slog.Debug("write image failed", slog.String("path", path), slog.String("error", err.Error()))
	}
}

// CreateTransfer handles POST /api/transfers.
//
//	@Summary		Copy selected assets to a destination directory
//	@Tags			transfers
//	@Accept			json
//	@Produce		json
//	@Param			body	body		SaveRequest	true	"Selection and destination"
//	@Success		202		{object}	SaveResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		503		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/transfers [post]
func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req SaveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.assets.Save(r.Context(), assetservice.SaveRequest{
		Paths:       req.Paths,
		Destination: req.Destination,
		Layered:     req.Layered,
	})
	if err != nil {
		writeError(w, "save", err)
		return
	}
	writeJSON(w, http.StatusAccepted, SaveResponse{Job: res.Handle.Snapshot(), Missing: res.Missing})
}

// ListTransfers handles GET /api/transfers.
func (h *Handler) ListTransfers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, TransferListResponse{Transfers: h.assets.Engine().Jobs()})
}

// GetTransfer handles GET /api/transfers/{id}.
func (h *Handler) GetTransfer(w http.ResponseWriter, r *http.Request) {
	job, err := h.assets.Engine().Job(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get transfer", err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// CancelTransfer handles DELETE /api/transfers/{id}.
func (h *Handler) CancelTransfer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	engine := h.assets.Engine()
	if err := engine.Cancel(id); err != nil {
		writeError(w, "cancel transfer", err)
		return
	}
	job, err := engine.Job(id)
	if err != nil {
		writeError(w, "cancel transfer", err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// ReleaseTransfer handles POST /api/transfers/{id}/release.
func (h *Handler) ReleaseTransfer(w http.ResponseWriter, r *http.Request) {
	if err := h.assets.Engine().Release(chi.URLParam(r, "id")); err != nil {
		writeError(w, "release transfer", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Resolve handles POST /api/resolve.
//
//	@Summary		Find the layered master of each selected asset
//	@Tags			assets
//	@Accept			json
//	@Produce		json
//	@Param			body	body		PathsRequest	true	"Selection"
//	@Success		200		{object}	ResolveResponse
//	@Failure		404		{object}	errResponse
//	@Failure		503		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/resolve [post]
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req PathsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	batch, err := h.assets.Resolve(r.Context(), req.Paths)
	if err != nil {
		writeError(w, "resolve", err)
		return
	}
	resp := ResolveResponse{Results: make([]ResolveItemDTO, 0, len(batch.Results)), Missing: batch.Missing}
	for _, res := range batch.Results {
		resp.Results = append(resp.Results, ResolveItemDTO{
			RequestID:   res.RequestID,
			SourcePath:  res.SourcePath,
			LayeredPath: res.LayeredPath,
			Found:       res.Found,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// Reveal handles POST /api/reveal.
func (h *Handler) Reveal(w http.ResponseWriter, r *http.Request) {
	var req PathsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	revealed, err := h.assets.Reveal(r.Context(), req.Paths)
	if err != nil {
		writeError(w, "reveal", err)
		return
	}
	writeJSON(w, http.StatusOK, RevealResponse{Revealed: revealed})
}
