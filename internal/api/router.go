package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(h *Handler, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Grid.
	r.Get("/assets", h.ListAssets)
	r.Post("/assets/more", h.MoreAssets)
	r.Post("/viewport", h.Viewport)
	r.Get("/collections", h.ListCollections)

	// Decoded images.
	r.Get("/thumbnails/*", h.Thumbnail)
	r.Get("/preview/*", h.Preview)

	// Transfers.
	r.Post("/transfers", h.CreateTransfer)
	r.Get("/transfers", h.ListTransfers)
	r.Get("/transfers/{id}", h.GetTransfer)
	r.Delete("/transfers/{id}", h.CancelTransfer)
	r.Post("/transfers/{id}/release", h.ReleaseTransfer)

	// Layered masters and file manager.
	r.Post("/resolve", h.Resolve)
	r.Post("/reveal", h.Reveal)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
