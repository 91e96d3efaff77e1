package api

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/lightbox/internal/grid"
	"github.com/starford/lightbox/internal/index"
	"github.com/starford/lightbox/internal/transfer"
)

// TileDTO is one grid slot.
type TileDTO struct {
	Path         string    `json:"path" example:"/photos/trips/beach.jpg" validate:"required"`
	Name         string    `json:"name" example:"beach.jpg" validate:"required"`
	Collection   string    `json:"collection" example:"trips"`
	CapturedAt   time.Time `json:"captured_at"`
	Ready        bool      `json:"ready"`
	Failed       bool      `json:"failed,omitempty"`
	ThumbnailURL string    `json:"thumbnail_url" example:"/api/thumbnails/photos/trips/beach.jpg"`
}

// GroupDTO is a date bucket of tiles.
type GroupDTO struct {
	Key   string    `json:"key" example:"2024-06" validate:"required"`
	Tiles []TileDTO `json:"tiles" validate:"required"`
}

// PageResponse is the grid page returned by the asset endpoints.
type PageResponse struct {
	Groups      []GroupDTO  `json:"groups" validate:"required"`
	Window      grid.Window `json:"window" validate:"required"`
	Count       int         `json:"count" example:"60"`
	ResetScroll bool        `json:"reset_scroll"`
}

func newPageResponse(p grid.Page) PageResponse {
	out := PageResponse{
		Groups:      make([]GroupDTO, 0, len(p.Groups)),
		Window:      p.Window,
		Count:       p.Count,
		ResetScroll: p.ResetScroll,
	}
	for _, g := range p.Groups {
		dto := GroupDTO{Key: g.Key, Tiles: make([]TileDTO, 0, len(g.Tiles))}
		for _, t := range g.Tiles {
			dto.Tiles = append(dto.Tiles, TileDTO{
				Path:         t.Asset.Path,
				Name:         t.Asset.Name(),
				Collection:   t.Asset.Collection,
				CapturedAt:   t.Asset.CapturedAt,
				Ready:        t.Ready,
				Failed:       t.Failed,
				ThumbnailURL: "/api/thumbnails" + t.Asset.Path,
			})
		}
		out.Groups = append(out.Groups, dto)
	}
	return out
}

// ViewportRequest reports the grid's current width in pixels.
type ViewportRequest struct {
	Width int `json:"width" example:"1280"`
}

// Validate validates the request.
func (r ViewportRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Width, validation.Min(0), validation.Max(100000)),
	)
}

// ViewportResponse tells the UI whether to relayout.
type ViewportResponse struct {
	Window  grid.Window `json:"window"`
	Rebuild bool        `json:"rebuild"`
}

// CollectionsResponse lists collections.
type CollectionsResponse struct {
	Collections []index.CollectionInfo `json:"collections" validate:"required"`
}

// SaveRequest is the body of POST /transfers.
type SaveRequest struct {
	Paths       []string `json:"paths" validate:"required"`
	Destination string   `json:"destination" example:"/Users/me/Desktop/export" validate:"required"`
	Layered     bool     `json:"layered"`
}

// Validate validates the request.
func (r SaveRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Paths, validation.Required, validation.Each(validation.Required)),
		validation.Field(&r.Destination, validation.Required),
	)
}

// SaveResponse is returned when a transfer job was submitted.
type SaveResponse struct {
	Job     transfer.Job `json:"job"`
	Missing []string     `json:"missing,omitempty"`
}

// TransferListResponse lists registered jobs.
type TransferListResponse struct {
	Transfers []transfer.Job `json:"transfers" validate:"required"`
}

// PathsRequest carries a selection of asset paths.
type PathsRequest struct {
	Paths []string `json:"paths" validate:"required"`
}

// Validate validates the request.
func (r PathsRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Paths, validation.Required, validation.Each(validation.Required)),
	)
}

// ResolveItemDTO is one resolution outcome.
type ResolveItemDTO struct {
	RequestID   string `json:"request_id"`
	SourcePath  string `json:"source_path"`
	LayeredPath string `json:"layered_path,omitempty"`
	Found       bool   `json:"found"`
}

// ResolveResponse is returned by POST /resolve.
type ResolveResponse struct {
	Results []ResolveItemDTO `json:"results"`
	Missing []string         `json:"missing,omitempty"`
}

// RevealResponse lists the paths handed to the file manager.
type RevealResponse struct {
	Revealed []string `json:"revealed"`
}
