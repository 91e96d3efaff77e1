// Package models defines the domain types for Lightbox.
package models

import (
	"slices"
	"strings"
	"time"
)

// AssetRecord is a single image tracked by the catalog. Path is its unique
// identifier (the absolute source path).
type AssetRecord struct {
	Path       string    `json:"path"`
	Collection string    `json:"collection"`
	CapturedAt time.Time `json:"captured_at"`
}

// Name returns the file name of the asset without its directory.
func (a AssetRecord) Name() string {
	i := strings.LastIndexAny(a.Path, `/\`)
	return a.Path[i+1:]
}

// DateGroup is a run of assets sharing a capture-date bucket. The bucket key
// is produced by the catalog, not computed by consumers.
type DateGroup struct {
	Key    string        `json:"key"`
	Assets []AssetRecord `json:"assets"`
}

// FilterState is the active selection driving the thumbnail grid.
type FilterState struct {
	Collection string    `json:"collection,omitempty"`
	Search     string    `json:"search,omitempty"`
	From       time.Time `json:"from,omitzero"`
	To         time.Time `json:"to,omitzero"`
	// Kinds are toggled extension chips such as "jpg" or "png".
	Kinds []string `json:"kinds,omitempty"`
}

// Equal reports whether two filter states select the same result set.
func (f FilterState) Equal(o FilterState) bool {
	if f.Collection != o.Collection || f.Search != o.Search {
		return false
	}
	if !f.From.Equal(o.From) || !f.To.Equal(o.To) {
		return false
	}
	a := slices.Clone(f.Kinds)
	b := slices.Clone(o.Kinds)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}
