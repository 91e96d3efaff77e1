// Package assetservice implements the user actions on selected assets:
// saving copies, resolving layered masters and revealing files.
package assetservice

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/starford/lightbox/internal/apperr"
	"github.com/starford/lightbox/internal/index"
	"github.com/starford/lightbox/internal/resolver"
	"github.com/starford/lightbox/internal/shell"
	"github.com/starford/lightbox/internal/storage"
	"github.com/starford/lightbox/internal/transfer"
)

// Catalog looks up catalogued assets.
type Catalog interface {
	Asset(path string) (*index.AssetRow, error)
}

// SaveRequest asks for selected assets to be copied to Destination. With
// Layered set, each preview is first translated to its layered master.
type SaveRequest struct {
	Paths       []string
	Destination string
	Layered     bool
}

// SaveResult describes a submitted save.
type SaveResult struct {
	Handle *transfer.Handle
	// Missing lists previews with no layered master when Layered was set.
	Missing []string
}

// Service coordinates reachability, resolution, transfers and reveal.
type Service struct {
	root     string
	store    storage.Provider
	catalog  Catalog
	reach    storage.Reachability
	resolver *resolver.Resolver
	engine   *transfer.Engine
	revealer shell.Revealer
	logger   *slog.Logger
}

// Deps groups the collaborators of a Service.
type Deps struct {
	Root     string
	Store    storage.Provider
	Catalog  Catalog
	Reach    storage.Reachability
	Resolver *resolver.Resolver
	Engine   *transfer.Engine
	Revealer shell.Revealer
	Logger   *slog.Logger
}

// NewService creates a new asset service.
func NewService(d Deps) *Service {
	s := &Service{
		root:     d.Root,
		store:    d.Store,
		catalog:  d.Catalog,
		reach:    d.Reach,
		resolver: d.Resolver,
		engine:   d.Engine,
		revealer: d.Revealer,
		logger:   d.Logger,
	}
	if s.reach == nil {
		s.reach = storage.Always(true)
	}
	if s.revealer == nil {
		s.revealer = shell.Nop{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Engine returns the transfer engine backing Save.
func (s *Service) Engine() *transfer.Engine {
	return s.engine
}

// Save checks the share, optionally resolves layered masters one at a time,
// and submits a transfer job.
func (s *Service) Save(ctx context.Context, req SaveRequest) (*SaveResult, error) {
	if len(req.Paths) == 0 {
		return nil, apperr.ErrNothingSubmitted
	}
	if req.Destination == "" || !filepath.IsAbs(req.Destination) {
		return nil, fmt.Errorf("%w: destination must be an absolute directory", apperr.ErrInvalidArgument)
	}
	if err := s.checkPaths(req.Paths); err != nil {
		return nil, err
	}
	if !s.reach.Reachable(ctx) {
		return nil, apperr.ErrNotReachable
	}

	sources := req.Paths
	var missing []string
	if req.Layered {
		batch, err := s.resolver.ResolveBatch(ctx, s.items(req.Paths))
		if err != nil {
			return nil, err
		}
		sources = batch.Found()
		missing = batch.Missing
	}

	h := s.engine.Submit(sources, req.Destination)
	s.logger.Info("assets: save submitted",
		slog.String("job", h.ID()),
		slog.Int("files", len(sources)),
		slog.Int("unresolved", len(missing)),
	)
	return &SaveResult{Handle: h, Missing: missing}, nil
}

// Resolve finds the layered master of each path, one path at a time.
func (s *Service) Resolve(ctx context.Context, paths []string) (resolver.BatchResult, error) {
	if len(paths) == 0 {
		return resolver.BatchResult{}, apperr.ErrNothingSubmitted
	}
	if err := s.checkPaths(paths); err != nil {
		return resolver.BatchResult{}, err
	}
	if !s.reach.Reachable(ctx) {
		return resolver.BatchResult{}, apperr.ErrNotReachable
	}
	return s.resolver.ResolveBatch(ctx, s.items(paths))
}

// Reveal opens the file manager on the paths that still exist and returns
// them. Paths that disappeared are skipped.
func (s *Service) Reveal(_ context.Context, paths []string) ([]string, error) {
	if len(paths) == 0 {
		return nil, apperr.ErrNothingSubmitted
	}
	var existing []string
	for _, p := range paths {
		if s.store.Exists(p) {
			existing = append(existing, p)
			continue
		}
		s.logger.Warn("assets: reveal target missing", slog.String("path", p))
	}
	if len(existing) == 0 {
		return nil, fmt.Errorf("%w: none of %d paths exist", apperr.ErrSourceMissing, len(paths))
	}
	if err := s.revealer.Reveal(existing); err != nil {
		return nil, err
	}
	return existing, nil
}

// checkPaths rejects paths outside the library root.
func (s *Service) checkPaths(paths []string) error {
	if s.root == "" {
		return nil
	}
	for _, p := range paths {
		if !storage.Under(s.root, p) {
			return fmt.Errorf("%w: %s is outside the library", apperr.ErrInvalidArgument, p)
		}
	}
	return nil
}

// items pairs each path with its collection, taken from the catalog when the
// asset is indexed and from the directory layout otherwise.
func (s *Service) items(paths []string) []resolver.Item {
	out := make([]resolver.Item, 0, len(paths))
	for _, p := range paths {
		item := resolver.Item{Path: p, Collection: index.CollectionOf(s.root, p)}
		if s.catalog != nil {
			if row, err := s.catalog.Asset(p); err == nil {
				item.Collection = row.Collection
			}
		}
		out = append(out, item)
	}
	return out
}
