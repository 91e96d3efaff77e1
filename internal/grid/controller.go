// Package grid drives the paginated thumbnail grid. A single loop goroutine
// owns the window, the decoded-image caches and the decode bookkeeping;
// decode work runs on worker goroutines whose results are handed back to the
// loop before anything is cached.
package grid

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"github.com/starford/lightbox/internal/assetcache"
	"github.com/starford/lightbox/internal/metrics"
	"github.com/starford/lightbox/internal/models"
)

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("grid: controller closed")

// Query is the catalog collaborator. FetchPage must be idempotent for equal
// (filter, limit) inputs.
type Query interface {
	FetchPage(ctx context.Context, filter models.FilterState, limit int) ([]models.DateGroup, error)
}

// Decoder produces decoded images for an asset path.
type Decoder interface {
	Thumbnail(ctx context.Context, path string) (image.Image, error)
	Full(ctx context.Context, path string) (image.Image, error)
}

// Notifier is told when a thumbnail lands in the cache.
type Notifier interface {
	PublishThumbnailReady(path string)
}

// Config holds the grid layout and cache sizing.
type Config struct {
	InitialLimit     int
	PageIncrement    int
	ThumbnailSize    int
	ThumbnailPadding int
	CacheEntries     int
	PreviewEntries   int
}

// DefaultConfig returns the stock grid settings.
func DefaultConfig() Config {
	return Config{
		InitialLimit:     60,
		PageIncrement:    60,
		ThumbnailSize:    200,
		ThumbnailPadding: 12,
		CacheEntries:     assetcache.MaxCacheSize,
		PreviewEntries:   8,
	}
}

// cell is the horizontal footprint of one thumbnail.
func (c Config) cell() int {
	return c.ThumbnailSize + c.ThumbnailPadding
}

// Window is the current pagination and layout state.
type Window struct {
	Limit         int `json:"limit"`
	Columns       int `json:"columns"`
	ViewportWidth int `json:"viewport_width"`
}

// Tile is one grid slot. A tile without Ready shows a placeholder.
type Tile struct {
	Asset  models.AssetRecord `json:"asset"`
	Ready  bool               `json:"ready"`
	Failed bool               `json:"failed,omitempty"`
	Image  image.Image        `json:"-"`
}

// Group is a date bucket of tiles.
type Group struct {
	Key   string `json:"key"`
	Tiles []Tile `json:"tiles"`
}

// Page is what the UI renders for one load.
type Page struct {
	Groups []Group `json:"groups"`
	Window Window  `json:"window"`
	Count  int     `json:"count"`
	// ResetScroll is set on the first page after a filter change.
	ResetScroll bool `json:"reset_scroll"`
}

// Stats describes the controller's caches.
type Stats struct {
	Window   Window `json:"window"`
	Cached   int    `json:"cached"`
	Previews int    `json:"previews"`
	Pending  int    `json:"pending"`
	Failed   int    `json:"failed"`
}

type decodeResult struct {
	path       string
	generation uint64
	img        image.Image
	err        error
}

// Option configures a Controller.
type Option func(*Controller)

// WithNotifier sets who is told about finished thumbnails.
func WithNotifier(n Notifier) Option {
	return func(c *Controller) { c.notify = n }
}

// WithLogger sets the controller logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// Controller is the grid state machine.
type Controller struct {
	query   Query
	decoder Decoder
	notify  Notifier
	logger  *slog.Logger
	cfg     Config

	ops      chan func()
	results  chan decodeResult
	quit     chan struct{}
	loopDone chan struct{}
	closer   sync.Once

	workerCtx    context.Context
	cancelWorker context.CancelFunc
	workers      sync.WaitGroup

	// Owned by the loop goroutine.
	window      Window
	layoutWidth int
	filter      models.FilterState
	loaded      bool
	generation  uint64
	thumbs      *assetcache.Cache
	previews    *assetcache.Cache
	pending     map[string]struct{}
	failed      map[string]struct{}
}

// New starts a controller. Call Close to stop it.
func New(query Query, decoder Decoder, cfg Config, opts ...Option) *Controller {
	def := DefaultConfig()
	if cfg.InitialLimit <= 0 {
		cfg.InitialLimit = def.InitialLimit
	}
	if cfg.PageIncrement <= 0 {
		cfg.PageIncrement = def.PageIncrement
	}
	if cfg.ThumbnailSize <= 0 {
		cfg.ThumbnailSize = def.ThumbnailSize
	}
	if cfg.ThumbnailPadding < 0 {
		cfg.ThumbnailPadding = 0
	}
	if cfg.PreviewEntries <= 0 {
		cfg.PreviewEntries = def.PreviewEntries
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		query:        query,
		decoder:      decoder,
		logger:       slog.Default(),
		cfg:          cfg,
		ops:          make(chan func()),
		results:      make(chan decodeResult),
		quit:         make(chan struct{}),
		loopDone:     make(chan struct{}),
		workerCtx:    ctx,
		cancelWorker: cancel,
		window:       Window{Limit: cfg.InitialLimit, Columns: 1},
		thumbs: assetcache.New(cfg.CacheEntries, assetcache.WithEvictHook(func(string) {
			metrics.RecordCacheEviction("thumbnail")
		})),
		previews: assetcache.New(cfg.PreviewEntries, assetcache.WithEvictHook(func(string) {
			metrics.RecordCacheEviction("preview")
		})),
		pending: make(map[string]struct{}),
		failed:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.run()
	return c
}

func (c *Controller) run() {
	defer close(c.loopDone)
	for {
		select {
		case op := <-c.ops:
			op()
		case r := <-c.results:
			c.applyDecode(r)
		case <-c.quit:
			return
		}
	}
}

// do runs fn on the loop goroutine and waits for it.
func (c *Controller) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	op := func() {
		fn()
		close(done)
	}
	select {
	case c.ops <- op:
	case <-c.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

// Close stops the loop and joins every decode worker. The loop is joined
// first because only it spawns workers.
func (c *Controller) Close() {
	c.closer.Do(func() {
		c.cancelWorker()
		close(c.quit)
		<-c.loopDone
		c.workers.Wait()
	})
}

// LoadPage fetches up to the current limit for filter. A filter different
// from the previous one resets the limit and asks the UI to scroll to top.
func (c *Controller) LoadPage(ctx context.Context, filter models.FilterState) (Page, error) {
	var (
		win   Window
		reset bool
	)
	if err := c.do(ctx, func() { win, reset = c.applyFilter(filter) }); err != nil {
		return Page{}, err
	}
	return c.fetch(ctx, filter, win, reset)
}

// RequestMore grows the limit by one page increment and reloads the current
// filter.
func (c *Controller) RequestMore(ctx context.Context) (Page, error) {
	var (
		win    Window
		filter models.FilterState
	)
	err := c.do(ctx, func() {
		c.window.Limit += c.cfg.PageIncrement
		c.loaded = true
		win, filter = c.window, c.filter
	})
	if err != nil {
		return Page{}, err
	}
	return c.fetch(ctx, filter, win, false)
}

func (c *Controller) fetch(ctx context.Context, filter models.FilterState, win Window, reset bool) (Page, error) {
	groups, err := c.query.FetchPage(ctx, filter, win.Limit)
	if err != nil {
		return Page{}, fmt.Errorf("grid: fetch page: %w", err)
	}
	var page Page
	if err := c.do(ctx, func() { page = c.buildPage(groups) }); err != nil {
		return Page{}, err
	}
	page.Window = win
	page.ResetScroll = reset
	return page, nil
}

// applyFilter runs on the loop.
func (c *Controller) applyFilter(filter models.FilterState) (Window, bool) {
	if c.loaded && c.filter.Equal(filter) {
		return c.window, false
	}
	c.loaded = true
	c.filter = filter
	c.generation++
	clear(c.failed)
	c.window.Limit = c.cfg.InitialLimit
	return c.window, true
}

// buildPage runs on the loop. Paths already placed on the page are skipped
// so a result set that repeats a record never shows it twice.
func (c *Controller) buildPage(groups []models.DateGroup) Page {
	seen := make(map[string]struct{})
	page := Page{Groups: make([]Group, 0, len(groups))}
	for _, g := range groups {
		out := Group{Key: g.Key, Tiles: make([]Tile, 0, len(g.Assets))}
		for _, a := range g.Assets {
			if _, dup := seen[a.Path]; dup {
				continue
			}
			seen[a.Path] = struct{}{}
			out.Tiles = append(out.Tiles, c.tile(a))
		}
		if len(out.Tiles) > 0 {
			page.Groups = append(page.Groups, out)
			page.Count += len(out.Tiles)
		}
	}
	return page
}

func (c *Controller) tile(a models.AssetRecord) Tile {
	if img, ok := c.thumbs.Get(a.Path); ok {
		metrics.RecordCacheLookup("thumbnail", true)
		return Tile{Asset: a, Ready: true, Image: img}
	}
	metrics.RecordCacheLookup("thumbnail", false)
	if _, ok := c.failed[a.Path]; ok {
		return Tile{Asset: a, Failed: true}
	}
	if _, ok := c.pending[a.Path]; !ok {
		c.spawnDecode(a.Path)
	}
	return Tile{Asset: a}
}

func (c *Controller) spawnDecode(path string) {
	c.pending[path] = struct{}{}
	gen := c.generation
	c.workers.Add(1)
	go func() {
		defer c.workers.Done()
		img, err := c.decoder.Thumbnail(c.workerCtx, path)
		select {
		case c.results <- decodeResult{path: path, generation: gen, img: img, err: err}:
		case <-c.quit:
		}
	}()
}

// applyDecode runs on the loop.
func (c *Controller) applyDecode(r decodeResult) {
	delete(c.pending, r.path)
	if r.err != nil {
		metrics.RecordDecodeFailure()
		c.logger.Warn("grid: thumbnail decode failed",
			slog.String("path", r.path),
			slog.String("error", r.err.Error()),
		)
		// A failure from before the last filter change is dropped so the
		// new filter gets a fresh attempt.
		if r.generation == c.generation {
			c.failed[r.path] = struct{}{}
		}
		return
	}
	c.thumbs.Put(r.path, r.img)
	if c.notify != nil {
		c.notify.PublishThumbnailReady(r.path)
	}
}

// OnViewportResize records a new viewport width and recomputes the column
// count. rebuild is true only when the column count changed or the width
// moved by more than one cell since the last rebuild.
func (c *Controller) OnViewportResize(ctx context.Context, width int) (win Window, rebuild bool, err error) {
	err = c.do(ctx, func() {
		width = max(width, 0)
		cell := c.cfg.cell()
		cols := max(width/cell, 1)
		delta := width - c.layoutWidth
		if delta < 0 {
			delta = -delta
		}
		c.window.ViewportWidth = width
		if cols != c.window.Columns || delta > cell {
			c.window.Columns = cols
			c.layoutWidth = width
			rebuild = true
		}
		win = c.window
	})
	return win, rebuild, err
}

// Window returns the current window.
func (c *Controller) Window(ctx context.Context) (Window, error) {
	var win Window
	err := c.do(ctx, func() { win = c.window })
	return win, err
}

// Stats returns cache and decode counters.
func (c *Controller) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := c.do(ctx, func() {
		s = Stats{
			Window:   c.window,
			Cached:   c.thumbs.Len(),
			Previews: c.previews.Len(),
			Pending:  len(c.pending),
			Failed:   len(c.failed),
		}
	})
	return s, err
}

// Thumbnail returns the cached thumbnail for path, decoding it on the calling
// goroutine on a miss and handing the result to the loop to cache.
func (c *Controller) Thumbnail(ctx context.Context, path string) (image.Image, error) {
	return c.cached(ctx, path, false)
}

// Preview returns the full-resolution image for the viewer, served from a
// separate, smaller cache.
func (c *Controller) Preview(ctx context.Context, path string) (image.Image, error) {
	return c.cached(ctx, path, true)
}

func (c *Controller) cached(ctx context.Context, path string, preview bool) (image.Image, error) {
	cache, name, decode := c.thumbs, "thumbnail", c.decoder.Thumbnail
	if preview {
		cache, name, decode = c.previews, "preview", c.decoder.Full
	}

	var (
		img image.Image
		hit bool
	)
	if err := c.do(ctx, func() { img, hit = cache.Get(path) }); err != nil {
		return nil, err
	}
	metrics.RecordCacheLookup(name, hit)
	if hit {
		return img, nil
	}

	img, err := decode(ctx, path)
	if err != nil {
		metrics.RecordDecodeFailure()
		return nil, err
	}
	if err := c.do(ctx, func() { cache.Put(path, img) }); err != nil {
		return nil, err
	}
	return img, nil
}
