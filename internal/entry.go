// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/lightbox/internal/api"
	"github.com/starford/lightbox/internal/assetservice"
	"github.com/starford/lightbox/internal/eventbus"
	"github.com/starford/lightbox/internal/grid"
	"github.com/starford/lightbox/internal/index"
	"github.com/starford/lightbox/internal/metrics"
	"github.com/starford/lightbox/internal/resolver"
	"github.com/starford/lightbox/internal/shell"
	"github.com/starford/lightbox/internal/storage"
	"github.com/starford/lightbox/internal/thumbs"
	"github.com/starford/lightbox/internal/transfer"
)

// newApplication applies opts and installs the JSON logger as the default.
func newApplication(logOut io.Writer, opts []Option) (*application, *slog.Logger, error) {
	app := &application{logOut: logOut, out: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, nil, fmt.Errorf("config is required")
	}

	logger := slog.New(slog.NewJSONHandler(app.logOut, &slog.HandlerOptions{
		Level: app.config.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return app, logger, nil
}

// core holds the components shared by every command.
type core struct {
	lib      index.Library
	store    *storage.FS
	db       *index.DB
	reach    *storage.RootProbe
	decoder  *thumbs.Decoder
	resolver *resolver.Resolver
	engine   *transfer.Engine
	assets   *assetservice.Service
}

// close stops running transfers and closes the index.
func (c *core) close() {
	c.engine.Close()
	c.db.Close()
}

// open builds the storage, index, resolver, transfer engine and asset
// service. Events go to bus when it is non-nil.
func (a *application) open(logger *slog.Logger, bus *eventbus.Bus) (*core, error) {
	cfg := a.config

	root, err := filepath.Abs(cfg.Library.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve library root: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create library dir: %w", err)
	}
	layeredRoots := make([]string, 0, len(cfg.Library.LayeredRoots))
	for _, r := range cfg.Library.LayeredRoots {
		abs, err := filepath.Abs(r)
		if err != nil {
			return nil, fmt.Errorf("resolve layered root %q: %w", r, err)
		}
		layeredRoots = append(layeredRoots, abs)
	}
	if len(layeredRoots) == 0 {
		layeredRoots = []string{root}
	}

	store := storage.NewFS()

	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}

	resolverOpts := []resolver.Option{
		resolver.WithSuffix(cfg.Library.LayeredSuffix),
		resolver.WithExtensions(cfg.Library.LayeredExtensions),
		resolver.WithLogger(logger),
	}
	engineOpts := []transfer.Option{
		transfer.WithChunkSize(cfg.Transfer.ChunkSize),
		transfer.WithMaxConcurrent(cfg.Transfer.MaxConcurrent),
		transfer.WithLogger(logger),
	}
	if bus != nil {
		resolverOpts = append(resolverOpts, resolver.WithPublisher(bus))
		engineOpts = append(engineOpts, transfer.WithPublisher(bus))
	}
	revealer := shell.NewOSRevealer(logger)
	if cfg.Transfer.RevealOnComplete {
		engineOpts = append(engineOpts, transfer.WithRevealer(revealer))
	}

	c := &core{
		lib:      index.Library{Root: root, ThumbSize: cfg.Grid.ThumbnailSize},
		store:    store,
		db:       db,
		reach:    storage.NewRootProbe(root, cfg.Library.ReachTimeout),
		decoder:  thumbs.NewDecoder(store, db, cfg.Grid.ThumbnailSize, cfg.Cache.PreviewMaxEdge),
		resolver: resolver.New(store, func() []string { return layeredRoots }, resolverOpts...),
		engine:   transfer.NewEngine(store, engineOpts...),
	}
	c.assets = assetservice.NewService(assetservice.Deps{
		Root:     root,
		Store:    store,
		Catalog:  db,
		Reach:    c.reach,
		Resolver: c.resolver,
		Engine:   c.engine,
		Revealer: revealer,
		Logger:   logger,
	})
	return c, nil
}

// sync runs one catalog pass over the library.
func (c *core) sync(ctx context.Context, logger *slog.Logger) (index.SyncStats, error) {
	return index.Sync(ctx, c.db, c.store, c.lib, logger)
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, logger, err := newApplication(os.Stdout, opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("library_root", cfg.Library.Root),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	bus := eventbus.New(500 * time.Millisecond)
	defer bus.Close()

	c, err := app.open(logger, bus)
	if err != nil {
		return err
	}
	defer c.close()

	// Run initial sync.
	if _, err := c.sync(ctx, logger); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	gridCtl := grid.New(c.db, c.decoder, cfg.GridSettings(),
		grid.WithNotifier(bus),
		grid.WithLogger(logger),
	)
	defer gridCtl.Close()

	handler := api.NewHandler(c.lib.Root, gridCtl, c.assets, c.db)
	apiRouter := api.NewRouter(handler, cfg.Auth.AuthEnabled(), cfg.Auth.Token, bus)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !c.reach.Reachable(req.Context()) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"library unreachable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start library watcher; catalog changes go out on the bus.
	if cfg.Library.Watch {
		g.Go(func() error {
			err := index.Watch(gCtx, c.db, c.store, c.lib, logger, func(kind, path string) {
				bus.Publish(eventbus.TopicCatalogChanged, map[string]string{"kind": kind, "path": path})
			})
			if err != nil {
				logger.Warn("watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		// Closing the bus ends open event streams so Shutdown can drain.
		bus.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group so the watcher exits once the server is down.
var errShutdown = errors.New("shutdown")
