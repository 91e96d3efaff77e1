package index

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/lightbox/internal/storage"
	"github.com/starford/lightbox/internal/thumbs"
)

// EventCallback is called after a watcher-driven catalog change.
// kind is one of "created", "updated", "deleted".
type EventCallback func(kind string, path string)

const reconcileDelay = 200 * time.Millisecond

// Watch starts an fsnotify watcher on the library root and processes file
// change events until ctx is cancelled. It calls cb (if non-nil) after
// each successful catalog mutation.
//
// New directories created at runtime are automatically added to the watch
// list. Rename events trigger a reconciliation pass that removes stale
// entries whose files no longer exist on disk.
func Watch(ctx context.Context, db *DB, store storage.Provider, lib Library, logger *slog.Logger, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, lib.Root); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", lib.Root))

	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time

	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(reconcileDelay)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(reconcileDelay)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			reconcile(db, store, lib, logger, cb)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			path := ev.Name
			if isHidden(path) {
				continue
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(path); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, path); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", path),
							slog.String("error", addErr.Error()))
					} else {
						logger.Debug("watcher: watching new dir", slog.String("path", path))
					}
					indexNewDir(db, store, lib, path, logger, cb)
					continue
				}
			}

			if !thumbs.IsImageFile(path) {
				continue
			}

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				if idxErr := indexPath(db, store, lib, path); idxErr != nil {
					logger.Warn("watcher: index failed", slog.String("path", path), slog.String("error", idxErr.Error()))
					continue
				}
				kind := "updated"
				if ev.Op&fsnotify.Create != 0 {
					kind = "created"
				}
				logger.Debug("watcher: indexed", slog.String("path", path), slog.String("op", kind))
				if cb != nil {
					cb(kind, path)
				}

			case ev.Op&fsnotify.Remove != 0:
				if delErr := db.DeleteAsset(path); delErr != nil {
					logger.Warn("watcher: delete failed", slog.String("path", path), slog.String("error", delErr.Error()))
					continue
				}
				logger.Debug("watcher: deleted", slog.String("path", path))
				if cb != nil {
					cb("deleted", path)
				}

			case ev.Op&fsnotify.Rename != 0:
				// Rename fires on the old path only; the new name arrives as
				// a Create if it stays inside a watched directory.
				if delErr := db.DeleteAsset(path); delErr != nil {
					logger.Warn("watcher: rename delete failed", slog.String("path", path), slog.String("error", delErr.Error()))
				} else if cb != nil {
					cb("deleted", path)
				}
				scheduleReconcile()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// reconcile removes catalog entries without a file on disk and indexes
// on-disk images that are missing or changed.
func reconcile(db *DB, store storage.Provider, lib Library, logger *slog.Logger, cb EventCallback) {
	fingerprints, err := db.AllFingerprints()
	if err != nil {
		logger.Warn("reconcile: all fingerprints failed", slog.String("error", err.Error()))
		return
	}

	metas, err := store.List(lib.Root, thumbs.IsImageFile)
	if err != nil {
		logger.Warn("reconcile: list failed", slog.String("error", err.Error()))
		return
	}

	disk := make(map[string]storage.FileMeta, len(metas))
	for _, m := range metas {
		disk[m.Path] = m
	}

	for p := range fingerprints {
		if _, ok := disk[p]; ok {
			continue
		}
		if delErr := db.DeleteAsset(p); delErr == nil {
			logger.Debug("reconcile: removed stale", slog.String("path", p))
			if cb != nil {
				cb("deleted", p)
			}
		}
	}

	for p, m := range disk {
		if fingerprints[p] == Fingerprint(m) {
			continue
		}
		if idxErr := indexFile(db, store, lib, m); idxErr == nil {
			logger.Debug("reconcile: indexed", slog.String("path", p))
			if cb != nil {
				cb("created", p)
			}
		}
	}
}

// indexNewDir indexes images found in a newly created directory.
func indexNewDir(db *DB, store storage.Provider, lib Library, dir string, logger *slog.Logger, cb EventCallback) {
	metas, err := store.List(dir, thumbs.IsImageFile)
	if err != nil {
		logger.Warn("watcher: list new dir failed", slog.String("path", dir), slog.String("error", err.Error()))
		return
	}
	for _, m := range metas {
		if idxErr := indexFile(db, store, lib, m); idxErr == nil {
			logger.Debug("watcher: indexed from new dir", slog.String("path", m.Path))
			if cb != nil {
				cb("created", m.Path)
			}
		}
	}
}

// addDirsRecursive adds root and all its non-hidden subdirectories.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}

func isHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
