package index

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/starford/lightbox/internal/storage"
	"github.com/starford/lightbox/internal/thumbs"
)

// Library describes the collection tree being indexed.
type Library struct {
	Root      string
	ThumbSize int
}

// SyncStats summarises one Sync pass.
type SyncStats struct {
	Indexed   int
	Unchanged int
	Removed   int
	Failed    int
}

// Fingerprint identifies a file version by size and modification time.
func Fingerprint(m storage.FileMeta) string {
	return fmt.Sprintf("%d-%d", m.Size, m.ModTime.UnixNano())
}

// CollectionOf returns the top-level directory of path under root, or "" for
// files directly in root.
func CollectionOf(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return ""
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[0]
}

// Sync walks the library and brings the catalog up to date:
//   - new/changed images are decoded, thumbnailed and upserted
//   - images removed from disk are deleted from the catalog
func Sync(ctx context.Context, db *DB, store storage.Provider, lib Library, logger *slog.Logger) (SyncStats, error) {
	var stats SyncStats

	metas, err := store.List(lib.Root, thumbs.IsImageFile)
	if err != nil {
		return stats, err
	}

	fingerprints, err := db.AllFingerprints()
	if err != nil {
		return stats, err
	}

	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		disk[m.Path] = struct{}{}

		if fingerprints[m.Path] == Fingerprint(m) {
			stats.Unchanged++
			continue
		}
		if err := indexFile(db, store, lib, m); err != nil {
			stats.Failed++
			logger.Warn("sync: index failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		stats.Indexed++
		logger.Debug("sync: indexed", slog.String("path", m.Path))
	}

	// Remove stale entries.
	for p := range fingerprints {
		if _, ok := disk[p]; ok {
			continue
		}
		if err := db.DeleteAsset(p); err != nil {
			logger.Warn("sync: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			continue
		}
		stats.Removed++
		logger.Debug("sync: removed stale", slog.String("path", p))
	}

	logger.Info("sync: done",
		slog.Int("indexed", stats.Indexed),
		slog.Int("unchanged", stats.Unchanged),
		slog.Int("removed", stats.Removed),
		slog.Int("failed", stats.Failed),
	)
	return stats, nil
}

// indexFile reads one image and upserts it. An image that cannot be decoded
// is still catalogued, without a thumbnail, so the grid shows a placeholder.
func indexFile(db *DB, store storage.Provider, lib Library, m storage.FileMeta) error {
	r, err := store.Open(m.Path)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	r.Close()
	if err != nil {
		return err
	}

	captured, ok := thumbs.CaptureDate(bytes.NewReader(data))
	if !ok {
		captured = m.ModTime
	}
	thumb, err := thumbs.Generate(data, lib.ThumbSize)
	if err != nil {
		thumb = nil
	}

	row := AssetRow{
		Path:        m.Path,
		Collection:  CollectionOf(lib.Root, m.Path),
		Name:        filepath.Base(m.Path),
		Ext:         filepath.Ext(m.Path),
		CapturedAt:  captured,
		Fingerprint: Fingerprint(m),
	}
	return db.UpsertAsset(row, thumb)
}

// indexPath stats path and indexes it.
func indexPath(db *DB, store storage.Provider, lib Library, path string) error {
	m, err := store.Stat(path)
	if err != nil {
		return err
	}
	return indexFile(db, store, lib, m)
}
