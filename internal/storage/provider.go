// Package storage defines the filesystem collaborator used by the asset
// pipeline and the probe that decides whether the collection share is
// reachable.
package storage

import (
	"context"
	"io"
	"time"
)

// FileMeta describes one file returned by List.
type FileMeta struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// WriteFile is a destination file opened for writing.
type WriteFile interface {
	io.Writer
	Sync() error
	Close() error
}

// Provider is the interface for byte-level file operations.
// Paths are absolute OS paths.
type Provider interface {
	// Exists reports whether a regular file exists at path.
	Exists(path string) bool
	// Size returns the size in bytes of the file at path.
	Size(path string) (int64, error)
	// Stat returns size and modification time of the file at path.
	Stat(path string) (FileMeta, error)
	// ListDir returns the entry names of dir, sorted.
	ListDir(dir string) ([]string, error)
	// List walks root and returns every file accepted by match.
	List(root string, match func(name string) bool) ([]FileMeta, error)
	// Open opens path for reading.
	Open(path string) (io.ReadCloser, error)
	// Create creates or truncates path, creating parent directories.
	Create(path string) (WriteFile, error)
	// Rename moves oldPath to newPath.
	Rename(oldPath, newPath string) error
	// Remove deletes the file at path.
	Remove(path string) error
}

// Reachability answers whether the configured collection root is currently
// accessible.
type Reachability interface {
	Reachable(ctx context.Context) bool
}
