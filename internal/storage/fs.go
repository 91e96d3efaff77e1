package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FS implements Provider on the local operating system.
type FS struct{}

// NewFS creates a new OS-backed provider.
func NewFS() *FS {
	return &FS{}
}

// Exists reports whether a regular file exists at path.
func (f *FS) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Size returns the size of the file at path.
func (f *FS) Size(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("storage: stat %s: %w", path, err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("storage: %s is a directory", path)
	}
	return info.Size(), nil
}

// Stat returns size and modification time of the regular file at path.
func (f *FS) Stat(path string) (FileMeta, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileMeta{}, fmt.Errorf("storage: stat %s: %w", path, err)
	}
	if info.IsDir() {
		return FileMeta{}, fmt.Errorf("storage: %s is a directory", path)
	}
	return FileMeta{Path: path, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// ListDir returns the sorted entry names of dir.
func (f *FS) ListDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("storage: list %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// List walks root and returns metadata for every file accepted by match.
// Hidden files and directories are skipped.
func (f *FS) List(root string, match func(name string) bool) ([]FileMeta, error) {
	var out []FileMeta
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if strings.HasPrefix(d.Name(), ".") && p != root {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || (match != nil && !match(d.Name())) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, FileMeta{
			Path:    p,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}
	return out, nil
}

// Open opens path for reading.
func (f *FS) Open(path string) (io.ReadCloser, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	return file, nil
}

// Create creates or truncates path, creating parent directories as needed.
func (f *FS) Create(path string) (WriteFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("storage: mkdir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("storage: create %s: %w", path, err)
	}
	return file, nil
}

// Rename moves oldPath to newPath.
func (f *FS) Rename(oldPath, newPath string) error {
	if err := os.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	return nil
}

// Remove deletes the file at path. Removing a missing file is not an error.
func (f *FS) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("storage: remove %s: %w", path, err)
	}
	return nil
}

// JoinUnder joins rel onto root and rejects any result that escapes root.
func JoinUnder(root, rel string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("storage: resolve root: %w", err)
	}
	if rel == "" {
		return absRoot, nil
	}
	cleaned := filepath.Clean(rel)
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("storage: absolute paths not allowed: %s", rel)
	}
	abs := filepath.Join(absRoot, cleaned)
	if !strings.HasPrefix(abs, absRoot+string(os.PathSeparator)) && abs != absRoot {
		return "", fmt.Errorf("storage: path escapes root: %s", rel)
	}
	return abs, nil
}

// Under reports whether path lies inside root.
func Under(root, path string) bool {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	return strings.HasPrefix(abs, absRoot+string(os.PathSeparator))
}
