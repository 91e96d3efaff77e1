// Package shell hands finished files to the desktop file manager.
package shell

import (
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"runtime"
)

const (
	openCommand     = "open"
	macRevealFlag   = "-R"
	explorerCommand = "explorer"
	windowsSelect   = "/select,"
	xdgOpenCommand  = "xdg-open"
)

// ErrUnsupportedOS is returned when no reveal command is known for the host.
var ErrUnsupportedOS = errors.New("reveal not supported on this OS")

// Revealer shows paths to the user.
type Revealer interface {
	Reveal(paths []string) error
}

// Command builds the reveal invocation for goos. Only the first path is used
// where the file manager cannot select several files at once.
func Command(goos string, paths []string) (string, []string, error) {
	if len(paths) == 0 {
		return "", nil, errors.New("shell: no paths to reveal")
	}
	switch goos {
	case "darwin":
		return openCommand, append([]string{macRevealFlag}, paths...), nil
	case "windows":
		return explorerCommand, []string{windowsSelect + paths[0]}, nil
	case "linux", "freebsd", "openbsd", "netbsd":
		return xdgOpenCommand, []string{filepath.Dir(paths[0])}, nil
	default:
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedOS, goos)
	}
}

// OSRevealer launches the host file manager. It does not wait for it.
type OSRevealer struct {
	goos   string
	logger *slog.Logger
	start  func(name string, args ...string) error
}

// NewOSRevealer creates a revealer for the running OS.
func NewOSRevealer(logger *slog.Logger) *OSRevealer {
	if logger == nil {
		logger = slog.Default()
	}
	return &OSRevealer{goos: runtime.GOOS, logger: logger, start: startDetached}
}

// Reveal opens the file manager on paths.
func (r *OSRevealer) Reveal(paths []string) error {
	name, args, err := Command(r.goos, paths)
	if err != nil {
		return err
	}
	r.logger.Debug("shell: reveal", slog.String("command", name), slog.Int("paths", len(paths)))
	if err := r.start(name, args...); err != nil {
		return fmt.Errorf("shell: %s: %w", name, err)
	}
	return nil
}

func startDetached(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	// explorer.exe exits non-zero even on success; the status is not useful.
	go func() { _ = cmd.Wait() }()
	return nil
}

// Nop discards reveal requests. It is used in headless modes.
type Nop struct{}

// Reveal does nothing.
func (Nop) Reveal([]string) error { return nil }
