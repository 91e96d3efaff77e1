package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/disiqueira/gotree/v3"
	"golang.org/x/term"

	"github.com/starford/lightbox/internal/apperr"
	"github.com/starford/lightbox/internal/assetservice"
	"github.com/starford/lightbox/internal/mcpserver"
	"github.com/starford/lightbox/internal/transfer"
)

// RunIndex syncs the catalog once and prints the collections it found.
func RunIndex(ctx context.Context, opts ...Option) error {
	app, logger, err := newApplication(os.Stderr, opts)
	if err != nil {
		return err
	}
	c, err := app.open(logger, nil)
	if err != nil {
		return err
	}
	defer c.close()

	stats, err := c.sync(ctx, logger)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	cols, err := c.db.Collections()
	if err != nil {
		return err
	}

	tree := gotree.New(fmt.Sprintf("%s (%d indexed, %d unchanged, %d removed, %d failed)",
		c.lib.Root, stats.Indexed, stats.Unchanged, stats.Removed, stats.Failed))
	for _, col := range cols {
		name := col.Name
		if name == "" {
			name = "."
		}
		tree.Add(fmt.Sprintf("%s (%d)", name, col.Count))
	}
	_, err = fmt.Fprint(app.out, tree.Print())
	return err
}

// RunSave copies paths into dest, printing progress until the job finishes.
// An interrupt cancels the job; files already copied are kept.
func RunSave(ctx context.Context, paths []string, dest string, layered bool, opts ...Option) error {
	app, logger, err := newApplication(os.Stderr, opts)
	if err != nil {
		return err
	}
	if dest == "" {
		dest = app.config.Transfer.Destination
	}
	if dest == "" {
		return fmt.Errorf("%w: destination is required", apperr.ErrInvalidArgument)
	}
	if dest, err = filepath.Abs(dest); err != nil {
		return err
	}
	abs := make([]string, 0, len(paths))
	for _, p := range paths {
		a, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		abs = append(abs, a)
	}

	c, err := app.open(logger, nil)
	if err != nil {
		return err
	}
	defer c.close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := c.assets.Save(ctx, assetservice.SaveRequest{
		Paths:       abs,
		Destination: dest,
		Layered:     layered,
	})
	if err != nil {
		return err
	}
	for _, m := range res.Missing {
		logger.Warn("save: no layered master", slog.String("path", m))
	}

	h := res.Handle
	go func() {
		select {
		case <-ctx.Done():
			h.Cancel()
		case <-h.Done():
		}
	}()

	showProgress(app.out, h.Progress())

	result, err := h.Wait(context.Background())
	if err != nil {
		return err
	}
	printResult(app.out, dest, result)

	switch result.State {
	case transfer.StateCancelled:
		return errors.New("transfer cancelled")
	case transfer.StateFailed:
		return result.Err
	}
	return nil
}

// showProgress draws a bar on terminals and prints every tenth percent
// otherwise.
func showProgress(out io.Writer, progress <-chan int) {
	f, ok := out.(*os.File)
	tty := ok && term.IsTerminal(int(f.Fd()))

	width := 40
	if tty {
		if cols, _, err := term.GetSize(int(f.Fd())); err == nil && cols > 20 {
			width = min(cols-10, 60)
		}
	}

	last := -1
	for p := range progress {
		if tty {
			filled := width * p / 100
			fmt.Fprintf(out, "\r[%s%s] %3d%%", strings.Repeat("#", filled), strings.Repeat(" ", width-filled), p)
			continue
		}
		if p == 100 || last < 0 || p/10 > last/10 {
			fmt.Fprintf(out, "progress: %d%%\n", p)
		}
		last = p
	}
	if tty {
		fmt.Fprintln(out)
	}
}

func printResult(out io.Writer, dest string, r transfer.Result) {
	tree := gotree.New(fmt.Sprintf("%s [%s, %d bytes]", dest, r.State, r.BytesCopied))
	for _, p := range r.DestPaths {
		tree.Add(filepath.Base(p))
	}
	if len(r.Skipped) > 0 {
		skipped := tree.Add("skipped")
		for _, p := range r.Skipped {
			skipped.Add(p)
		}
	}
	fmt.Fprint(out, tree.Print())
}

// RunMCP syncs the catalog and serves MCP tools on stdin/stdout.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, logger, err := newApplication(os.Stderr, opts)
	if err != nil {
		return err
	}
	c, err := app.open(logger, nil)
	if err != nil {
		return err
	}
	defer c.close()

	if _, err := c.sync(ctx, logger); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	logger.Info("MCP server starting on stdio")
	return mcpserver.New(c.db, c.assets).ServeStdio()
}
