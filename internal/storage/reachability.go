package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"time"
)

// RootProbe checks that a directory can be listed within a timeout. A stalled
// network mount answers false instead of blocking the caller.
type RootProbe struct {
	root    string
	timeout time.Duration
}

// NewRootProbe creates a probe for root. A non-positive timeout defaults to 2s.
func NewRootProbe(root string, timeout time.Duration) *RootProbe {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &RootProbe{root: root, timeout: timeout}
}

// Reachable reports whether the root is an accessible directory.
func (p *RootProbe) Reachable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	result := make(chan bool, 1)
	go func() {
		info, err := os.Stat(p.root)
		if err != nil || !info.IsDir() {
			result <- false
			return
		}
		f, err := os.Open(p.root)
		if err != nil {
			result <- false
			return
		}
		defer f.Close()
		_, err = f.Readdirnames(1)
		result <- err == nil || errors.Is(err, io.EOF)
	}()

	select {
	case ok := <-result:
		return ok
	case <-ctx.Done():
		return false
	}
}

// Always is a Reachability that reports a fixed answer.
type Always bool

// Reachable returns the fixed answer.
func (a Always) Reachable(context.Context) bool {
	return bool(a)
}
