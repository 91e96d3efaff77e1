// Package resolver maps a preview asset to its layered master file by probing
// an ordered list of candidate roots.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/starford/lightbox/internal/apperr"
	"github.com/starford/lightbox/internal/eventbus"
	"github.com/starford/lightbox/internal/metrics"
)

// DefaultExtensions are the layered master formats probed, in order.
var DefaultExtensions = []string{".tif", ".tiff", ".psd", ".psb"}

// DefaultSuffix is the relative directory appended to each root and collection.
const DefaultSuffix = "layered"

// Prober answers existence checks against the filesystem.
type Prober interface {
	Exists(path string) bool
}

// Publisher receives one notification per finished resolve step.
type Publisher interface {
	Publish(topic string, data any)
}

// Item is one preview asset to resolve.
type Item struct {
	Path       string
	Collection string
}

// Result is the outcome of resolving one Item.
type Result struct {
	RequestID   string
	SourcePath  string
	LayeredPath string
	Found       bool
}

// BatchResult collects the outcomes of ResolveBatch in submission order.
type BatchResult struct {
	Results []Result
	Missing []string
}

// Found returns the layered paths that were resolved, in submission order.
func (b BatchResult) Found() []string {
	var out []string
	for _, r := range b.Results {
		if r.Found {
			out = append(out, r.LayeredPath)
		}
	}
	return out
}

// request is the transient state of one resolution.
type request struct {
	id         string
	item       Item
	candidates []string
	cursor     int
}

// Resolver probes candidate locations for layered files.
type Resolver struct {
	prober Prober
	roots  func() []string
	suffix string
	exts   []string
	pub    Publisher
	logger *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithSuffix overrides the relative directory appended to each candidate.
func WithSuffix(suffix string) Option {
	return func(r *Resolver) {
		r.suffix = suffix
	}
}

// WithExtensions overrides the recognized layered extensions.
func WithExtensions(exts []string) Option {
	return func(r *Resolver) {
		if len(exts) > 0 {
			r.exts = exts
		}
	}
}

// WithPublisher sets where resolveFinished events go.
func WithPublisher(p Publisher) Option {
	return func(r *Resolver) {
		r.pub = p
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = l
	}
}

// New creates a resolver. roots is consulted on every resolution so the
// candidate list can change at runtime.
func New(prober Prober, roots func() []string, opts ...Option) *Resolver {
	r := &Resolver{
		prober: prober,
		roots:  roots,
		suffix: DefaultSuffix,
		exts:   DefaultExtensions,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Candidates lists the paths probed for item, in probe order.
func (r *Resolver) Candidates(item Item) []string {
	base := filepath.Base(item.Path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	var out []string
	for _, root := range r.roots() {
		dir := filepath.Join(root, item.Collection, r.suffix)
		for _, ext := range r.exts {
			out = append(out, filepath.Join(dir, stem+ext))
		}
	}
	return out
}

// Resolve probes candidates for item in order and returns the first existing
// layered file, or apperr.ErrResolveNotFound.
func (r *Resolver) Resolve(ctx context.Context, item Item) (string, error) {
	res, err := r.run(ctx, r.newRequest(item))
	if err != nil {
		return "", err
	}
	if !res.Found {
		return "", fmt.Errorf("%w: %s", apperr.ErrResolveNotFound, item.Path)
	}
	return res.LayeredPath, nil
}

// ResolveAsync resolves item on its own goroutine. The channel yields exactly
// one Result and is then closed. Concurrent calls on the same path are not
// coalesced.
func (r *Resolver) ResolveAsync(ctx context.Context, item Item) <-chan Result {
	out := make(chan Result, 1)
	req := r.newRequest(item)
	go func() {
		defer close(out)
		res, err := r.run(ctx, req)
		if err != nil {
			res = Result{RequestID: req.id, SourcePath: item.Path}
		}
		out <- res
	}()
	return out
}

// ResolveBatch resolves items strictly one at a time: each step starts only
// after the previous one has completed. The probes share one network mount,
// so they are never fanned out. It returns apperr.ErrNothingSubmitted for an
// empty batch and apperr.ErrNothingResolved when no item matched.
func (r *Resolver) ResolveBatch(ctx context.Context, items []Item) (BatchResult, error) {
	var batch BatchResult
	if len(items) == 0 {
		return batch, apperr.ErrNothingSubmitted
	}

	for _, item := range items {
		var res Result
		select {
		case res = <-r.ResolveAsync(ctx, item):
		case <-ctx.Done():
			return batch, ctx.Err()
		}
		if ctx.Err() != nil {
			return batch, ctx.Err()
		}

		batch.Results = append(batch.Results, res)
		if !res.Found {
			batch.Missing = append(batch.Missing, item.Path)
		}
	}

	if len(batch.Missing) == len(items) {
		return batch, apperr.ErrNothingResolved
	}
	return batch, nil
}

func (r *Resolver) newRequest(item Item) *request {
	return &request{
		id:         uuid.NewString(),
		item:       item,
		candidates: r.Candidates(item),
	}
}

func (r *Resolver) run(ctx context.Context, req *request) (Result, error) {
	res := Result{RequestID: req.id, SourcePath: req.item.Path}

	for ; req.cursor < len(req.candidates); req.cursor++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		candidate := req.candidates[req.cursor]
		if r.prober.Exists(candidate) {
			res.LayeredPath = candidate
			res.Found = true
			break
		}
	}

	metrics.RecordResolve(res.Found)
	if res.Found {
		r.logger.Debug("resolver: found", slog.String("path", req.item.Path), slog.String("layered", res.LayeredPath))
	} else {
		r.logger.Debug("resolver: not found", slog.String("path", req.item.Path), slog.Int("probed", len(req.candidates)))
	}
	if r.pub != nil {
		r.pub.Publish(eventbus.TopicResolveFinished, eventbus.ResolveFinished{
			RequestID:   res.RequestID,
			SourcePath:  res.SourcePath,
			LayeredPath: res.LayeredPath,
			Found:       res.Found,
		})
	}
	return res, nil
}
