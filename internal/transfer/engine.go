// Package transfer copies batches of files in fixed-size chunks with
// byte-based progress and cooperative cancellation.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/starford/lightbox/internal/apperr"
	"github.com/starford/lightbox/internal/eventbus"
	"github.com/starford/lightbox/internal/metrics"
	"github.com/starford/lightbox/internal/storage"
)

const (
	// DefaultChunkSize is the number of bytes copied between progress checks.
	DefaultChunkSize = 1 << 20
	// PartialSuffix marks a destination file that is still being written.
	PartialSuffix = ".part"
)

var errCancelled = errors.New("transfer cancelled")

// Publisher receives progress and completion notifications.
type Publisher interface {
	Publish(topic string, data any)
}

// Revealer shows finished destination files to the user.
type Revealer interface {
	Reveal(paths []string) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithChunkSize sets the copy chunk size. Values <= 0 keep the default.
func WithChunkSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.chunkSize = n
		}
	}
}

// WithMaxConcurrent bounds how many jobs copy at once. Zero means unbounded.
func WithMaxConcurrent(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithPublisher sets where progress events are sent.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.pub = p }
}

// WithRevealer sets the collaborator notified with the destination paths of
// completed jobs.
func WithRevealer(r Revealer) Option {
	return func(e *Engine) { e.reveal = r }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// Engine runs transfer jobs and keeps a registry of them until released.
type Engine struct {
	store     storage.Provider
	chunkSize int
	sem       *semaphore.Weighted
	pub       Publisher
	reveal    Revealer
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	jobs map[string]*job
}

// NewEngine creates an Engine over store.
func NewEngine(store storage.Provider, opts ...Option) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		store:     store,
		chunkSize: DefaultChunkSize,
		logger:    slog.Default(),
		ctx:       ctx,
		cancel:    cancel,
		jobs:      make(map[string]*job),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Submit starts copying sources into destination and returns immediately.
// An empty source list completes at once with progress 100.
func (e *Engine) Submit(sources []string, destination string) *Handle {
	j := newJob(e.ctx, uuid.NewString(), sources, destination)

	e.mu.Lock()
	e.jobs[j.id] = j
	e.mu.Unlock()

	e.logger.Info("transfer: submitted",
		slog.String("job", j.id),
		slog.Int("files", len(sources)),
		slog.String("destination", destination),
	)

	if len(sources) == 0 {
		e.report(j, 100)
		e.finish(j, StateCompleted, nil)
		return &Handle{j: j}
	}

	e.wg.Add(1)
	go e.run(j)
	return &Handle{j: j}
}

// Job returns a snapshot of the job with id.
func (e *Engine) Job(id string) (Job, error) {
	j, err := e.lookup(id)
	if err != nil {
		return Job{}, err
	}
	return j.snapshot(), nil
}

// Jobs returns snapshots of every registered job, oldest first.
func (e *Engine) Jobs() []Job {
	e.mu.Lock()
	list := make([]*job, 0, len(e.jobs))
	for _, j := range e.jobs {
		list = append(list, j)
	}
	e.mu.Unlock()

	sort.Slice(list, func(a, b int) bool {
		return list[a].created.Before(list[b].created)
	})
	out := make([]Job, 0, len(list))
	for _, j := range list {
		out = append(out, j.snapshot())
	}
	return out
}

// Cancel requests cancellation of the job with id. Cancelling a finished job
// is a no-op.
func (e *Engine) Cancel(id string) error {
	j, err := e.lookup(id)
	if err != nil {
		return err
	}
	j.requestCancel()
	return nil
}

// Release drops a finished job from the registry.
func (e *Engine) Release(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	j, ok := e.jobs[id]
	if !ok {
		return fmt.Errorf("%w: job %s", apperr.ErrNotFound, id)
	}
	j.mu.Lock()
	finished := j.state.IsFinished()
	j.mu.Unlock()
	if !finished {
		return fmt.Errorf("%w: job %s is still running", apperr.ErrInvalidArgument, id)
	}
	delete(e.jobs, id)
	return nil
}

// Close cancels every running job and waits for them to stop.
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()
}

func (e *Engine) lookup(id string) (*job, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	j, ok := e.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: job %s", apperr.ErrNotFound, id)
	}
	return j, nil
}

func (e *Engine) run(j *job) {
	defer e.wg.Done()

	if e.sem != nil {
		if err := e.sem.Acquire(j.ctx, 1); err != nil {
			e.finish(j, StateCancelled, nil)
			return
		}
		defer e.sem.Release(1)
	}
	if j.isCancelled() {
		e.finish(j, StateCancelled, nil)
		return
	}

	metrics.TransferStarted()
	defer metrics.TransferStopped()

	j.mu.Lock()
	j.state = StateRunning
	j.mu.Unlock()

	// Sizes are taken once up front. A source that is already gone counts
	// as zero and is skipped when its turn comes.
	sizes := make([]int64, len(j.sources))
	var total int64
	for i, src := range j.sources {
		n, err := e.store.Size(src)
		if err != nil {
			sizes[i] = -1
			continue
		}
		sizes[i] = n
		total += n
	}
	j.mu.Lock()
	j.bytesTotal = total
	p := j.percentLocked()
	j.mu.Unlock()
	if p == 100 {
		e.report(j, 100)
	} else {
		e.report(j, 0)
	}

	buf := make([]byte, e.chunkSize)
	taken := make(map[string]struct{}, len(j.sources))
	for i, src := range j.sources {
		if j.isCancelled() {
			e.finish(j, StateCancelled, nil)
			return
		}
		if sizes[i] < 0 {
			e.skip(j, src, 0)
			continue
		}

		dst, err := e.copyFile(j, src, e.destFor(j.destination, src, taken), buf)
		switch {
		case errors.Is(err, errCancelled):
			e.finish(j, StateCancelled, nil)
			return
		case errors.Is(err, apperr.ErrSourceMissing):
			e.skip(j, src, sizes[i])
			continue
		case err != nil:
			e.finish(j, StateFailed, err)
			return
		}

		taken[dst] = struct{}{}
		j.mu.Lock()
		j.destPaths = append(j.destPaths, dst)
		j.mu.Unlock()
	}

	e.report(j, 100)
	e.finish(j, StateCompleted, nil)
}

// destFor picks the destination for src: its base name in dir, or
// "name (N).ext" when that name was already written by this job or exists
// on disk. Existing files are never replaced.
func (e *Engine) destFor(dir, src string, taken map[string]struct{}) string {
	base := filepath.Base(src)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	dst := filepath.Join(dir, base)
	for n := 1; e.claimed(dst, taken); n++ {
		dst = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, n, ext))
	}
	return dst
}

func (e *Engine) claimed(dst string, taken map[string]struct{}) bool {
	if _, ok := taken[dst]; ok {
		return true
	}
	return e.store.Exists(dst) || e.store.Exists(dst+PartialSuffix)
}

// copyFile writes src to dst.part and renames it into place. The partial
// file is removed on every error path.
func (e *Engine) copyFile(j *job, src, dst string, buf []byte) (string, error) {
	part := dst + PartialSuffix

	in, err := e.store.Open(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", apperr.ErrSourceMissing, src)
		}
		return "", fmt.Errorf("transfer: open %s: %w", src, err)
	}
	defer in.Close()

	out, err := e.store.Create(part)
	if err != nil {
		return "", fmt.Errorf("transfer: create %s: %w", part, err)
	}
	abort := func(cause error) (string, error) {
		_ = out.Close()
		if rmErr := e.store.Remove(part); rmErr != nil {
			e.logger.Warn("transfer: remove partial file",
				slog.String("path", part),
				slog.String("error", rmErr.Error()),
			)
		}
		return "", cause
	}

	for {
		if j.isCancelled() {
			return abort(errCancelled)
		}
		n, rerr := in.Read(buf)
		if j.isCancelled() {
			return abort(errCancelled)
		}
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return abort(fmt.Errorf("%w: write %s: %v", apperr.ErrPartialTransfer, dst, werr))
			}
			e.advance(j, int64(n))
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return abort(fmt.Errorf("%w: read %s: %v", apperr.ErrPartialTransfer, src, rerr))
		}
	}

	if err := out.Sync(); err != nil {
		return abort(fmt.Errorf("%w: sync %s: %v", apperr.ErrPartialTransfer, dst, err))
	}
	if err := out.Close(); err != nil {
		_ = e.store.Remove(part)
		return "", fmt.Errorf("%w: close %s: %v", apperr.ErrPartialTransfer, dst, err)
	}
	if err := e.store.Rename(part, dst); err != nil {
		_ = e.store.Remove(part)
		return "", fmt.Errorf("transfer: rename %s: %w", dst, err)
	}
	return dst, nil
}

func (e *Engine) advance(j *job, n int64) {
	metrics.AddTransferBytes(n)
	j.mu.Lock()
	j.bytesCopied += n
	// A file that grew after sizing must not push progress past 100.
	if j.bytesCopied > j.bytesTotal {
		j.bytesTotal = j.bytesCopied
	}
	p := j.percentLocked()
	j.mu.Unlock()
	e.report(j, p)
}

// skip records a missing source and removes what remained of its size from
// the total so the job can still reach 100.
func (e *Engine) skip(j *job, src string, size int64) {
	e.logger.Warn("transfer: source missing, skipping",
		slog.String("job", j.id),
		slog.String("path", src),
	)
	j.mu.Lock()
	j.skipped = append(j.skipped, src)
	if size > 0 {
		j.bytesTotal -= size
		if j.bytesTotal < j.bytesCopied {
			j.bytesTotal = j.bytesCopied
		}
	}
	p := j.percentLocked()
	j.mu.Unlock()
	e.report(j, p)
}

// report emits p if it is larger than anything emitted so far.
func (e *Engine) report(j *job, p int) {
	j.mu.Lock()
	if p <= j.lastPercent {
		j.mu.Unlock()
		return
	}
	j.lastPercent = p
	j.mu.Unlock()

	select {
	case j.progress <- p:
	default:
	}
	if e.pub != nil {
		e.pub.Publish(eventbus.TopicTransferProgress, eventbus.TransferProgress{
			JobID:   j.id,
			Percent: p,
		})
	}
}

func (e *Engine) finish(j *job, state State, err error) {
	j.mu.Lock()
	j.state = state
	j.err = err
	j.finished = time.Now()
	dests := append([]string(nil), j.destPaths...)
	skipped := append([]string(nil), j.skipped...)
	copied := j.bytesCopied
	j.mu.Unlock()

	close(j.progress)
	close(j.done)
	j.cancel()

	metrics.RecordTransferFinished(state.String())

	attrs := []any{
		slog.String("job", j.id),
		slog.String("state", state.String()),
		slog.Int("written", len(dests)),
		slog.Int("skipped", len(skipped)),
		slog.Int64("bytes", copied),
	}
	if err != nil {
		e.logger.Error("transfer: finished", append(attrs, slog.String("error", err.Error()))...)
	} else {
		e.logger.Info("transfer: finished", attrs...)
	}

	if e.pub != nil {
		ev := eventbus.TransferFinished{
			JobID:     j.id,
			State:     state.String(),
			DestPaths: dests,
			Skipped:   skipped,
		}
		if err != nil {
			ev.Error = err.Error()
		}
		e.pub.Publish(eventbus.TopicTransferFinished, ev)
	}

	if state == StateCompleted && e.reveal != nil && len(dests) > 0 {
		if rerr := e.reveal.Reveal(dests); rerr != nil {
			e.logger.Warn("transfer: reveal failed",
				slog.String("job", j.id),
				slog.String("error", rerr.Error()),
			)
		}
	}
}
