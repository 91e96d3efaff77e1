package transfer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// State is the lifecycle state of a transfer job.
type State string

const (
	StatePending   State = "Pending"
	StateRunning   State = "Running"
	StateCompleted State = "Completed"
	StateCancelled State = "Cancelled"
	StateFailed    State = "Failed"
)

// String returns the string representation of State.
func (s State) String() string {
	return string(s)
}

// IsFinished reports whether s is terminal.
func (s State) IsFinished() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

// Job is a point-in-time snapshot of a transfer job.
type Job struct {
	ID          string    `json:"id"`
	Sources     []string  `json:"sources"`
	Destination string    `json:"destination"`
	BytesTotal  int64     `json:"bytes_total"`
	BytesCopied int64     `json:"bytes_copied"`
	Percent     int       `json:"percent"`
	State       State     `json:"state"`
	DestPaths   []string  `json:"dest_paths"`
	Skipped     []string  `json:"skipped,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	FinishedAt  time.Time `json:"finished_at,omitzero"`
}

// Result is what a finished job reports.
type Result struct {
	JobID       string
	State       State
	DestPaths   []string
	Skipped     []string
	BytesCopied int64
	Err         error
}

// job is the mutable state owned by the engine. Only the job's own goroutine
// advances progress; other goroutines read snapshots under mu.
type job struct {
	id          string
	sources     []string
	destination string
	created     time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	state       State
	bytesTotal  int64
	bytesCopied int64
	lastPercent int
	destPaths   []string
	skipped     []string
	err         error
	finished    time.Time

	cancelled atomic.Bool
	progress  chan int
	done      chan struct{}
}

func newJob(parent context.Context, id string, sources []string, destination string) *job {
	ctx, cancel := context.WithCancel(parent)
	return &job{
		id:          id,
		sources:     append([]string(nil), sources...),
		destination: destination,
		created:     time.Now(),
		ctx:         ctx,
		cancel:      cancel,
		state:       StatePending,
		lastPercent: -1,
		destPaths:   []string{},
		// Percentages are emitted only when they increase, so 0..100 fits.
		progress: make(chan int, 101),
		done:     make(chan struct{}),
	}
}

func (j *job) requestCancel() {
	j.cancelled.Store(true)
	j.cancel()
}

func (j *job) isCancelled() bool {
	return j.cancelled.Load() || j.ctx.Err() != nil
}

func (j *job) percentLocked() int {
	if j.bytesTotal <= 0 {
		return 100
	}
	p := int(j.bytesCopied * 100 / j.bytesTotal)
	if p > 100 {
		p = 100
	}
	return p
}

func (j *job) snapshot() Job {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := Job{
		ID:          j.id,
		Sources:     append([]string(nil), j.sources...),
		Destination: j.destination,
		BytesTotal:  j.bytesTotal,
		BytesCopied: j.bytesCopied,
		Percent:     max(j.lastPercent, 0),
		State:       j.state,
		DestPaths:   append([]string{}, j.destPaths...),
		Skipped:     append([]string(nil), j.skipped...),
		CreatedAt:   j.created,
		FinishedAt:  j.finished,
	}
	if j.err != nil {
		out.Error = j.err.Error()
	}
	return out
}

func (j *job) result() Result {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Result{
		JobID:       j.id,
		State:       j.state,
		DestPaths:   append([]string{}, j.destPaths...),
		Skipped:     append([]string(nil), j.skipped...),
		BytesCopied: j.bytesCopied,
		Err:         j.err,
	}
}

// Handle is the caller's view of a submitted job.
type Handle struct {
	j *job
}

// ID returns the job identifier.
func (h *Handle) ID() string {
	return h.j.id
}

// Progress yields non-decreasing percentages in [0,100]. It is closed when
// the job reaches a terminal state.
func (h *Handle) Progress() <-chan int {
	return h.j.progress
}

// Done is closed when the job reaches a terminal state.
func (h *Handle) Done() <-chan struct{} {
	return h.j.done
}

// Cancel requests cooperative cancellation. It takes effect before the next
// chunk is written.
func (h *Handle) Cancel() {
	h.j.requestCancel()
}

// Snapshot returns the current job state.
func (h *Handle) Snapshot() Job {
	return h.j.snapshot()
}

// Wait blocks until the job finishes or ctx is done.
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	select {
	case <-h.j.done:
		return h.j.result(), nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
