package transfer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/starford/lightbox/internal/apperr"
	"github.com/starford/lightbox/internal/eventbus"
	"github.com/starford/lightbox/internal/storage"
)

func writeSource(t *testing.T, dir, name string, size int) string {
	t.Helper()
	p := filepath.Join(dir, name)
	data := bytes.Repeat([]byte{byte(len(name))}, size)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func drain(t *testing.T, h *Handle) []int {
	t.Helper()
	var got []int
	timeout := time.After(5 * time.Second)
	for {
		select {
		case p, ok := <-h.Progress():
			if !ok {
				return got
			}
			got = append(got, p)
		case <-timeout:
			t.Fatal("timeout waiting for progress to close")
		}
	}
}

func wait(t *testing.T, h *Handle) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	return res
}

func assertNoPartials(t *testing.T, dir string) {
	t.Helper()
	matches, _ := filepath.Glob(filepath.Join(dir, "*"+PartialSuffix))
	if len(matches) != 0 {
		t.Errorf("partial files left behind: %v", matches)
	}
}

// blockingStore holds Open of one path until release is closed.
type blockingStore struct {
	*storage.FS
	blockOn string
	opened  chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingStore(path string) *blockingStore {
	return &blockingStore{
		FS:      storage.NewFS(),
		blockOn: path,
		opened:  make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (s *blockingStore) Open(path string) (io.ReadCloser, error) {
	if path == s.blockOn {
		s.once.Do(func() { close(s.opened) })
		<-s.release
	}
	return s.FS.Open(path)
}

// stallingStore lets the first read of a file through and holds the second
// until release is closed, so a job can be cancelled mid-file.
type stallingStore struct {
	*storage.FS
	midway  chan struct{}
	release chan struct{}
}

func newStallingStore() *stallingStore {
	return &stallingStore{
		FS:      storage.NewFS(),
		midway:  make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (s *stallingStore) Open(path string) (io.ReadCloser, error) {
	rc, err := s.FS.Open(path)
	if err != nil {
		return nil, err
	}
	return &stallingReader{ReadCloser: rc, store: s}, nil
}

type stallingReader struct {
	io.ReadCloser
	store *stallingStore
	reads int
}

func (r *stallingReader) Read(p []byte) (int, error) {
	r.reads++
	if r.reads == 2 {
		close(r.store.midway)
		<-r.store.release
	}
	return r.ReadCloser.Read(p)
}

type failingRenameStore struct {
	*storage.FS
}

func (failingRenameStore) Rename(string, string) error {
	return errors.New("disk full")
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *recordingPublisher) Publish(topic string, data any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventbus.Event{Topic: topic, Data: data})
}

func (p *recordingPublisher) snapshot() []eventbus.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]eventbus.Event(nil), p.events...)
}

type recordingRevealer struct {
	mu    sync.Mutex
	paths []string
}

func (r *recordingRevealer) Reveal(paths []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, paths...)
	return nil
}

func TestProgressIsMonotonicAndEndsAt100(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	sources := []string{
		writeSource(t, src, "a.jpg", 3000),
		writeSource(t, src, "b.jpg", 5000),
		writeSource(t, src, "empty.jpg", 0),
	}

	e := NewEngine(storage.NewFS(), WithChunkSize(1024))
	defer e.Close()

	h := e.Submit(sources, dst)
	progress := drain(t, h)
	res := wait(t, h)

	if res.State != StateCompleted {
		t.Fatalf("state = %s, want Completed (err %v)", res.State, res.Err)
	}
	if len(progress) == 0 {
		t.Fatal("no progress reported")
	}
	if progress[0] != 0 {
		t.Errorf("first progress = %d, want 0", progress[0])
	}
	if last := progress[len(progress)-1]; last != 100 {
		t.Errorf("last progress = %d, want 100", last)
	}
	for i := 1; i < len(progress); i++ {
		if progress[i] <= progress[i-1] {
			t.Fatalf("progress not increasing at %d: %v", i, progress)
		}
	}
	if res.BytesCopied != 8000 {
		t.Errorf("BytesCopied = %d, want 8000", res.BytesCopied)
	}
	if len(res.DestPaths) != 3 {
		t.Fatalf("DestPaths = %v", res.DestPaths)
	}
	for i, s := range sources {
		want, _ := os.ReadFile(s)
		got, err := os.ReadFile(res.DestPaths[i])
		if err != nil {
			t.Fatalf("read dest: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("%s content mismatch", res.DestPaths[i])
		}
	}
	assertNoPartials(t, dst)
}

func TestEmptySourcesCompleteImmediately(t *testing.T) {
	e := NewEngine(storage.NewFS())
	defer e.Close()

	h := e.Submit(nil, t.TempDir())
	select {
	case <-h.Done():
	default:
		t.Fatal("empty job should be done on return")
	}
	progress := drain(t, h)
	if len(progress) != 1 || progress[0] != 100 {
		t.Errorf("progress = %v, want [100]", progress)
	}
	res := wait(t, h)
	if res.State != StateCompleted {
		t.Errorf("state = %s", res.State)
	}
	if res.DestPaths == nil || len(res.DestPaths) != 0 {
		t.Errorf("DestPaths = %#v, want empty non-nil", res.DestPaths)
	}
}

func TestCancelAfterFirstFileKeepsOnlyFirst(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	first := writeSource(t, src, "one.jpg", 10_000)
	second := writeSource(t, src, "two.jpg", 10_000)

	store := newBlockingStore(second)
	e := NewEngine(store, WithChunkSize(4096))
	defer e.Close()

	h := e.Submit([]string{first, second}, dst)

	select {
	case <-store.opened:
	case <-time.After(5 * time.Second):
		t.Fatal("second file never opened")
	}
	h.Cancel()
	close(store.release)

	res := wait(t, h)
	if res.State != StateCancelled {
		t.Fatalf("state = %s, want Cancelled", res.State)
	}
	if res.BytesCopied != 10_000 {
		t.Errorf("BytesCopied = %d, want 10000", res.BytesCopied)
	}
	if _, err := os.Stat(filepath.Join(dst, "one.jpg")); err != nil {
		t.Errorf("first file should exist: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dst, "two.jpg")); !os.IsNotExist(err) {
		t.Errorf("second file should not exist, stat err = %v", err)
	}
	assertNoPartials(t, dst)

	progress := drain(t, h)
	for _, p := range progress {
		if p > 50 {
			t.Errorf("progress %d reported past the cancelled file", p)
		}
	}
}

func TestCancelMidFileRemovesPartial(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	big := writeSource(t, src, "big.tif", 8192)

	store := newStallingStore()
	e := NewEngine(store, WithChunkSize(1024))
	defer e.Close()

	h := e.Submit([]string{big}, dst)

	select {
	case <-store.midway:
	case <-time.After(5 * time.Second):
		t.Fatal("copy never reached the second chunk")
	}
	if _, err := os.Stat(filepath.Join(dst, "big.tif"+PartialSuffix)); err != nil {
		t.Fatalf("partial file should exist mid-copy: %v", err)
	}
	h.Cancel()
	close(store.release)

	res := wait(t, h)
	if res.State != StateCancelled {
		t.Fatalf("state = %s, want Cancelled", res.State)
	}
	if res.BytesCopied != 1024 {
		t.Errorf("BytesCopied = %d, want 1024", res.BytesCopied)
	}
	if len(res.DestPaths) != 0 {
		t.Errorf("DestPaths = %v, want none", res.DestPaths)
	}

	// Done is closed, so only values buffered before it remain.
	progress := drain(t, h)
	if want := []int{0, 12}; len(progress) != len(want) || progress[0] != want[0] || progress[1] != want[1] {
		t.Errorf("progress = %v, want %v", progress, want)
	}
	if p := h.Snapshot().Percent; p != 12 {
		t.Errorf("percent after cancel = %d, want 12", p)
	}

	entries, err := os.ReadDir(dst)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("destination should be empty, found %d entries", len(entries))
	}
}

func TestSameNameSourcesGetDistinctDestinations(t *testing.T) {
	root := t.TempDir()
	dst := t.TempDir()
	var sources []string
	for _, col := range []string{"a", "b", "c"} {
		p := filepath.Join(root, col, "IMG_1.jpg")
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("from "+col), 0o644); err != nil {
			t.Fatal(err)
		}
		sources = append(sources, p)
	}
	// A file already in the destination is never replaced.
	if err := os.WriteFile(filepath.Join(dst, "IMG_1 (1).jpg"), []byte("keep"), 0o644); err != nil {
		t.Fatal(err)
	}

	e := NewEngine(storage.NewFS())
	defer e.Close()

	res := wait(t, e.Submit(sources, dst))
	if res.State != StateCompleted {
		t.Fatalf("state = %s, want Completed", res.State)
	}
	want := []string{
		filepath.Join(dst, "IMG_1.jpg"),
		filepath.Join(dst, "IMG_1 (2).jpg"),
		filepath.Join(dst, "IMG_1 (3).jpg"),
	}
	if len(res.DestPaths) != len(want) {
		t.Fatalf("DestPaths = %v, want %v", res.DestPaths, want)
	}
	for i, p := range want {
		if res.DestPaths[i] != p {
			t.Errorf("DestPaths[%d] = %s, want %s", i, res.DestPaths[i], p)
		}
		data, err := os.ReadFile(p)
		if err != nil {
			t.Errorf("read %s: %v", p, err)
			continue
		}
		if wantData := "from " + []string{"a", "b", "c"}[i]; string(data) != wantData {
			t.Errorf("%s = %q, want %q", p, data, wantData)
		}
	}
	if data, _ := os.ReadFile(filepath.Join(dst, "IMG_1 (1).jpg")); string(data) != "keep" {
		t.Errorf("existing file was overwritten: %q", data)
	}
}

func TestMissingSourceIsSkipped(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	a := writeSource(t, src, "a.jpg", 2000)
	c := writeSource(t, src, "c.jpg", 2000)
	missing := filepath.Join(src, "gone.jpg")

	e := NewEngine(storage.NewFS(), WithChunkSize(512))
	defer e.Close()

	h := e.Submit([]string{a, missing, c}, dst)
	progress := drain(t, h)
	res := wait(t, h)

	if res.State != StateCompleted {
		t.Fatalf("state = %s, want Completed", res.State)
	}
	if len(res.Skipped) != 1 || res.Skipped[0] != missing {
		t.Errorf("Skipped = %v", res.Skipped)
	}
	if len(res.DestPaths) != 2 {
		t.Errorf("DestPaths = %v", res.DestPaths)
	}
	if progress[len(progress)-1] != 100 {
		t.Errorf("last progress = %d", progress[len(progress)-1])
	}
}

func TestFailureRemovesPartialFile(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	a := writeSource(t, src, "a.jpg", 3000)

	e := NewEngine(failingRenameStore{storage.NewFS()})
	defer e.Close()

	res := wait(t, e.Submit([]string{a}, dst))
	if res.State != StateFailed {
		t.Fatalf("state = %s, want Failed", res.State)
	}
	if res.Err == nil {
		t.Error("expected an error")
	}
	assertNoPartials(t, dst)
	if _, err := os.Stat(filepath.Join(dst, "a.jpg")); !os.IsNotExist(err) {
		t.Errorf("destination should not exist, stat err = %v", err)
	}
}

func TestConcurrentJobsAreIndependent(t *testing.T) {
	src := t.TempDir()
	e := NewEngine(storage.NewFS(), WithChunkSize(256))
	defer e.Close()

	var handles []*Handle
	for i := 0; i < 4; i++ {
		name := string(rune('a'+i)) + ".jpg"
		s := writeSource(t, src, name, 1000*(i+1))
		handles = append(handles, e.Submit([]string{s}, t.TempDir()))
	}

	for i, h := range handles {
		res := wait(t, h)
		if res.State != StateCompleted {
			t.Errorf("job %d: state = %s", i, res.State)
		}
		if res.BytesCopied != int64(1000*(i+1)) {
			t.Errorf("job %d: BytesCopied = %d", i, res.BytesCopied)
		}
	}
	if got := len(e.Jobs()); got != 4 {
		t.Errorf("Jobs = %d, want 4", got)
	}
}

func TestCancelPendingJobUnderConcurrencyLimit(t *testing.T) {
	src := t.TempDir()
	a := writeSource(t, src, "a.jpg", 100)
	b := writeSource(t, src, "b.jpg", 100)

	store := newBlockingStore(a)
	e := NewEngine(store, WithMaxConcurrent(1))
	defer e.Close()

	first := e.Submit([]string{a}, t.TempDir())
	<-store.opened
	second := e.Submit([]string{b}, t.TempDir())

	if st := second.Snapshot().State; st != StatePending {
		t.Fatalf("second state = %s, want Pending", st)
	}
	if err := e.Cancel(second.ID()); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if res := wait(t, second); res.State != StateCancelled {
		t.Errorf("second state = %s, want Cancelled", res.State)
	}

	close(store.release)
	if res := wait(t, first); res.State != StateCompleted {
		t.Errorf("first state = %s, want Completed", res.State)
	}
}

func TestReleaseOnlyFinishedJobs(t *testing.T) {
	src := t.TempDir()
	a := writeSource(t, src, "a.jpg", 100)

	store := newBlockingStore(a)
	e := NewEngine(store)
	defer e.Close()

	h := e.Submit([]string{a}, t.TempDir())
	<-store.opened
	if err := e.Release(h.ID()); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("release running: err = %v, want ErrInvalidArgument", err)
	}
	close(store.release)
	wait(t, h)

	if err := e.Release(h.ID()); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := e.Job(h.ID()); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("job after release: err = %v, want ErrNotFound", err)
	}
	if err := e.Cancel("nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("cancel unknown: err = %v", err)
	}
}

func TestCompletionEventsAndReveal(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	a := writeSource(t, src, "a.jpg", 4096)

	pub := &recordingPublisher{}
	rev := &recordingRevealer{}
	e := NewEngine(storage.NewFS(), WithChunkSize(1024), WithPublisher(pub), WithRevealer(rev))
	defer e.Close()

	res := wait(t, e.Submit([]string{a}, dst))
	if res.State != StateCompleted {
		t.Fatalf("state = %s", res.State)
	}

	events := pub.snapshot()
	if len(events) < 2 {
		t.Fatalf("events = %d", len(events))
	}
	last := events[len(events)-1]
	if last.Topic != eventbus.TopicTransferFinished {
		t.Fatalf("last topic = %s", last.Topic)
	}
	fin := last.Data.(eventbus.TransferFinished)
	if fin.State != "Completed" || len(fin.DestPaths) != 1 {
		t.Errorf("finished payload = %+v", fin)
	}
	prev := -1
	for _, ev := range events[:len(events)-1] {
		p := ev.Data.(eventbus.TransferProgress).Percent
		if p <= prev {
			t.Errorf("progress events not increasing: %d after %d", p, prev)
		}
		prev = p
	}

	rev.mu.Lock()
	defer rev.mu.Unlock()
	if len(rev.paths) != 1 || rev.paths[0] != filepath.Join(dst, "a.jpg") {
		t.Errorf("revealed = %v", rev.paths)
	}
}
