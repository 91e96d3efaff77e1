package assetservice

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/lightbox/internal/apperr"
	"github.com/starford/lightbox/internal/resolver"
	"github.com/starford/lightbox/internal/storage"
	"github.com/starford/lightbox/internal/transfer"
)

type recordingRevealer struct {
	paths []string
}

func (r *recordingRevealer) Reveal(paths []string) error {
	r.paths = append(r.paths, paths...)
	return nil
}

type env struct {
	root string
	dest string
	svc  *Service
	rev  *recordingRevealer
}

func write(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newEnv(t *testing.T, reachable bool) *env {
	t.Helper()
	root := t.TempDir()
	store := storage.NewFS()
	engine := transfer.NewEngine(store)
	t.Cleanup(engine.Close)
	rev := &recordingRevealer{}
	svc := NewService(Deps{
		Root:     root,
		Store:    store,
		Reach:    storage.Always(reachable),
		Resolver: resolver.New(store, func() []string { return []string{root} }),
		Engine:   engine,
		Revealer: rev,
	})
	return &env{root: root, dest: t.TempDir(), svc: svc, rev: rev}
}

func waitJob(t *testing.T, h *transfer.Handle) transfer.Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := h.Wait(ctx)
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func TestSaveCopiesPreviews(t *testing.T) {
	e := newEnv(t, true)
	a := filepath.Join(e.root, "trips", "a.jpg")
	write(t, a, "aaaa")

	res, err := e.svc.Save(context.Background(), SaveRequest{Paths: []string{a}, Destination: e.dest})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	out := waitJob(t, res.Handle)
	if out.State != transfer.StateCompleted || len(out.DestPaths) != 1 {
		t.Fatalf("result = %+v", out)
	}
	if data, _ := os.ReadFile(filepath.Join(e.dest, "a.jpg")); string(data) != "aaaa" {
		t.Errorf("copied content = %q", data)
	}
}

func TestSaveLayeredResolvesFirst(t *testing.T) {
	e := newEnv(t, true)
	a := filepath.Join(e.root, "trips", "a.jpg")
	b := filepath.Join(e.root, "trips", "b.jpg")
	write(t, a, "preview")
	write(t, b, "preview")
	write(t, filepath.Join(e.root, "trips", "layered", "b.psd"), "master")

	res, err := e.svc.Save(context.Background(), SaveRequest{
		Paths:       []string{a, b},
		Destination: e.dest,
		Layered:     true,
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if len(res.Missing) != 1 || res.Missing[0] != a {
		t.Errorf("Missing = %v", res.Missing)
	}
	out := waitJob(t, res.Handle)
	if len(out.DestPaths) != 1 || filepath.Base(out.DestPaths[0]) != "b.psd" {
		t.Errorf("DestPaths = %v", out.DestPaths)
	}
}

func TestSaveErrors(t *testing.T) {
	ctx := context.Background()

	e := newEnv(t, true)
	a := filepath.Join(e.root, "a.jpg")
	write(t, a, "x")

	if _, err := e.svc.Save(ctx, SaveRequest{Destination: e.dest}); !errors.Is(err, apperr.ErrNothingSubmitted) {
		t.Errorf("empty: %v", err)
	}
	if _, err := e.svc.Save(ctx, SaveRequest{Paths: []string{a}}); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("no destination: %v", err)
	}
	if _, err := e.svc.Save(ctx, SaveRequest{Paths: []string{"/etc/passwd"}, Destination: e.dest}); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("outside root: %v", err)
	}
	if _, err := e.svc.Save(ctx, SaveRequest{Paths: []string{a}, Destination: e.dest, Layered: true}); !errors.Is(err, apperr.ErrNothingResolved) {
		t.Errorf("nothing resolved: %v", err)
	}

	down := newEnv(t, false)
	b := filepath.Join(down.root, "b.jpg")
	write(t, b, "x")
	if _, err := down.svc.Save(ctx, SaveRequest{Paths: []string{b}, Destination: down.dest}); !errors.Is(err, apperr.ErrNotReachable) {
		t.Errorf("unreachable: %v", err)
	}
	if jobs := down.svc.Engine().Jobs(); len(jobs) != 0 {
		t.Errorf("no job should be submitted when unreachable, got %d", len(jobs))
	}
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, true)
	a := filepath.Join(e.root, "c", "a.jpg")
	write(t, a, "x")
	write(t, filepath.Join(e.root, "c", "layered", "a.tif"), "m")

	batch, err := e.svc.Resolve(ctx, []string{a})
	if err != nil {
		t.Fatal(err)
	}
	if found := batch.Found(); len(found) != 1 || filepath.Base(found[0]) != "a.tif" {
		t.Errorf("found = %v", found)
	}

	if _, err := e.svc.Resolve(ctx, nil); !errors.Is(err, apperr.ErrNothingSubmitted) {
		t.Errorf("empty: %v", err)
	}
	down := newEnv(t, false)
	if _, err := down.svc.Resolve(ctx, []string{filepath.Join(down.root, "x.jpg")}); !errors.Is(err, apperr.ErrNotReachable) {
		t.Errorf("unreachable: %v", err)
	}
}

func TestRevealSkipsMissing(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, true)
	a := filepath.Join(e.dest, "a.jpg")
	write(t, a, "x")
	gone := filepath.Join(e.dest, "gone.jpg")

	got, err := e.svc.Reveal(ctx, []string{a, gone})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != a || len(e.rev.paths) != 1 {
		t.Errorf("revealed %v (recorded %v)", got, e.rev.paths)
	}

	if _, err := e.svc.Reveal(ctx, []string{gone}); !errors.Is(err, apperr.ErrSourceMissing) {
		t.Errorf("all missing: %v", err)
	}
	if _, err := e.svc.Reveal(ctx, nil); !errors.Is(err, apperr.ErrNothingSubmitted) {
		t.Errorf("empty: %v", err)
	}
}
