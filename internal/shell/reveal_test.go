package shell

import (
	"errors"
	"log/slog"
	"reflect"
	"testing"
)

func TestCommand(t *testing.T) {
	paths := []string{"/out/a.jpg", "/out/b.jpg"}
	cases := []struct {
		goos string
		name string
		args []string
	}{
		{"darwin", "open", []string{"-R", "/out/a.jpg", "/out/b.jpg"}},
		{"windows", "explorer", []string{"/select,/out/a.jpg"}},
		{"linux", "xdg-open", []string{"/out"}},
	}
	for _, tc := range cases {
		t.Run(tc.goos, func(t *testing.T) {
			name, args, err := Command(tc.goos, paths)
			if err != nil {
				t.Fatalf("Command: %v", err)
			}
			if name != tc.name || !reflect.DeepEqual(args, tc.args) {
				t.Errorf("got %s %v, want %s %v", name, args, tc.name, tc.args)
			}
		})
	}
}

func TestCommandErrors(t *testing.T) {
	if _, _, err := Command("linux", nil); err == nil {
		t.Error("expected error for empty paths")
	}
	if _, _, err := Command("plan9", []string{"/a"}); !errors.Is(err, ErrUnsupportedOS) {
		t.Errorf("err = %v, want ErrUnsupportedOS", err)
	}
}

func TestOSRevealerStartsCommand(t *testing.T) {
	var gotName string
	var gotArgs []string
	r := &OSRevealer{
		goos:   "darwin",
		logger: slog.Default(),
		start: func(name string, args ...string) error {
			gotName, gotArgs = name, args
			return nil
		},
	}
	if err := r.Reveal([]string{"/x/y.jpg"}); err != nil {
		t.Fatalf("Reveal: %v", err)
	}
	if gotName != "open" || !reflect.DeepEqual(gotArgs, []string{"-R", "/x/y.jpg"}) {
		t.Errorf("started %s %v", gotName, gotArgs)
	}

	r.start = func(string, ...string) error { return errors.New("boom") }
	if err := r.Reveal([]string{"/x/y.jpg"}); err == nil {
		t.Error("expected start error to surface")
	}
}
