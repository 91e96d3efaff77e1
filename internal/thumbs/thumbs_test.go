package thumbs

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/lightbox/internal/apperr"
	"github.com/starford/lightbox/internal/storage"
)

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

type blobMap map[string][]byte

func (m blobMap) Thumbnail(_ context.Context, path string) ([]byte, error) {
	b, ok := m[path]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return b, nil
}

func TestIsImageFile(t *testing.T) {
	cases := map[string]bool{
		"a.jpg": true, "B.JPEG": true, "c.png": true,
		"d.tif": false, "e.psd": false, "notes.txt": false,
	}
	for name, want := range cases {
		if got := IsImageFile(name); got != want {
			t.Errorf("IsImageFile(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestGenerateFitsWithinSize(t *testing.T) {
	out, err := Generate(jpegBytes(t, 800, 400), 200)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode thumbnail: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 200 || b.Dy() != 100 {
		t.Errorf("thumbnail = %dx%d, want 200x100", b.Dx(), b.Dy())
	}
}

func TestGenerateRejectsGarbage(t *testing.T) {
	_, err := Generate([]byte("not an image"), 100)
	if !errors.Is(err, apperr.ErrDecodeFailure) {
		t.Errorf("err = %v, want ErrDecodeFailure", err)
	}
}

func TestDecoderPrefersBlob(t *testing.T) {
	blob, err := Generate(jpegBytes(t, 400, 400), 50)
	if err != nil {
		t.Fatal(err)
	}
	d := NewDecoder(storage.NewFS(), blobMap{"/lib/a.jpg": blob}, 200, 0)

	img, err := d.Thumbnail(context.Background(), "/lib/a.jpg")
	if err != nil {
		t.Fatalf("Thumbnail: %v", err)
	}
	if img.Bounds().Dx() != 50 {
		t.Errorf("width = %d, want blob width 50", img.Bounds().Dx())
	}
}

func TestDecoderFallsBackToSource(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.jpg")
	if err := os.WriteFile(p, jpegBytes(t, 600, 300), 0o644); err != nil {
		t.Fatal(err)
	}
	d := NewDecoder(storage.NewFS(), blobMap{}, 100, 400)

	thumb, err := d.Thumbnail(context.Background(), p)
	if err != nil {
		t.Fatalf("Thumbnail: %v", err)
	}
	if thumb.Bounds().Dx() != 100 {
		t.Errorf("thumb width = %d, want 100", thumb.Bounds().Dx())
	}

	full, err := d.Full(context.Background(), p)
	if err != nil {
		t.Fatalf("Full: %v", err)
	}
	if full.Bounds().Dx() != 400 {
		t.Errorf("preview width = %d, want 400", full.Bounds().Dx())
	}
}

func TestDecoderReportsDecodeFailure(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "broken.jpg")
	_ = os.WriteFile(p, []byte("garbage"), 0o644)
	d := NewDecoder(storage.NewFS(), nil, 0, 0)

	if _, err := d.Thumbnail(context.Background(), p); !IsDecodeFailure(err) {
		t.Errorf("err = %v, want decode failure", err)
	}
	if _, err := d.Thumbnail(context.Background(), filepath.Join(dir, "missing.jpg")); !errors.Is(err, apperr.ErrSourceMissing) {
		t.Errorf("missing file err = %v, want ErrSourceMissing", err)
	}
}

func TestCaptureDateWithoutExif(t *testing.T) {
	if _, ok := CaptureDate(bytes.NewReader(jpegBytes(t, 10, 10))); ok {
		t.Error("plain JPEG should have no capture date")
	}
}
