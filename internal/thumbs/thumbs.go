// Package thumbs decodes source images into thumbnails and previews.
package thumbs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"

	"github.com/starford/lightbox/internal/apperr"
	"github.com/starford/lightbox/internal/storage"
)

const (
	DefaultThumbSize  = 200
	DefaultPreviewMax = 2048
	JPEGQuality       = 82
)

// indexedExtensions are preview formats imaging can decode.
var indexedExtensions = []string{".jpg", ".jpeg", ".png"}

// IsImageFile reports whether name has an indexed preview extension.
func IsImageFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range indexedExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// BlobSource returns a stored thumbnail blob for an asset path.
type BlobSource interface {
	Thumbnail(ctx context.Context, path string) ([]byte, error)
}

// Decoder turns asset paths into decoded images. It is safe for concurrent use.
type Decoder struct {
	store      storage.Provider
	blobs      BlobSource
	thumbSize  int
	previewMax int
}

// NewDecoder creates a decoder. blobs may be nil, in which case thumbnails are
// always produced from the source file.
func NewDecoder(store storage.Provider, blobs BlobSource, thumbSize, previewMax int) *Decoder {
	if thumbSize <= 0 {
		thumbSize = DefaultThumbSize
	}
	if previewMax <= 0 {
		previewMax = DefaultPreviewMax
	}
	return &Decoder{store: store, blobs: blobs, thumbSize: thumbSize, previewMax: previewMax}
}

// Thumbnail decodes the stored thumbnail blob for path, falling back to the
// source file when no blob exists.
func (d *Decoder) Thumbnail(ctx context.Context, path string) (image.Image, error) {
	if d.blobs != nil {
		blob, err := d.blobs.Thumbnail(ctx, path)
		if err == nil && len(blob) > 0 {
			img, decErr := imaging.Decode(bytes.NewReader(blob))
			if decErr == nil {
				return img, nil
			}
		}
	}
	img, err := d.decodeSource(path)
	if err != nil {
		return nil, err
	}
	return imaging.Fit(img, d.thumbSize, d.thumbSize, imaging.Lanczos), nil
}

// Full decodes the source file for the viewer, scaled down to fit the
// configured preview edge.
func (d *Decoder) Full(_ context.Context, path string) (image.Image, error) {
	img, err := d.decodeSource(path)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	if b.Dx() > d.previewMax || b.Dy() > d.previewMax {
		img = imaging.Fit(img, d.previewMax, d.previewMax, imaging.Lanczos)
	}
	return img, nil
}

func (d *Decoder) decodeSource(path string) (image.Image, error) {
	r, err := d.store.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", apperr.ErrSourceMissing, path)
		}
		return nil, err
	}
	defer r.Close()
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", apperr.ErrDecodeFailure, path, err)
	}
	return img, nil
}

// Generate decodes data, applies EXIF orientation and returns a JPEG
// thumbnail fitting within size x size.
func Generate(data []byte, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultThumbSize
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrDecodeFailure, err)
	}
	return EncodeJPEG(imaging.Fit(img, size, size, imaging.Lanczos))
}

// EncodeJPEG encodes img as JPEG.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CaptureDate extracts the EXIF capture time. ok is false when the image has
// no usable EXIF date.
func CaptureDate(r io.Reader) (t time.Time, ok bool) {
	x, err := exif.Decode(r)
	if err != nil {
		return time.Time{}, false
	}
	dt, err := x.DateTime()
	if err != nil || dt.IsZero() {
		return time.Time{}, false
	}
	return dt, true
}

// IsDecodeFailure reports whether err came from a failed decode.
func IsDecodeFailure(err error) bool {
	return errors.Is(err, apperr.ErrDecodeFailure)
}
