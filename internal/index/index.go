package index

import (
	"context"

	"github.com/starford/lightbox/internal/models"
)

// Catalog defines the asset catalog operations.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with mocks.
type Catalog interface {
	UpsertAsset(r AssetRow, thumbnail []byte) error
	DeleteAsset(path string) error
	Asset(path string) (*AssetRow, error)
	AllFingerprints() (map[string]string, error)
	FetchPage(ctx context.Context, filter models.FilterState, limit int) ([]models.DateGroup, error)
	Thumbnail(ctx context.Context, path string) ([]byte, error)
	Collections() ([]CollectionInfo, error)
	Close() error
}

// Verify *DB satisfies Catalog at compile time.
var _ Catalog = (*DB)(nil)
