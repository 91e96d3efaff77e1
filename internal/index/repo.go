package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/starford/lightbox/internal/apperr"
	"github.com/starford/lightbox/internal/models"
)

// BucketLayout formats the capture-date bucket stored with each asset.
const BucketLayout = "2006-01"

// AssetRow represents a row in the assets table.
type AssetRow struct {
	Path        string
	Collection  string
	Name        string
	Ext         string
	CapturedAt  time.Time
	Fingerprint string
}

// Record converts the row to the domain type.
func (r AssetRow) Record() models.AssetRecord {
	return models.AssetRecord{Path: r.Path, Collection: r.Collection, CapturedAt: r.CapturedAt}
}

// CollectionInfo is one collection and its asset count.
type CollectionInfo struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// UpsertAsset inserts or replaces an asset row. A nil thumbnail clears the
// stored blob.
func (db *DB) UpsertAsset(r AssetRow, thumbnail []byte) error {
	captured := r.CapturedAt.UTC()
	_, err := db.conn.Exec(`
		INSERT INTO assets (path, collection, name, ext, captured_unix, date_bucket, fingerprint, thumbnail, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			collection    = excluded.collection,
			name          = excluded.name,
			ext           = excluded.ext,
			captured_unix = excluded.captured_unix,
			date_bucket   = excluded.date_bucket,
			fingerprint   = excluded.fingerprint,
			thumbnail     = excluded.thumbnail,
			indexed_at    = excluded.indexed_at
	`, r.Path, r.Collection, r.Name, strings.ToLower(r.Ext), captured.Unix(),
		captured.Format(BucketLayout), r.Fingerprint, thumbnail, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("index: upsert asset: %w", err)
	}
	return nil
}

// DeleteAsset removes an asset.
func (db *DB) DeleteAsset(path string) error {
	if _, err := db.conn.Exec(`DELETE FROM assets WHERE path = ?`, path); err != nil {
		return fmt.Errorf("index: delete asset: %w", err)
	}
	return nil
}

// Asset returns a single asset row.
func (db *DB) Asset(path string) (*AssetRow, error) {
	var (
		r    AssetRow
		unix int64
	)
	err := db.conn.QueryRow(`
		SELECT path, collection, name, ext, captured_unix, fingerprint
		FROM assets WHERE path = ?`, path,
	).Scan(&r.Path, &r.Collection, &r.Name, &r.Ext, &unix, &r.Fingerprint)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: asset %s", apperr.ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("index: get asset: %w", err)
	}
	r.CapturedAt = time.Unix(unix, 0).UTC()
	return &r, nil
}

// AllFingerprints returns path→fingerprint for every indexed asset.
func (db *DB) AllFingerprints() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, fingerprint FROM assets`)
	if err != nil {
		return nil, fmt.Errorf("index: all fingerprints: %w", err)
	}
	defer rows.Close()

	m := make(map[string]string)
	for rows.Next() {
		var p, fp string
		if err := rows.Scan(&p, &fp); err != nil {
			return nil, err
		}
		m[p] = fp
	}
	return m, rows.Err()
}

// Thumbnail returns the stored JPEG thumbnail for path.
func (db *DB) Thumbnail(ctx context.Context, path string) ([]byte, error) {
	var blob []byte
	err := db.conn.QueryRowContext(ctx, `SELECT thumbnail FROM assets WHERE path = ?`, path).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && len(blob) == 0) {
		return nil, fmt.Errorf("%w: thumbnail %s", apperr.ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("index: get thumbnail: %w", err)
	}
	return blob, nil
}

// Collections lists collections with their asset counts, by name.
func (db *DB) Collections() ([]CollectionInfo, error) {
	rows, err := db.conn.Query(`
		SELECT collection, COUNT(*) FROM assets
		GROUP BY collection ORDER BY collection`)
	if err != nil {
		return nil, fmt.Errorf("index: collections: %w", err)
	}
	defer rows.Close()

	var out []CollectionInfo
	for rows.Next() {
		var c CollectionInfo
		if err := rows.Scan(&c.Name, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// FetchPage returns up to limit assets matching filter, newest capture first,
// grouped into consecutive month buckets.
func (db *DB) FetchPage(ctx context.Context, filter models.FilterState, limit int) ([]models.DateGroup, error) {
	if limit <= 0 {
		return nil, nil
	}
	where, args := filterClause(filter)
	q := `SELECT path, collection, captured_unix, date_bucket FROM assets` + where +
		` ORDER BY captured_unix DESC, path ASC LIMIT ?`
	args = append(args, limit)

	rows, err := db.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("index: fetch page: %w", err)
	}
	defer rows.Close()

	var groups []models.DateGroup
	for rows.Next() {
		var (
			rec    models.AssetRecord
			unix   int64
			bucket string
		)
		if err := rows.Scan(&rec.Path, &rec.Collection, &unix, &bucket); err != nil {
			return nil, err
		}
		rec.CapturedAt = time.Unix(unix, 0).UTC()
		if n := len(groups); n == 0 || groups[n-1].Key != bucket {
			groups = append(groups, models.DateGroup{Key: bucket})
		}
		last := &groups[len(groups)-1]
		last.Assets = append(last.Assets, rec)
	}
	return groups, rows.Err()
}

// filterClause builds the WHERE clause for filter.
func filterClause(f models.FilterState) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.Collection != "" {
		conds = append(conds, "collection = ?")
		args = append(args, f.Collection)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		like := "%" + escapeLike(strings.ToLower(s)) + "%"
		conds = append(conds, `(lower(name) LIKE ? ESCAPE '\' OR lower(path) LIKE ? ESCAPE '\')`)
		args = append(args, like, like)
	}
	if !f.From.IsZero() {
		conds = append(conds, "captured_unix >= ?")
		args = append(args, f.From.Unix())
	}
	if !f.To.IsZero() {
		conds = append(conds, "captured_unix <= ?")
		args = append(args, f.To.Unix())
	}
	if exts := kindExtensions(f.Kinds); len(exts) > 0 {
		conds = append(conds, "ext IN (?"+strings.Repeat(",?", len(exts)-1)+")")
		for _, e := range exts {
			args = append(args, e)
		}
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// kindExtensions maps filter chips such as "jpg" or ".PNG" to stored
// extensions. "jpg" and "jpeg" select each other.
func kindExtensions(kinds []string) []string {
	var out []string
	seen := map[string]bool{}
	add := func(e string) {
		if !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	for _, k := range kinds {
		k = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(k)), ".")
		if k == "" {
			continue
		}
		add("." + k)
		switch k {
		case "jpg":
			add(".jpeg")
		case "jpeg":
			add(".jpg")
		}
	}
	return out
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
