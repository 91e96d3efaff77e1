// Package index provides the SQLite-backed asset catalog: paged queries
// grouped by capture month, stored thumbnails, and filesystem sync.
package index

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS assets (
	path          TEXT PRIMARY KEY,
	collection    TEXT NOT NULL DEFAULT '',
	name          TEXT NOT NULL DEFAULT '',
	ext           TEXT NOT NULL DEFAULT '',
	captured_unix INTEGER NOT NULL DEFAULT 0,
	date_bucket   TEXT NOT NULL DEFAULT '',
	fingerprint   TEXT NOT NULL DEFAULT '',
	thumbnail     BLOB,
	indexed_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_assets_collection ON assets(collection);
CREATE INDEX IF NOT EXISTS idx_assets_captured ON assets(captured_unix DESC, path);
`

// DB wraps a sql.DB with catalog operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
