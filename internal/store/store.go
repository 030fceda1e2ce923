// Package store persists call records in SQLite.
package store

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// ErrRecordNotFound is returned when no call record has the given id.
var ErrRecordNotFound = errors.New("call record not found")

const schema = `
CREATE TABLE IF NOT EXISTS calls (
	id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	storage_path TEXT NOT NULL,
	transcript TEXT NOT NULL DEFAULT '',
	summary TEXT NOT NULL DEFAULT '',
	tags TEXT NOT NULL DEFAULT '[]',
	tags_original TEXT NOT NULL DEFAULT '[]',
	tags_override TEXT,
	roles TEXT NOT NULL DEFAULT '{}',
	emotions TEXT NOT NULL DEFAULT '[]',
	intent TEXT NOT NULL DEFAULT '',
	mood TEXT NOT NULL DEFAULT '',
	insights TEXT NOT NULL DEFAULT '[]',
	upload_timestamp REAL NOT NULL,
	created_at REAL NOT NULL,
	updated_at REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_calls_upload_timestamp ON calls(upload_timestamp DESC);
`

// Store provides access to the call record database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path with WAL enabled.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer at a time; SQLite serializes writes anyway, and a
	// single connection keeps concurrent pipelines queueing on the
	// pool instead of tripping SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
