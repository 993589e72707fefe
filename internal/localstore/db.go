// Package localstore is the on-device durable store: completed trips, the
// active-trip mirror, the offline operation queue, and sync bookkeeping all
// live in a single SQLite database. No business logic lives here — only SQL
// and type mapping.
package localstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"milelog/migrations/local"
)

// Store wraps the SQLite database. All methods are safe for concurrent use;
// database/sql serialises access to the single connection SQLite allows for
// writes.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and applies
// all pending migrations. The parent directory is created when missing so a
// fresh install works with a single config value.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("localstore.Open: create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("localstore.Open: %w", err)
	}

	s, err := initialize(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenInMemory opens a private in-memory database with the full schema
// applied. Intended for tests; each call returns an isolated store.
func OpenInMemory() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("localstore.OpenInMemory: %w", err)
	}
	// An in-memory database exists per connection; a second pooled
	// connection would see an empty schema.
	db.SetMaxOpenConns(1)

	s, err := initialize(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// initialize applies pragmas and migrations to an opened database.
func initialize(db *sql.DB) (*Store, error) {
	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("localstore: %s: %w", pragma, err)
		}
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, local.FS)
	if err != nil {
		return nil, fmt.Errorf("localstore: create goose provider: %w", err)
	}
	if _, err := provider.Up(context.Background()); err != nil {
		return nil, fmt.Errorf("localstore: run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// msFromTime converts a time to integer milliseconds since the Unix epoch,
// the representation every timestamp column uses.
func msFromTime(t time.Time) int64 { return t.UnixMilli() }

// timeFromMS is the inverse of msFromTime, always in UTC.
func timeFromMS(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
