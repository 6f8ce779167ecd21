// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// WHY SQLITE?
// The only thing this service persists server-side is a small per-device
// token cache. An embedded database keeps that in one file next to the
// binary, with no separate server to run. Tests use ":memory:".
//
// WHY modernc.org/sqlite INSTEAD OF github.com/mattn/go-sqlite3?
// modernc.org/sqlite is a pure Go translation of the SQLite C code, so no
// C compiler is needed and cross-compilation just works.
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	// Registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection pool and provides repository methods.
type DB struct {
	conn *sql.DB
	now  func() time.Time
}

// New creates a new SQLite database connection and runs migrations.
//
// dbPath examples:
//   - "data/job-tracker.db"  → file-based database (persistent)
//   - ":memory:"             → in-memory database (tests)
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// An in-memory database exists per connection; pin the pool to one so
	// every query sees the same tables.
	if dbPath == ":memory:" {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets reads proceed while a write is in flight.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	db := &DB{conn: conn, now: time.Now}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate runs all database migrations.
//
// CREATE TABLE IF NOT EXISTS is safe to run on every start.
func (db *DB) migrate() error {
	// One row per (device, provider). A new sign-in on the same device
	// replaces the row.
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS provider_tokens (
			device_id  TEXT NOT NULL,
			provider   TEXT NOT NULL,
			blob       BLOB NOT NULL,
			expires_at INTEGER NOT NULL, -- unix milliseconds
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (device_id, provider)
		);
		CREATE INDEX IF NOT EXISTS idx_provider_tokens_expires_at ON provider_tokens(expires_at);
	`)
	if err != nil {
		return fmt.Errorf("creating provider_tokens table: %w", err)
	}

	return nil
}
