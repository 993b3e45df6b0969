// Package store provides the embedded SQLite database client and migration
// utilities.
//
// All persistence in axon goes through the minimal Run/Get/All contract.
// The database runs in WAL mode: many concurrent readers, serialized
// writers. Components never share transactions; the one place that needs a
// transactional contract (the compression archiver) implements explicit
// compensating writes instead.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // Register sqlite3 driver for database/sql
)

// Store wraps the SQLite connection and exposes the minimal query contract.
type Store struct {
	db   *sqlx.DB
	path string
}

// Open opens (creating if needed) the database at path, applies WAL
// pragmas, and runs pending migrations.
//
// ":memory:" is accepted for tests; it is normalized to a shared-cache URI
// so the connection pool sees one database.
func Open(ctx context.Context, path string) (*Store, error) {
	s, err := OpenBare(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	return s, nil
}

// OpenBare opens the database without running the versioned migrations.
// Used by the metrics sink, which manages its own single-table schema in a
// separate database file.
func OpenBare(ctx context.Context, path string) (*Store, error) {
	dsn, singleConn := buildDSN(path)

	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	if singleConn {
		// In-memory databases vanish when their last connection closes;
		// pin the pool to one connection so tests see a stable schema.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database %s: %w", path, err)
	}

	return &Store{db: db, path: path}, nil
}

// buildDSN converts a plain file path into a sqlite3 DSN carrying the WAL
// and busy-timeout settings. Returns true when the pool must be limited to
// a single connection (in-memory databases).
func buildDSN(path string) (string, bool) {
	if path == ":memory:" || strings.HasPrefix(path, "file::memory:") {
		return "file::memory:?cache=shared&_busy_timeout=5000&_foreign_keys=on", true
	}
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_busy_timeout", "5000")
	q.Set("_foreign_keys", "on")
	q.Set("_synchronous", "NORMAL")
	return "file:" + path + "?" + q.Encode(), false
}

// Run executes a statement (INSERT/UPDATE/DELETE/DDL).
func (s *Store) Run(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

// Get scans a single row into dest. Returns sql.ErrNoRows when the query
// matches nothing.
func (s *Store) Get(ctx context.Context, dest any, query string, args ...any) error {
	return s.db.GetContext(ctx, dest, query, args...)
}

// All scans every matching row into dest (a pointer to a slice).
func (s *Store) All(ctx context.Context, dest any, query string, args ...any) error {
	return s.db.SelectContext(ctx, dest, query, args...)
}

// DB returns the underlying pool for health checks and the migration
// runner. Components must use Run/Get/All.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Path returns the database file path the store was opened with.
func (s *Store) Path() string {
	return s.path
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
