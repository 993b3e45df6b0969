package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationsFS embed.FS

// stmColumns are additive columns the compression engine needs on the
// short-term memory table. They are ensured outside the versioned
// migrations because the stm table may predate axon (the agent's own
// memory store), in which case the columns could already exist.
var stmColumns = []struct {
	name string
	ddl  string
}{
	{"compressed_from", `ALTER TABLE stm ADD COLUMN compressed_from TEXT`},
	{"archived_by", `ALTER TABLE stm ADD COLUMN archived_by TEXT`},
}

// Migrate applies pending schema migrations.
//
// Two phases:
//  1. Versioned embedded .sql files via golang-migrate (ordered, run once).
//  2. Idempotent additive ALTERs for the stm table; "duplicate column"
//     errors are tolerated by design.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.runVersioned(); err != nil {
		return err
	}
	return s.ensureSTMColumns(ctx)
}

func (s *Store) runVersioned() error {
	hasMigrations, err := hasEmbeddedMigrations()
	if err != nil {
		return fmt.Errorf("check embedded migrations: %w", err)
	}
	if !hasMigrations {
		return fmt.Errorf("no embedded migration files found — binary may be built incorrectly")
	}

	driver, err := sqlite3.WithInstance(s.db.DB, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite3 migration driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "axon", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	// Close only the source driver. m.Close() would also close the database
	// driver, which closes the shared *sql.DB underneath the Store.
	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("close migration source: %w", err)
	}

	return nil
}

// ensureSTMColumns adds the additive stm columns, tolerating the
// "duplicate column name" error SQLite raises when they already exist.
func (s *Store) ensureSTMColumns(ctx context.Context) error {
	for _, col := range stmColumns {
		if _, err := s.db.ExecContext(ctx, col.ddl); err != nil {
			if strings.Contains(err.Error(), "duplicate column name") {
				continue
			}
			return fmt.Errorf("add stm column %s: %w", col.name, err)
		}
	}
	return nil
}

// hasEmbeddedMigrations checks if the embedded FS contains any .sql files.
func hasEmbeddedMigrations() (bool, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read embedded migrations: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			return true, nil
		}
	}
	return false, nil
}
