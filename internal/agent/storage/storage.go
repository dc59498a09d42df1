// Package storage opens the kernel's sqlite-backed stores and brings them
// to the current schema via goose migrations, so the per-tier stores
// (internal/agent/memory, internal/agent/sitememory) only ever run DML
// against tables that already exist. Each store also issues its own
// defensive "CREATE TABLE IF NOT EXISTS" for callers (chiefly tests) that
// open an in-memory database directly without going through this package.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Open opens the sqlite file at path, creating it if absent, and applies
// every pending migration.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, migrations)
	if err != nil {
		return fmt.Errorf("storage: new migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("storage: apply migrations: %w", err)
	}
	return nil
}
