package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
)

// openSQLite opens or creates a SQLite database with the given configuration.
// The driver is chosen at build time: mattn/go-sqlite3 with cgo, the pure-Go
// modernc.org/sqlite otherwise.
func openSQLite(ctx context.Context, cfg SQLiteConfig) (*sql.DB, error) {
	if cfg.Path != ":memory:" {
		dir := filepath.Dir(cfg.Path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory %q: %w", dir, err)
		}
	}

	db, err := sql.Open(sqliteDriverName, sqliteDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", cfg.Path, err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}
