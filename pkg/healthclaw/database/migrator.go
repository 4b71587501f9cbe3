package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Migrator applies the schema and tracks it in a schema_version table.
type Migrator struct {
	db      *sql.DB
	backend BackendType
}

// NewMigrator creates a migrator for the given backend.
func NewMigrator(db *sql.DB, backend BackendType) *Migrator {
	return &Migrator{db: db, backend: backend}
}

// CurrentVersion returns the current schema version, 0 when unmigrated.
func (m *Migrator) CurrentVersion(ctx context.Context) (int, error) {
	var version int
	err := m.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return version, nil
}

// Migrate brings the schema up to SchemaVersion. The DDL is idempotent.
func (m *Migrator) Migrate(ctx context.Context) error {
	versionDDL := `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`
	schema := sqliteSchema()
	if m.backend == BackendPostgreSQL {
		versionDDL = `CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		)`
		schema = postgresSchema()
	}

	if _, err := m.db.ExecContext(ctx, versionDDL); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return err
	}

	if _, err := m.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	if current < SchemaVersion {
		q := "INSERT INTO schema_version (version) VALUES (?)"
		if m.backend == BackendPostgreSQL {
			q = rebindDollar(q)
		}
		if _, err := m.db.ExecContext(ctx, q, SchemaVersion); err != nil && !isDuplicateKeyError(err) {
			return fmt.Errorf("record migration: %w", err)
		}
	}
	return nil
}

// NeedsMigration returns true if the schema is outdated.
func (m *Migrator) NeedsMigration(ctx context.Context) (bool, error) {
	current, err := m.CurrentVersion(ctx)
	if err != nil {
		// schema_version does not exist yet.
		return true, nil
	}
	return current < SchemaVersion, nil
}
