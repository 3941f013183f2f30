package storage

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
)

// RunMigrations applies unapplied .sql files from the embedded filesystem in
// lexical order. Each file runs with its bookkeeping row in one transaction,
// so a failed migration leaves no applied-but-unrecorded state. Forward-only;
// production schema changes are managed out-of-band.
func (db *DB) RunMigrations(ctx context.Context, migrationsFS fs.FS) error {
	if _, err := db.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		return fmt.Errorf("storage: create schema_migrations: %w", err)
	}

	applied, err := db.appliedMigrations(ctx)
	if err != nil {
		return err
	}

	files, err := fs.Glob(migrationsFS, "*.sql")
	if err != nil {
		return fmt.Errorf("storage: list migrations: %w", err)
	}
	sort.Strings(files)

	for _, name := range files {
		if applied[name] {
			continue
		}
		if err := db.applyMigration(ctx, migrationsFS, name); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) applyMigration(ctx context.Context, migrationsFS fs.FS, name string) error {
	sql, err := fs.ReadFile(migrationsFS, name)
	if err != nil {
		return fmt.Errorf("storage: read migration %s: %w", name, err)
	}

	db.logger.Info("applying migration", "file", name)

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin migration %s: %w", name, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, string(sql)); err != nil {
		return fmt.Errorf("storage: apply migration %s: %w", name, err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO schema_migrations (version) VALUES ($1)`, name,
	); err != nil {
		return fmt.Errorf("storage: record migration %s: %w", name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit migration %s: %w", name, err)
	}
	return nil
}

func (db *DB) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := db.pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("storage: load applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("storage: scan migration version: %w", err)
		}
		applied[v] = true
	}
	return applied, rows.Err()
}
