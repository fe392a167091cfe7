package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Migration is one versioned schema change on disk.
type Migration struct {
	Version  string
	UpPath   string
	DownPath string
	Applied  bool
}

// LoadMigrations lists migrations in dir ordered by version and marks the
// ones recorded in schema_migrations.
func LoadMigrations(ctx context.Context, db *sql.DB, dir string) ([]Migration, error) {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return nil, err
	}
	migrations, err := readMigrationDir(dir)
	if err != nil {
		return nil, err
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return nil, err
	}
	for i := range migrations {
		_, migrations[i].Applied = applied[migrations[i].Version]
	}
	return migrations, nil
}

// ApplyMigrations runs every pending .up.sql file, each in its own transaction.
func ApplyMigrations(ctx context.Context, db *sql.DB, dir string) error {
	migrations, err := LoadMigrations(ctx, db, dir)
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		if migration.Applied {
			continue
		}
		err := runMigrationFile(ctx, db, migration.UpPath, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES($1)`, migration.Version)
			return err
		})
		if err != nil {
			return fmt.Errorf("apply migration %s: %w", migration.Version, err)
		}
		slog.Info("migration applied", "version", migration.Version)
	}
	return nil
}

// RollbackLast reverts the most recently applied migration. It returns the
// reverted version, or "" when nothing is applied.
func RollbackLast(ctx context.Context, db *sql.DB, dir string) (string, error) {
	migrations, err := LoadMigrations(ctx, db, dir)
	if err != nil {
		return "", err
	}

	for i := len(migrations) - 1; i >= 0; i-- {
		migration := migrations[i]
		if !migration.Applied {
			continue
		}
		if migration.DownPath == "" {
			return "", fmt.Errorf("migration %s has no down file", migration.Version)
		}
		err := runMigrationFile(ctx, db, migration.DownPath, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version=$1`, migration.Version)
			return err
		})
		if err != nil {
			return "", fmt.Errorf("rollback migration %s: %w", migration.Version, err)
		}
		slog.Info("migration rolled back", "version", migration.Version)
		return migration.Version, nil
	}
	return "", nil
}

func runMigrationFile(ctx context.Context, db *sql.DB, path string, record func(*sql.Tx) error) error {
	contents, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, string(contents)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("execute: %w", err)
	}
	if err := record(tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// readMigrationDir pairs NNNN_name.up.sql with NNNN_name.down.sql. The
// version is the up file's base name, matching what schema_migrations stores.
func readMigrationDir(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	downs := map[string]string{}
	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			migrations = append(migrations, Migration{
				Version: name,
				UpPath:  filepath.Join(dir, name),
			})
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = filepath.Join(dir, name)
		}
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	for i := range migrations {
		migrations[i].DownPath = downs[strings.TrimSuffix(migrations[i].Version, ".up.sql")]
	}
	return migrations, nil
}

func ensureMigrationsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[string]struct{}, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()

	applied := map[string]struct{}{}
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan migration version: %w", err)
		}
		applied[version] = struct{}{}
	}
	return applied, rows.Err()
}
