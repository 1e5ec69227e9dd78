package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// MigrationSet is an ordered group of migrations owned by one package.
// Each set tracks its applied versions independently.
type MigrationSet struct {
	Name       string
	Migrations []Migration
}

const createMigrationsTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		set_name VARCHAR(64) NOT NULL,
		version INT NOT NULL,
		description TEXT NOT NULL,
		applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (set_name, version)
	)
`

// RunMigrations applies every pending migration of each set, in order, one transaction per migration
func RunMigrations(ctx context.Context, db *sql.DB, sets ...MigrationSet) error {
	if _, err := db.ExecContext(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for _, set := range sets {
		if err := runSet(ctx, db, set); err != nil {
			return err
		}
	}
	return nil
}

func runSet(ctx context.Context, db *sql.DB, set MigrationSet) error {
	applied, err := appliedVersions(ctx, db, set.Name)
	if err != nil {
		return err
	}

	for _, migration := range set.Migrations {
		if applied[migration.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %s/%d: %w", set.Name, migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (set_name, version, description) VALUES ($1, $2, $3)",
			set.Name, migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %s/%d: %w", set.Name, migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %s/%d: %w", set.Name, migration.Version, err)
		}
	}
	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB, setName string) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations WHERE set_name = $1 ORDER BY version", setName)
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

// AppliedVersions lists the versions already recorded for a set
func AppliedVersions(ctx context.Context, db *sql.DB, setName string) ([]int, error) {
	applied, err := appliedVersions(ctx, db, setName)
	if err != nil {
		return nil, err
	}
	versions := make([]int, 0, len(applied))
	for v := range applied {
		versions = append(versions, v)
	}
	sort.Ints(versions)
	return versions, nil
}
