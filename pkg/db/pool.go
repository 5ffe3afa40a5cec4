// Package db stores shared JSON schemas in Postgres via pgx.
package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const logPrefix = "db:pool"

// NewPool creates a new pgx connection pool from the given database URL.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	slog.Info(fmt.Sprintf("%s - Connecting to database", logPrefix))

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to parse database URL: %w", logPrefix, err)
	}

	// Shared schemas are read at startup and on seed only.
	config.MaxConns = 4
	config.MinConns = 0

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create pool: %w", logPrefix, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s - failed to ping database: %w", logPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Database connection established", logPrefix))
	return pool, nil
}

// RunMigrations applies migrations in order. Every migration must be idempotent.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, migrations []Migration) error {
	slog.Info(fmt.Sprintf("%s - Running %d migrations", logPrefix, len(migrations)))

	for _, m := range migrations {
		if _, err := pool.Exec(ctx, m.SQL); err != nil {
			return fmt.Errorf("%s - migration %s failed: %w", logPrefix, m.Name, err)
		}
		slog.Debug(fmt.Sprintf("%s - Applied %s", logPrefix, m.Name))
	}

	slog.Info(fmt.Sprintf("%s - Migrations complete", logPrefix))
	return nil
}

// Status describes whether the shared_schemas table exists.
type Status struct {
	Applied bool
	Files   int
	Path    string
}

// String renders the status for the migrate status command.
func (s Status) String() string {
	if s.Applied {
		return fmt.Sprintf("Migration status: applied (schema present, %d migration files in %s)", s.Files, s.Path)
	}
	return fmt.Sprintf("Migration status: not applied (run 'wsdispatch migrate up'). %d migration files in %s", s.Files, s.Path)
}

// MigrationStatus reports whether migrations have been applied by checking for the shared_schemas table.
func MigrationStatus(ctx context.Context, pool *pgxpool.Pool, migrationPath string) (Status, error) {
	const statusLogPrefix = "db:MigrationStatus"

	var exists bool
	err := pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = 'shared_schemas')`).Scan(&exists)
	if err != nil {
		return Status{}, fmt.Errorf("%s - failed to check schema: %w", statusLogPrefix, err)
	}

	files, err := LoadMigrationFiles(migrationPath)
	if err != nil {
		return Status{}, fmt.Errorf("%s - load migration list: %w", statusLogPrefix, err)
	}
	return Status{Applied: exists, Files: len(files), Path: migrationPath}, nil
}
