package db

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const repoLogPrefix = "db:repository"

// Repository provides database access for shared schemas.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new Repository with the given connection pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListSharedSchemas returns every stored schema version that is not disabled,
// ordered by id.
func (r *Repository) ListSharedSchemas(ctx context.Context) ([]SharedSchema, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, version, status, schema, created, modified
		 FROM shared_schemas
		 WHERE status <> 'disabled'
		 ORDER BY id, version`)
	if err != nil {
		return nil, fmt.Errorf("%s - ListSharedSchemas: %w", repoLogPrefix, err)
	}
	defer rows.Close()

	var out []SharedSchema
	for rows.Next() {
		s, err := scanSharedSchema(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s - ListSharedSchemas rows: %w", repoLogPrefix, err)
	}
	slog.Debug(fmt.Sprintf("%s - ListSharedSchemas returned %d rows", repoLogPrefix, len(out)))
	return out, nil
}

// GetSharedSchema finds one schema version. It returns pgx.ErrNoRows when absent.
func (r *Repository) GetSharedSchema(ctx context.Context, id, version string) (*SharedSchema, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, version, status, schema, created, modified
		 FROM shared_schemas
		 WHERE id = $1 AND version = $2`, id, version)
	return scanSharedSchema(row)
}

// UpsertSharedSchemaParams holds parameters for UpsertSharedSchema.
type UpsertSharedSchemaParams struct {
	ID      string
	Version string
	// Status defaults to "active".
	Status string
	Schema map[string]interface{}
}

// UpsertSharedSchema creates or replaces one schema version.
func (r *Repository) UpsertSharedSchema(ctx context.Context, params UpsertSharedSchemaParams) (*SharedSchema, error) {
	slog.Info(fmt.Sprintf("%s - UpsertSharedSchema id=%s version=%s", repoLogPrefix, params.ID, params.Version))

	status := params.Status
	if status == "" {
		status = "active"
	}
	doc, err := json.Marshal(params.Schema)
	if err != nil {
		return nil, fmt.Errorf("%s - marshal schema %s: %w", repoLogPrefix, params.ID, err)
	}

	row := r.pool.QueryRow(ctx,
		`INSERT INTO shared_schemas (id, version, status, schema)
		 VALUES ($1, $2, $3, $4::jsonb)
		 ON CONFLICT (id, version) DO UPDATE SET
		   status = EXCLUDED.status,
		   schema = EXCLUDED.schema,
		   modified = NOW()
		 RETURNING id, version, status, schema, created, modified`,
		params.ID, params.Version, status, string(doc))
	return scanSharedSchema(row)
}

// SetSharedSchemaStatus changes the status of one schema version.
func (r *Repository) SetSharedSchemaStatus(ctx context.Context, id, version, status string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE shared_schemas SET status = $3, modified = NOW() WHERE id = $1 AND version = $2`,
		id, version, status)
	if err != nil {
		return fmt.Errorf("%s - SetSharedSchemaStatus: %w", repoLogPrefix, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s - SetSharedSchemaStatus %s@%s: %w", repoLogPrefix, id, version, pgx.ErrNoRows)
	}
	return nil
}

func scanSharedSchema(row pgx.Row) (*SharedSchema, error) {
	var s SharedSchema
	var doc []byte
	if err := row.Scan(&s.ID, &s.Version, &s.Status, &doc, &s.Created, &s.Modified); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(doc, &s.Schema); err != nil {
		return nil, fmt.Errorf("%s - decode schema %s@%s: %w", repoLogPrefix, s.ID, s.Version, err)
	}
	return &s, nil
}
