//go:build integration

package db

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5"

	"github.com/morezero/ws-dispatch/pkg/catalog"
)

const dbIntegrationPrefix = "db:integration_test"

// testDBEnv returns the database URL for integration tests; skips the test if not set.
func testDBEnv(t *testing.T) string {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("db:integration_test - DATABASE_URL not set, skipping")
	}
	return url
}

// setupIntegrationDB creates a pool, runs migrations, and returns repo and cleanup.
func setupIntegrationDB(t *testing.T) (context.Context, *Repository, func()) {
	t.Helper()
	ctx := context.Background()
	url := testDBEnv(t)

	pool, err := NewPool(ctx, url)
	if err != nil {
		t.Fatalf("%s - NewPool failed: %v", dbIntegrationPrefix, err)
	}

	migrations, err := LoadMigrationFiles(filepath.Join("..", "..", "migrations"))
	if err != nil {
		pool.Close()
		t.Fatalf("%s - LoadMigrationFiles failed: %v", dbIntegrationPrefix, err)
	}
	if err := RunMigrations(ctx, pool, migrations); err != nil {
		pool.Close()
		t.Fatalf("%s - RunMigrations failed: %v", dbIntegrationPrefix, err)
	}

	status, err := MigrationStatus(ctx, pool, filepath.Join("..", "..", "migrations"))
	if err != nil || !status.Applied {
		pool.Close()
		t.Fatalf("%s - expected migrations applied, got %+v %v", dbIntegrationPrefix, status, err)
	}

	if _, err := pool.Exec(ctx, `DELETE FROM shared_schemas WHERE id LIKE 'it-%'`); err != nil {
		pool.Close()
		t.Fatalf("%s - cleanup failed: %v", dbIntegrationPrefix, err)
	}
	return ctx, NewRepository(pool), func() { pool.Close() }
}

func TestIntegration_UpsertAndListSharedSchemas(t *testing.T) {
	ctx, repo, cleanup := setupIntegrationDB(t)
	defer cleanup()

	doc := map[string]interface{}{"$id": "it-address", "type": "object"}
	got, err := repo.UpsertSharedSchema(ctx, UpsertSharedSchemaParams{ID: "it-address", Version: "1.0.0", Schema: doc})
	if err != nil {
		t.Fatalf("%s - UpsertSharedSchema failed: %v", dbIntegrationPrefix, err)
	}
	if got.Status != "active" || got.Schema["type"] != "object" {
		t.Errorf("%s - unexpected row %+v", dbIntegrationPrefix, got)
	}

	doc["required"] = []interface{}{"zip"}
	if _, err := repo.UpsertSharedSchema(ctx, UpsertSharedSchemaParams{ID: "it-address", Version: "1.0.0", Schema: doc}); err != nil {
		t.Fatalf("%s - second upsert failed: %v", dbIntegrationPrefix, err)
	}
	again, err := repo.GetSharedSchema(ctx, "it-address", "1.0.0")
	if err != nil {
		t.Fatalf("%s - GetSharedSchema failed: %v", dbIntegrationPrefix, err)
	}
	if _, ok := again.Schema["required"]; !ok {
		t.Errorf("%s - upsert should replace the schema document", dbIntegrationPrefix)
	}

	if err := repo.SetSharedSchemaStatus(ctx, "it-address", "1.0.0", "disabled"); err != nil {
		t.Fatalf("%s - SetSharedSchemaStatus failed: %v", dbIntegrationPrefix, err)
	}
	rows, err := repo.ListSharedSchemas(ctx)
	if err != nil {
		t.Fatalf("%s - ListSharedSchemas failed: %v", dbIntegrationPrefix, err)
	}
	for _, r := range rows {
		if r.ID == "it-address" {
			t.Errorf("%s - disabled schema should not be listed", dbIntegrationPrefix)
		}
	}
}

func TestIntegration_GetSharedSchema_NotFound(t *testing.T) {
	ctx, repo, cleanup := setupIntegrationDB(t)
	defer cleanup()

	if _, err := repo.GetSharedSchema(ctx, "it-missing", "1.0.0"); !errors.Is(err, pgx.ErrNoRows) {
		t.Errorf("%s - expected pgx.ErrNoRows, got %v", dbIntegrationPrefix, err)
	}
	if err := repo.SetSharedSchemaStatus(ctx, "it-missing", "1.0.0", "active"); !errors.Is(err, pgx.ErrNoRows) {
		t.Errorf("%s - expected pgx.ErrNoRows, got %v", dbIntegrationPrefix, err)
	}
}

func TestIntegration_SeedSharedSchemas(t *testing.T) {
	ctx, repo, cleanup := setupIntegrationDB(t)
	defer cleanup()

	cat := &catalog.Catalog{Schemas: []catalog.Entry{
		{ID: "it-money", Version: "1.0.0", Status: "active", Schema: map[string]interface{}{"$id": "it-money", "type": "number"}},
		{ID: "it-money", Version: "1.1.0", Status: "active", Schema: map[string]interface{}{"$id": "it-money", "type": "number", "minimum": 0}},
	}}
	n, err := SeedSharedSchemas(ctx, repo, cat)
	if err != nil || n != 2 {
		t.Fatalf("%s - SeedSharedSchemas = %d, %v", dbIntegrationPrefix, n, err)
	}

	rows, err := repo.ListSharedSchemas(ctx)
	if err != nil {
		t.Fatalf("%s - ListSharedSchemas failed: %v", dbIntegrationPrefix, err)
	}
	selected, err := ToCatalog(rows).Select("^1")
	if err != nil {
		t.Fatalf("%s - Select failed: %v", dbIntegrationPrefix, err)
	}
	for _, d := range selected {
		if d["$id"] == "it-money" {
			if _, ok := d["minimum"]; !ok {
				t.Errorf("%s - expected 1.1.0 to be selected", dbIntegrationPrefix)
			}
		}
	}
}
