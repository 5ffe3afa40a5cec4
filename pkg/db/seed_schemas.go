package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/morezero/ws-dispatch/pkg/catalog"
	"github.com/morezero/ws-dispatch/pkg/schema"
)

const seedLogPrefix = "db:seed_schemas"

// SeedSharedSchemas upserts every catalog entry. Each schema is checked
// against the draft-07 meta-schema first, so an invalid entry aborts the
// seed before anything is written.
func SeedSharedSchemas(ctx context.Context, repo *Repository, cat *catalog.Catalog) (int, error) {
	if cat == nil || len(cat.Schemas) == 0 {
		slog.Info(fmt.Sprintf("%s - no schemas to seed", seedLogPrefix))
		return 0, nil
	}

	for _, e := range cat.Schemas {
		if err := schema.CheckDescriptor(e.Schema); err != nil {
			return 0, fmt.Errorf("%s - %s@%s: %w", seedLogPrefix, e.ID, e.Version, err)
		}
	}

	for i, e := range cat.Schemas {
		if _, err := repo.UpsertSharedSchema(ctx, UpsertSharedSchemaParams{
			ID:      e.ID,
			Version: e.Version,
			Status:  e.Status,
			Schema:  e.Schema,
		}); err != nil {
			return i, fmt.Errorf("%s - upsert %s@%s: %w", seedLogPrefix, e.ID, e.Version, err)
		}
	}

	slog.Info(fmt.Sprintf("%s - Seeded %d shared schemas", seedLogPrefix, len(cat.Schemas)))
	return len(cat.Schemas), nil
}

// ToCatalog converts stored rows into a catalog so they can be merged with a
// catalog file and resolved by version.
func ToCatalog(rows []SharedSchema) *catalog.Catalog {
	cat := &catalog.Catalog{Name: "database"}
	for _, r := range rows {
		d := schema.Descriptor(r.Schema)
		if d == nil {
			d = schema.Descriptor{}
		}
		d["$id"] = r.ID
		cat.Schemas = append(cat.Schemas, catalog.Entry{
			ID:      r.ID,
			Version: r.Version,
			Status:  r.Status,
			Schema:  d,
		})
	}
	return cat
}
