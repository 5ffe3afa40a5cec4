package server

import (
	"context"
	"fmt"

	"github.com/morezero/ws-dispatch/internal/config"
	"github.com/morezero/ws-dispatch/pkg/catalog"
	"github.com/morezero/ws-dispatch/pkg/db"
	"github.com/morezero/ws-dispatch/pkg/schema"
)

// SchemaSource lists stored shared schemas. *db.Repository implements it.
type SchemaSource interface {
	ListSharedSchemas(ctx context.Context) ([]db.SharedSchema, error)
}

// loadSharedSchemas merges the default catalog, the catalog file and the
// stored schemas (later sources replace the same id and version) and picks
// one version per id. Ids from the default catalog keep a version even when
// the constraint matches none of theirs.
func loadSharedSchemas(ctx context.Context, cfg *config.Config, src SchemaSource) ([]schema.Descriptor, error) {
	var fileCat *catalog.Catalog
	var err error
	if cfg.SchemaFile != "" {
		fileCat, err = catalog.LoadFile(cfg.SchemaFile)
	} else {
		fileCat, err = catalog.LoadCatalog()
	}
	if err != nil {
		return nil, fmt.Errorf("%s - failed to load schema catalog: %w", logPrefix, err)
	}
	defaults := catalog.GetDefaultCatalog()
	cat := catalog.MergeCatalogs(defaults, fileCat)

	if src != nil {
		rows, err := src.ListSharedSchemas(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to read stored schemas: %w", logPrefix, err)
		}
		cat = catalog.MergeCatalogs(cat, db.ToCatalog(rows))
	}

	shared, err := cat.Select(cfg.SchemaVersionConstraint, defaults.IDs()...)
	if err != nil {
		return nil, fmt.Errorf("%s - %w", logPrefix, err)
	}
	return shared, nil
}
