// Package main is the entrypoint for ws-dispatch (binary name "wsdispatch").
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/morezero/ws-dispatch/internal/config"
	"github.com/morezero/ws-dispatch/internal/server"
	"github.com/morezero/ws-dispatch/pkg/catalog"
	"github.com/morezero/ws-dispatch/pkg/db"
	"github.com/morezero/ws-dispatch/pkg/schema"
)

const usage = `Usage: wsdispatch [command]
       wsdispatch serve                Start the dispatcher (WebSocket, COMMS, HTTP health and metrics).
       wsdispatch migrate up           Run database migrations.
       wsdispatch migrate status       Show migration status.
       wsdispatch seed-schemas [file]  Store the shared schemas of a catalog file in the database.
       wsdispatch check-schemas [file] Check that a catalog's shared schemas are well formed and compile.

Commands:
  serve           (default) Start ws-dispatch.
  migrate up      Run database migrations only.
  migrate status  Show current migration status.
  seed-schemas    Seed shared_schemas from a catalog (file argument, SCHEMA_FILE or the default search paths).
  check-schemas   Validate a catalog without touching the database.

Environment: WS_ADDR (default :8080), WS_PATH, COMMS_URL, DATABASE_URL (required for migrate and seed-schemas),
MIGRATION_PATH, SCHEMA_FILE, SCHEMA_VERSION_CONSTRAINT, LOG_LEVEL. See README.
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "migrate":
		if len(args) < 2 {
			log.Fatalf("wsdispatch migrate: require subcommand (up, status)")
		}
		sub := args[1]
		switch sub {
		case "up":
			if err := runMigrateUp(); err != nil {
				log.Fatalf("wsdispatch migrate up: %v", err)
			}
		case "status":
			if err := runMigrateStatus(); err != nil {
				log.Fatalf("wsdispatch migrate status: %v", err)
			}
		default:
			log.Fatalf("wsdispatch migrate: unknown subcommand %q (use up, status)", sub)
		}
		return
	case "seed-schemas":
		if err := runSeedSchemas(fileArg(args)); err != nil {
			log.Fatalf("wsdispatch seed-schemas: %v", err)
		}
		return
	case "check-schemas":
		if err := runCheckSchemas(fileArg(args)); err != nil {
			log.Fatalf("wsdispatch check-schemas: %v", err)
		}
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
		// serve (explicit or default)
		break
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	if err := server.Run(); err != nil {
		log.Fatalf("wsdispatch: %v", err)
	}
}

func fileArg(args []string) string {
	if len(args) > 1 {
		return args[1]
	}
	return ""
}

func runMigrateUp() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	migrations, err := db.LoadMigrationFiles(cfg.MigrationPath)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	if err := db.RunMigrations(ctx, pool, migrations); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func runMigrateStatus() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	status, err := db.MigrationStatus(ctx, pool, cfg.MigrationPath)
	if err != nil {
		return err
	}
	fmt.Println(status.String())
	return nil
}

// loadCatalog reads the catalog named on the command line, then SCHEMA_FILE,
// then the default search paths.
func loadCatalog(cfg *config.Config, fileOverride string) (*catalog.Catalog, error) {
	path := fileOverride
	if path == "" {
		path = cfg.SchemaFile
	}
	if path != "" {
		return catalog.LoadFile(path)
	}
	return catalog.LoadCatalog()
}

func runSeedSchemas(fileOverride string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	cat, err := loadCatalog(cfg, fileOverride)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	n, err := db.SeedSharedSchemas(ctx, db.NewRepository(pool), cat)
	if err != nil {
		return fmt.Errorf("seed shared schemas: %w", err)
	}
	fmt.Printf("Seeded %d shared schemas from catalog %q.\n", n, cat.Name)
	return nil
}

func runCheckSchemas(fileOverride string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cat, err := loadCatalog(cfg, fileOverride)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	n, err := checkCatalog(cat, cfg.SchemaVersionConstraint)
	if err != nil {
		return err
	}
	fmt.Printf("Catalog %q: %d entries well formed, %d selected for %q.\n",
		cat.Name, len(cat.Schemas), n, cfg.SchemaVersionConstraint)
	return nil
}

// checkCatalog checks every entry against the meta-schema, then loads the
// selected versions into a validator and compiles each one. It returns the
// number of selected schemas.
func checkCatalog(cat *catalog.Catalog, constraint string) (int, error) {
	for _, e := range cat.Schemas {
		if err := schema.CheckDescriptor(e.Schema); err != nil {
			return 0, fmt.Errorf("%s@%s: %w", e.ID, e.Version, err)
		}
	}

	defaults := catalog.GetDefaultCatalog()
	merged := catalog.MergeCatalogs(defaults, cat)
	shared, err := merged.Select(constraint, defaults.IDs()...)
	if err != nil {
		return 0, fmt.Errorf("select versions: %w", err)
	}
	v, err := schema.NewValidator(shared...)
	if err != nil {
		return 0, fmt.Errorf("load shared schemas: %w", err)
	}
	for _, d := range shared {
		if _, err := v.Compile(d); err != nil {
			return 0, fmt.Errorf("compile %v: %w", d["$id"], err)
		}
	}
	return len(shared), nil
}
