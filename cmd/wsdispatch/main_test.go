package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/morezero/ws-dispatch/internal/config"
	"github.com/morezero/ws-dispatch/pkg/catalog"
)

const mainTestPrefix = "cmd/wsdispatch:main_test"

func TestUsage_NonEmpty(t *testing.T) {
	if len(usage) == 0 {
		t.Fatalf("%s - usage string is empty", mainTestPrefix)
	}
}

func TestUsage_ContainsCommands(t *testing.T) {
	required := []string{"serve", "migrate", "seed-schemas", "check-schemas", "DATABASE_URL", "SCHEMA_FILE"}
	for _, word := range required {
		if !strings.Contains(usage, word) {
			t.Errorf("%s - usage should contain %q", mainTestPrefix, word)
		}
	}
}

func TestFileArg(t *testing.T) {
	if got := fileArg([]string{"seed-schemas"}); got != "" {
		t.Errorf("%s - expected empty file, got %q", mainTestPrefix, got)
	}
	if got := fileArg([]string{"seed-schemas", "schemas.yaml"}); got != "schemas.yaml" {
		t.Errorf("%s - expected schemas.yaml, got %q", mainTestPrefix, got)
	}
}

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schemas.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("%s - write catalog: %v", mainTestPrefix, err)
	}
	return path
}

func TestLoadCatalog_Precedence(t *testing.T) {
	fromEnv := writeCatalog(t, "name: env\nschemas:\n  - id: a\n    schema: { type: string }\n")
	fromArg := writeCatalog(t, "name: arg\nschemas:\n  - id: b\n    schema: { type: number }\n")
	cfg := &config.Config{SchemaFile: fromEnv}

	cat, err := loadCatalog(cfg, fromArg)
	if err != nil {
		t.Fatalf("%s - loadCatalog: %v", mainTestPrefix, err)
	}
	if cat.Name != "arg" {
		t.Errorf("%s - file argument should win, got %q", mainTestPrefix, cat.Name)
	}

	cat, err = loadCatalog(cfg, "")
	if err != nil {
		t.Fatalf("%s - loadCatalog: %v", mainTestPrefix, err)
	}
	if cat.Name != "env" {
		t.Errorf("%s - SCHEMA_FILE should be used, got %q", mainTestPrefix, cat.Name)
	}
}

func TestCheckCatalog(t *testing.T) {
	good, err := catalog.LoadFile(writeCatalog(t, `
schemas:
  - id: money
    version: 1.0.0
    schema: { type: number, minimum: 0 }
  - id: money
    version: 2.0.0
    schema: { type: integer }
  - id: price
    version: 1.2.0
    schema: { type: object, properties: { amount: { $ref: money } } }
`))
	if err != nil {
		t.Fatalf("%s - LoadFile: %v", mainTestPrefix, err)
	}
	n, err := checkCatalog(good, "^1")
	if err != nil {
		t.Fatalf("%s - checkCatalog: %v", mainTestPrefix, err)
	}
	// money, price and the builtin health report
	if n != 3 {
		t.Errorf("%s - expected 3 selected schemas, got %d", mainTestPrefix, n)
	}

	// money 2.0.0 and the builtin health report, which the constraint does not bind
	n, err = checkCatalog(good, "^2")
	if err != nil {
		t.Fatalf("%s - checkCatalog ^2: %v", mainTestPrefix, err)
	}
	if n != 2 {
		t.Errorf("%s - expected 2 selected schemas for ^2, got %d", mainTestPrefix, n)
	}

	bad, err := catalog.LoadFile(writeCatalog(t, `
schemas:
  - id: broken
    schema: { type: 5 }
`))
	if err != nil {
		t.Fatalf("%s - LoadFile: %v", mainTestPrefix, err)
	}
	if _, err := checkCatalog(bad, ""); err == nil {
		t.Errorf("%s - expected error for malformed schema", mainTestPrefix)
	}

	dangling, err := catalog.LoadFile(writeCatalog(t, `
schemas:
  - id: order
    schema: { type: object, properties: { total: { $ref: missing } } }
`))
	if err != nil {
		t.Fatalf("%s - LoadFile: %v", mainTestPrefix, err)
	}
	if _, err := checkCatalog(dangling, ""); err == nil {
		t.Errorf("%s - expected error for unresolved reference", mainTestPrefix)
	}
}
