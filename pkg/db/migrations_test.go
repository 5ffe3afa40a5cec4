package db

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeMigrationDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("db:migrations_test - failed to write %s: %v", name, err)
		}
	}
	return dir
}

func TestLoadMigrationFiles_SortOrder(t *testing.T) {
	dir := writeMigrationDir(t, map[string]string{
		"0003_third.sql":  "THIRD",
		"0001_first.sql":  "FIRST",
		"0002_second.sql": "SECOND",
		"README.md":       "# Migrations",
		"config.json":     "{}",
	})

	result, err := LoadMigrationFiles(dir)
	if err != nil {
		t.Fatalf("db:migrations_test - unexpected error: %v", err)
	}
	if len(result) != 3 {
		t.Fatalf("db:migrations_test - expected 3 SQL files, got %d", len(result))
	}

	want := []Migration{
		{Name: "0001_first.sql", SQL: "FIRST"},
		{Name: "0002_second.sql", SQL: "SECOND"},
		{Name: "0003_third.sql", SQL: "THIRD"},
	}
	for i := range want {
		if result[i] != want[i] {
			t.Errorf("db:migrations_test - index %d = %+v, want %+v", i, result[i], want[i])
		}
	}
}

func TestLoadMigrationFiles_SkipsDirectories(t *testing.T) {
	dir := writeMigrationDir(t, map[string]string{"0001_create.sql": "CREATE TABLE x;"})
	if err := os.Mkdir(filepath.Join(dir, "subdir.sql"), 0o755); err != nil {
		t.Fatalf("db:migrations_test - failed to create subdir: %v", err)
	}

	result, err := LoadMigrationFiles(dir)
	if err != nil {
		t.Fatalf("db:migrations_test - unexpected error: %v", err)
	}
	if len(result) != 1 {
		t.Errorf("db:migrations_test - expected 1 migration (skipping dir), got %d", len(result))
	}
}

func TestLoadMigrationFiles_EmptyDir(t *testing.T) {
	result, err := LoadMigrationFiles(t.TempDir())
	if err != nil {
		t.Fatalf("db:migrations_test - unexpected error: %v", err)
	}
	if len(result) != 0 {
		t.Errorf("db:migrations_test - expected empty result, got %d items", len(result))
	}
}

func TestLoadMigrationFiles_NonExistentDir(t *testing.T) {
	if _, err := LoadMigrationFiles(filepath.Join(t.TempDir(), "nonexistent")); err == nil {
		t.Error("db:migrations_test - expected error for non-existent directory")
	}
}

func TestLoadMigrationFiles_RepoMigrations(t *testing.T) {
	result, err := LoadMigrationFiles(filepath.Join("..", "..", "migrations"))
	if err != nil {
		t.Fatalf("db:migrations_test - unexpected error: %v", err)
	}
	if len(result) == 0 || !strings.Contains(result[0].SQL, "shared_schemas") {
		t.Errorf("db:migrations_test - expected shared_schemas migration, got %+v", result)
	}
}

func TestStatus_String(t *testing.T) {
	applied := Status{Applied: true, Files: 1, Path: "migrations"}.String()
	if !strings.Contains(applied, "applied (schema present") {
		t.Errorf("db:migrations_test - unexpected applied status %q", applied)
	}
	pending := Status{Files: 1, Path: "migrations"}.String()
	if !strings.Contains(pending, "wsdispatch migrate up") {
		t.Errorf("db:migrations_test - unexpected pending status %q", pending)
	}
}
