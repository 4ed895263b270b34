package db

import (
	"io/fs"
	"strings"
	"testing"
)

func TestMigrationsAreEmbeddedAndAnnotated(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, migrationsDir)
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}
	if len(entries) < 4 {
		t.Fatalf("expected at least 4 migrations, got %d", len(entries))
	}
	for _, e := range entries {
		b, err := fs.ReadFile(migrationsFS, migrationsDir+"/"+e.Name())
		if err != nil {
			t.Fatalf("read %s: %v", e.Name(), err)
		}
		s := string(b)
		if !strings.Contains(s, "-- +goose Up") || !strings.Contains(s, "-- +goose Down") {
			t.Fatalf("%s is missing goose annotations", e.Name())
		}
	}
}
