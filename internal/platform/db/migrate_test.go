package db

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/navimed/navimed/migrations"
)

func TestMigrator_Versions(t *testing.T) {
	m := NewMigrator("postgres://localhost/navimed", zerolog.Nop())

	versions, err := m.Versions()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(versions) == 0 || versions[0] != 1 {
		t.Fatalf("expected migrations starting at version 1, got %v", versions)
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Fatalf("expected ascending versions, got %v", versions)
		}
	}
}

func TestMigrations_CreateAppointmentLog(t *testing.T) {
	data, err := fs.ReadFile(migrations.FS, "00001_appointment_log.sql")
	if err != nil {
		t.Fatalf("failed to read migration: %v", err)
	}
	sql := string(data)
	for _, want := range []string{"-- +goose Up", "-- +goose Down", "appointment_log", "storage_key TEXT PRIMARY KEY", "JSONB"} {
		if !strings.Contains(sql, want) {
			t.Errorf("expected migration to contain %q", want)
		}
	}
}
