package database

import (
	"io/fs"
	"strings"
	"testing"
	"testing/fstest"
)

func TestPendingMigrationsOrderAndSkip(t *testing.T) {
	fsys := fstest.MapFS{
		"002_b.sql": {Data: []byte("SELECT 2")},
		"001_a.sql": {Data: []byte("SELECT 1")},
		"003_c.sql": {Data: []byte("SELECT 3")},
		"README.md": {Data: []byte("ignored")},
	}

	pending, err := PendingMigrations(fsys, map[string]bool{"002_b.sql": true})
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 2 || pending[0] != "001_a.sql" || pending[1] != "003_c.sql" {
		t.Fatalf("unexpected pending list %v", pending)
	}
}

func TestEmbeddedSchemaEnablesRowLevelSecurity(t *testing.T) {
	fsys := Migrations()
	files, err := fs.Glob(fsys, "*.sql")
	if err != nil || len(files) == 0 {
		t.Fatalf("expected embedded migrations, got %v (%v)", files, err)
	}

	data, err := fs.ReadFile(fsys, files[0])
	if err != nil {
		t.Fatalf("read %s: %v", files[0], err)
	}
	schema := string(data)
	for _, table := range []string{"users", "custom_roles", "role_permission_overrides", "audit_logs"} {
		if !strings.Contains(schema, "ALTER TABLE "+table+" ENABLE ROW LEVEL SECURITY") {
			t.Fatalf("table %s is missing row level security", table)
		}
	}
	if !strings.Contains(schema, "current_setting('app.current_tenant', true)") {
		t.Fatalf("policies must key off app.current_tenant")
	}
	if !strings.Contains(schema, "current_setting('app.bypass_rls', true)") {
		t.Fatalf("policies must honour app.bypass_rls")
	}
}
