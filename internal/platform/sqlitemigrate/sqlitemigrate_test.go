package sqlitemigrate

import (
	"context"
	"database/sql"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"
)

func openMemory(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func count(t *testing.T, db *sql.DB, q string) int {
	t.Helper()
	var n int
	if err := db.QueryRow(q).Scan(&n); err != nil {
		t.Fatalf("%s: %v", q, err)
	}
	return n
}

func TestApplyRunsOnce(t *testing.T) {
	db := openMemory(t)
	ctx := context.Background()
	fsys := fstest.MapFS{
		"001_runs.sql":    &fstest.MapFile{Data: []byte("-- +migrate Up\nCREATE TABLE runs(id TEXT PRIMARY KEY);\n-- +migrate Down\nDROP TABLE runs;")},
		"002_records.sql": &fstest.MapFile{Data: []byte("CREATE TABLE records(id TEXT PRIMARY KEY);")},
		"README.md":       &fstest.MapFile{Data: []byte("not a migration")},
	}

	applied, err := Apply(ctx, db, fsys, "")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(applied) != 2 || applied[0] != "001_runs.sql" {
		t.Fatalf("applied = %v", applied)
	}

	again, err := Apply(ctx, db, fsys, ".")
	if err != nil {
		t.Fatalf("second Apply: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second Apply ran %v", again)
	}
	if n := count(t, db, "SELECT COUNT(*) FROM schema_migrations"); n != 2 {
		t.Errorf("recorded %d migrations, want 2", n)
	}
	if n := count(t, db, "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'runs'"); n != 1 {
		t.Error("Down section was executed or Up skipped")
	}
}

func TestApplyLeavesFailedMigrationUnrecorded(t *testing.T) {
	db := openMemory(t)
	bad := fstest.MapFS{"001_bad.sql": &fstest.MapFile{Data: []byte("CREAT TABLE nope(id INT);")}}
	if _, err := Apply(context.Background(), db, bad, ""); err == nil {
		t.Fatal("expected error")
	}
	if n := count(t, db, "SELECT COUNT(*) FROM schema_migrations"); n != 0 {
		t.Errorf("failed migration recorded %d times", n)
	}
}

func TestUpSection(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no markers", "CREATE TABLE a(x);", "CREATE TABLE a(x);"},
		{"up only", "-- +migrate Up\nCREATE TABLE a(x);", "\nCREATE TABLE a(x);"},
		{"up and down", "-- +migrate Up\nA;\n-- +migrate Down\nB;", "\nA;\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UpSection(tt.in); got != tt.want {
				t.Errorf("UpSection = %q, want %q", got, tt.want)
			}
		})
	}
}
