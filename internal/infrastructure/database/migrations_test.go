package database

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/google/go-cmp/cmp"
)

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"20260101_000000_widgets.up.sql":   {Data: []byte("CREATE TABLE widgets (id TEXT PRIMARY KEY);")},
		"20260101_000000_widgets.down.sql": {Data: []byte("DROP TABLE widgets;")},
		"20260102_000000_gadgets.up.sql":   {Data: []byte("CREATE TABLE gadgets (id TEXT PRIMARY KEY);")},
		"README.md":                        {Data: []byte("ignored")},
	}
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&n)
	if err != nil {
		t.Fatalf("querying sqlite_master: %v", err)
	}
	return n == 1
}

func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx, testMigrations()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !tableExists(t, db, "widgets") || !tableExists(t, db, "gadgets") {
		t.Fatal("expected widgets and gadgets tables")
	}

	applied, pending, err := db.MigrationStatus(ctx, testMigrations())
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 0 {
		t.Errorf("applied=%d pending=%d, want 2 and 0", len(applied), len(pending))
	}

	// Re-running is a no-op.
	if err := db.Migrate(ctx, testMigrations()); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrate_FailureStopsAtBrokenMigration(t *testing.T) {
	db := openTestDB(t)
	fsys := testMigrations()
	fsys["20260102_000000_gadgets.up.sql"] = &fstest.MapFile{Data: []byte("CREATE TABLEX broken;")}

	if err := db.Migrate(context.Background(), fsys); err == nil {
		t.Fatal("Migrate() expected error for broken SQL")
	}
	if !tableExists(t, db, "widgets") {
		t.Error("earlier migration should remain committed")
	}
}

func TestMigrateDown(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	fsys := fstest.MapFS{
		"20260101_000000_widgets.up.sql":   {Data: []byte("CREATE TABLE widgets (id TEXT PRIMARY KEY);")},
		"20260101_000000_widgets.down.sql": {Data: []byte("DROP TABLE widgets;")},
	}

	if err := db.Migrate(ctx, fsys); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx, fsys); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	if tableExists(t, db, "widgets") {
		t.Error("widgets table should be dropped")
	}

	// Nothing left to roll back.
	if err := db.MigrateDown(ctx, fsys); err != nil {
		t.Errorf("MigrateDown() with nothing applied error = %v", err)
	}
}

func TestLoadMigrations(t *testing.T) {
	got, err := LoadMigrations(testMigrations())
	if err != nil {
		t.Fatalf("LoadMigrations() error = %v", err)
	}

	want := []Migration{
		{
			Version: "20260101_000000",
			Name:    "widgets",
			UpSQL:   "CREATE TABLE widgets (id TEXT PRIMARY KEY);",
			DownSQL: "DROP TABLE widgets;",
		},
		{
			Version: "20260102_000000",
			Name:    "gadgets",
			UpSQL:   "CREATE TABLE gadgets (id TEXT PRIMARY KEY);",
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("LoadMigrations() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadMigrations_DownWithoutUp(t *testing.T) {
	fsys := fstest.MapFS{
		"20260101_000000_orphan.down.sql": {Data: []byte("DROP TABLE orphan;")},
	}
	if _, err := LoadMigrations(fsys); err == nil {
		t.Error("LoadMigrations() expected error for down-only migration")
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion string
		wantName    string
		wantUp      bool
		wantOK      bool
	}{
		{"20260301_090000_cached_states.up.sql", "20260301_090000", "cached_states", true, true},
		{"20260301_090000_cached_states.down.sql", "20260301_090000", "cached_states", false, true},
		{"20260301_090000.up.sql", "20260301_090000", "", true, true},
		{"20260301.up.sql", "", "", false, false},
		{"20260301_090000_x.sql", "", "", false, false},
		{"notes.txt", "", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, isUp, ok := parseMigrationFilename(tt.filename)
			if version != tt.wantVersion || name != tt.wantName || isUp != tt.wantUp || ok != tt.wantOK {
				t.Errorf("parseMigrationFilename(%q) = (%q, %q, %v, %v), want (%q, %q, %v, %v)",
					tt.filename, version, name, isUp, ok, tt.wantVersion, tt.wantName, tt.wantUp, tt.wantOK)
			}
		})
	}
}
