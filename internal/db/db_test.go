package db

import (
	"path/filepath"
	"testing"
)

// newTestDB opens a migrated database under a per-test temp directory.
func newTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return db
}

// TestPragmasApplied verifies that essential PRAGMAs are set on all databases.
func TestPragmasApplied(t *testing.T) {
	db := newTestDB(t)

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("Failed to query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("Expected journal_mode=wal, got %s", journalMode)
	}

	var busyTimeout int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout); err != nil {
		t.Fatalf("Failed to query busy_timeout: %v", err)
	}
	if busyTimeout != 5000 {
		t.Errorf("Expected busy_timeout=5000, got %d", busyTimeout)
	}

	var synchronous int
	if err := db.QueryRow("PRAGMA synchronous").Scan(&synchronous); err != nil {
		t.Fatalf("Failed to query synchronous: %v", err)
	}
	if synchronous != 1 { // 1 = NORMAL
		t.Errorf("Expected synchronous=1 (NORMAL), got %d", synchronous)
	}

	var tempStore int
	if err := db.QueryRow("PRAGMA temp_store").Scan(&tempStore); err != nil {
		t.Fatalf("Failed to query temp_store: %v", err)
	}
	if tempStore != 2 { // 2 = MEMORY
		t.Errorf("Expected temp_store=2 (MEMORY), got %d", tempStore)
	}
}

// TestNewDBCreatesSchema verifies NewDB brings a fresh database to the
// latest migration version.
func TestNewDBCreatesSchema(t *testing.T) {
	db := newTestDB(t)

	for _, table := range []string{"analyses", "storage_records", "schema_migrations"} {
		var count int
		err := db.QueryRow(
			`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table,
		).Scan(&count)
		if err != nil {
			t.Fatalf("Failed to check for table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("Expected table %s to exist", table)
		}
	}

	migrations, err := getMigrationsFS()
	if err != nil {
		t.Fatalf("Failed to get migrations filesystem: %v", err)
	}

	version, dirty, err := db.MigrateVersion(migrations)
	if err != nil {
		t.Fatalf("Failed to get migration version: %v", err)
	}
	if dirty {
		t.Error("Expected clean migration state")
	}

	latest, err := GetLatestMigrationVersion(migrations)
	if err != nil {
		t.Fatalf("Failed to get latest migration version: %v", err)
	}
	if version != latest {
		t.Errorf("Expected version %d, got %d", latest, version)
	}
}

// TestOpenDBDoesNotMigrate verifies OpenDB leaves the schema alone so the
// migrate CLI can inspect a database without changing it.
func TestOpenDBDoesNotMigrate(t *testing.T) {
	db, err := OpenDB(filepath.Join(t.TempDir(), "bare.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	var count int
	err = db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='analyses'`,
	).Scan(&count)
	if err != nil {
		t.Fatalf("Failed to check for analyses table: %v", err)
	}
	if count != 0 {
		t.Error("Expected no analyses table before migrations run")
	}
}

// TestNewDBReopenExisting verifies reopening an already-migrated database
// succeeds and keeps the data.
func TestNewDBReopenExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")

	db1, err := NewDB(path)
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	if err := db1.UpsertAnalysis(sampleAnalysis("a1", "bedroom-pi", 1700000000)); err != nil {
		t.Fatalf("UpsertAnalysis failed: %v", err)
	}
	db1.Close()

	db2, err := NewDB(path)
	if err != nil {
		t.Fatalf("Failed to reopen database: %v", err)
	}
	defer db2.Close()

	got, err := db2.GetAnalysis("a1")
	if err != nil {
		t.Fatalf("GetAnalysis after reopen failed: %v", err)
	}
	if got.DeviceID != "bedroom-pi" {
		t.Errorf("Expected device bedroom-pi, got %s", got.DeviceID)
	}
}
