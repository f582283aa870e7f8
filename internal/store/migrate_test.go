package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunMigrations_FreshDB(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := runSQLiteMigrations(ctx, db, testLogger()); err != nil {
		t.Fatalf("migrations failed: %v", err)
	}
	version, err := sqliteVersion(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	if version != sqliteSchemaVersion {
		t.Errorf("expected schema version %d, got %d", sqliteSchemaVersion, version)
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := runSQLiteMigrations(ctx, db, testLogger()); err != nil {
		t.Fatalf("first migration failed: %v", err)
	}
	if err := runSQLiteMigrations(ctx, db, testLogger()); err != nil {
		t.Fatalf("second migration failed: %v", err)
	}
}

func TestRunMigrations_CreatesExpectedTables(t *testing.T) {
	db := testDB(t)
	if err := runSQLiteMigrations(context.Background(), db, testLogger()); err != nil {
		t.Fatal(err)
	}

	for _, table := range []string{
		"customers", "sessions", "conversation_history", "customer_memories", "trial_users", "schema_version",
	} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}
}

func TestRunMigrations_AdoptsExistingTables(t *testing.T) {
	db := testDB(t)
	// A customers table created outside the migration runner.
	if _, err := db.Exec(`CREATE TABLE customers (id INTEGER PRIMARY KEY, phone TEXT UNIQUE, name TEXT, created_at DATETIME, last_seen DATETIME)`); err != nil {
		t.Fatal(err)
	}
	if err := runSQLiteMigrations(context.Background(), db, testLogger()); err != nil {
		t.Fatalf("migrations over an existing table failed: %v", err)
	}
}

func TestSchemaVersion_EmptyDB(t *testing.T) {
	version, err := sqliteVersion(context.Background(), testDB(t))
	if err != nil || version != 0 {
		t.Fatalf("expected 0, nil; got %d, %v", version, err)
	}
}

func TestMigrationVersionsAreOrdered(t *testing.T) {
	for i, m := range migrations {
		if m.Version != i+1 {
			t.Fatalf("migration %d has version %d", i, m.Version)
		}
	}
	if migrations[len(migrations)-1].Version != sqliteSchemaVersion {
		t.Fatal("sqliteSchemaVersion does not match the last migration")
	}
}

func TestEmbeddedPostgresMigrations(t *testing.T) {
	entries, err := postgresMigrations.ReadDir("migrations/postgres")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 4 {
		t.Fatalf("expected up and down files for 2 versions, got %d", len(entries))
	}
}
