package store

import (
	"database/sql"
	"path/filepath"
	"testing"
)

// OpenTestDB opens a migrated database in t.TempDir() and closes it on cleanup.
func OpenTestDB(t testing.TB) *sql.DB {
	t.Helper()

	db, err := OpenAndMigrate(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// OpenEmptyTestDB opens a database without running migrations.
func OpenEmptyTestDB(t testing.TB) *sql.DB {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "empty.db"))
	if err != nil {
		t.Fatalf("open empty test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}
