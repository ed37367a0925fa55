package sqlite

import (
	"context"
	"path/filepath"
	"testing"
)

// setupTestDB opens a WAL-mode database in a per-test temporary directory and
// applies migrations. A file is used rather than a shared in-memory database so
// concurrent writer and reader connections get WAL isolation instead of
// shared-cache table locks.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	ctx := context.Background()
	db, err := NewDB(ctx, filepath.Join(t.TempDir(), "keyissuer.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}

	if err := RunMigrations(db.Writer); err != nil {
		_ = db.Close()
		t.Fatalf("run migrations: %v", err)
	}

	t.Cleanup(func() { _ = db.Close() })

	return db
}

// revoke marks email as deleted directly in storage, the way an operator would.
func revoke(t *testing.T, db *DB, email string) {
	t.Helper()

	_, err := db.Writer.ExecContext(context.Background(), `UPDATE api_keys SET deleted = 1 WHERE email = ?`, email)
	if err != nil {
		t.Fatalf("revoke %q: %v", email, err)
	}
}

// countRows returns the number of api_keys rows for email.
func countRows(t *testing.T, db *DB, email string) int {
	t.Helper()

	var n int
	err := db.Reader.QueryRowContext(context.Background(), `SELECT COUNT(*) FROM api_keys WHERE email = ?`, email).Scan(&n)
	if err != nil {
		t.Fatalf("count rows for %q: %v", email, err)
	}
	return n
}
