package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/ericfisherdev/keyissuer/internal/domain/model"
	"github.com/ericfisherdev/keyissuer/internal/domain/port/driven"
)

// DefaultTimeout bounds a single repository operation when no timeout is configured.
const DefaultTimeout = 5 * time.Second

// Compile-time interface satisfaction check.
var _ driven.APIKeyStore = (*APIKeyRepo)(nil)

// APIKeyRepo is the SQLite implementation of the APIKeyStore port interface.
type APIKeyRepo struct {
	db       *DB
	timeout  time.Duration
	generate func() (string, error)
}

// NewAPIKeyRepo creates a new APIKeyRepo. A non-positive timeout falls back to DefaultTimeout.
func NewAPIKeyRepo(db *DB, timeout time.Duration) *APIKeyRepo {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &APIKeyRepo{db: db, timeout: timeout, generate: model.GenerateAPIKey}
}

// IssueOrFetch inserts a freshly generated key for email and returns it. When
// email already has a row the candidate is discarded and the stored row decides
// the result: the original key, or model.Revoked() for a deleted row.
func (r *APIKeyRepo) IssueOrFetch(ctx context.Context, email string) (model.IssueResult, error) {
	if email == "" {
		return model.IssueResult{}, driven.ErrInvalidIdentity
	}

	candidate, err := r.generate()
	if err != nil {
		return model.IssueResult{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	inserted, err := r.insert(ctx, email, candidate)
	if err != nil {
		return model.IssueResult{}, storeError(fmt.Sprintf("insert api key for %q", email), err)
	}
	if inserted {
		return model.Active(candidate), nil
	}

	return r.fetch(ctx, email)
}

// Ping reports whether both connection pools are reachable.
func (r *APIKeyRepo) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.db.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", driven.ErrStorageUnavailable, err)
	}
	return nil
}

// insert reports false when email already has a row.
func (r *APIKeyRepo) insert(ctx context.Context, email, apiKey string) (bool, error) {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const query = `INSERT INTO api_keys (email, api_key) VALUES (?, ?)`
	if _, err := tx.ExecContext(ctx, query, email, apiKey); err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

func (r *APIKeyRepo) fetch(ctx context.Context, email string) (model.IssueResult, error) {
	const query = `SELECT api_key, deleted FROM api_keys WHERE email = ?`

	var rec model.APIKeyRecord
	err := r.db.Reader.QueryRowContext(ctx, query, email).Scan(&rec.APIKey, &rec.Deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return model.IssueResult{}, fmt.Errorf("%w: conflicting row for %q not found", driven.ErrStorageUnavailable, email)
	}
	if err != nil {
		return model.IssueResult{}, storeError(fmt.Sprintf("fetch api key for %q", email), err)
	}

	if rec.Deleted {
		return model.Revoked(), nil
	}
	return model.Active(rec.APIKey), nil
}

// isUniqueViolation reports whether err is SQLite's primary key or unique
// constraint failure. Other constraint failures (NOT NULL, CHECK) do not match.
func isUniqueViolation(err error) bool {
	var sqliteErr *moderncsqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}

	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		return strings.Contains(sqliteErr.Error(), "UNIQUE constraint failed")
	}
	return false
}

// isSchemaError reports whether err comes from a missing table or column.
func isSchemaError(err error) bool {
	var sqliteErr *moderncsqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}

	msg := sqliteErr.Error()
	return strings.Contains(msg, "no such table") ||
		strings.Contains(msg, "no such column") ||
		strings.Contains(msg, "has no column named")
}

// storeError wraps err in the driven error taxonomy.
func storeError(op string, err error) error {
	if isSchemaError(err) {
		return fmt.Errorf("%s: %w: %w", op, driven.ErrSchemaCorruption, err)
	}
	return fmt.Errorf("%s: %w: %w", op, driven.ErrStorageUnavailable, err)
}
