package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ericfisherdev/keyissuer/internal/domain/model"
	"github.com/ericfisherdev/keyissuer/internal/domain/port/driven"
)

const (
	codeUniqueViolation = "23505"
	codeUndefinedTable  = "42P01"
	codeUndefinedColumn = "42703"
)

// DefaultTimeout bounds a single repository operation when no timeout is configured.
const DefaultTimeout = 5 * time.Second

var _ driven.APIKeyStore = (*APIKeyRepo)(nil)

// APIKeyRepo is the PostgreSQL implementation of the APIKeyStore port interface.
type APIKeyRepo struct {
	db       *sql.DB
	timeout  time.Duration
	generate func() (string, error)
}

// NewAPIKeyRepo creates a new APIKeyRepo. A non-positive timeout falls back to DefaultTimeout.
func NewAPIKeyRepo(db *sql.DB, timeout time.Duration) *APIKeyRepo {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &APIKeyRepo{db: db, timeout: timeout, generate: model.GenerateAPIKey}
}

// IssueOrFetch inserts a freshly generated key for email, or on a unique
// violation returns what is already stored for it.
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

// Ping reports whether the pool can reach the server.
func (r *APIKeyRepo) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", driven.ErrStorageUnavailable, err)
	}
	return nil
}

// insert reports false when email already has a row. The failed transaction is
// aborted by the server, so the caller reads the existing row outside it.
func (r *APIKeyRepo) insert(ctx context.Context, email, apiKey string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const query = `INSERT INTO api_keys (email, api_key) VALUES ($1, $2)`
	if _, err := tx.ExecContext(ctx, query, email, apiKey); err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

func (r *APIKeyRepo) fetch(ctx context.Context, email string) (model.IssueResult, error) {
	const query = `SELECT api_key, deleted FROM api_keys WHERE email = $1`

	var rec model.APIKeyRecord
	err := r.db.QueryRowContext(ctx, query, email).Scan(&rec.APIKey, &rec.Deleted)
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

func isUniqueViolation(err error) bool {
	return pgCode(err) == codeUniqueViolation
}

func isSchemaError(err error) bool {
	code := pgCode(err)
	return code == codeUndefinedTable || code == codeUndefinedColumn
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func storeError(op string, err error) error {
	if isSchemaError(err) {
		return fmt.Errorf("%s: %w: %w", op, driven.ErrSchemaCorruption, err)
	}
	return fmt.Errorf("%s: %w: %w", op, driven.ErrStorageUnavailable, err)
}
