package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/ericfisherdev/keyissuer/internal/domain/port/driven"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// requiredColumns are the api_keys columns the repository reads and writes.
var requiredColumns = []string{"email", "api_key", "deleted"}

// newMigrationBackOff paces RunMigrations while another connection holds the
// schema in a dirty or locked state. Tests replace it to shorten the wait.
var newMigrationBackOff = func() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 25 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 15 * time.Second
	return b
}

// RunMigrations applies all pending database migrations embedded in the binary.
// It is safe to call on every startup and from several processes sharing one
// file: the table is created with IF NOT EXISTS, and a dirty version or a busy
// database left by a concurrent migrator is retried until it settles. Only a
// dirty state that outlasts the retries is reported as driven.ErrSchemaCorruption.
func RunMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	err = backoff.Retry(func() error {
		err := migrateUp(db, sourceDriver)
		switch {
		case err == nil:
			return nil
		case isDirty(err), isBusy(err):
			return err
		default:
			return backoff.Permanent(err)
		}
	}, newMigrationBackOff())

	if isDirty(err) {
		return fmt.Errorf("run migrations: %w: %w", driven.ErrSchemaCorruption, err)
	}
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// migrateUp builds a migrator over db and applies pending migrations.
// Creating the driver also creates schema_migrations, which can hit a busy
// database, so it runs on every attempt.
func migrateUp(db *sql.DB, sourceDriver source.Driver) error {
	dbDriver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func isDirty(err error) bool {
	var dirty migrate.ErrDirty
	return errors.As(err, &dirty)
}

// isBusy reports whether err is SQLITE_BUSY or SQLITE_LOCKED, including the
// extended codes. golang-migrate does not always keep the driver error in its
// chain, so the message is checked as well.
func isBusy(err error) bool {
	if err == nil {
		return false
	}

	var sqliteErr *moderncsqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
	}

	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database table is locked")
}

// VerifySchema checks that the api_keys table exists with every column the
// repository depends on.
func VerifySchema(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, `SELECT name FROM pragma_table_info('api_keys')`)
	if err != nil {
		return fmt.Errorf("inspect api_keys: %w", err)
	}
	defer rows.Close()

	present := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("scan column name: %w", err)
		}
		present[name] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate columns: %w", err)
	}

	if len(present) == 0 {
		return fmt.Errorf("%w: table api_keys does not exist", driven.ErrSchemaCorruption)
	}
	for _, col := range requiredColumns {
		if !present[col] {
			return fmt.Errorf("%w: table api_keys has no column %q", driven.ErrSchemaCorruption, col)
		}
	}

	return nil
}
