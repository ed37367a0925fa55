package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/ericfisherdev/keyissuer/internal/domain/port/driven"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var requiredColumns = []string{"email", "api_key", "deleted"}

// RunMigrations applies all pending migrations. golang-migrate holds an
// advisory lock while migrating, so concurrent startups wait rather than fail.
func RunMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "pgx5", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		var dirty migrate.ErrDirty
		if errors.As(err, &dirty) {
			return fmt.Errorf("run migrations: %w: %w", driven.ErrSchemaCorruption, err)
		}
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// VerifySchema checks that api_keys exists in the current schema with every
// column the repository uses.
func VerifySchema(ctx context.Context, db *sql.DB) error {
	const query = `SELECT column_name FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = 'api_keys'`

	rows, err := db.QueryContext(ctx, query)
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
