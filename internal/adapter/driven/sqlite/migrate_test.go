package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/ericfisherdev/keyissuer/internal/domain/port/driven"
)

func TestRunMigrations_Idempotent(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, RunMigrations(db.Writer), "second run should be a no-op")
	require.NoError(t, VerifySchema(context.Background(), db.Reader))
}

func TestRunMigrations_PreservesRows(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, err := db.Writer.ExecContext(ctx, `INSERT INTO api_keys (email, api_key) VALUES (?, ?)`, "a@x.com", "k1")
	require.NoError(t, err)

	require.NoError(t, RunMigrations(db.Writer))
	assert.Equal(t, 1, countRows(t, db, "a@x.com"))
}

func TestRunMigrations_DefaultsDeletedToFalse(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, err := db.Writer.ExecContext(ctx, `INSERT INTO api_keys (email, api_key) VALUES (?, ?)`, "a@x.com", "k1")
	require.NoError(t, err)

	var deleted bool
	err = db.Reader.QueryRowContext(ctx, `SELECT deleted FROM api_keys WHERE email = ?`, "a@x.com").Scan(&deleted)
	require.NoError(t, err)
	assert.False(t, deleted)
}

// useMigrationBackOff swaps the retry policy for the duration of the test.
func useMigrationBackOff(t *testing.T, b func() backoff.BackOff) {
	t.Helper()

	orig := newMigrationBackOff
	newMigrationBackOff = b
	t.Cleanup(func() { newMigrationBackOff = orig })
}

func setDirty(t *testing.T, db *DB, dirty bool) {
	t.Helper()

	_, err := db.Writer.ExecContext(context.Background(), `UPDATE schema_migrations SET dirty = ?`, dirty)
	require.NoError(t, err)
}

func TestRunMigrations_ConcurrentStartup(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shared.db")

	const handles = 8
	dbs := make([]*DB, handles)
	for i := range handles {
		db, err := NewDB(ctx, path)
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })
		dbs[i] = db
	}

	var g errgroup.Group
	for i, db := range dbs {
		g.Go(func() error {
			if err := RunMigrations(db.Writer); err != nil {
				return fmt.Errorf("handle %d: %w", i, err)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for _, db := range dbs {
		require.NoError(t, VerifySchema(ctx, db.Reader))
	}

	var (
		version int
		dirty   bool
	)
	err := dbs[0].Reader.QueryRowContext(ctx, `SELECT version, dirty FROM schema_migrations`).Scan(&version, &dirty)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
	assert.False(t, dirty)
}

func TestRunMigrations_WaitsForDirtyStateToClear(t *testing.T) {
	useMigrationBackOff(t, func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(20*time.Millisecond), 100)
	})
	db := setupTestDB(t)
	setDirty(t, db, true)

	done := make(chan struct{})
	go func() {
		defer close(done)
		time.Sleep(100 * time.Millisecond)
		_, _ = db.Writer.ExecContext(context.Background(), `UPDATE schema_migrations SET dirty = ?`, false)
	}()

	err := RunMigrations(db.Writer)
	<-done
	require.NoError(t, err)
	require.NoError(t, VerifySchema(context.Background(), db.Reader))
}

func TestRunMigrations_PersistentDirtyIsSchemaCorruption(t *testing.T) {
	useMigrationBackOff(t, func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2)
	})
	db := setupTestDB(t)
	setDirty(t, db, true)

	err := RunMigrations(db.Writer)
	require.Error(t, err)
	assert.ErrorIs(t, err, driven.ErrSchemaCorruption)
}

func TestVerifySchema(t *testing.T) {
	tests := []struct {
		name    string
		mutate  []string
		wantErr bool
	}{
		{
			name: "migrated schema",
		},
		{
			name:    "missing table",
			mutate:  []string{`DROP TABLE api_keys`},
			wantErr: true,
		},
		{
			name: "missing deleted column",
			mutate: []string{
				`DROP TABLE api_keys`,
				`CREATE TABLE api_keys (email TEXT PRIMARY KEY, api_key TEXT NOT NULL)`,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := setupTestDB(t)
			ctx := context.Background()

			for _, stmt := range tt.mutate {
				_, err := db.Writer.ExecContext(ctx, stmt)
				require.NoError(t, err)
			}

			err := VerifySchema(ctx, db.Reader)
			if tt.wantErr {
				assert.ErrorIs(t, err, driven.ErrSchemaCorruption)
				return
			}
			assert.NoError(t, err)
		})
	}
}
