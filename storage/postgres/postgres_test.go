package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/patrickcsouzadev/todo-app/storage"
	"github.com/patrickcsouzadev/todo-app/storage/storagetest"
)

var testTables = []string{
	"signing_keys", "one_time_tokens", "users", "login_attempts",
	"audit_logs", "security_events", "rate_limit_entries",
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TODOAPP_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TODOAPP_TEST_POSTGRES_DSN not set; skipping PostgreSQL tests")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err, "could not connect to postgres")
	require.NoError(t, EnsureSchema(ctx, pool), "could not ensure schema")

	truncate := func() {
		for _, table := range testTables {
			pool.Exec(ctx, "DELETE FROM "+table) //nolint:errcheck
		}
	}
	truncate()
	t.Cleanup(func() {
		truncate()
		pool.Close()
	})
	return NewRepository(pool)
}

func TestRepository(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Repository {
		return newTestStore(t)
	})
}
