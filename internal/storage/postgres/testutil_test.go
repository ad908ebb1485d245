package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestDB starts a PostgreSQL container and applies the embedded
// migrations. Skipped with -short since it needs Docker.
func setupTestDB(t *testing.T) *Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container tests need docker")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err, "failed to create pool")
	t.Cleanup(pool.Close)

	require.NoError(t, pool.Migrate(ctx))
	// migrations are idempotent
	require.NoError(t, pool.Migrate(ctx))
	return pool
}
