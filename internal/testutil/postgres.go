// Package testutil provides shared test infrastructure, currently a
// disposable PostgreSQL instance with the service schema applied.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/alanbjordan/Veteran-Support-Agent/db"
)

// TestDB wraps a PostgreSQL test container with a ready connection pool.
type TestDB struct {
	Container *postgres.PostgresContainer
	Pool      *pgxpool.Pool
	ConnStr   string
}

// SetupTestDB starts a PostgreSQL container, applies the embedded schema
// migrations and returns a pooled connection. The returned cleanup function
// must be called to terminate the container.
//
// Tests using this fixture should guard with testing.Short so the suite
// stays runnable without Docker:
//
//	if testing.Short() {
//	    t.Skip("skipping container test in short mode")
//	}
func SetupTestDB(t *testing.T) (*TestDB, func()) {
	t.Helper()

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("vsa_test"),
		postgres.WithUsername("vsa_test"),
		postgres.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("get connection string: %v", err)
	}

	if err := db.Migrate(connStr); err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("apply migrations: %v", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("create connection pool: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("ping database: %v", err)
	}

	tdb := &TestDB{Container: container, Pool: pool, ConnStr: connStr}
	cleanup := func() {
		pool.Close()
		_ = container.Terminate(context.Background())
	}
	return tdb, cleanup
}
