// Package testutil provides shared helpers for integration tests:
// disposable PostgreSQL containers with pgvector, and Genkit mocks for
// the model and embedder.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/protokoll-ai/protokoll/db"
)

const (
	testDBImage    = "pgvector/pgvector:pg16"
	testDBName     = "protokoll_test"
	testDBUser     = "protokoll"
	testDBPassword = "protokoll_test_password"
)

// TestDB bundles a running PostgreSQL container with a connected pool.
type TestDB struct {
	Container  *postgres.PostgresContainer
	Pool       *pgxpool.Pool
	ConnString string
}

// StartPostgres launches a pgvector-enabled PostgreSQL container and
// applies the embedded migrations, so tests run against the exact
// schema production uses. The caller owns the returned TestDB and must
// Close it.
func StartPostgres(ctx context.Context) (*TestDB, error) {
	container, err := postgres.Run(ctx, testDBImage,
		postgres.WithDatabase(testDBName),
		postgres.WithUsername(testDBUser),
		postgres.WithPassword(testDBPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)))
	if err != nil {
		return nil, fmt.Errorf("starting postgres container: %w", err)
	}

	connString, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("getting connection string: %w", err)
	}

	if err := db.Migrate(connString); err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("migrating test database: %w", err)
	}

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("connecting to test database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("pinging test database: %w", err)
	}

	return &TestDB{Container: container, Pool: pool, ConnString: connString}, nil
}

// Close releases the pool and terminates the container.
func (tdb *TestDB) Close(ctx context.Context) {
	if tdb.Pool != nil {
		tdb.Pool.Close()
	}
	if tdb.Container != nil {
		_ = tdb.Container.Terminate(ctx)
	}
}

// SetupTestDB starts a container scoped to a single test and registers
// cleanup. Prefer a shared container via TestMain when a package has
// many database tests; container startup dominates test time.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	tdb, err := StartPostgres(context.Background())
	if err != nil {
		t.Fatalf("setting up test database: %v", err)
	}
	t.Cleanup(func() {
		tdb.Close(context.Background())
	})
	return tdb
}

// CleanTables empties the protocols table so tests sharing one
// container start from a blank slate. RESTART IDENTITY resets the id
// sequence, which insertion-order tie-breaking depends on.
func CleanTables(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, "TRUNCATE TABLE protocols RESTART IDENTITY")
	if err != nil {
		return fmt.Errorf("truncating protocols: %w", err)
	}
	return nil
}
