// Package testcontainers starts disposable PostgreSQL and Redis servers for
// integration tests of the storage and scheduling packages.
//
// Containers need Docker, so every helper skips the calling test unless
// INTEGRATION_TESTS=1 is set:
//
//	func TestIntegrationRepository(t *testing.T) {
//	    tc := testcontainers.NewPostgres(t)
//
//	    repo := postgres.NewIntegrationRepository(tc.DB)
//	    ...
//	}
//
// Environment Variables:
//   - INTEGRATION_TESTS: set to "1" to run container backed tests
//   - TESTCONTAINERS_RYUK_DISABLED: set to "true" to disable Ryuk (container cleanup)
//   - DOCKER_HOST: custom Docker host (optional)
package testcontainers

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
)

const (
	// defaultTimeout bounds container startup.
	defaultTimeout = 2 * time.Minute

	enableEnv = "INTEGRATION_TESTS"
)

// Enabled reports whether container backed tests should run.
func Enabled() bool {
	return os.Getenv(enableEnv) == "1"
}

// Skip skips t unless container backed tests are enabled.
func Skip(t *testing.T) {
	t.Helper()

	if testing.Short() || !Enabled() {
		t.Skipf("skipping integration test: set %s=1 to run it", enableEnv)
	}
}

// TestContext holds the clients of the containers started for one test.
// Everything is torn down through t.Cleanup in reverse order of creation.
type TestContext struct {
	Ctx context.Context

	// DB is a pgx backed database/sql handle, set by NewPostgres.
	DB          *sql.DB
	PostgresDSN string

	// Redis is set by NewRedis.
	Redis     *redis.Client
	RedisAddr string
	RedisHost string
	RedisPort int
}

// NewPostgres starts PostgreSQL for t and opens a database handle to it.
func NewPostgres(t *testing.T) *TestContext {
	t.Helper()
	Skip(t)

	ctx := startupContext(t)

	container, err := NewPostgresContainer(ctx)
	if err != nil {
		t.Fatalf("Failed to initialize Postgres: %v", err)
	}

	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Errorf("Failed to terminate Postgres container: %v", err)
		}
	})

	db, err := sql.Open("pgx", container.DSN())
	if err != nil {
		t.Fatalf("Failed to open Postgres connection: %v", err)
	}

	t.Cleanup(func() { _ = db.Close() })

	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("Failed to ping Postgres: %v", err)
	}

	return &TestContext{Ctx: context.Background(), DB: db, PostgresDSN: container.DSN()}
}

// NewRedis starts Redis for t and connects a go-redis client to it.
func NewRedis(t *testing.T) *TestContext {
	t.Helper()
	Skip(t)

	ctx := startupContext(t)

	container, err := NewRedisContainer(ctx)
	if err != nil {
		t.Fatalf("Failed to initialize Redis: %v", err)
	}

	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Errorf("Failed to terminate Redis container: %v", err)
		}
	})

	client := redis.NewClient(&redis.Options{Addr: container.Address()})

	t.Cleanup(func() {
		if err := client.Close(); err != nil {
			t.Errorf("Failed to close Redis client: %v", err)
		}
	})

	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to ping Redis: %v", err)
	}

	return &TestContext{
		Ctx:       context.Background(),
		Redis:     client,
		RedisAddr: container.Address(),
		RedisHost: container.Host,
		RedisPort: container.Port,
	}
}

func startupContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	t.Cleanup(cancel)

	return ctx
}
