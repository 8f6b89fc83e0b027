package testinfra

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	PostgresImage    = "postgres:17-alpine"
	PostgresUser     = "postgres"
	PostgresPassword = "postgres"
	PostgresDB       = "warehouse"

	// EnvTestConn points integration tests at an existing database instead of a container.
	EnvTestConn = "DETLOADER_TEST_CONN"
)

type PostgresContainer struct {
	*postgres.PostgresContainer
	ConnString string
}

// StartPostgres starts a throwaway PostgreSQL container with TLS disabled.
func StartPostgres(ctx context.Context) (*PostgresContainer, error) {
	ctr, err := postgres.Run(ctx,
		PostgresImage,
		postgres.WithUsername(PostgresUser),
		postgres.WithPassword(PostgresPassword),
		postgres.WithDatabase(PostgresDB),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("start postgres: %w", err)
	}

	connStr, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		ctr.Terminate(ctx) //nolint:errcheck
		return nil, fmt.Errorf("get connection string: %w", err)
	}

	return &PostgresContainer{PostgresContainer: ctr, ConnString: connStr}, nil
}

var (
	sharedOnce sync.Once
	sharedConn string
	sharedErr  error
)

// The shared container lives until the test binary exits; ryuk reaps it.
func sharedContainer() (string, error) {
	sharedOnce.Do(func() {
		ctr, err := StartPostgres(context.Background())
		if err != nil {
			sharedErr = err
			return
		}
		sharedConn = ctr.ConnString
	})
	return sharedConn, sharedErr
}

// RequireDatabase returns a connection string for integration tests.
// Priority: $DETLOADER_TEST_CONN > shared testcontainer > skip.
// Tests are skipped in -short mode.
func RequireDatabase(t *testing.T) string {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	if connString := os.Getenv(EnvTestConn); connString != "" {
		return connString
	}

	connString, err := sharedContainer()
	if err != nil {
		t.Skipf("%s not set and Docker unavailable: %v", EnvTestConn, err)
	}
	return connString
}
