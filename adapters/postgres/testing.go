package postgres

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const clientPort = "5432/tcp"

// NewTestContainer starts PostgreSQL for the test and returns its DSN. The
// test is skipped if no container runtime is available.
func NewTestContainer(t *testing.T) string {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := t.Context()
	pgC, err := testcontainers.Run(
		ctx, "postgres:17-alpine",
		testcontainers.WithEnv(map[string]string{
			"POSTGRES_USER":     "esk",
			"POSTGRES_PASSWORD": "esk",
			"POSTGRES_DB":       "esk",
		}),
		testcontainers.WithExposedPorts(clientPort),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	testcontainers.CleanupContainer(t, pgC)
	require.NoError(t, err)

	endpoint, err := pgC.PortEndpoint(ctx, clientPort, "")
	require.NoError(t, err)
	return fmt.Sprintf("postgres://esk:esk@%s/esk?sslmode=disable", endpoint)
}
