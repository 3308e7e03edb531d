package redis

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const clientPort = "6379/tcp"

// NewTestContainer starts Redis for the test and returns its address. The
// test is skipped if no container runtime is available.
func NewTestContainer(t *testing.T) string {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := t.Context()
	redisC, err := testcontainers.Run(
		ctx, "redis:7-alpine",
		testcontainers.WithExposedPorts(clientPort),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort(clientPort),
			wait.ForLog("Ready to accept connections"),
		),
	)
	testcontainers.CleanupContainer(t, redisC)
	require.NoError(t, err)

	endpoint, err := redisC.PortEndpoint(ctx, clientPort, "")
	require.NoError(t, err)
	return endpoint
}
