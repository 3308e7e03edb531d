package es

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// === Helpers ===

type TestingEnv struct {
	*Env
	t *testing.T
}

func (e *TestingEnv) Assert() *TestingEnvAssert {
	return &TestingEnvAssert{env: e}
}

// StartTestEnv creates an in-memory Env that is shut down with the test.
func StartTestEnv(
	t *testing.T,
	opts ...EnvOption,
) *TestingEnv {
	t.Helper()
	e, err := NewEnv(
		WithInMemory(),
		WithContext(t.Context()),
		WithEnvOpts(opts...),
	)
	require.NoError(t, err)
	t.Cleanup(e.Shutdown)
	return &TestingEnv{t: t, Env: e}
}

type TestingEnvAssert struct {
	env *TestingEnv
}

func (t *TestingEnvAssert) Append(
	ctx context.Context,
	aggID string,
	topic string,
	expect Version,
	payloads ...any,
) {
	_, err := t.env.Append(ctx, aggID, topic, expect, payloads...)
	require.NoError(t.env.t, err)
}

// Conflict asserts that appending at expect is rejected for version
// expect+1.
func (t *TestingEnvAssert) Conflict(
	ctx context.Context,
	aggID string,
	topic string,
	expect Version,
	payloads ...any,
) {
	_, err := t.env.Append(ctx, aggID, topic, expect, payloads...)
	require.ErrorIs(t.env.t, err, ErrConcurrencyConflict)
	v, ok := ConflictVersion(err)
	require.True(t.env.t, ok)
	require.Equal(t.env.t, expect.Next(), v)
}
