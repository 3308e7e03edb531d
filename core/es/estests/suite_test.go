package estests

import (
	"log/slog"
	"path/filepath"
	"testing"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/esk-go/adapters/nats"
	"github.com/codewandler/esk-go/adapters/postgres"
	"github.com/codewandler/esk-go/adapters/redis"
	"github.com/codewandler/esk-go/adapters/sqlite"
	"github.com/codewandler/esk-go/core/es"
	"github.com/codewandler/esk-go/core/es/estests/domain"
	"github.com/codewandler/esk-go/ports/kv"
)

// storeFactory returns a store isolated from every store created before.
type storeFactory func(t *testing.T) (es.EventStore, es.Snapshotter)

type backend struct {
	name string
	// open prepares shared infrastructure, e.g. a container, once per test.
	open func(t *testing.T) storeFactory
}

func newNamespace() string {
	return "ns" + gonanoid.MustGenerate("abcdefghijklmnopqrstuvwxyz0123456789", 10)
}

func backends() []backend {
	return []backend{
		{
			name: "memory",
			open: func(*testing.T) storeFactory {
				return func(*testing.T) (es.EventStore, es.Snapshotter) {
					return es.NewInMemoryStore(), es.NewInMemorySnapshotter()
				}
			},
		},
		{
			name: "sqlite",
			open: func(*testing.T) storeFactory {
				return func(t *testing.T) (es.EventStore, es.Snapshotter) {
					store, err := sqlite.NewEventStore(t.Context(), sqlite.Config{
						Path: filepath.Join(t.TempDir(), "events.db"),
					})
					require.NoError(t, err)
					t.Cleanup(func() { _ = store.Close() })
					return store, es.NewKeyValueSnapshotter(kv.NewMemStore())
				}
			},
		},
		{
			name: "nats",
			open: func(t *testing.T) storeFactory {
				connect := nats.ReuseConnection(nats.NewTestContainer(t))
				return func(t *testing.T) (es.EventStore, es.Snapshotter) {
					ns := newNamespace()
					store, err := nats.NewEventStore(nats.EventStoreConfig{
						Connect:   connect,
						Log:       slog.Default(),
						Namespace: ns,
					})
					require.NoError(t, err)
					t.Cleanup(func() { _ = store.Close() })

					kvs, err := nats.NewKvStore(nats.KvConfig{Connect: connect, Bucket: "snapshots-" + ns})
					require.NoError(t, err)
					t.Cleanup(func() { _ = kvs.Close() })
					return store, nats.NewSnapshotter(kvs)
				}
			},
		},
		{
			name: "postgres+redis",
			open: func(t *testing.T) storeFactory {
				var (
					dsn  = postgres.NewTestContainer(t)
					addr = redis.NewTestContainer(t)
				)
				return func(t *testing.T) (es.EventStore, es.Snapshotter) {
					ns := newNamespace()
					store, err := postgres.NewEventStore(t.Context(), postgres.Config{DSN: dsn, Namespace: ns})
					require.NoError(t, err)
					t.Cleanup(func() { _ = store.Close() })

					rkv, err := redis.Connect(t.Context(), redis.Config{Addr: addr, KeyPrefix: ns + ":"})
					require.NoError(t, err)
					t.Cleanup(func() { _ = rkv.Close() })
					return store, redis.NewSnapshotter(rkv)
				}
			},
		},
	}
}

// Tef starts an Env on a fresh store of the current backend.
type Tef func(t *testing.T, opts ...es.EnvOption) *es.TestingEnv
type TestFunc func(t *testing.T, tef Tef)

// eachStore runs testFunc once per backend. Backends needing a container
// are skipped without a container runtime.
func eachStore(t *testing.T, testFunc TestFunc) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			newStore := b.open(t)
			testFunc(t, func(t *testing.T, opts ...es.EnvOption) *es.TestingEnv {
				store, ss := newStore(t)
				return es.StartTestEnv(
					t,
					es.WithStore(store),
					es.WithSnapshotter(ss),
					es.WithAggregates(new(domain.Thing), new(domain.Counter)),
					es.WithEnvOpts(opts...),
				)
			})
		})
	}
}
