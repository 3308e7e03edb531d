package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/esk-go/core/es"
	"github.com/codewandler/esk-go/ports/kv"
)

func TestRedis_KV(t *testing.T) {
	store, err := Connect(t.Context(), Config{Addr: NewTestContainer(t), KeyPrefix: "esk:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	t.Run("put get delete", func(t *testing.T) {
		_, err := store.Get(t.Context(), "missing")
		require.ErrorIs(t, err, kv.ErrNotFound)

		require.NoError(t, store.Put(t.Context(), "k", kv.Entry{Data: []byte("v")}, kv.PutOptions{}))
		e, err := store.Get(t.Context(), "k")
		require.NoError(t, err)
		require.Equal(t, []byte("v"), e.Data)

		raw, err := store.rdb.Get(t.Context(), "esk:k").Bytes()
		require.NoError(t, err)
		require.Equal(t, []byte("v"), raw)

		require.NoError(t, store.Delete(t.Context(), "k"))
		_, err = store.Get(t.Context(), "k")
		require.ErrorIs(t, err, kv.ErrNotFound)
	})

	t.Run("ttl", func(t *testing.T) {
		require.NoError(t, store.Put(t.Context(), "ttl", kv.Entry{Data: []byte("v")}, kv.PutOptions{TTL: time.Minute}))
		ttl, err := store.rdb.TTL(t.Context(), "esk:ttl").Result()
		require.NoError(t, err)
		require.Greater(t, ttl, time.Duration(0))
	})

	t.Run("checkpoint", func(t *testing.T) {
		cp := NewCpStore(store, "projection/test")
		v, err := cp.Get(t.Context())
		require.NoError(t, err)
		require.Equal(t, uint64(0), v)

		require.NoError(t, cp.Set(t.Context(), 42))
		v, err = cp.Get(t.Context())
		require.NoError(t, err)
		require.Equal(t, uint64(42), v)
	})

	t.Run("snapshot", func(t *testing.T) {
		ss := NewSnapshotter(store)
		_, err := ss.LoadSnapshot(t.Context(), "agg-1")
		require.ErrorIs(t, err, es.ErrSnapshotNotFound)

		require.NoError(t, ss.SaveSnapshot(t.Context(), &es.Snapshot{
			SnapshotID: "s1",
			ObjID:      "agg-1",
			ObjType:    "counter",
			ObjVersion: 3,
			Encoding:   es.SnapshotEncodingJSON,
			Data:       []byte(`{"count":3}`),
		}))
		loaded, err := ss.LoadSnapshot(t.Context(), "agg-1")
		require.NoError(t, err)
		require.Equal(t, es.Version(3), loaded.ObjVersion)
		require.Equal(t, []byte(`{"count":3}`), loaded.Data)
	})
}
