package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/esk-go/core/es"
)

func testRecords(aggID string, from es.Version, n int) []es.Record {
	out := make([]es.Record, 0, n)
	for i := range n {
		out = append(out, es.Record{
			ID:          gonanoid.Must(),
			AggregateID: aggID,
			Version:     from + es.Version(i),
			Type:        "foobar",
			Topic:       "test",
			OccurredAt:  time.Now().UTC(),
			Data:        []byte(`{}`),
		})
	}
	return out
}

func TestDialect(t *testing.T) {
	require.Empty(t, Dialect{}.AppendLock())
}

func TestSqlite_EventStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	store, err := NewEventStore(t.Context(), Config{Path: path, Namespace: "tenant-1"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	t.Run("append assigns one seq per record", func(t *testing.T) {
		res, err := store.Append(t.Context(), testRecords("agg-1", 1, 3))
		require.NoError(t, err)
		require.Equal(t, res.FirstSeq+2, res.LastSeq)

		recs, err := es.ReadAll(t.Context(), store, "agg-1")
		require.NoError(t, err)
		require.Len(t, recs, 3)
		for i, rec := range recs {
			require.Equal(t, es.Version(i+1), rec.Version)
			require.Equal(t, res.FirstSeq+uint64(i), rec.Seq)
			require.Equal(t, []byte(`{}`), rec.Data)
		}
	})

	t.Run("bounded read", func(t *testing.T) {
		recs, err := es.ReadAll(t.Context(), store, "agg-1", es.WithFromVersion(2), es.WithToVersion(2))
		require.NoError(t, err)
		require.Len(t, recs, 1)
		require.Equal(t, es.Version(2), recs[0].Version)
	})

	t.Run("stale version conflicts", func(t *testing.T) {
		_, err := store.Append(t.Context(), testRecords("agg-1", 3, 1))
		require.ErrorIs(t, err, es.ErrConcurrencyConflict)
		v, ok := es.ConflictVersion(err)
		require.True(t, ok)
		require.Equal(t, es.Version(3), v)

		last, err := store.MostRecent(t.Context(), "agg-1")
		require.NoError(t, err)
		require.Equal(t, es.Version(3), last.Version)
	})

	t.Run("gap is rejected", func(t *testing.T) {
		_, err := store.Append(t.Context(), testRecords("agg-1", 5, 1))
		require.ErrorIs(t, err, es.ErrStreamCorrupt)
	})

	t.Run("missing aggregate", func(t *testing.T) {
		_, err := store.MostRecent(t.Context(), "nope")
		require.ErrorIs(t, err, es.ErrAggregateNotFound)
	})

	t.Run("reopen keeps events", func(t *testing.T) {
		other, err := NewEventStore(t.Context(), Config{Path: path, Namespace: "tenant-1"})
		require.NoError(t, err)
		defer func() { _ = other.Close() }()

		last, err := other.MostRecent(t.Context(), "agg-1")
		require.NoError(t, err)
		require.Equal(t, es.Version(3), last.Version)
	})

	t.Run("notifications", func(t *testing.T) {
		_, err := store.Append(t.Context(), testRecords("agg-2", 1, 2))
		require.NoError(t, err)

		all, err := store.Notifications(t.Context(), 0, 100)
		require.NoError(t, err)
		require.Len(t, all, 5)
		for i := 1; i < len(all); i++ {
			require.Greater(t, all[i].Seq, all[i-1].Seq)
		}

		page, err := store.Notifications(t.Context(), all[1].Seq, 2)
		require.NoError(t, err)
		require.Len(t, page, 2)
		require.Equal(t, all[2].ID, page[0].ID)
	})
}

func TestSqlite_Open(t *testing.T) {
	_, err := Open(" ")
	require.Error(t, err)

	db, err := Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.Close())
}
