package es

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func memRecords(aggID string, from Version, n int) []Record {
	out := make([]Record, 0, n)
	for i := range n {
		out = append(out, Record{
			ID:          fmt.Sprintf("%s-%d", aggID, from+Version(i)),
			AggregateID: aggID,
			Version:     from + Version(i),
			Type:        "account.deposited",
			Topic:       "account",
			OccurredAt:  time.Now().UTC(),
			Data:        []byte(`{"amount":1}`),
		})
	}
	return out
}

func TestInMemoryStore(t *testing.T) {
	t.Run("copies data on append", func(t *testing.T) {
		s := NewInMemoryStore()
		recs := memRecords("a", 1, 1)
		_, err := s.Append(t.Context(), recs)
		require.NoError(t, err)
		recs[0].Data[0] = 'X'

		got, err := s.MostRecent(t.Context(), "a")
		require.NoError(t, err)
		require.Equal(t, `{"amount":1}`, string(got.Data))
	})

	t.Run("copies data on read", func(t *testing.T) {
		s := NewInMemoryStore()
		_, err := s.Append(t.Context(), memRecords("a", 1, 1))
		require.NoError(t, err)

		recs, err := ReadAll(t.Context(), s, "a")
		require.NoError(t, err)
		recs[0].Data[10] = '9'
		last, err := s.MostRecent(t.Context(), "a")
		require.NoError(t, err)
		last.Data[10] = '8'
		page, err := s.Notifications(t.Context(), 0, 10)
		require.NoError(t, err)
		page[0].Data[10] = '7'

		got, err := s.MostRecent(t.Context(), "a")
		require.NoError(t, err)
		require.Equal(t, `{"amount":1}`, string(got.Data))
	})

	t.Run("read is a stable snapshot", func(t *testing.T) {
		s := NewInMemoryStore()
		_, err := s.Append(t.Context(), memRecords("a", 1, 2))
		require.NoError(t, err)

		seq := s.Read(t.Context(), "a")
		_, err = s.Append(t.Context(), memRecords("a", 3, 1))
		require.NoError(t, err)

		recs, err := Collect(seq)
		require.NoError(t, err)
		require.Len(t, recs, 2)
	})

	t.Run("read honors cancellation", func(t *testing.T) {
		s := NewInMemoryStore()
		_, err := s.Append(t.Context(), memRecords("a", 1, 2))
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		_, err = Collect(s.Read(ctx, "a"))
		require.ErrorIs(t, err, context.Canceled)
	})

	t.Run("read range", func(t *testing.T) {
		s := NewInMemoryStore()
		_, err := s.Append(t.Context(), memRecords("a", 1, 5))
		require.NoError(t, err)

		recs, err := ReadAll(t.Context(), s, "a", WithFromVersion(2), WithToVersion(4))
		require.NoError(t, err)
		require.Len(t, recs, 3)
		require.Equal(t, Version(2), recs[0].Version)
		require.Equal(t, Version(4), recs[2].Version)
	})

	t.Run("seq spans aggregates", func(t *testing.T) {
		s := NewInMemoryStore()
		r1, err := s.Append(t.Context(), memRecords("a", 1, 2))
		require.NoError(t, err)
		require.Equal(t, &AppendResult{FirstSeq: 1, LastSeq: 2}, r1)
		r2, err := s.Append(t.Context(), memRecords("b", 1, 1))
		require.NoError(t, err)
		require.Equal(t, &AppendResult{FirstSeq: 3, LastSeq: 3}, r2)

		page, err := s.Notifications(t.Context(), 1, 1)
		require.NoError(t, err)
		require.Len(t, page, 1)
		require.Equal(t, uint64(2), page[0].Seq)

		rest, err := s.Notifications(t.Context(), 0, 0)
		require.NoError(t, err)
		require.Len(t, rest, 3)

		none, err := s.Notifications(t.Context(), 3, 10)
		require.NoError(t, err)
		require.Empty(t, none)
	})

	t.Run("conflict names first version", func(t *testing.T) {
		s := NewInMemoryStore()
		_, err := s.Append(t.Context(), memRecords("a", 1, 3))
		require.NoError(t, err)

		_, err = s.Append(t.Context(), memRecords("a", 3, 2))
		require.ErrorIs(t, err, ErrConcurrencyConflict)
		v, ok := ConflictVersion(err)
		require.True(t, ok)
		require.Equal(t, Version(3), v)

		last, err := s.MostRecent(t.Context(), "a")
		require.NoError(t, err)
		require.Equal(t, Version(3), last.Version)
	})
}
