package es

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// batchLog serves fixed records; all records of a batch share one seq.
type batchLog struct{ recs []Record }

func (l *batchLog) Notifications(_ context.Context, afterSeq uint64, _ int) ([]Record, error) {
	var out []Record
	for _, r := range l.recs {
		if r.Seq > afterSeq {
			out = append(out, r)
		}
	}
	return out, nil
}

type countingCp struct {
	InMemCpStore
	sets []uint64
}

func (c *countingCp) Set(ctx context.Context, v uint64) error {
	c.sets = append(c.sets, v)
	return c.InMemCpStore.Set(ctx, v)
}

type lifecycleHandler struct {
	started, stopped atomic.Bool
}

func (h *lifecycleHandler) Handle(MsgCtx) error { return nil }
func (h *lifecycleHandler) Start(context.Context) error {
	h.started.Store(true)
	return nil
}
func (h *lifecycleHandler) Shutdown(context.Context) error {
	h.stopped.Store(true)
	return nil
}

func sealedRecords(t *testing.T, ser *Serializer, aggID string, n int) []Record {
	t.Helper()
	out := make([]Record, 0, n)
	for i := range n {
		rec, err := ser.ToRecord(Event{
			AggregateID: aggID,
			Version:     Version(i + 1),
			Type:        "account.deposited",
			Topic:       "account",
			OccurredAt:  time.Now().UTC(),
			Payload:     &accountDeposited{Amount: int64(i + 1)},
		})
		require.NoError(t, err)
		out = append(out, rec)
	}
	return out
}

func TestConsumer_CheckpointPerSeq(t *testing.T) {
	ser := testSerializer(t)
	recs := sealedRecords(t, ser, "acc-1", 3)
	for i := range recs {
		recs[i].Seq = 7
	}
	more := sealedRecords(t, ser, "acc-2", 1)
	more[0].Seq = 9
	src := &batchLog{recs: append(recs, more...)}

	var (
		cp      = &countingCp{}
		handled int
	)
	c := NewConsumer(src, ser, Handle(func(MsgCtx) error {
		handled++
		return nil
	}), WithCheckpoint(cp))

	n, err := c.CatchUp(t.Context())
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, 4, handled)
	require.Equal(t, []uint64{7, 9}, cp.sets)

	n, err = c.CatchUp(t.Context())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestConsumer_FailureInsideBatch(t *testing.T) {
	ser := testSerializer(t)
	recs := sealedRecords(t, ser, "acc-1", 3)
	for i := range recs {
		recs[i].Seq = 3
	}
	src := &batchLog{recs: recs}

	var (
		cp   = &countingCp{}
		fail = true
		seen []Version
	)
	c := NewConsumer(src, ser, Handle(func(m MsgCtx) error {
		seen = append(seen, m.Version())
		if m.Version() == 2 && fail {
			fail = false
			return context.DeadlineExceeded
		}
		return nil
	}), WithCheckpoint(cp))

	_, err := c.CatchUp(t.Context())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Empty(t, cp.sets)

	// the whole batch is delivered again
	n, err := c.CatchUp(t.Context())
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, []Version{1, 2, 1, 2, 3}, seen)
	require.Equal(t, []uint64{3}, cp.sets)
}

func TestConsumer_UndecodableRecord(t *testing.T) {
	ser := testSerializer(t)
	recs := sealedRecords(t, ser, "acc-1", 1)
	recs[0].Seq = 1
	recs[0].Type = "account.gone"

	c := NewConsumer(&batchLog{recs: recs}, ser, Handle(func(MsgCtx) error { return nil }))
	_, err := c.CatchUp(t.Context())
	require.ErrorIs(t, err, ErrDeserialization)
}

func TestConsumer_Middlewares(t *testing.T) {
	ser := testSerializer(t)
	recs := sealedRecords(t, ser, "acc-1", 1)
	recs[0].Seq = 1

	var (
		mu    sync.Mutex
		order []string
	)
	trace := func(name string) HandlerMiddleware {
		return MiddlewareHandle(func(m MsgCtx, next Handler) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return next.Handle(m)
		})
	}
	c := NewConsumer(&batchLog{recs: recs}, ser, Handle(func(m MsgCtx) error {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, "handler")
		require.Equal(t, &accountDeposited{Amount: 1}, m.Payload())
		require.Equal(t, "acc-1", m.AggregateID())
		return nil
	}), WithMiddlewares(trace("outer"), trace("inner")), WithConsumerName("mw"))

	require.Equal(t, "mw", c.Name())
	_, err := c.CatchUp(t.Context())
	require.NoError(t, err)
	require.Equal(t, []string{"outer", "inner", "handler"}, order)
}

func TestConsumer_RunAndStop(t *testing.T) {
	ser := testSerializer(t)
	h := &lifecycleHandler{}
	c := NewConsumer(&batchLog{}, ser, h, WithPollInterval(5*time.Millisecond))

	errc := make(chan error, 1)
	go func() { errc <- c.Run(t.Context()) }()

	require.Eventually(t, c.Live, time.Second, 5*time.Millisecond)
	require.True(t, h.started.Load())

	c.Stop()
	require.NoError(t, <-errc)
	require.True(t, h.stopped.Load())

	require.Error(t, c.Start(t.Context()), "a consumer starts once")
}

func TestConsumer_RunEndsWithContext(t *testing.T) {
	ser := testSerializer(t)
	c := NewConsumer(&batchLog{}, ser, Handle(func(MsgCtx) error { return nil }))

	ctx, cancel := context.WithCancel(t.Context())
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()

	require.Eventually(t, c.Live, time.Second, 5*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-errc, context.Canceled)
}
