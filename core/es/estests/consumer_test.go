package estests

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/esk-go/core/es"
	"github.com/codewandler/esk-go/core/es/estests/domain"
	"github.com/codewandler/esk-go/ports/kv"
)

func TestConsumer_All(t *testing.T) {
	eachStore(t, func(t *testing.T, tef Tef) {
		t.Run("live delivery", func(t *testing.T) {
			var (
				te  = tef(t)
				rcv = make(chan es.MsgCtx, 4)
			)
			c, err := te.NewConsumer(
				es.Handle(func(m es.MsgCtx) error {
					rcv <- m
					return nil
				}),
				es.WithConsumerName("banana"),
				es.WithPollInterval(10*time.Millisecond),
				es.WithMiddlewares(es.NewLogMiddleware()),
			)
			require.NoError(t, err)
			require.NoError(t, c.Start(t.Context()))
			t.Cleanup(c.Stop)
			require.True(t, c.Live())

			te.Assert().Append(t.Context(), "t-1", "thing", 0, &domain.Created{Name: "a"})

			select {
			case m := <-rcv:
				require.True(t, m.Live())
				require.Equal(t, "t-1", m.AggregateID())
				require.Equal(t, "thing.created", m.Type())
				require.Equal(t, es.Version(1), m.Version())
				require.Equal(t, &domain.Created{Name: "a"}, m.Payload())
			case <-time.After(5 * time.Second):
				t.Fatal("timeout")
			}
		})

		t.Run("catch up resumes from checkpoint", func(t *testing.T) {
			var (
				te      = tef(t)
				cp      = es.NewKvCpStore(kv.NewMemStore(), "banana")
				handled []string
			)
			handler := es.Handle(func(m es.MsgCtx) error {
				handled = append(handled, m.AggregateID())
				return nil
			})

			te.Assert().Append(t.Context(), "t-1", "thing", 0, &domain.Created{Name: "a"}, &domain.Renamed{Name: "b"})
			te.Assert().Append(t.Context(), "t-2", "thing", 0, &domain.Created{Name: "c"})

			c1, err := te.NewConsumer(handler, es.WithCheckpoint(cp))
			require.NoError(t, err)
			n, err := c1.CatchUp(t.Context())
			require.NoError(t, err)
			require.Equal(t, 3, n)
			require.Equal(t, []string{"t-1", "t-1", "t-2"}, handled)

			pos, err := cp.Get(t.Context())
			require.NoError(t, err)
			require.NotZero(t, pos)

			te.Assert().Append(t.Context(), "t-1", "thing", 2, &domain.Renamed{Name: "d"})

			c2, err := te.NewConsumer(handler, es.WithCheckpoint(cp))
			require.NoError(t, err)
			n, err = c2.CatchUp(t.Context())
			require.NoError(t, err)
			require.Equal(t, 1, n)
			require.Equal(t, []string{"t-1", "t-1", "t-2", "t-1"}, handled)
		})

		t.Run("failing record is retried", func(t *testing.T) {
			var (
				te      = tef(t)
				boom    = errors.New("boom")
				fail    = true
				handled []string
			)
			c, err := te.NewConsumer(es.Handle(func(m es.MsgCtx) error {
				if m.AggregateID() == "t-2" && fail {
					fail = false
					return boom
				}
				handled = append(handled, m.AggregateID())
				return nil
			}))
			require.NoError(t, err)

			te.Assert().Append(t.Context(), "t-1", "thing", 0, &domain.Created{Name: "a"})
			te.Assert().Append(t.Context(), "t-2", "thing", 0, &domain.Created{Name: "b"})
			te.Assert().Append(t.Context(), "t-3", "thing", 0, &domain.Created{Name: "c"})

			n, err := c.CatchUp(t.Context())
			require.ErrorIs(t, err, boom)
			require.Equal(t, 1, n)

			n, err = c.CatchUp(t.Context())
			require.NoError(t, err)
			require.Equal(t, 2, n)
			require.Equal(t, []string{"t-1", "t-2", "t-3"}, handled)
		})

		t.Run("topic filter", func(t *testing.T) {
			var (
				te     = tef(t)
				topics []string
			)
			c, err := te.NewConsumer(
				es.Handle(func(m es.MsgCtx) error {
					topics = append(topics, m.Topic())
					return nil
				}),
				es.WithMiddlewares(es.NewTopicFilter("counter")),
			)
			require.NoError(t, err)

			te.Assert().Append(t.Context(), "t-1", "thing", 0, &domain.Created{Name: "a"})
			te.Assert().Append(t.Context(), "c-1", "counter", 0, &domain.Opened{}, &domain.Incremented{Inc: 1})

			n, err := c.CatchUp(t.Context())
			require.NoError(t, err)
			require.Equal(t, 3, n)
			require.Equal(t, []string{"counter", "counter"}, topics)
		})

		t.Run("projection", func(t *testing.T) {
			names := es.NewInMemoryProjection("names", map[string]string{}, func(state *map[string]string, m es.MsgCtx) error {
				switch e := m.Payload().(type) {
				case *domain.Created:
					(*state)[m.AggregateID()] = e.Name
				case *domain.Renamed:
					(*state)[m.AggregateID()] = e.Name
				}
				return nil
			})
			te := tef(t, es.WithProjection(names, es.WithPollInterval(10*time.Millisecond)))

			te.Assert().Append(t.Context(), "t-1", "thing", 0, &domain.Created{Name: "a"}, &domain.Renamed{Name: "b"})
			te.Assert().Append(t.Context(), "t-2", "thing", 0, &domain.Created{Name: "c"})

			require.Eventually(t, func() (ok bool) {
				names.Read(func(s map[string]string) {
					ok = len(s) == 2 && s["t-1"] == "b" && s["t-2"] == "c"
				})
				return
			}, 5*time.Second, 10*time.Millisecond)
		})
	})
}
