package estests

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/esk-go/core/cipher"
	"github.com/codewandler/esk-go/core/es"
	"github.com/codewandler/esk-go/core/es/estests/domain"
)

func TestRepository_NotFound(t *testing.T) {
	te := es.StartTestEnv(t, es.WithAggregates(new(domain.Thing)))
	a := es.New[*domain.Thing]()
	_, err := te.Repository().Get(t.Context(), "foobar")
	require.ErrorIs(t, err, es.ErrAggregateNotFound)

	r := es.NewTypedRepositoryFrom[*domain.Thing](slog.Default(), te.Repository())
	_, err = r.GetByID(t.Context(), "foobar")
	require.ErrorIs(t, err, es.ErrAggregateNotFound)
	require.Error(t, te.Repository().Load(t.Context(), a), "aggregate without id")
}

func TestRepository_All(t *testing.T) {
	eachStore(t, func(t *testing.T, tef Tef) {
		t.Run("create, rename, load", func(t *testing.T) {
			var (
				te   = tef(t)
				repo = es.NewTypedRepositoryFrom[*domain.Thing](slog.Default(), te.Repository())
			)
			require.Equal(t, "thing", repo.GetAggType())

			a, events, err := repo.Create(t.Context(), &domain.Created{Name: "first"})
			require.NoError(t, err)
			require.Len(t, events, 1)
			require.NotEmpty(t, a.GetID())
			require.Equal(t, es.Version(1), a.GetVersion())
			require.Equal(t, es.Version(1), a.PersistedVersion())
			require.Empty(t, a.Pending())

			require.NoError(t, a.Rename("second"))
			require.NoError(t, a.Rename("third"))
			require.Len(t, a.Pending(), 2)

			events, err = repo.Save(t.Context(), a)
			require.NoError(t, err)
			require.Len(t, events, 2)
			require.Equal(t, es.Version(2), events[0].Version)
			require.Equal(t, es.Version(3), events[1].Version)
			require.Empty(t, a.Pending())
			require.Equal(t, es.Version(3), a.PersistedVersion())

			loaded, err := repo.GetByID(t.Context(), a.GetID())
			require.NoError(t, err)
			require.Equal(t, "third", loaded.Name())
			require.Equal(t, es.Version(3), loaded.GetVersion())
			require.Equal(t, a.GetSeq(), loaded.GetSeq())
			require.Empty(t, loaded.Pending())

			untyped, err := te.Repository().Get(t.Context(), a.GetID())
			require.NoError(t, err)
			require.IsType(t, &domain.Thing{}, untyped)

			last, err := te.Repository().MostRecent(t.Context(), a.GetID())
			require.NoError(t, err)
			require.Equal(t, es.Version(3), last.Version)
			require.Equal(t, &domain.Renamed{Name: "third"}, last.Payload)

			events, err = repo.Save(t.Context(), loaded)
			require.NoError(t, err)
			require.Nil(t, events, "nothing pending")
		})

		t.Run("validation leaves no trace", func(t *testing.T) {
			var (
				te   = tef(t)
				repo = es.NewTypedRepositoryFrom[*domain.Thing](slog.Default(), te.Repository())
			)
			_, _, err := repo.Create(t.Context(), &domain.Created{})
			require.ErrorIs(t, err, es.ErrValidation)

			a, _, err := repo.Create(t.Context(), &domain.Created{Name: "n"})
			require.NoError(t, err)
			require.ErrorIs(t, a.Rename(""), es.ErrValidation)
			require.ErrorIs(t, a.Rename("n"), es.ErrValidation)
			require.Empty(t, a.Pending())
			require.Equal(t, es.Version(1), a.GetVersion())
		})

		t.Run("at version", func(t *testing.T) {
			var (
				te   = tef(t)
				repo = es.NewTypedRepositoryFrom[*domain.Counter](slog.Default(), te.Repository())
			)
			c, _, err := repo.Create(t.Context(), &domain.Opened{})
			require.NoError(t, err)
			for range 5 {
				require.NoError(t, c.Inc())
			}
			_, err = repo.Save(t.Context(), c)
			require.NoError(t, err)
			require.Equal(t, es.Version(6), c.GetVersion())

			at3, err := repo.GetByID(t.Context(), c.GetID(), es.WithAtVersion(3))
			require.NoError(t, err)
			require.Equal(t, es.Version(3), at3.GetVersion())
			require.Equal(t, 2, at3.Count())

			atMax, err := repo.GetByID(t.Context(), c.GetID(), es.WithAtVersion(100))
			require.NoError(t, err)
			require.Equal(t, es.Version(6), atMax.GetVersion())
			require.Equal(t, 5, atMax.Count())

			_, err = repo.GetByID(t.Context(), c.GetID(), es.WithAtVersion(0))
			require.ErrorIs(t, err, es.ErrAggregateNotFound)
		})

		t.Run("concurrent save conflicts and keeps pending", func(t *testing.T) {
			var (
				te   = tef(t)
				repo = es.NewTypedRepositoryFrom[*domain.Counter](slog.Default(), te.Repository())
			)
			c, _, err := repo.Create(t.Context(), &domain.Opened{})
			require.NoError(t, err)

			a, err := repo.GetByID(t.Context(), c.GetID())
			require.NoError(t, err)
			b, err := repo.GetByID(t.Context(), c.GetID())
			require.NoError(t, err)

			require.NoError(t, a.IncBy(2))
			require.NoError(t, b.IncBy(3))

			_, err = repo.Save(t.Context(), a)
			require.NoError(t, err)

			_, err = repo.Save(t.Context(), b)
			require.ErrorIs(t, err, es.ErrConcurrencyConflict)
			v, ok := es.ConflictVersion(err)
			require.True(t, ok)
			require.Equal(t, es.Version(2), v)
			require.Len(t, b.Pending(), 1)
			require.Equal(t, es.Version(1), b.PersistedVersion())

			loaded, err := repo.GetByID(t.Context(), c.GetID())
			require.NoError(t, err)
			require.Equal(t, 2, loaded.Count())
		})

		t.Run("type mismatch", func(t *testing.T) {
			var (
				te       = tef(t)
				things   = es.NewTypedRepositoryFrom[*domain.Thing](slog.Default(), te.Repository())
				counters = es.NewTypedRepositoryFrom[*domain.Counter](slog.Default(), te.Repository())
			)
			a, _, err := things.Create(t.Context(), &domain.Created{Name: "x"})
			require.NoError(t, err)

			_, err = counters.GetByID(t.Context(), a.GetID())
			require.ErrorIs(t, err, es.ErrAggregateTypeMismatch)
		})

		t.Run("with transaction", func(t *testing.T) {
			var (
				te   = tef(t)
				repo = es.NewTypedRepositoryFrom[*domain.Counter](slog.Default(), te.Repository())
				wg   sync.WaitGroup
			)
			t.Cleanup(repo.Close)
			c, _, err := repo.Create(t.Context(), &domain.Opened{})
			require.NoError(t, err)

			const n = 10
			errs := make(chan error, n)
			for range n {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := repo.WithTransaction(t.Context(), c.GetID(), func(c *domain.Counter) error {
						return c.Inc()
					})
					errs <- err
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				require.NoError(t, err)
			}

			loaded, err := repo.GetByID(t.Context(), c.GetID())
			require.NoError(t, err)
			require.Equal(t, n, loaded.Count())
			require.Equal(t, es.Version(n+1), loaded.GetVersion())

			_, err = repo.WithTransaction(t.Context(), c.GetID(), func(c *domain.Counter) error {
				return c.IncBy(24)
			})
			require.ErrorIs(t, err, es.ErrValidation)
		})

		t.Run("abandoned transaction does not commit", func(t *testing.T) {
			var (
				te      = tef(t)
				repo    = es.NewTypedRepositoryFrom[*domain.Counter](slog.Default(), te.Repository())
				started = make(chan struct{})
				release = make(chan struct{})
				first   = make(chan error, 1)
			)
			t.Cleanup(repo.Close)
			c, _, err := repo.Create(t.Context(), &domain.Opened{})
			require.NoError(t, err)

			go func() {
				_, err := repo.WithTransaction(t.Context(), c.GetID(), func(c *domain.Counter) error {
					close(started)
					<-release
					return c.Inc()
				})
				first <- err
			}()
			<-started

			ctx, cancel := context.WithCancel(t.Context())
			abandoned := make(chan error, 1)
			go func() {
				events, err := repo.WithTransaction(ctx, c.GetID(), func(c *domain.Counter) error {
					return c.Inc()
				})
				if events != nil {
					t.Error("abandoned transaction returned events")
				}
				abandoned <- err
			}()
			time.Sleep(10 * time.Millisecond)
			cancel()
			require.ErrorIs(t, <-abandoned, context.Canceled)

			close(release)
			require.NoError(t, <-first)

			events, err := repo.WithTransaction(t.Context(), c.GetID(), func(c *domain.Counter) error {
				return c.Inc()
			})
			require.NoError(t, err)
			require.Len(t, events, 1)
			require.Equal(t, es.Version(3), events[0].Version)

			loaded, err := repo.GetByID(t.Context(), c.GetID())
			require.NoError(t, err)
			require.Equal(t, 2, loaded.Count())
		})

		t.Run("encrypted payloads", func(t *testing.T) {
			key, err := cipher.NewKey()
			require.NoError(t, err)
			c, err := cipher.NewAESGCM(key)
			require.NoError(t, err)

			var (
				te   = tef(t, es.WithCipher(c))
				repo = es.NewTypedRepositoryFrom[*domain.Thing](slog.Default(), te.Repository())
			)
			a, _, err := repo.Create(t.Context(), &domain.Created{Name: "top-secret-name"})
			require.NoError(t, err)

			recs, err := es.ReadAll(t.Context(), te.Store(), a.GetID())
			require.NoError(t, err)
			require.Len(t, recs, 1)
			require.False(t, bytes.Contains(recs[0].Data, []byte("top-secret-name")))

			loaded, err := repo.GetByID(t.Context(), a.GetID())
			require.NoError(t, err)
			require.Equal(t, "top-secret-name", loaded.Name())

			otherKey, err := cipher.NewKey()
			require.NoError(t, err)
			other, err := cipher.NewAESGCM(otherKey)
			require.NoError(t, err)
			wrong := es.NewRepository(te.Store(), es.NewSerializer(te.Registry(), es.WithCipher(other)))
			_, err = wrong.Get(t.Context(), a.GetID())
			require.ErrorIs(t, err, es.ErrDecryption)
		})
	})
}
