package prometheus

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/esk-go/core/es"
	"github.com/codewandler/esk-go/core/es/estests/domain"
)

func TestNewESMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewESMetrics(reg)
	require.NotNil(t, m)

	m.StoreReadDuration("user").ObserveDuration()
	m.StoreAppendDuration("user").ObserveDuration()
	m.EventsAppended("user", 5)
	m.RepoLoadDuration("user").ObserveDuration()
	m.RepoSaveDuration("user").ObserveDuration()
	m.ConcurrencyConflict("user")
	m.SnapshotLoadDuration("user").ObserveDuration()
	m.SnapshotSaveDuration("user").ObserveDuration()
	m.ConsumerEventDuration("user.created").ObserveDuration()
	m.ConsumerEventProcessed("user.created", true)
	m.ConsumerEventProcessed("user.created", false)
	m.ConsumerPosition("my-consumer", 100)

	mfs, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	assert.True(t, names["esk_es_store_read_duration_seconds"])
	assert.True(t, names["esk_es_repo_load_duration_seconds"])
	assert.True(t, names["esk_es_concurrency_conflicts_total"])
	assert.True(t, names["esk_es_consumer_position"])

	pm := m.(*esMetrics)
	assert.Equal(t, float64(5), testutil.ToFloat64(pm.eventsAppended.WithLabelValues("user")))
	assert.Equal(t, float64(100), testutil.ToFloat64(pm.consumerPosition.WithLabelValues("my-consumer")))
}

func TestESMetrics_Repository(t *testing.T) {
	var (
		reg = prometheus.NewRegistry()
		m   = NewESMetrics(reg).(*esMetrics)
	)
	te := es.StartTestEnv(
		t,
		es.WithContext(t.Context()),
		es.WithInMemory(),
		es.WithAggregates(&domain.Thing{}),
		es.WithMetrics(m),
	)

	thing, err := domain.CreateThing("a")
	require.NoError(t, err)
	require.NoError(t, thing.Rename("b"))
	_, err = te.Repository().Save(t.Context(), thing)
	require.NoError(t, err)

	_, err = te.Repository().Save(t.Context(), stale(t, thing))
	require.ErrorIs(t, err, es.ErrConcurrencyConflict)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.eventsAppended.WithLabelValues("thing")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.concurrencyConflicts.WithLabelValues("thing")))
}

// stale returns a second writer of thing's stream that still believes it
// is new.
func stale(t *testing.T, thing *domain.Thing) *domain.Thing {
	t.Helper()
	other, err := domain.CreateThing("c", es.WithAggregateID(thing.GetID()))
	require.NoError(t, err)
	return other
}

func TestBoolToStr(t *testing.T) {
	assert.Equal(t, "true", boolToStr(true))
	assert.Equal(t, "false", boolToStr(false))
}
