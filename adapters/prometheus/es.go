package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/esk-go/core/es"
	"github.com/codewandler/esk-go/core/metrics"
)

type esMetrics struct {
	// store
	storeReadDuration   *prometheus.HistogramVec
	storeAppendDuration *prometheus.HistogramVec
	eventsAppended      *prometheus.CounterVec

	// repository
	repoLoadDuration     *prometheus.HistogramVec
	repoSaveDuration     *prometheus.HistogramVec
	concurrencyConflicts *prometheus.CounterVec

	// snapshots
	snapshotLoadDuration *prometheus.HistogramVec
	snapshotSaveDuration *prometheus.HistogramVec

	// consumers
	consumerEventDuration *prometheus.HistogramVec
	consumerEvents        *prometheus.CounterVec
	consumerPosition      *prometheus.GaugeVec
}

func histogram(name, help string, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "es",
		Name:      name,
		Help:      help,
		Buckets:   defaultBuckets,
	}, labels)
}

func counter(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "es",
		Name:      name,
		Help:      help,
	}, labels)
}

// NewESMetrics registers the event store collectors with reg. Registering
// twice on the same registerer panics.
func NewESMetrics(reg prometheus.Registerer) es.ESMetrics {
	m := &esMetrics{
		storeReadDuration:     histogram("store_read_duration_seconds", "Event stream read latency in seconds", "topic"),
		storeAppendDuration:   histogram("store_append_duration_seconds", "Event store append latency in seconds", "topic"),
		eventsAppended:        counter("events_appended_total", "Total number of events appended", "topic"),
		repoLoadDuration:      histogram("repo_load_duration_seconds", "Repository load latency in seconds", "topic"),
		repoSaveDuration:      histogram("repo_save_duration_seconds", "Repository save latency in seconds", "topic"),
		concurrencyConflicts:  counter("concurrency_conflicts_total", "Total number of rejected stale appends", "topic"),
		snapshotLoadDuration:  histogram("snapshot_load_duration_seconds", "Snapshot load latency in seconds", "topic"),
		snapshotSaveDuration:  histogram("snapshot_save_duration_seconds", "Snapshot save latency in seconds", "topic"),
		consumerEventDuration: histogram("consumer_event_duration_seconds", "Event handling time in seconds", "event_type"),
		consumerEvents:        counter("consumer_events_total", "Total number of events handled", "event_type", "success"),
		consumerPosition: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "es",
			Name:      "consumer_position",
			Help:      "Last store sequence a consumer has checkpointed",
		}, []string{"consumer"}),
	}

	reg.MustRegister(
		m.storeReadDuration,
		m.storeAppendDuration,
		m.eventsAppended,
		m.repoLoadDuration,
		m.repoSaveDuration,
		m.concurrencyConflicts,
		m.snapshotLoadDuration,
		m.snapshotSaveDuration,
		m.consumerEventDuration,
		m.consumerEvents,
		m.consumerPosition,
	)
	return m
}

func (m *esMetrics) StoreReadDuration(topic string) metrics.Timer {
	return newTimer(m.storeReadDuration.WithLabelValues(topic))
}

func (m *esMetrics) StoreAppendDuration(topic string) metrics.Timer {
	return newTimer(m.storeAppendDuration.WithLabelValues(topic))
}

func (m *esMetrics) EventsAppended(topic string, count int) {
	m.eventsAppended.WithLabelValues(topic).Add(float64(count))
}

func (m *esMetrics) RepoLoadDuration(topic string) metrics.Timer {
	return newTimer(m.repoLoadDuration.WithLabelValues(topic))
}

func (m *esMetrics) RepoSaveDuration(topic string) metrics.Timer {
	return newTimer(m.repoSaveDuration.WithLabelValues(topic))
}

func (m *esMetrics) ConcurrencyConflict(topic string) {
	m.concurrencyConflicts.WithLabelValues(topic).Inc()
}

func (m *esMetrics) SnapshotLoadDuration(topic string) metrics.Timer {
	return newTimer(m.snapshotLoadDuration.WithLabelValues(topic))
}

func (m *esMetrics) SnapshotSaveDuration(topic string) metrics.Timer {
	return newTimer(m.snapshotSaveDuration.WithLabelValues(topic))
}

func (m *esMetrics) ConsumerEventDuration(eventType string) metrics.Timer {
	return newTimer(m.consumerEventDuration.WithLabelValues(eventType))
}

func (m *esMetrics) ConsumerEventProcessed(eventType string, success bool) {
	m.consumerEvents.WithLabelValues(eventType, boolToStr(success)).Inc()
}

func (m *esMetrics) ConsumerPosition(consumer string, seq uint64) {
	m.consumerPosition.WithLabelValues(consumer).Set(float64(seq))
}

var _ es.ESMetrics = (*esMetrics)(nil)
