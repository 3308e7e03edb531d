package es

import "github.com/codewandler/esk-go/core/metrics"

// ESMetrics defines the metrics interface for the event-sourcing kernel.
// Implementations must be safe for concurrent use.
type ESMetrics interface {
	// Store operations
	StoreReadDuration(topic string) metrics.Timer
	StoreAppendDuration(topic string) metrics.Timer
	EventsAppended(topic string, count int)

	// Repository operations
	RepoLoadDuration(topic string) metrics.Timer
	RepoSaveDuration(topic string) metrics.Timer
	ConcurrencyConflict(topic string)

	// Snapshots
	SnapshotLoadDuration(topic string) metrics.Timer
	SnapshotSaveDuration(topic string) metrics.Timer

	// Consumer
	ConsumerEventDuration(eventType string) metrics.Timer
	ConsumerEventProcessed(eventType string, success bool)
	ConsumerPosition(consumer string, seq uint64)
}

type nopESMetrics struct{}

func (nopESMetrics) StoreReadDuration(string) metrics.Timer   { return metrics.NopTimer() }
func (nopESMetrics) StoreAppendDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) EventsAppended(string, int)               {}

func (nopESMetrics) RepoLoadDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) RepoSaveDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) ConcurrencyConflict(string)            {}

func (nopESMetrics) SnapshotLoadDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) SnapshotSaveDuration(string) metrics.Timer { return metrics.NopTimer() }

func (nopESMetrics) ConsumerEventDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) ConsumerEventProcessed(string, bool)        {}
func (nopESMetrics) ConsumerPosition(string, uint64)            {}

// NopESMetrics returns a no-op ESMetrics implementation.
func NopESMetrics() ESMetrics { return nopESMetrics{} }

// ESMetricsOption sets the metrics for ES components.
type ESMetricsOption valueOption[ESMetrics]

// WithMetrics sets the metrics implementation for ES components.
func WithMetrics(m ESMetrics) ESMetricsOption { return ESMetricsOption{v: m} }

func (o ESMetricsOption) applyToEnv(e *envOptions)            { e.metrics = o.v }
func (o ESMetricsOption) applyToRepository(r *repoOpts)       { r.metrics = o.v }
func (o ESMetricsOption) applyToConsumerOpts(c *consumerOpts) { c.metrics = o.v }
