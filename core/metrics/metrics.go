// Package metrics holds the instrumentation types core packages depend on,
// so they stay free of any metrics backend. See adapters/prometheus.
package metrics

// Timer measures one operation from its creation until ObserveDuration:
//
//	defer m.StoreAppendDuration("company").ObserveDuration()
type Timer interface {
	ObserveDuration()
}

type nopTimer struct{}

func (nopTimer) ObserveDuration() {}

// NopTimer returns a Timer that records nothing.
func NopTimer() Timer { return nopTimer{} }
