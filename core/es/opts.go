package es

import (
	"log/slog"
)

type (
	valueOption[T any] struct{ v T }
	MultiOption[T any] struct{ opts []T }

	StoreOption     valueOption[EventStore]
	MemoryOption    struct{}
	LogOption       struct{ l *slog.Logger }
	AggregateOption struct{ aggregates []Aggregate }
	EnvOpts         MultiOption[EnvOption]
)

func WithInMemory() MemoryOption                    { return MemoryOption{} }
func WithStore(s EventStore) StoreOption            { return StoreOption{v: s} }
func WithLog(l *slog.Logger) LogOption              { return LogOption{l: l} }
func WithAggregates(a ...Aggregate) AggregateOption { return AggregateOption{aggregates: a} }
func WithEnvOpts(opts ...EnvOption) EnvOpts         { return EnvOpts{opts: opts} }

// === env ===

func (o StoreOption) applyToEnv(e *envOptions) { e.store = o.v }
func (o MemoryOption) applyToEnv(e *envOptions) {
	e.store = NewInMemoryStore()
	e.snapshotter = NewInMemorySnapshotter()
}
func (o LogOption) applyToEnv(e *envOptions) { e.log = o.l }
func (o AggregateOption) applyToEnv(e *envOptions) {
	e.aggregates = append(e.aggregates, o.aggregates...)
}
func (o EnvOpts) applyToEnv(e *envOptions) {
	for _, opt := range o.opts {
		opt.applyToEnv(e)
	}
}
func (o CodecOption) applyToEnv(e *envOptions)       { e.serializerOpts = append(e.serializerOpts, o) }
func (o CipherOption) applyToEnv(e *envOptions)      { e.serializerOpts = append(e.serializerOpts, o) }
func (o IDGeneratorOption) applyToEnv(e *envOptions) { e.serializerOpts = append(e.serializerOpts, o) }

// === repository ===

func (o LogOption) applyToRepository(r *repoOpts) { r.log = o.l }

// === consumer ===

func (o LogOption) applyToConsumerOpts(c *consumerOpts) { c.log = o.l }
