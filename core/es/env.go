package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// ErrNoNotificationLog is returned when a consumer is requested for a store
// that cannot list its records in order.
var ErrNoNotificationLog = errors.New("store does not implement NotificationLog")

// Env wires a store, a serializer, a repository and consumers that share one
// logger, one registry and one lifecycle.
type Env struct {
	ctx          context.Context
	id           string
	done         chan struct{}
	shutdownOnce sync.Once
	cancelCtx    context.CancelFunc
	log          *slog.Logger
	store        EventStore
	snapshotter  Snapshotter
	registry     *Registry
	serializer   *Serializer
	repo         Repository
	metrics      ESMetrics
	consumers    []*Consumer
}

func (e *Env) Repository() Repository   { return e.repo }
func (e *Env) Store() EventStore        { return e.store }
func (e *Env) Snapshotter() Snapshotter { return e.snapshotter }
func (e *Env) Registry() *Registry      { return e.registry }
func (e *Env) Serializer() *Serializer  { return e.serializer }
func (e *Env) Log() *slog.Logger        { return e.log }

func NewEnv(opts ...EnvOption) (e *Env, err error) {
	var (
		id      = gonanoid.Must(6)
		options = newEnvOptions(opts...)
	)

	e = &Env{
		id:          id,
		log:         options.log.With(slog.String("env", id)),
		store:       options.store,
		snapshotter: options.snapshotter,
		registry:    NewRegistry(),
		metrics:     options.metrics,
		done:        make(chan struct{}),
	}
	e.ctx, e.cancelCtx = context.WithCancel(options.ctx)

	e.registry.Register(options.aggregates...)
	for _, agg := range options.aggregates {
		e.log.Debug("registered aggregate", slog.String("topic", agg.GetAggType()))
	}

	e.serializer = NewSerializer(e.registry, options.serializerOpts...)

	repoOpts := []RepositoryOption{WithLog(e.log), WithMetrics(e.metrics)}
	if e.snapshotter != nil {
		repoOpts = append(repoOpts, WithSnapshotter(e.snapshotter))
	}
	e.repo = NewRepository(e.store, e.serializer, append(repoOpts, options.repoOpts...)...)

	for _, c := range options.consumers {
		consumer, err := e.NewConsumer(c.handler, c.consumerOpts...)
		if err != nil {
			e.cancelCtx()
			return nil, err
		}
		if err := consumer.Start(e.ctx); err != nil {
			e.cancelCtx()
			return nil, fmt.Errorf("failed to start consumer: %w", err)
		}
		e.consumers = append(e.consumers, consumer)
	}

	context.AfterFunc(e.ctx, func() {
		e.log.Info("shutting down")
		e.log.Debug("stopping consumers", slog.Int("count", len(e.consumers)))
		for _, c := range e.consumers {
			c.Stop()
		}
		e.log.Info("env shutdown")
		close(e.done)
	})

	return e, nil
}

func (e *Env) Shutdown() {
	e.shutdownOnce.Do(func() {
		e.cancelCtx()
		<-e.done
	})
}

// NewConsumer creates a consumer over the store of the Env. It is not
// started.
func (e *Env) NewConsumer(handler Handler, opts ...ConsumerOption) (*Consumer, error) {
	nl, ok := e.store.(NotificationLog)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrNoNotificationLog, e.store)
	}
	return NewConsumer(
		nl,
		e.serializer,
		handler,
		WithLog(e.log),
		WithMetrics(e.metrics),
		WithConsumerOpts(opts...),
	), nil
}

// Append writes payloads for aggID directly to the store, bypassing any
// aggregate. expect is the version the stream is expected to be at.
func (e *Env) Append(ctx context.Context, aggID, topic string, expect Version, payloads ...any) (*AppendResult, error) {
	now := time.Now().UTC()
	records := make([]Record, 0, len(payloads))
	for i, p := range payloads {
		rec, err := e.serializer.ToRecord(Event{
			AggregateID: aggID,
			Version:     expect + Version(i+1),
			Type:        EventTypeOf(p),
			Topic:       topic,
			OccurredAt:  now,
			Payload:     p,
		})
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return e.store.Append(ctx, records)
}
