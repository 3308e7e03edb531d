package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// MsgCtx provides context for handling a single event. Live is false while
// the consumer catches up on records that existed when it started.
type MsgCtx struct {
	ctx  context.Context
	log  *slog.Logger
	rec  Record
	ev   Event
	live bool
}

func (c MsgCtx) Log() *slog.Logger        { return c.log }
func (c MsgCtx) Context() context.Context { return c.ctx }
func (c MsgCtx) Event() Event             { return c.ev }
func (c MsgCtx) Payload() any             { return c.ev.Payload }
func (c MsgCtx) Record() Record           { return c.rec }
func (c MsgCtx) Live() bool               { return c.live }

func (c MsgCtx) Seq() uint64           { return c.rec.Seq }
func (c MsgCtx) Version() Version      { return c.rec.Version }
func (c MsgCtx) AggregateID() string   { return c.rec.AggregateID }
func (c MsgCtx) Topic() string         { return c.rec.Topic }
func (c MsgCtx) Type() string          { return c.rec.Type }
func (c MsgCtx) OccurredAt() time.Time { return c.rec.OccurredAt }

// Consumer polls a NotificationLog and dispatches events to a Handler in
// store order. The checkpoint only advances past records the handler
// accepted; a failing record is retried on the next poll. Delivery is at
// least once.
type Consumer struct {
	src             NotificationLog
	serializer      *Serializer
	handler         Handler
	cp              CpStore
	log             *slog.Logger
	metrics         ESMetrics
	name            string
	pollInterval    time.Duration
	batchSize       int
	shutdownTimeout time.Duration

	mu        sync.Mutex // serializes CatchUp
	isLive    atomic.Bool
	closeChan chan struct{}
	closeOnce sync.Once
	done      chan struct{}
	started   atomic.Bool
}

func NewConsumer(
	src NotificationLog,
	serializer *Serializer,
	handler Handler,
	opts ...ConsumerOption,
) *Consumer {
	options := newConsumerOpts(opts...)
	return &Consumer{
		src:             src,
		serializer:      serializer,
		handler:         applyMiddlewares(handler, options.mws),
		cp:              options.cp,
		log:             options.log.With(slog.String("consumer", options.name)),
		metrics:         options.metrics,
		name:            options.name,
		pollInterval:    options.pollInterval,
		batchSize:       options.batchSize,
		shutdownTimeout: options.shutdownTimeout,
		closeChan:       make(chan struct{}),
		done:            make(chan struct{}),
	}
}

func (c *Consumer) Name() string { return c.name }
func (c *Consumer) Live() bool   { return c.isLive.Load() }

func (c *Consumer) handle(ctx context.Context, rec Record) error {
	live := c.isLive.Load()
	defer c.metrics.ConsumerEventDuration(rec.Type).ObserveDuration()

	ev, err := c.serializer.FromRecord(rec)
	if err != nil {
		c.metrics.ConsumerEventProcessed(rec.Type, false)
		return fmt.Errorf("failed to decode record %s: %w", rec.ID, err)
	}
	msgCtx := MsgCtx{
		ctx:  ctx,
		rec:  rec,
		ev:   ev,
		live: live,
		log:  c.log.With(rec.logAttrs()),
	}
	if err := c.handler.Handle(msgCtx); err != nil {
		c.metrics.ConsumerEventProcessed(rec.Type, false)
		return fmt.Errorf("failed to handle record %s: %w", rec.ID, err)
	}
	c.metrics.ConsumerEventProcessed(rec.Type, true)
	return nil
}

// CatchUp processes all records currently available and returns how many
// were handled. It stops at the first failing record.
func (c *Consumer) CatchUp(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pos, err := c.cp.Get(ctx)
	if err != nil {
		return 0, fmt.Errorf("load checkpoint: %w", err)
	}

	handled := 0
	for {
		if err := ctx.Err(); err != nil {
			return handled, err
		}
		batch, err := c.src.Notifications(ctx, pos, c.batchSize)
		if err != nil {
			return handled, fmt.Errorf("fetch notifications after %d: %w", pos, err)
		}
		if len(batch) == 0 {
			return handled, nil
		}
		for i, rec := range batch {
			if err := c.handle(ctx, rec); err != nil {
				return handled, err
			}
			handled++
			// records of one append may share a seq; advance once the last is done
			if i+1 < len(batch) && batch[i+1].Seq == rec.Seq {
				continue
			}
			if err := c.cp.Set(ctx, rec.Seq); err != nil {
				return handled, fmt.Errorf("store checkpoint: %w", err)
			}
			pos = rec.Seq
			c.metrics.ConsumerPosition(c.name, pos)
		}
	}
}

// Start catches up synchronously and then polls in the background until
// ctx is done or Stop is called.
func (c *Consumer) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("consumer already started")
	}
	c.log.Info("starting event consumer", slog.String("handler", fmt.Sprintf("%T", c.handler)))

	if lc, ok := c.handler.(HandlerLifecycleStart); ok {
		if err := lc.Start(ctx); err != nil {
			return fmt.Errorf("failed to start consumer lifecycle: %w", err)
		}
		c.log.Debug("handler started")
	}

	n, err := c.CatchUp(ctx)
	if err != nil {
		c.log.Error("catch up failed", slog.Int("handled", n), slog.Any("error", err))
	} else {
		c.log.Debug("became live", slog.Int("handled", n))
	}
	c.isLive.Store(true)

	go c.run(ctx)
	return nil
}

// Run starts the consumer and blocks until ctx is done or Stop is called.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	<-c.done
	return ctx.Err()
}

func (c *Consumer) run(ctx context.Context) {
	defer func() {
		if lc, ok := c.handler.(HandlerLifecycleShutdown); ok {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.shutdownTimeout)
			defer cancel()
			if err := lc.Shutdown(shutdownCtx); err != nil {
				c.log.Error("failed to shutdown consumer lifecycle", slog.Any("error", err))
			}
		}
		c.log.Info("stopped")
		close(c.done)
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.closeChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.CatchUp(ctx); err != nil && ctx.Err() == nil {
				c.log.Error("poll failed", slog.Any("error", err))
			}
		}
	}
}

// Stop ends polling and waits for the handler shutdown.
func (c *Consumer) Stop() {
	c.closeOnce.Do(func() {
		close(c.closeChan)
		if c.started.Load() {
			<-c.done
		}
	})
}
