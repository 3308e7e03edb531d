package es

import (
	"fmt"
	"log/slog"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	defaultPollInterval    = 250 * time.Millisecond
	defaultBatchSize       = 256
	defaultShutdownTimeout = 5 * time.Second
)

type (
	consumerOpts struct {
		mws             []HandlerMiddleware
		log             *slog.Logger
		name            string
		cp              CpStore
		metrics         ESMetrics
		pollInterval    time.Duration
		batchSize       int
		shutdownTimeout time.Duration
	}

	ConsumerOption interface {
		applyToConsumerOpts(*consumerOpts)
	}

	ConsumerNameOption  valueOption[string]
	MiddlewareOption    valueOption[[]HandlerMiddleware]
	PollIntervalOption  valueOption[time.Duration]
	BatchSizeOption     valueOption[int]
	ShutdownTimeoutOpts valueOption[time.Duration]
	ConsumerOptions     MultiOption[ConsumerOption]
)

func (o ConsumerNameOption) applyToConsumerOpts(opts *consumerOpts) { opts.name = o.v }
func (o MiddlewareOption) applyToConsumerOpts(opts *consumerOpts) {
	opts.mws = append(opts.mws, o.v...)
}
func (o PollIntervalOption) applyToConsumerOpts(opts *consumerOpts)  { opts.pollInterval = o.v }
func (o BatchSizeOption) applyToConsumerOpts(opts *consumerOpts)     { opts.batchSize = o.v }
func (o ShutdownTimeoutOpts) applyToConsumerOpts(opts *consumerOpts) { opts.shutdownTimeout = o.v }
func (o ConsumerOptions) applyToConsumerOpts(opts *consumerOpts) {
	for _, opt := range o.opts {
		opt.applyToConsumerOpts(opts)
	}
}

func WithMiddlewares(mws ...HandlerMiddleware) MiddlewareOption { return MiddlewareOption{v: mws} }
func WithConsumerOpts(opts ...ConsumerOption) ConsumerOptions  { return ConsumerOptions{opts: opts} }
func WithConsumerName(name string) ConsumerNameOption          { return ConsumerNameOption{v: name} }

// WithPollInterval sets how often a live consumer polls for new records.
func WithPollInterval(d time.Duration) PollIntervalOption { return PollIntervalOption{v: d} }

// WithBatchSize sets the number of records fetched per poll.
func WithBatchSize(n int) BatchSizeOption { return BatchSizeOption{v: n} }

func WithShutdownTimeout(d time.Duration) ShutdownTimeoutOpts { return ShutdownTimeoutOpts{v: d} }

func newConsumerOpts(opts ...ConsumerOption) consumerOpts {
	options := consumerOpts{
		log:             slog.Default(),
		name:            fmt.Sprintf("consumer-%s", gonanoid.Must(6)),
		metrics:         NopESMetrics(),
		pollInterval:    defaultPollInterval,
		batchSize:       defaultBatchSize,
		shutdownTimeout: defaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt.applyToConsumerOpts(&options)
	}
	if options.cp == nil {
		options.cp = NewInMemCpStore()
	}
	if options.batchSize <= 0 {
		options.batchSize = defaultBatchSize
	}
	if options.pollInterval <= 0 {
		options.pollInterval = defaultPollInterval
	}
	return options
}
