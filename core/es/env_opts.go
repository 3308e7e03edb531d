package es

import (
	"context"
	"log/slog"
)

type (
	envOptions struct {
		ctx            context.Context
		log            *slog.Logger
		snapshotter    Snapshotter
		store          EventStore
		aggregates     []Aggregate
		consumers      []EnvConsumerOption
		metrics        ESMetrics
		serializerOpts []SerializerOption
		repoOpts       []RepositoryOption
	}

	EnvOption interface {
		applyToEnv(*envOptions)
	}
)

func newEnvOptions(opts ...EnvOption) envOptions {
	options := envOptions{
		ctx:     context.Background(),
		log:     slog.Default(),
		metrics: NopESMetrics(),
	}
	for _, opt := range opts {
		opt.applyToEnv(&options)
	}
	if options.store == nil {
		options.store = NewInMemoryStore()
	}
	return options
}

// === options ===

type (
	EnvConsumerOption struct {
		handler      Handler
		consumerOpts []ConsumerOption
	}
	ContextOption  valueOption[context.Context]
	RepoOptsOption MultiOption[RepositoryOption]
)

// WithConsumer starts a consumer for handler together with the Env.
func WithConsumer(handler Handler, opts ...ConsumerOption) EnvConsumerOption {
	return EnvConsumerOption{handler: handler, consumerOpts: opts}
}

// WithContext sets the parent context of the Env. Cancelling it shuts the
// Env down.
func WithContext(ctx context.Context) ContextOption { return ContextOption{v: ctx} }

// WithRepoOpts passes options to the repository of the Env.
func WithRepoOpts(opts ...RepositoryOption) RepoOptsOption { return RepoOptsOption{opts: opts} }

func (o EnvConsumerOption) applyToEnv(options *envOptions) {
	options.consumers = append(options.consumers, o)
}
func (o ContextOption) applyToEnv(options *envOptions) { options.ctx = o.v }
func (o RepoOptsOption) applyToEnv(options *envOptions) {
	options.repoOpts = append(options.repoOpts, o.opts...)
}
