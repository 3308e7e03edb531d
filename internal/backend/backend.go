// Package backend assembles the store, snapshotter and side channels named
// by a config.Config.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codewandler/esk-go/adapters/kafka"
	"github.com/codewandler/esk-go/adapters/nats"
	"github.com/codewandler/esk-go/adapters/postgres"
	"github.com/codewandler/esk-go/adapters/prometheus"
	"github.com/codewandler/esk-go/adapters/redis"
	"github.com/codewandler/esk-go/adapters/sqlite"
	"github.com/codewandler/esk-go/core/cache"
	"github.com/codewandler/esk-go/core/es"
	"github.com/codewandler/esk-go/internal/codec"
	"github.com/codewandler/esk-go/internal/config"
)

type Backend struct {
	Store       es.EventStore
	Snapshotter es.Snapshotter
	Metrics     es.ESMetrics
	// Publisher is set when Kafka is configured.
	Publisher *kafka.Publisher

	cfg      config.Config
	log      *slog.Logger
	registry *prom.Registry
	connect  nats.Connector
	redis    *redis.KvStore
	serOpts  []es.SerializerOption
	closers  []func() error
}

// Open connects everything cfg names. On error, whatever was opened is
// closed again.
func Open(ctx context.Context, cfg config.Config, log *slog.Logger) (_ *Backend, err error) {
	if log == nil {
		log = slog.Default()
	}
	b := &Backend{
		cfg:      cfg,
		log:      log.With(slog.String("backend", cfg.Backend)),
		registry: prom.NewRegistry(),
	}
	defer func() {
		if err != nil {
			_ = b.Close()
		}
	}()
	b.Metrics = prometheus.NewESMetrics(b.registry)

	if err := b.openSerializer(); err != nil {
		return nil, err
	}
	if err := b.openStore(ctx); err != nil {
		return nil, err
	}
	if err := b.openSnapshotter(ctx); err != nil {
		return nil, err
	}
	if len(cfg.Kafka.Brokers) > 0 {
		w, err := kafka.NewWriter(kafka.Config{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic})
		if err != nil {
			return nil, err
		}
		b.Publisher = kafka.NewPublisher(w, es.NewSerializer(es.NewRegistry(), b.serOpts...), log)
		b.closers = append(b.closers, b.Publisher.Close)
	}

	b.log.Info(
		"backend ready",
		slog.String("namespace", cfg.Namespace),
		slog.String("codec", cfg.Codec),
		slog.Bool("sealed", cfg.CipherKey != ""),
		slog.Bool("redis", b.redis != nil),
		slog.Bool("kafka", b.Publisher != nil),
	)
	return b, nil
}

func (b *Backend) openSerializer() error {
	c, err := codec.ByName(b.cfg.Codec)
	if err != nil {
		return err
	}
	b.serOpts = append(b.serOpts, es.WithCodec(c))
	ciph, err := b.cfg.NewCipher()
	if err != nil {
		return err
	}
	if ciph != nil {
		b.serOpts = append(b.serOpts, es.WithCipher(ciph))
	}
	return nil
}

func (b *Backend) openStore(ctx context.Context) error {
	cfg := b.cfg
	switch cfg.Backend {
	case config.BackendMemory:
		b.Store = es.NewInMemoryStore()
	case config.BackendSQLite:
		s, err := sqlite.NewEventStore(ctx, sqlite.Config{Path: cfg.StoreURI, Namespace: cfg.Namespace, Log: b.log})
		if err != nil {
			return err
		}
		b.Store = s
		b.closers = append(b.closers, s.Close)
	case config.BackendPostgres:
		s, err := postgres.NewEventStore(ctx, postgres.Config{DSN: cfg.StoreURI, Namespace: cfg.Namespace, Log: b.log})
		if err != nil {
			return err
		}
		b.Store = s
		b.closers = append(b.closers, s.Close)
	case config.BackendNATS:
		if cfg.StoreURI != "" {
			b.connect = nats.ReuseConnection(nats.ConnectURL(cfg.StoreURI))
		} else {
			b.connect = nats.ReuseConnection(nats.ConnectDefault())
		}
		s, err := nats.NewEventStore(nats.EventStoreConfig{Connect: b.connect, Namespace: cfg.Namespace, Log: b.log})
		if err != nil {
			return err
		}
		b.Store = s
		b.closers = append(b.closers, s.Close)
	default:
		return fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	return nil
}

func (b *Backend) openSnapshotter(ctx context.Context) error {
	cfg := b.cfg
	switch {
	case cfg.Redis.Addr != "":
		rs, err := redis.Connect(ctx, redis.Config{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: "esk:" + cfg.Namespace + ":",
			Log:       b.log,
		})
		if err != nil {
			return err
		}
		b.redis = rs
		b.closers = append(b.closers, rs.Close)
		b.Snapshotter = redis.NewSnapshotter(rs)
	case b.connect != nil:
		ks, err := nats.NewKvStore(nats.KvConfig{Connect: b.connect, Bucket: "esk-snapshots-" + cfg.Namespace})
		if err != nil {
			return err
		}
		b.closers = append(b.closers, ks.Close)
		b.Snapshotter = nats.NewSnapshotter(ks)
	default:
		b.Snapshotter = es.NewInMemorySnapshotter()
	}

	if cfg.SnapshotCacheSize > 0 {
		b.Snapshotter = es.NewCachingSnapshotter(
			b.Snapshotter,
			cache.NewLRU(cache.LRUOpts{Size: cfg.SnapshotCacheSize}),
			cfg.SnapshotCacheTTL,
		)
	}
	return nil
}

// Checkpoint returns a checkpoint store for consumer on the most durable
// medium configured.
func (b *Backend) Checkpoint(consumer string) (es.CpStore, error) {
	switch {
	case b.redis != nil:
		return redis.NewCpStore(b.redis, consumer), nil
	case b.connect != nil:
		return nats.NewCpStore(nats.CpStoreConfig{
			Connect:  b.connect,
			Bucket:   "esk-checkpoints-" + b.cfg.Namespace,
			Consumer: consumer,
		})
	}
	return es.NewInMemCpStore(), nil
}

// EnvOptions configures an es.Env on this backend. With Kafka configured,
// the env relays every stored event to it.
func (b *Backend) EnvOptions() ([]es.EnvOption, error) {
	opts := []es.EnvOption{
		es.WithStore(b.Store),
		es.WithSnapshotter(b.Snapshotter),
		es.WithLog(b.log),
		es.WithMetrics(b.Metrics),
	}
	for _, o := range b.serOpts {
		if eo, ok := o.(es.EnvOption); ok {
			opts = append(opts, eo)
		}
	}
	if b.Publisher != nil {
		cp, err := b.Checkpoint("kafka-relay")
		if err != nil {
			return nil, err
		}
		opts = append(opts, es.WithConsumer(b.Publisher, es.WithConsumerName("kafka-relay"), es.WithCheckpoint(cp)))
	}
	return opts, nil
}

// MetricsHandler serves the backend's Prometheus registry.
func (b *Backend) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(b.registry, promhttp.HandlerOpts{})
}

func (b *Backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	b.closers = nil
	return errors.Join(errs...)
}
