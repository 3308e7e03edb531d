// Package redis implements kv.Store on Redis, for snapshots and consumer
// checkpoints.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/codewandler/esk-go/core/es"
	"github.com/codewandler/esk-go/ports/kv"
)

type Config struct {
	Addr     string
	Password string
	DB       int
	// KeyPrefix is prepended to every key, e.g. "esk:".
	KeyPrefix string
	Log       *slog.Logger
}

type KvStore struct {
	rdb    goredis.UniversalClient
	prefix string
	log    *slog.Logger
}

// Connect dials Redis and verifies the connection with a PING.
func Connect(ctx context.Context, cfg Config) (*KvStore, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewKvStore(rdb, cfg.KeyPrefix, cfg.Log), nil
}

func NewKvStore(rdb goredis.UniversalClient, prefix string, log *slog.Logger) *KvStore {
	if log == nil {
		log = slog.Default()
	}
	return &KvStore{rdb: rdb, prefix: prefix, log: log.With(slog.String("kv", "redis"))}
}

func (s *KvStore) Put(ctx context.Context, key string, entry kv.Entry, opts kv.PutOptions) error {
	if err := s.rdb.Set(ctx, s.prefix+key, entry.Data, opts.TTL).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *KvStore) Get(ctx context.Context, key string) (kv.Entry, error) {
	data, err := s.rdb.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return kv.Entry{}, kv.ErrNotFound
		}
		return kv.Entry{}, fmt.Errorf("redis get %s: %w", key, err)
	}
	return kv.Entry{Data: data}, nil
}

func (s *KvStore) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, s.prefix+key).Err()
}

func (s *KvStore) Close() error { return s.rdb.Close() }

// NewSnapshotter keeps aggregate snapshots in Redis.
func NewSnapshotter(store *KvStore, opts ...es.KeyValueSnapshotterOption) *es.KeyValueSnapshotter {
	return es.NewKeyValueSnapshotter(store, opts...)
}

// NewCpStore keeps the checkpoint of the named consumer in Redis.
func NewCpStore(store *KvStore, consumer string) *es.KvCpStore {
	return es.NewKvCpStore(store, consumer)
}

var _ kv.Store = (*KvStore)(nil)
