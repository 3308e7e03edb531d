// Package config loads the environment configuration shared by the esk
// binaries.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/codewandler/esk-go/core/cipher"
	"github.com/codewandler/esk-go/internal/codec"
)

const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendNATS     = "nats"
)

var backends = []string{BackendMemory, BackendSQLite, BackendPostgres, BackendNATS}

type Config struct {
	Backend string `env:"ESK_BACKEND" envDefault:"memory"`
	// StoreURI is the SQLite path, the Postgres DSN or the NATS URL.
	StoreURI  string `env:"ESK_STORE_URI"`
	Namespace string `env:"ESK_NAMESPACE" envDefault:"default"`

	Codec string `env:"ESK_CODEC" envDefault:"json"`
	// Cipher is only used when CipherKey is set.
	Cipher    string `env:"ESK_CIPHER" envDefault:"aes-gcm"`
	CipherKey string `env:"ESK_CIPHER_KEY"`

	LogLevel slog.Level `env:"ESK_LOG_LEVEL" envDefault:"info"`

	// SnapshotCacheSize > 0 keeps that many snapshots in memory.
	SnapshotCacheSize int           `env:"ESK_SNAPSHOT_CACHE_SIZE"`
	SnapshotCacheTTL  time.Duration `env:"ESK_SNAPSHOT_CACHE_TTL" envDefault:"5m"`

	Redis Redis `envPrefix:"ESK_REDIS_"`
	Kafka Kafka `envPrefix:"ESK_KAFKA_"`

	// MetricsAddr serves /metrics when set, e.g. ":9090".
	MetricsAddr string `env:"ESK_METRICS_ADDR"`
}

// Redis holds snapshots and checkpoints when Addr is set.
type Redis struct {
	Addr     string `env:"ADDR"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB"`
}

// Kafka receives every stored event when Brokers is set.
type Kafka struct {
	Brokers []string `env:"BROKERS" envSeparator:","`
	Topic   string   `env:"TOPIC" envDefault:"esk.events"`
}

// Load parses the environment into a validated Config.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseEnv loads any env-tagged struct, e.g. a binary's own settings.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if !slices.Contains(backends, c.Backend) {
		errs = append(errs, fmt.Errorf("ESK_BACKEND: %q is not one of %v", c.Backend, backends))
	}
	if (c.Backend == BackendSQLite || c.Backend == BackendPostgres) && c.StoreURI == "" {
		errs = append(errs, fmt.Errorf("ESK_STORE_URI is required for %s", c.Backend))
	}
	if _, err := codec.ByName(c.Codec); err != nil {
		errs = append(errs, fmt.Errorf("ESK_CODEC: %w", err))
	}
	if c.CipherKey != "" {
		if _, err := c.NewCipher(); err != nil {
			errs = append(errs, fmt.Errorf("ESK_CIPHER: %w", err))
		}
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("ESK_KAFKA_TOPIC is required with brokers"))
	}
	return errors.Join(errs...)
}

// NewCipher returns the configured cipher, or nil if no key is set.
func (c Config) NewCipher() (cipher.Cipher, error) {
	if c.CipherKey == "" {
		return nil, nil
	}
	key, err := cipher.ParseKey(c.CipherKey)
	if err != nil {
		return nil, err
	}
	return cipher.New(c.Cipher, key)
}

// Logger returns a text logger at the configured level.
func (c Config) Logger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: c.LogLevel}))
}
