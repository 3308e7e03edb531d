package nats

import (
	"errors"

	"github.com/codewandler/esk-go/core/es"
)

type CpStoreConfig struct {
	Connect  Connector
	Bucket   string
	Consumer string
}

// NewCpStore keeps the checkpoint of one consumer in a JetStream KV bucket.
func NewCpStore(cfg CpStoreConfig) (*es.KvCpStore, error) {
	if cfg.Consumer == "" {
		return nil, errors.New("consumer is required")
	}
	if err := validateToken(cfg.Consumer); err != nil {
		return nil, err
	}
	kv, err := NewKvStore(KvConfig{Bucket: cfg.Bucket, Connect: cfg.Connect})
	if err != nil {
		return nil, err
	}
	return es.NewKvCpStore(kv, cfg.Consumer), nil
}
