package es

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/codewandler/esk-go/ports/kv"
)

type (
	// CpStore persists the store sequence a consumer has processed up to.
	// A consumer without a checkpoint starts at 0.
	CpStore interface {
		Get(ctx context.Context) (lastSeq uint64, err error)
		Set(ctx context.Context, lastSeq uint64) error
	}
)

type CpStoreOption valueOption[CpStore]

// WithCheckpoint sets the checkpoint store of a consumer.
func WithCheckpoint(cp CpStore) CpStoreOption { return CpStoreOption{v: cp} }

func (o CpStoreOption) applyToConsumerOpts(c *consumerOpts) { c.cp = o.v }

type InMemCpStore struct {
	mu sync.RWMutex
	v  uint64
}

func NewInMemCpStore() *InMemCpStore {
	return &InMemCpStore{}
}

func (s *InMemCpStore) Get(context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v, nil
}

func (s *InMemCpStore) Set(_ context.Context, v uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v = v
	return nil
}

// KvCpStore keeps a checkpoint under a single key of a kv.Store.
type KvCpStore struct {
	store kv.Store
	key   string
}

func NewKvCpStore(store kv.Store, consumerName string) *KvCpStore {
	return &KvCpStore{store: store, key: "checkpoint." + consumerName}
}

func (s *KvCpStore) Get(ctx context.Context) (uint64, error) {
	e, err := s.store.Get(ctx, s.key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return strconv.ParseUint(string(e.Data), 10, 64)
}

func (s *KvCpStore) Set(ctx context.Context, lastSeq uint64) error {
	return s.store.Put(ctx, s.key, kv.Entry{Data: strconv.AppendUint(nil, lastSeq, 10)}, kv.PutOptions{})
}

var (
	_ CpStore = (*InMemCpStore)(nil)
	_ CpStore = (*KvCpStore)(nil)
)
