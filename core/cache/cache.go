package cache

import "time"

// Cache maps string keys to values. Implementations are safe for
// concurrent use.
type Cache interface {
	Get(key string) (any, bool)
	Put(key string, val any, opts ...PutOption)
	Delete(key string)
}

// PutOptions are the per entry settings of Put. A zero TTL never expires.
type PutOptions struct {
	TTL time.Duration
}

type PutOption func(*PutOptions)

func WithTTL(ttl time.Duration) PutOption { return func(o *PutOptions) { o.TTL = ttl } }

// TypedCache is a Cache restricted to values of T.
type TypedCache[T any] interface {
	Get(key string) (T, bool)
	Put(key string, val T, opts ...PutOption)
	Delete(key string)
}

type typed[T any] struct{ Cache }

// NewTyped views c as a TypedCache. Entries of another type read as
// misses.
func NewTyped[T any](c Cache) TypedCache[T] { return typed[T]{c} }

func (t typed[T]) Get(key string) (T, bool) {
	v, ok := t.Cache.Get(key)
	if !ok {
		var zero T
		return zero, false
	}
	out, ok := v.(T)
	return out, ok
}

func (t typed[T]) Put(key string, val T, opts ...PutOption) { t.Cache.Put(key, val, opts...) }

var _ TypedCache[any] = typed[any]{}
