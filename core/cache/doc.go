// Package cache provides a small in-process key-value cache with LRU
// eviction and optional per-entry TTL.
//
// [LRU] is safe for concurrent use. [Nop] caches nothing and is used when
// caching is disabled.
//
//	c := cache.NewLRU(cache.LRUOpts{Size: 1000})
//	c.Put("key", value, cache.WithTTL(5*time.Minute))
//	if val, ok := c.Get("key"); ok {
//	    // use val
//	}
//
// [NewTyped] wraps a [Cache] for a single value type.
package cache
