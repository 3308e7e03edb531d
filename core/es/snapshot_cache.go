package es

import (
	"context"
	"time"

	"github.com/codewandler/esk-go/core/cache"
	"github.com/codewandler/esk-go/core/sf"
)

// CachingSnapshotter serves recently used snapshots from an in-process
// cache in front of another Snapshotter. Concurrent misses for the same
// aggregate share one load from the backing store.
//
// A shared load runs with the context of the caller that started it.
type CachingSnapshotter struct {
	next  Snapshotter
	cache cache.TypedCache[*Snapshot]
	ttl   time.Duration
	loads sf.Group[*Snapshot]
}

// NewCachingSnapshotter caches snapshots of next in c. A ttl of 0 keeps
// entries until they are evicted.
func NewCachingSnapshotter(next Snapshotter, c cache.Cache, ttl time.Duration) *CachingSnapshotter {
	return &CachingSnapshotter{
		next:  next,
		cache: cache.NewTyped[*Snapshot](c),
		ttl:   ttl,
	}
}

func (c *CachingSnapshotter) put(ss *Snapshot) {
	cp := *ss
	if c.ttl > 0 {
		c.cache.Put(ss.ObjID, &cp, cache.WithTTL(c.ttl))
		return
	}
	c.cache.Put(ss.ObjID, &cp)
}

func (c *CachingSnapshotter) SaveSnapshot(ctx context.Context, snapshot *Snapshot) error {
	if err := c.next.SaveSnapshot(ctx, snapshot); err != nil {
		c.cache.Delete(snapshot.ObjID)
		return err
	}
	c.put(snapshot)
	return nil
}

func (c *CachingSnapshotter) LoadSnapshot(ctx context.Context, objID string) (*Snapshot, error) {
	if ss, ok := c.cache.Get(objID); ok {
		cp := *ss
		return &cp, nil
	}
	ss, _, err := c.loads.Do(objID, func() (*Snapshot, error) {
		ss, err := c.next.LoadSnapshot(ctx, objID)
		if err != nil {
			return nil, err
		}
		c.put(ss)
		return ss, nil
	})
	if err != nil {
		return nil, err
	}
	cp := *ss
	return &cp, nil
}

var _ Snapshotter = (*CachingSnapshotter)(nil)
