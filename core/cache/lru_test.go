package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLRU_Evicts(t *testing.T) {
	l := NewLRU(LRUOpts{Size: 2})
	l.Put("a", 1)
	l.Put("b", 2)

	// a is promoted, b is the oldest
	v, ok := l.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, v)

	l.Put("c", 3)
	_, ok = l.Get("b")
	require.False(t, ok)
	require.Equal(t, 2, l.Len())

	l.Put("a", 10)
	v, _ = l.Get("a")
	require.Equal(t, 10, v)
}

func TestLRU_Delete(t *testing.T) {
	l := NewLRU(LRUOpts{})
	l.Put("a", 1)
	l.Delete("a")
	l.Delete("missing")
	_, ok := l.Get("a")
	require.False(t, ok)
	require.Zero(t, l.Len())
}

func TestLRU_TTL(t *testing.T) {
	now := time.Now()
	l := NewLRU(LRUOpts{})
	l.now = func() time.Time { return now }

	l.Put("short", 1, WithTTL(time.Second))
	l.Put("forever", 2)

	now = now.Add(time.Second)
	_, ok := l.Get("short")
	require.False(t, ok)
	_, ok = l.Get("forever")
	require.True(t, ok)

	t.Run("put resets expiry", func(t *testing.T) {
		l.Put("k", 1, WithTTL(time.Second))
		l.Put("k", 2)
		now = now.Add(time.Hour)
		v, ok := l.Get("k")
		require.True(t, ok)
		require.Equal(t, 2, v)
	})
}

func TestLRU_Concurrent(t *testing.T) {
	l := NewLRU(LRUOpts{Size: 16})
	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 200 {
				key := fmt.Sprintf("k%d", (g*i)%32)
				l.Put(key, i)
				l.Get(key)
				if i%7 == 0 {
					l.Delete(key)
				}
			}
		}()
	}
	wg.Wait()
	require.LessOrEqual(t, l.Len(), 16)
}

func TestTyped(t *testing.T) {
	c := NewTyped[string](NewLRU(LRUOpts{}))
	c.Put("a", "x")
	v, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, "x", v)

	n := NewTyped[string](NewNop())
	n.Put("a", "x")
	_, ok = n.Get("a")
	require.False(t, ok)
}
