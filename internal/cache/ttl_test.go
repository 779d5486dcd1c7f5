// ABOUTME: Tests for the TTL cache: lazy expiry, overflow eviction order, invalidation.
// ABOUTME: Uses an injected clock so no test sleeps.
package cache_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gestaopublica/gestor/internal/cache"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func TestTTL_GetSet(t *testing.T) {
	t.Parallel()
	clk := newClock()
	c := cache.NewTTL[string, int](time.Minute, 10, cache.WithClock(clk.Now))

	c.Set("a", 1)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestTTL_LazyExpiry(t *testing.T) {
	t.Parallel()
	clk := newClock()
	c := cache.NewTTL[string, int](time.Minute, 10, cache.WithClock(clk.Now))

	c.Set("a", 1)
	clk.Advance(59 * time.Second)
	_, ok := c.Get("a")
	assert.True(t, ok, "entry should still be live before TTL")

	clk.Advance(2 * time.Second)
	_, ok = c.Get("a")
	assert.False(t, ok, "entry should be expired after TTL")
	assert.Equal(t, 0, c.Len(), "expired entry should be removed on Get")
}

func TestTTL_OverflowPurgesExpiredFirst(t *testing.T) {
	t.Parallel()
	clk := newClock()
	c := cache.NewTTL[string, int](time.Minute, 2, cache.WithClock(clk.Now))

	c.Set("old", 0)
	clk.Advance(2 * time.Minute) // "old" is now expired
	c.Set("a", 1)
	clk.Advance(time.Second)
	c.Set("b", 2) // overflow: only "old" should go

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("b")
	assert.True(t, ok)
}

func TestTTL_OverflowEvictsEarliestExpiry(t *testing.T) {
	t.Parallel()
	clk := newClock()
	c := cache.NewTTL[string, int](time.Minute, 2, cache.WithClock(clk.Now))

	c.Set("first", 1)
	clk.Advance(time.Second)
	c.Set("second", 2)
	clk.Advance(time.Second)
	c.Set("third", 3)

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("first")
	assert.False(t, ok, "entry closest to expiry should be evicted")
	_, ok = c.Get("second")
	assert.True(t, ok)
	_, ok = c.Get("third")
	assert.True(t, ok)
}

func TestTTL_SetRefreshesExpiry(t *testing.T) {
	t.Parallel()
	clk := newClock()
	c := cache.NewTTL[string, int](time.Minute, 10, cache.WithClock(clk.Now))

	c.Set("a", 1)
	clk.Advance(50 * time.Second)
	c.Set("a", 2)
	clk.Advance(50 * time.Second)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestTTL_Invalidate(t *testing.T) {
	t.Parallel()
	c := cache.NewTTL[string, int](time.Minute, 10)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	c.Invalidate("a")
	_, ok := c.Get("a")
	assert.False(t, ok)

	n := c.InvalidateFunc(func(_ string, v int) bool { return v >= 3 })
	assert.Equal(t, 1, n)
	_, ok = c.Get("c")
	assert.False(t, ok)

	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestTTL_DefaultMaxEntries(t *testing.T) {
	t.Parallel()
	clk := newClock()
	c := cache.NewTTL[int, int](time.Hour, 0, cache.WithClock(clk.Now))
	for i := 0; i < 150; i++ {
		c.Set(i, i)
		clk.Advance(time.Millisecond)
	}
	assert.Equal(t, 100, c.Len())
}

func TestTTL_ConcurrentAccess(t *testing.T) {
	t.Parallel()
	c := cache.NewTTL[int, int](time.Minute, 50)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				c.Set(g*1000+i, i)
				c.Get(g*1000 + i)
			}
		}(g)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 50)
}
