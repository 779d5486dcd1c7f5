// ABOUTME: Bounded in-memory TTL cache with lazy expiry and earliest-expiry eviction on overflow.
// ABOUTME: Thread-safe; constructed explicitly and injected where needed (no package globals).
package cache

import (
	"sort"
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTL caches values for a fixed duration. Expired entries are dropped lazily
// on Get; when Set pushes the size past maxEntries, expired entries are purged
// first and then the entries closest to expiry are evicted.
type TTL[K comparable, V any] struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
	entries    map[K]entry[V]
}

// Option configures a TTL cache.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides time.Now. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// NewTTL returns an empty cache. maxEntries <= 0 defaults to 100.
func NewTTL[K comparable, V any](ttl time.Duration, maxEntries int, opts ...Option) *TTL[K, V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if maxEntries <= 0 {
		maxEntries = 100
	}
	return &TTL[K, V]{
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        o.now,
		entries:    make(map[K]entry[V]),
	}
}

// Get returns the cached value for key, or (zero, false) if absent or expired.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key with a fresh TTL.
func (c *TTL[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
	c.evictLocked()
}

// Invalidate removes key.
func (c *TTL[K, V]) Invalidate(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// InvalidateFunc removes every entry for which match returns true.
func (c *TTL[K, V]) InvalidateFunc(match func(K, V) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if match(k, e.value) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Clear removes all entries.
func (c *TTL[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}

// Len returns the number of stored entries, including not-yet-collected expired ones.
func (c *TTL[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *TTL[K, V]) evictLocked() {
	if len(c.entries) <= c.maxEntries {
		return
	}
	now := c.now()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	excess := len(c.entries) - c.maxEntries
	if excess <= 0 {
		return
	}
	type kv struct {
		key       K
		expiresAt time.Time
	}
	all := make([]kv, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, kv{k, e.expiresAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].expiresAt.Before(all[j].expiresAt) })
	for _, item := range all[:excess] {
		delete(c.entries, item.key)
	}
}
