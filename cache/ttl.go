// ABOUTME: Generic key/value cache whose whole contents share a single expiry
// ABOUTME: Reads past the expiry report Stale instead of returning old values
package cache

import (
	"sync"
	"time"
)

// Status is the outcome of a cache read.
type Status int

const (
	Miss Status = iota
	Hit
	Stale
)

func (s Status) String() string {
	switch s {
	case Hit:
		return "hit"
	case Stale:
		return "stale"
	default:
		return "miss"
	}
}

// Entry is one key/value pair used to warm a cache.
type Entry[K comparable, V any] struct {
	Key   K
	Value V
}

// Clock returns the current time. Tests substitute a fake.
type Clock func() time.Time

// TTLCache maps keys to values with a collection-wide expiry set by Warm.
type TTLCache[K comparable, V any] struct {
	mu        sync.RWMutex
	entries   map[K]V
	expiresAt time.Time
	warmed    bool
	now       Clock
}

// NewTTLCache returns an empty, unwarmed cache.
func NewTTLCache[K comparable, V any](now Clock) *TTLCache[K, V] {
	if now == nil {
		now = time.Now
	}
	return &TTLCache[K, V]{entries: map[K]V{}, now: now}
}

// Warm atomically replaces every entry and sets a fresh expiry.
func (c *TTLCache[K, V]) Warm(entries []Entry[K, V], ttl time.Duration) {
	next := make(map[K]V, len(entries))
	for _, e := range entries {
		next[e.Key] = e.Value
	}
	c.mu.Lock()
	c.entries = next
	c.expiresAt = c.now().Add(ttl)
	c.warmed = true
	c.mu.Unlock()
}

// Get looks up key. After expiry every read is Stale.
func (c *TTLCache[K, V]) Get(key K) (V, Status) {
	var zero V
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.warmed {
		return zero, Miss
	}
	if !c.now().Before(c.expiresAt) {
		return zero, Stale
	}
	v, ok := c.entries[key]
	if !ok {
		return zero, Miss
	}
	return v, Hit
}

// Put inserts or replaces one entry without touching the expiry.
func (c *TTLCache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	c.entries[key] = value
	c.mu.Unlock()
}

// Invalidate removes one entry.
func (c *TTLCache[K, V]) Invalidate(key K) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Clear drops every entry and marks the cache cold.
func (c *TTLCache[K, V]) Clear() {
	c.mu.Lock()
	c.entries = map[K]V{}
	c.warmed = false
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}

// IsWarm reports whether the cache has been warmed and has not expired.
func (c *TTLCache[K, V]) IsWarm() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.warmed && c.now().Before(c.expiresAt)
}

// ExpiresAt returns the current expiry; zero when never warmed.
func (c *TTLCache[K, V]) ExpiresAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.expiresAt
}

func (c *TTLCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Values returns a snapshot of all values in unspecified order.
func (c *TTLCache[K, V]) Values() []V {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]V, 0, len(c.entries))
	for _, v := range c.entries {
		out = append(out, v)
	}
	return out
}
