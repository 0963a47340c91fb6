// Package ttlcache provides a capacity-bounded in-memory cache whose entries
// expire a fixed time after insertion.
package ttlcache

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"
)

type entry[K comparable, V any] struct {
	key        K
	value      V
	insertedAt time.Time
	ttl        time.Duration
}

func (e *entry[K, V]) expired(now time.Time) bool {
	return now.Sub(e.insertedAt) > e.ttl
}

// Stats contains cache statistics.
type Stats struct {
	Entries   int    `json:"entries"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Expired   uint64 `json:"expired"`
}

// Cache maps keys to values for at most ttl after insertion. When more than
// maxEntries are held, the oldest insertion is evicted first.
type Cache[K comparable, V any] struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	items      map[K]*list.Element
	order      *list.List // front = oldest insertion
	now        func() time.Time
	stats      Stats
}

// New creates a cache. A non-positive maxEntries means unbounded.
func New[K comparable, V any](ttl time.Duration, maxEntries int) *Cache[K, V] {
	return &Cache[K, V]{
		ttl:        ttl,
		maxEntries: maxEntries,
		items:      make(map[K]*list.Element),
		order:      list.New(),
		now:        time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (c *Cache[K, V]) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Get returns the value for key if present and not expired. An expired entry
// is removed on the spot.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return zero, false
	}
	e := el.Value.(*entry[K, V])
	if e.expired(c.now()) {
		c.removeElement(el)
		c.stats.Expired++
		c.stats.Misses++
		return zero, false
	}
	c.stats.Hits++
	return e.value, true
}

// Set stores value under key with the cache's default TTL.
func (c *Cache[K, V]) Set(key K, value V) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores value under key with an explicit TTL. Re-setting a key
// counts as a fresh insertion.
func (c *Cache[K, V]) SetWithTTL(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
	el := c.order.PushBack(&entry[K, V]{
		key:        key,
		value:      value,
		insertedAt: c.now(),
		ttl:        ttl,
	})
	c.items[key] = el

	for c.maxEntries > 0 && c.order.Len() > c.maxEntries {
		c.removeElement(c.order.Front())
		c.stats.Evictions++
	}
}

// Delete removes key.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
}

// Purge removes every entry.
func (c *Cache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]*list.Element)
	c.order.Init()
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Sweep removes all expired entries and returns how many were dropped.
func (c *Cache[K, V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if el.Value.(*entry[K, V]).expired(now) {
			c.removeElement(el)
			removed++
		}
		el = next
	}
	c.stats.Expired += uint64(removed)
	return removed
}

// Stats returns a snapshot of cache statistics.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = c.order.Len()
	return s
}

// StartSweeper periodically removes expired entries until ctx is done.
func (c *Cache[K, V]) StartSweeper(ctx context.Context, interval time.Duration, name string) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := c.Sweep(); n > 0 {
					slog.Debug("Cache sweep removed expired entries", "cache", name, "removed", n)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (c *Cache[K, V]) removeElement(el *list.Element) {
	e := c.order.Remove(el).(*entry[K, V])
	delete(c.items, e.key)
}
