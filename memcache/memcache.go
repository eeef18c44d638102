// Package memcache implements a bounded, strictly-LRU in-process cache
// mapping a request fingerprint to a realized *gwtypes.CachedValue:
// container/list for recency order, a map for O(1) lookup, a single
// RWMutex, and lazy TTL expiry checked on Get rather than a background
// sweep. Entries here are always fully realized values — single-flight
// coalescing lives entirely in the coalesce package, never as a pending
// handle inside this cache.
package memcache

import (
	"container/list"
	"sync"
	"time"

	"github.com/fetchgate/gateway/gwtypes"
)

type entry struct {
	key   gwtypes.Fingerprint
	value *gwtypes.CachedValue
}

// Cache is a fixed-capacity LRU store of realized cached values.
type Cache struct {
	mu       sync.RWMutex
	capacity int
	ll       *list.List
	items    map[gwtypes.Fingerprint]*list.Element

	hits   int64
	misses int64
}

// New creates a Cache with the given capacity. A non-positive capacity is
// treated as 1.
func New(capacity int) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[gwtypes.Fingerprint]*list.Element),
	}
}

// Get returns the cached value for fp if present and unexpired, promoting
// it to most-recently-used. A present-but-expired entry is evicted and
// treated as a miss.
func (c *Cache) Get(fp gwtypes.Fingerprint) (*gwtypes.CachedValue, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[fp]
	if !ok {
		c.misses++
		return nil, false
	}
	e := el.Value.(*entry)
	if e.value.Expired(time.Now()) {
		c.removeElementLocked(el)
		c.misses++
		return nil, false
	}
	c.ll.MoveToFront(el)
	c.hits++
	return e.value, true
}

// Set inserts or replaces the cached value for fp, evicting the
// least-recently-used entry if the cache is at capacity.
func (c *Cache) Set(fp gwtypes.Fingerprint, v *gwtypes.CachedValue) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[fp]; ok {
		el.Value.(*entry).value = v
		c.ll.MoveToFront(el)
		return
	}

	el := c.ll.PushFront(&entry{key: fp, value: v})
	c.items[fp] = el

	for c.ll.Len() > c.capacity {
		c.removeElementLocked(c.ll.Back())
	}
}

// Delete removes fp from the cache, if present.
func (c *Cache) Delete(fp gwtypes.Fingerprint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[fp]; ok {
		c.removeElementLocked(el)
	}
}

// Resize changes the cache's capacity, evicting least-recently-used
// entries immediately if the new capacity is smaller than the current
// entry count. A non-positive capacity is treated as 1.
func (c *Cache) Resize(capacity int) {
	if capacity < 1 {
		capacity = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.capacity = capacity
	for c.ll.Len() > c.capacity {
		c.removeElementLocked(c.ll.Back())
	}
}

// Len returns the current number of entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ll.Len()
}

// Reset clears every entry, for use by the gateway's Reset.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.items = make(map[gwtypes.Fingerprint]*list.Element)
}

// Stats returns cumulative hit/miss counters.
func (c *Cache) Stats() (hits, misses int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses
}

func (c *Cache) removeElementLocked(el *list.Element) {
	if el == nil {
		return
	}
	e := el.Value.(*entry)
	c.ll.Remove(el)
	delete(c.items, e.key)
}
