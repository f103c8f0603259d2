// Package lru implements a generic, thread-safe LRU cache with optional
// per-entry TTL, an eviction callback and hit/miss counters.
//
// Get, Put, Delete and Len are O(1). Expired entries are removed lazily
// when they are touched.
package lru

import (
	"sync"
	"time"
)

type node[K comparable, V any] struct {
	key     K
	val     V
	expires time.Time // zero means no expiry
	prev    *node[K, V]
	next    *node[K, V]
}

// Metrics is a snapshot of cache counters.
type Metrics struct {
	Hits        uint64
	Misses      uint64
	Evictions   uint64
	Expirations uint64
}

// HitRate is hits / (hits + misses), or 0 before any lookup.
func (m Metrics) HitRate() float64 {
	total := m.Hits + m.Misses
	if total == 0 {
		return 0
	}
	return float64(m.Hits) / float64(total)
}

// Option configures a Cache.
type Option[K comparable, V any] func(*Cache[K, V])

// WithTTL sets the default time to live for Put. Zero disables expiry.
func WithTTL[K comparable, V any](ttl time.Duration) Option[K, V] {
	return func(c *Cache[K, V]) { c.ttl = ttl }
}

// WithOnEvict registers fn for entries dropped by capacity or expiry. It is
// not called for Delete or Clear, and runs after the cache lock is released.
func WithOnEvict[K comparable, V any](fn func(K, V)) Option[K, V] {
	return func(c *Cache[K, V]) { c.onEvict = fn }
}

// Cache is a generic, thread-safe LRU cache.
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	onEvict  func(K, V)
	now      func() time.Time
	items    map[K]*node[K, V]
	head     *node[K, V] // sentinel, most recently used side
	tail     *node[K, V] // sentinel, least recently used side
	metrics  Metrics
}

// New creates a cache holding at most capacity entries. It panics if
// capacity < 1.
func New[K comparable, V any](capacity int, opts ...Option[K, V]) *Cache[K, V] {
	if capacity < 1 {
		panic("lru: capacity must be >= 1")
	}
	head := &node[K, V]{}
	tail := &node[K, V]{}
	head.next = tail
	tail.prev = head

	c := &Cache[K, V]{
		capacity: capacity,
		now:      time.Now,
		items:    make(map[K]*node[K, V], capacity),
		head:     head,
		tail:     tail,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (n *node[K, V]) expired(now time.Time) bool {
	return !n.expires.IsZero() && !now.Before(n.expires)
}

// Get returns the value for key and marks it most recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	n, ok := c.items[key]
	if !ok {
		c.metrics.Misses++
		c.mu.Unlock()
		var zero V
		return zero, false
	}
	if n.expired(c.now()) {
		c.unlink(n)
		c.metrics.Misses++
		c.metrics.Expirations++
		c.mu.Unlock()
		c.evicted(n)
		var zero V
		return zero, false
	}
	c.metrics.Hits++
	c.moveToFront(n)
	val := n.val
	c.mu.Unlock()
	return val, true
}

// Put inserts or updates key with the default TTL. When the insert pushes
// out the least recently used entry, that entry is returned.
func (c *Cache[K, V]) Put(key K, val V) (K, V, bool) {
	return c.PutWithTTL(key, val, c.ttl)
}

// PutWithTTL is Put with an explicit TTL for this entry. Zero means the
// entry never expires. Updating an entry resets its TTL.
func (c *Cache[K, V]) PutWithTTL(key K, val V, ttl time.Duration) (K, V, bool) {
	c.mu.Lock()
	var expires time.Time
	if ttl > 0 {
		expires = c.now().Add(ttl)
	}

	if n, ok := c.items[key]; ok {
		n.val = val
		n.expires = expires
		c.moveToFront(n)
		c.mu.Unlock()
		var zk K
		var zv V
		return zk, zv, false
	}

	var victim *node[K, V]
	if len(c.items) >= c.capacity {
		victim = c.tail.prev
		c.unlink(victim)
		c.metrics.Evictions++
	}
	n := &node[K, V]{key: key, val: val, expires: expires}
	c.items[key] = n
	c.pushFront(n)
	c.mu.Unlock()

	if victim == nil {
		var zk K
		var zv V
		return zk, zv, false
	}
	c.evicted(victim)
	return victim.key, victim.val, true
}

// Delete removes key and reports whether it was present.
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.items[key]
	if !ok {
		return false
	}
	c.unlink(n)
	return true
}

// Len returns the number of entries, including expired ones not yet
// touched.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Peek returns the value for key without changing recency.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.items[key]
	if !ok || n.expired(c.now()) {
		var zero V
		return zero, false
	}
	return n.val, true
}

// Keys returns the live keys from most to least recently used.
func (c *Cache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	keys := make([]K, 0, len(c.items))
	for cur := c.head.next; cur != c.tail; cur = cur.next {
		if !cur.expired(now) {
			keys = append(keys, cur.key)
		}
	}
	return keys
}

// Clear removes every entry. Counters are kept.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head.next = c.tail
	c.tail.prev = c.head
	c.items = make(map[K]*node[K, V], c.capacity)
}

// Metrics returns a snapshot of the counters.
func (c *Cache[K, V]) Metrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

func (c *Cache[K, V]) evicted(n *node[K, V]) {
	if c.onEvict != nil {
		c.onEvict(n.key, n.val)
	}
}

// unlink removes n from the list and the index. Caller holds mu.
func (c *Cache[K, V]) unlink(n *node[K, V]) {
	c.detach(n)
	delete(c.items, n.key)
}

func (c *Cache[K, V]) detach(n *node[K, V]) {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev = nil
	n.next = nil
}

func (c *Cache[K, V]) pushFront(n *node[K, V]) {
	n.next = c.head.next
	n.prev = c.head
	c.head.next.prev = n
	c.head.next = n
}

func (c *Cache[K, V]) moveToFront(n *node[K, V]) {
	c.detach(n)
	c.pushFront(n)
}
