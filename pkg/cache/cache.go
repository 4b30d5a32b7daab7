// Package cache implements a bounded, expiring key/value store with LRU
// eviction. It backs the client's notification/update buffers and the
// offline order store.
package cache

import (
	"container/list"
	"time"
)

const (
	DefaultCapacity = 100
	DefaultTTL      = 5 * time.Minute
)

type entry[V any] struct {
	key       string
	value     V
	createdAt time.Time
	expiresAt time.Time
	elem      *list.Element
}

// SnapshotEntry carries one live entry with its original timestamps so a
// restore can honor the absolute expiry.
type SnapshotEntry[V any] struct {
	Key       string    `json:"key"`
	Value     V         `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Cache enforces a maximum entry count and a per-entry TTL. Expired entries
// are removed lazily on read and swept on every set; there is no background
// sweeper. All operations run to completion under the caller's goroutine.
type Cache[V any] struct {
	capacity   int
	defaultTTL time.Duration

	items map[string]*entry[V]
	// lru front is most recently touched; back is the eviction victim.
	lru *list.List

	now func() time.Time
}

// Option configures a Cache at construction.
type Option[V any] func(*Cache[V])

// WithNow overrides the clock, for tests.
func WithNow[V any](now func() time.Time) Option[V] {
	return func(c *Cache[V]) { c.now = now }
}

// New creates a cache. Capacity and default TTL are fixed for the cache's
// lifetime; non-positive arguments fall back to the defaults.
func New[V any](capacity int, defaultTTL time.Duration, opts ...Option[V]) *Cache[V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	c := &Cache[V]{
		capacity:   capacity,
		defaultTTL: defaultTTL,
		items:      make(map[string]*entry[V]),
		lru:        list.New(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Set stores a value with the default TTL.
func (c *Cache[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL stores a value with expiry now+ttl. Already-expired entries are
// swept first; if the cache is still at capacity, the least recently used
// survivor is evicted. Insertion counts as a recency touch.
func (c *Cache[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	now := c.now()
	c.sweep(now)

	if e, exists := c.items[key]; exists {
		e.value = value
		e.createdAt = now
		e.expiresAt = now.Add(ttl)
		c.lru.MoveToFront(e.elem)
		return
	}

	if len(c.items) >= c.capacity {
		c.evictOldest()
	}

	e := &entry[V]{
		key:       key,
		value:     value,
		createdAt: now,
		expiresAt: now.Add(ttl),
	}
	e.elem = c.lru.PushFront(key)
	c.items[key] = e
}

// Get returns the value if present and not expired, touching recency. An
// expired entry is removed on discovery and reported as absent.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	e, exists := c.items[key]
	if !exists {
		return zero, false
	}
	if !e.expiresAt.After(c.now()) {
		c.remove(e)
		return zero, false
	}
	c.lru.MoveToFront(e.elem)
	return e.value, true
}

// Has reports presence with the same expiry semantics as Get but without
// touching recency.
func (c *Cache[V]) Has(key string) bool {
	e, exists := c.items[key]
	if !exists {
		return false
	}
	if !e.expiresAt.After(c.now()) {
		c.remove(e)
		return false
	}
	return true
}

// Delete removes a key unconditionally.
func (c *Cache[V]) Delete(key string) {
	if e, exists := c.items[key]; exists {
		c.remove(e)
	}
}

// Clear removes all entries.
func (c *Cache[V]) Clear() {
	c.items = make(map[string]*entry[V])
	c.lru.Init()
}

// Keys returns all non-expired keys after a sweep, most recently touched
// first.
func (c *Cache[V]) Keys() []string {
	c.sweep(c.now())
	keys := make([]string, 0, len(c.items))
	for elem := c.lru.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(string))
	}
	return keys
}

// Len returns the number of live entries. Never exceeds capacity after any
// operation returns.
func (c *Cache[V]) Len() int {
	return len(c.items)
}

// Snapshot serializes all non-expired entries with their original
// timestamps, most recently touched first.
func (c *Cache[V]) Snapshot() []SnapshotEntry[V] {
	c.sweep(c.now())
	entries := make([]SnapshotEntry[V], 0, len(c.items))
	for elem := c.lru.Front(); elem != nil; elem = elem.Next() {
		e := c.items[elem.Value.(string)]
		entries = append(entries, SnapshotEntry[V]{
			Key:       e.key,
			Value:     e.value,
			CreatedAt: e.createdAt,
			ExpiresAt: e.expiresAt,
		})
	}
	return entries
}

// Restore loads entries whose absolute expiry is still in the future,
// preserving original timestamps. Entries beyond capacity are dropped,
// oldest recency first.
func (c *Cache[V]) Restore(entries []SnapshotEntry[V]) {
	now := c.now()
	for _, se := range entries {
		if !se.ExpiresAt.After(now) {
			continue
		}
		if e, exists := c.items[se.Key]; exists {
			c.remove(e)
		}
		if len(c.items) >= c.capacity {
			continue
		}
		e := &entry[V]{
			key:       se.Key,
			value:     se.Value,
			createdAt: se.CreatedAt,
			expiresAt: se.ExpiresAt,
		}
		// Snapshot order is most-recent-first, so append at the back to
		// keep the same eviction order.
		e.elem = c.lru.PushBack(se.Key)
		c.items[se.Key] = e
	}
}

func (c *Cache[V]) sweep(now time.Time) {
	for _, e := range c.items {
		if !e.expiresAt.After(now) {
			c.remove(e)
		}
	}
}

func (c *Cache[V]) evictOldest() {
	elem := c.lru.Back()
	if elem == nil {
		return
	}
	if e, exists := c.items[elem.Value.(string)]; exists {
		c.remove(e)
	}
}

func (c *Cache[V]) remove(e *entry[V]) {
	c.lru.Remove(e.elem)
	delete(c.items, e.key)
}
