// Package cache provides the expiring key/value cache used for stat records,
// access decisions, object kinds and group memberships.
//
// Entries expire lazily: an entry older than the cache TTL is treated as
// absent and dropped on the next Get. There is no background sweeper. A cache
// may optionally be bounded, in which case the least recently used entry is
// evicted when the bound is reached.
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/marmos91/rodsnfs/internal/logger"
	"github.com/marmos91/rodsnfs/pkg/metrics"
)

// TTLCache is a concurrency-safe map whose entries expire a fixed duration
// after they were stored.
//
// Thread Safety:
// All operations are protected by a mutex. Get takes the write lock because
// it updates recency and may drop expired entries.
type TTLCache[K comparable, V any] struct {
	name       string
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
	metrics    metrics.CacheMetrics

	mu      sync.Mutex
	entries map[K]*entry[K, V]
	lruList *list.List

	hits   uint64
	misses uint64
}

type entry[K comparable, V any] struct {
	key     K
	value   V
	created time.Time
	lruNode *list.Element
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits   uint64
	Misses uint64
	Size   int
}

// Option configures a TTLCache.
type Option func(*options)

type options struct {
	maxEntries int
	now        func() time.Time
	metrics    metrics.CacheMetrics
}

// WithMaxEntries bounds the cache. Zero (the default) means unbounded.
func WithMaxEntries(n int) Option {
	return func(o *options) { o.maxEntries = n }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithMetrics reports hits, misses and size under the cache name.
func WithMetrics(m metrics.CacheMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// New creates a cache named name whose entries live for ttl.
func New[K comparable, V any](name string, ttl time.Duration, opts ...Option) *TTLCache[K, V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = metrics.NewNoopCacheMetrics()
	}

	logger.Debug("cache created", logger.KeyCache, name, "ttl", ttl, "max_entries", o.maxEntries)

	return &TTLCache[K, V]{
		name:       name,
		ttl:        ttl,
		maxEntries: o.maxEntries,
		now:        o.now,
		metrics:    o.metrics,
		entries:    make(map[K]*entry[K, V]),
		lruList:    list.New(),
	}
}

// Name returns the cache name used in logs and metrics.
func (c *TTLCache[K, V]) Name() string {
	return c.name
}

// TTL returns the configured entry lifetime.
func (c *TTLCache[K, V]) TTL() time.Duration {
	return c.ttl
}

// Get returns the value stored under key if it has not expired.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		c.metrics.RecordMiss(c.name)
		return zero, false
	}

	if c.now().Sub(e.created) > c.ttl {
		c.removeLocked(e)
		c.misses++
		c.metrics.RecordMiss(c.name)
		c.metrics.SetSize(c.name, len(c.entries))
		return zero, false
	}

	c.lruList.MoveToFront(e.lruNode)
	c.hits++
	c.metrics.RecordHit(c.name)
	return e.value, true
}

// Put stores value under key, replacing any previous entry and restarting
// its lifetime.
func (c *TTLCache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		e.created = c.now()
		c.lruList.MoveToFront(e.lruNode)
		return
	}

	if c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		if oldest := c.lruList.Back(); oldest != nil {
			c.removeLocked(oldest.Value.(*entry[K, V]))
		}
	}

	e := &entry[K, V]{key: key, value: value, created: c.now()}
	e.lruNode = c.lruList.PushFront(e)
	c.entries[key] = e
	c.metrics.SetSize(c.name, len(c.entries))
}

// Delete removes key if present.
func (c *TTLCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		c.removeLocked(e)
		c.metrics.SetSize(c.name, len(c.entries))
	}
}

// Purge drops every entry.
func (c *TTLCache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[K]*entry[K, V])
	c.lruList.Init()
	c.metrics.SetSize(c.name, 0)
}

// Len returns the number of stored entries, expired ones included.
func (c *TTLCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns the hit and miss counters and the current size.
func (c *TTLCache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Hits: c.hits, Misses: c.misses, Size: len(c.entries)}
}

func (c *TTLCache[K, V]) removeLocked(e *entry[K, V]) {
	c.lruList.Remove(e.lruNode)
	delete(c.entries, e.key)
}
