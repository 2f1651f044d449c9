package targomo

import (
	"sync"
)

// nilIndex marks the absence of a neighbour in the recency chain.
const nilIndex = -1

// lruEntry is one arena slot. prev points towards the oldest entry, next
// towards the newest.
type lruEntry[T any] struct {
	key   string
	value *future[T]
	prev  int
	next  int
}

// BoundedCache is a fixed-capacity, least-recently-used cache whose values
// are materialised asynchronously by a Factory. Entries live in a slice and
// link to each other by index; evicted slots are recycled through a free
// list. A capacity of 0 disables eviction.
//
// The entry for a key is registered before its factory runs, so concurrent
// lookups of that key wait for the same call instead of starting their own.
// BoundedCache is safe for concurrent use.
type BoundedCache[T any] struct {
	mu       sync.Mutex
	capacity int
	index    map[string]int
	entries  []lruEntry[T]
	free     []int
	newest   int
	oldest   int

	retries int
	name    string
	metrics *MetricsCollector
	logger  Logger
	onEvict func(key string)
}

// LRUOption configures a BoundedCache.
type LRUOption func(*lruConfig)

type lruConfig struct {
	retries int
	name    string
	metrics *MetricsCollector
	logger  Logger
	onEvict func(key string)
}

// WithFailureRetries sets how many times Get re-enters the cache after the
// awaited value failed. 0 returns the first failure. Negative values are
// treated as 0.
func WithFailureRetries(n int) LRUOption {
	return func(c *lruConfig) {
		if n < 0 {
			n = 0
		}
		c.retries = n
	}
}

// WithLRUMetrics reports hits, misses, evictions and size under the given cache name.
func WithLRUMetrics(mc *MetricsCollector, name string) LRUOption {
	return func(c *lruConfig) {
		c.metrics = mc
		if name != "" {
			c.name = name
		}
	}
}

// WithLRULogger logs evictions and failed generations.
func WithLRULogger(logger Logger) LRUOption {
	return func(c *lruConfig) {
		c.logger = logger
	}
}

// WithEvictionCallback is called, outside the cache lock, with the key of
// every entry evicted for capacity.
func WithEvictionCallback(fn func(key string)) LRUOption {
	return func(c *lruConfig) {
		c.onEvict = fn
	}
}

// NewBoundedCache creates a cache holding at most capacity entries.
func NewBoundedCache[T any](capacity int, opts ...LRUOption) *BoundedCache[T] {
	if capacity < 0 {
		capacity = 0
	}

	cfg := lruConfig{retries: 1, name: "lru"}
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &BoundedCache[T]{
		capacity: capacity,
		index:    make(map[string]int),
		newest:   nilIndex,
		oldest:   nilIndex,
		retries:  cfg.retries,
		name:     cfg.name,
		metrics:  cfg.metrics,
		logger:   cfg.logger,
		onEvict:  cfg.onEvict,
	}
	if capacity > 0 {
		c.entries = make([]lruEntry[T], 0, capacity+1)
	}
	return c
}

// Get returns the value for key. A present entry, pending or resolved, is
// moved to the newest position and awaited. An absent key with a non-nil
// factory registers a new entry and runs factory; an absent key without one
// returns ErrCacheMiss. When the awaited value fails the entry is dropped and
// the lookup is retried up to the configured number of times.
func (c *BoundedCache[T]) Get(key string, factory Factory[T]) (T, error) {
	for attempt := 0; ; attempt++ {
		fut, owner := c.acquire(key, factory)
		if fut == nil {
			var zero T
			return zero, ErrCacheMiss
		}

		var (
			val T
			err error
		)
		if owner {
			val, err = runFactory(factory)
			fut.resolve(val, err)
		} else {
			val, err = fut.wait()
		}
		if err == nil {
			return val, nil
		}

		c.discard(key, fut)

		if factory == nil || attempt >= c.retries {
			var zero T
			return zero, err
		}
		if c.logger != nil {
			c.logger.Debug("Cache entry failed, retrying", "cache", c.name, "key", key, "attempt", attempt+1, "error", err.Error())
		}
	}
}

// acquire returns the future registered for key, creating it when factory is
// non-nil. owner reports whether the caller must run the factory.
func (c *BoundedCache[T]) acquire(key string, factory Factory[T]) (fut *future[T], owner bool) {
	c.mu.Lock()

	failed := false
	if i, ok := c.index[key]; ok {
		fut = c.entries[i].value
		if !fut.failed() {
			c.touch(i)
			c.mu.Unlock()
			c.metrics.RecordCacheHit(c.name)
			return fut, false
		}
		// Resolved with an error but not yet discarded by its owner.
		c.removeAt(i)
		failed = true
	}

	if factory == nil {
		size := len(c.index)
		c.mu.Unlock()
		if failed {
			c.metrics.RecordCacheFailure(c.name)
			c.metrics.RecordCacheSize(c.name, size)
		}
		c.metrics.RecordCacheMiss(c.name)
		return nil, false
	}

	fut = newFuture[T]()
	i := c.alloc(key, fut)
	c.index[key] = i
	c.pushNewest(i)

	evicted, didEvict := "", false
	if c.capacity > 0 && len(c.index) > c.capacity {
		evicted = c.removeAt(c.oldest)
		didEvict = true
	}
	size := len(c.index)
	c.mu.Unlock()

	if failed {
		c.metrics.RecordCacheFailure(c.name)
	}
	c.metrics.RecordCacheMiss(c.name)
	c.metrics.RecordCacheSize(c.name, size)
	if didEvict {
		c.metrics.RecordCacheEviction(c.name)
		if c.logger != nil {
			c.logger.Debug("Cache entry evicted", "cache", c.name, "key", evicted)
		}
		if c.onEvict != nil {
			c.onEvict(evicted)
		}
	}
	return fut, true
}

// discard drops key if it still belongs to the failed generation fut.
func (c *BoundedCache[T]) discard(key string, fut *future[T]) {
	c.mu.Lock()
	removed := false
	if i, ok := c.index[key]; ok && c.entries[i].value == fut {
		c.removeAt(i)
		removed = true
	}
	size := len(c.index)
	c.mu.Unlock()

	if removed {
		c.metrics.RecordCacheFailure(c.name)
		c.metrics.RecordCacheSize(c.name, size)
	}
}

// Len returns the number of tracked entries, pending ones included.
func (c *BoundedCache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

// Capacity returns the configured capacity; 0 means unbounded.
func (c *BoundedCache[T]) Capacity() int {
	return c.capacity
}

// Keys returns the tracked keys from least to most recently used.
func (c *BoundedCache[T]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.index))
	for i := c.oldest; i != nilIndex; i = c.entries[i].next {
		keys = append(keys, c.entries[i].key)
	}
	return keys
}

// Contains reports whether key is tracked without touching its recency.
func (c *BoundedCache[T]) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.index[key]
	return ok
}

// Delete removes key. Callers already waiting on it still get its result.
func (c *BoundedCache[T]) Delete(key string) bool {
	c.mu.Lock()
	i, ok := c.index[key]
	if ok {
		c.removeAt(i)
	}
	size := len(c.index)
	c.mu.Unlock()

	if ok {
		c.metrics.RecordCacheSize(c.name, size)
	}
	return ok
}

// Clear drops every entry and releases the arena.
func (c *BoundedCache[T]) Clear() {
	c.mu.Lock()
	c.index = make(map[string]int)
	c.entries = c.entries[:0]
	c.free = c.free[:0]
	c.newest, c.oldest = nilIndex, nilIndex
	c.mu.Unlock()

	c.metrics.RecordCacheSize(c.name, 0)
}

// The helpers below require c.mu.

func (c *BoundedCache[T]) alloc(key string, fut *future[T]) int {
	entry := lruEntry[T]{key: key, value: fut, prev: nilIndex, next: nilIndex}
	if n := len(c.free); n > 0 {
		i := c.free[n-1]
		c.free = c.free[:n-1]
		c.entries[i] = entry
		return i
	}
	c.entries = append(c.entries, entry)
	return len(c.entries) - 1
}

func (c *BoundedCache[T]) touch(i int) {
	if i == c.newest {
		return
	}
	c.unlink(i)
	c.pushNewest(i)
}

func (c *BoundedCache[T]) unlink(i int) {
	e := &c.entries[i]
	if e.prev != nilIndex {
		c.entries[e.prev].next = e.next
	} else {
		c.oldest = e.next
	}
	if e.next != nilIndex {
		c.entries[e.next].prev = e.prev
	} else {
		c.newest = e.prev
	}
	e.prev, e.next = nilIndex, nilIndex
}

func (c *BoundedCache[T]) pushNewest(i int) {
	e := &c.entries[i]
	e.prev = c.newest
	e.next = nilIndex
	if c.newest != nilIndex {
		c.entries[c.newest].next = i
	} else {
		c.oldest = i
	}
	c.newest = i
}

// removeAt unlinks slot i, forgets its key and returns the slot to the free list.
func (c *BoundedCache[T]) removeAt(i int) string {
	c.unlink(i)
	key := c.entries[i].key
	delete(c.index, key)
	c.entries[i] = lruEntry[T]{prev: nilIndex, next: nilIndex}
	c.free = append(c.free, i)
	return key
}
