package targomo

import (
	"hash/fnv"
	"sync"

	"github.com/targomo/targomo-go/internal/singleflight"
)

const defaultShardCount = 16

// UnboundedCache memoizes factory results with no capacity limit and no
// recency tracking. Only successful values are stored; a failed factory call
// is returned to its callers and the next lookup calls the factory again.
// Concurrent misses for one key share a single factory call.
type UnboundedCache[T any] struct {
	shards   []*unboundedShard[T]
	inflight *singleflight.Group[T]

	name    string
	metrics *MetricsCollector
	logger  Logger
}

type unboundedShard[T any] struct {
	mu    sync.RWMutex
	store map[string]T
	// epoch changes on Delete and Clear; a call started under an older
	// epoch does not store its value.
	epoch uint64
}

// UnboundedOption configures an UnboundedCache.
type UnboundedOption func(*unboundedConfig)

type unboundedConfig struct {
	name    string
	metrics *MetricsCollector
	logger  Logger
}

// WithUnboundedMetrics reports hits, misses, shared calls and size under name.
func WithUnboundedMetrics(mc *MetricsCollector, name string) UnboundedOption {
	return func(c *unboundedConfig) {
		c.metrics = mc
		if name != "" {
			c.name = name
		}
	}
}

// WithUnboundedLogger logs factory failures.
func WithUnboundedLogger(logger Logger) UnboundedOption {
	return func(c *unboundedConfig) {
		c.logger = logger
	}
}

// NewUnboundedCache returns an empty cache.
func NewUnboundedCache[T any](opts ...UnboundedOption) *UnboundedCache[T] {
	cfg := unboundedConfig{name: "default"}
	for _, opt := range opts {
		opt(&cfg)
	}

	shards := make([]*unboundedShard[T], defaultShardCount)
	for i := range shards {
		shards[i] = &unboundedShard[T]{
			store: make(map[string]T),
		}
	}
	return &UnboundedCache[T]{
		shards:   shards,
		inflight: singleflight.New[T](),
		name:     cfg.name,
		metrics:  cfg.metrics,
		logger:   cfg.logger,
	}
}

func (c *UnboundedCache[T]) getShard(key string) *unboundedShard[T] {
	hash := fnv.New32a()
	hash.Write([]byte(key))
	return c.shards[hash.Sum32()%uint32(len(c.shards))]
}

// Get returns the stored value for key or calls factory on a miss.
func (c *UnboundedCache[T]) Get(key string, factory Factory[T]) (T, error) {
	shard := c.getShard(key)
	if val, ok := shard.load(key); ok {
		c.metrics.RecordCacheHit(c.name)
		return val, nil
	}

	c.metrics.RecordCacheMiss(c.name)
	if factory == nil {
		var zero T
		return zero, ErrCacheMiss
	}

	val, err, shared := c.inflight.Do(key, func() (T, error) {
		shard.mu.RLock()
		val, ok := shard.store[key]
		epoch := shard.epoch
		shard.mu.RUnlock()
		// A value stored by a call that finished between load and Do.
		if ok {
			return val, nil
		}

		val, err := runFactory(factory)
		if err != nil {
			return val, err
		}

		shard.mu.Lock()
		stored := shard.epoch == epoch
		if stored {
			shard.store[key] = val
		}
		shard.mu.Unlock()
		if stored {
			c.metrics.RecordCacheSize(c.name, c.Len())
		}
		return val, nil
	})
	if shared {
		c.metrics.RecordDeduplicationHit(c.name)
	}
	if err != nil {
		c.metrics.RecordCacheFailure(c.name)
		if c.logger != nil {
			c.logger.Debug("Cache factory failed", "cache", c.name, "key", key, "error", err.Error())
		}
		var zero T
		return zero, err
	}
	return val, nil
}

// GetValue is Get for keys of any type; non-string keys go through StableKey.
func (c *UnboundedCache[T]) GetValue(key any, factory Factory[T]) (T, error) {
	k, err := StableKey(key)
	if err != nil {
		var zero T
		return zero, err
	}
	return c.Get(k, factory)
}

// Len returns the number of stored values.
func (c *UnboundedCache[T]) Len() int {
	total := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		total += len(shard.store)
		shard.mu.RUnlock()
	}
	return total
}

// Delete removes key and reports whether it was stored or being computed.
// A call in flight for key still answers the callers waiting on it, but its
// value is not stored and the next Get starts a new call.
func (c *UnboundedCache[T]) Delete(key string) bool {
	shard := c.getShard(key)
	shard.mu.Lock()
	_, ok := shard.store[key]
	delete(shard.store, key)
	shard.epoch++
	shard.mu.Unlock()

	pending := c.inflight.ForgetKey(key)
	if ok {
		c.metrics.RecordCacheSize(c.name, c.Len())
	}
	return ok || pending
}

// Clear removes every stored value. Calls in flight finish without storing.
func (c *UnboundedCache[T]) Clear() {
	for _, shard := range c.shards {
		shard.mu.Lock()
		shard.store = make(map[string]T)
		shard.epoch++
		shard.mu.Unlock()
	}
	c.metrics.RecordCacheSize(c.name, 0)
}

func (s *unboundedShard[T]) load(key string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	val, ok := s.store[key]
	return val, ok
}
