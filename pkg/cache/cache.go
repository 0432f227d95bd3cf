// Package cache provides a generic, thread-safe LRU cache.
package cache

import (
	"sync/atomic"

	"github.com/c360/assetflow/errors"
)

// EvictCallback is called when an entry is evicted from the cache.
type EvictCallback[V any] func(key string, value V)

// Option configures a cache.
type Option[V any] func(*LRU[V])

// WithEvictionCallback sets a callback invoked outside the cache lock for
// every evicted entry.
func WithEvictionCallback[V any](callback EvictCallback[V]) Option[V] {
	return func(c *LRU[V]) {
		c.evictFn = callback
	}
}

// Statistics are hit/miss/eviction counters, always collected.
type Statistics struct {
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

func (s *Statistics) Hits() int64      { return s.hits.Load() }
func (s *Statistics) Misses() int64    { return s.misses.Load() }
func (s *Statistics) Evictions() int64 { return s.evictions.Load() }

// HitRatio returns hits / (hits + misses), or 0 before any lookup.
func (s *Statistics) HitRatio() float64 {
	h, m := s.Hits(), s.Misses()
	if h+m == 0 {
		return 0
	}
	return float64(h) / float64(h+m)
}

func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "cache", "Set", "validate key")
	}
	return nil
}
