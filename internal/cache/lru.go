// Package cache provides the bounded LRU caches used by the boost client.
// Each cache owns its own mutex; there is no package-level instance.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/router-for-me/BoostProxy/internal/api/middleware"
	log "github.com/sirupsen/logrus"
)

// DefaultEvictionInterval is the default interval for periodic cache eviction.
const DefaultEvictionInterval = 1 * time.Minute

// Config defines the bounds of one cache.
type Config struct {
	// Name labels the cache in logs and metrics.
	Name string
	// MaxSize is the maximum number of entries. Values <= 0 are treated as 1.
	MaxSize int
	// TTL is how long an entry stays valid. Zero disables expiry.
	TTL time.Duration
}

// Stats tracks cache performance counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
}

type entry[V any] struct {
	value     V
	createdAt time.Time
}

// LRU is a capacity-bounded, optionally expiring cache with
// least-recently-used eviction. It is safe for concurrent use.
type LRU[V any] struct {
	mu      sync.Mutex
	entries map[string]*entry[V]
	order   []string // oldest first
	cfg     Config
	stats   Stats
	now     func() time.Time
}

// New creates an empty cache.
func New[V any](cfg Config) *LRU[V] {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1
	}
	return &LRU[V]{
		entries: make(map[string]*entry[V], cfg.MaxSize),
		order:   make([]string, 0, cfg.MaxSize),
		cfg:     cfg,
		now:     time.Now,
	}
}

// Get returns the value stored under key. Expired entries are removed and
// reported as a miss.
func (c *LRU[V]) Get(key string) (V, bool) {
	var zero V

	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		c.mu.Unlock()
		middleware.RecordCacheMiss(c.cfg.Name)
		return zero, false
	}
	if c.expired(e) {
		delete(c.entries, key)
		c.removeFromOrder(key)
		c.stats.Evictions++
		c.stats.Misses++
		size := len(c.entries)
		c.mu.Unlock()
		middleware.RecordCacheMiss(c.cfg.Name)
		middleware.SetCacheSize(c.cfg.Name, size)
		return zero, false
	}
	c.stats.Hits++
	c.moveToEnd(key)
	c.mu.Unlock()

	middleware.RecordCacheHit(c.cfg.Name)
	return e.value, true
}

// Set stores value under key, evicting the least recently used entries when
// the cache is full. Storing an existing key refreshes its age.
func (c *LRU[V]) Set(key string, value V) {
	c.mu.Lock()
	if _, exists := c.entries[key]; exists {
		c.removeFromOrder(key)
	} else {
		for len(c.entries) >= c.cfg.MaxSize && len(c.order) > 0 {
			oldest := c.order[0]
			delete(c.entries, oldest)
			c.order = c.order[1:]
			c.stats.Evictions++
		}
	}
	c.entries[key] = &entry[V]{value: value, createdAt: c.now()}
	c.order = append(c.order, key)
	c.stats.Size = len(c.entries)
	size := len(c.entries)
	c.mu.Unlock()

	middleware.SetCacheSize(c.cfg.Name, size)
	log.Debugf("%s cache SET (size: %d/%d)", c.cfg.Name, size, c.cfg.MaxSize)
}

// Len returns the number of stored entries, expired ones included.
func (c *LRU[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear removes all entries from the cache.
func (c *LRU[V]) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*entry[V], c.cfg.MaxSize)
	c.order = make([]string, 0, c.cfg.MaxSize)
	c.stats.Size = 0
	c.mu.Unlock()
	middleware.SetCacheSize(c.cfg.Name, 0)
}

// GetStats returns current cache statistics.
func (c *LRU[V]) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Size = len(c.entries)
	return c.stats
}

// EvictExpired removes all expired entries from the cache.
func (c *LRU[V]) EvictExpired() int {
	if c.cfg.TTL <= 0 {
		return 0
	}
	c.mu.Lock()
	evicted := 0
	kept := make([]string, 0, len(c.order))
	for _, key := range c.order {
		e, ok := c.entries[key]
		if !ok {
			continue
		}
		if c.expired(e) {
			delete(c.entries, key)
			evicted++
			c.stats.Evictions++
			continue
		}
		kept = append(kept, key)
	}
	c.order = kept
	c.stats.Size = len(c.entries)
	size := len(c.entries)
	c.mu.Unlock()

	middleware.SetCacheSize(c.cfg.Name, size)
	return evicted
}

// StartPeriodicEviction starts a background goroutine that periodically evicts expired entries.
// The goroutine stops when the context is cancelled.
func (c *LRU[V]) StartPeriodicEviction(ctx context.Context, interval time.Duration) {
	if c.cfg.TTL <= 0 {
		return
	}
	if interval <= 0 {
		interval = DefaultEvictionInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if evicted := c.EvictExpired(); evicted > 0 {
					log.Debugf("%s cache: evicted %d expired entries", c.cfg.Name, evicted)
				}
			}
		}
	}()
}

func (c *LRU[V]) expired(e *entry[V]) bool {
	return c.cfg.TTL > 0 && c.now().Sub(e.createdAt) >= c.cfg.TTL
}

func (c *LRU[V]) moveToEnd(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			c.order = append(c.order, key)
			return
		}
	}
}

func (c *LRU[V]) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
