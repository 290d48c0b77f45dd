// Package cache provides the time-boxed response cache shared by the remote adapters.
//
// **Architecture:**
//   - Values are stored JSON-encoded so callers never share mutable state with the cache
//   - LRU bound (golang-lru/v2) evicts the coldest key once MaxEntries is exceeded
//   - Expired entries read as absent and are dropped on access
//   - Concurrent fills of one key collapse into a single load (singleflight)
//   - Optional Redis second level, write-through, read on memory miss
//
// **Usage:**
//
//	c := cache.New(cache.Config{MaxEntries: 512}, logger)
//	frame, err := cache.GetOrLoad(ctx, c, "frame:abc:1:2", 2*time.Minute, fetch)
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// DefaultMaxEntries bounds the in-memory level when Config.MaxEntries is zero.
const DefaultMaxEntries = 512

// Config controls Cache behavior.
type Config struct {
	// MaxEntries is the maximum number of keys kept in memory.
	MaxEntries int

	// Redis, when non-nil, is used as a shared second level.
	Redis redis.UniversalClient

	// KeyPrefix namespaces keys written to Redis.
	KeyPrefix string

	// Now overrides the clock. Tests use it to step past TTLs.
	Now func() time.Time
}

// Stats reports cumulative cache counters.
type Stats struct {
	Entries   int   `json:"entries"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Expired   int64 `json:"expired"`
	L2Hits    int64 `json:"l2_hits"`
}

type entry struct {
	data    []byte
	created time.Time
	ttl     time.Duration
}

func (e entry) expired(now time.Time) bool {
	return e.ttl > 0 && !now.Before(e.created.Add(e.ttl))
}

func (e entry) remaining(now time.Time) time.Duration {
	if e.ttl <= 0 {
		return 0
	}
	return e.created.Add(e.ttl).Sub(now)
}

// Cache is a bounded TTL cache safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries *lru.Cache[string, entry]
	group   singleflight.Group

	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
	logger *slog.Logger

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	expired   atomic.Int64
	l2Hits    atomic.Int64
}

// New creates a cache. A nil logger discards log output.
func New(cfg Config, logger *slog.Logger) *Cache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "designflow:"
	}

	c := &Cache{
		redis:  cfg.Redis,
		prefix: cfg.KeyPrefix,
		now:    cfg.Now,
		logger: logger,
	}

	entries, err := lru.NewWithEvict(cfg.MaxEntries, func(key string, _ entry) {
		logger.Debug("cache dropping entry", "key", key)
	})
	if err != nil {
		// Only possible with a non-positive size, excluded above.
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}
	c.entries = entries
	return c
}

// Get returns the raw encoded value for key. Expired and unknown keys are absent.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	now := c.now()

	c.mu.Lock()
	e, ok := c.entries.Get(key)
	if ok && e.expired(now) {
		c.entries.Remove(key)
		c.expired.Add(1)
		ok = false
	}
	c.mu.Unlock()

	if ok {
		c.hits.Add(1)
		return e.data, true
	}

	if data, ttl, found := c.getRemote(ctx, key); found {
		c.l2Hits.Add(1)
		c.hits.Add(1)
		c.store(key, entry{data: data, created: now, ttl: ttl})
		return data, true
	}

	c.misses.Add(1)
	return nil, false
}

// Set stores an encoded value. A non-positive ttl never expires.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	e := entry{data: value, created: c.now(), ttl: ttl}
	c.store(key, e)
	c.setRemote(ctx, key, e)
}

func (c *Cache) store(key string, e entry) {
	c.mu.Lock()
	evicted := c.entries.Add(key, e)
	c.mu.Unlock()
	if evicted {
		c.evictions.Add(1)
	}
}

// Clear drops every in-memory entry and, with Redis configured, every key
// under the configured prefix.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.entries.Purge()
	c.mu.Unlock()

	if err := c.clearRemote(ctx); err != nil {
		return fmt.Errorf("clear redis keys %q: %w", c.prefix+"*", err)
	}
	return nil
}

// Sweep removes every expired entry and returns how many were dropped.
func (c *Cache) Sweep() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, key := range c.entries.Keys() {
		e, ok := c.entries.Peek(key)
		if ok && e.expired(now) {
			c.entries.Remove(key)
			removed++
		}
	}
	c.expired.Add(int64(removed))
	return removed
}

// Len returns the number of in-memory entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Entries:   c.Len(),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Expired:   c.expired.Load(),
		L2Hits:    c.l2Hits.Load(),
	}
}
