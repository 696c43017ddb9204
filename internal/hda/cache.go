package hda

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// cacheEntry is one cached series keyed by symbol+range+timeframe.
type cacheEntry struct {
	bars      []OHLCV
	storedAt  time.Time
}

// Cache is HDA's in-memory cache over the shared-immutable
// HistoricalDataStore (spec.md §6.3 Design Notes: HDA owns its cache with
// a time-bounded eviction policy). An optional Redis client is used as a
// write-through backing store so a reconciled series survives process
// restarts and can be shared across HDA instances, grounded on the
// teacher's go-redis/v9 dependency.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry

	rdb *redis.Client
	ttl time.Duration
}

func NewCache(rdb *redis.Client, maxCacheAge time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]cacheEntry),
		rdb:     rdb,
		ttl:     maxCacheAge,
	}
}

func cacheKey(symbol string, from, to time.Time, timeframe string) string {
	return fmt.Sprintf("hda:%s:%s:%d:%d", symbol, timeframe, from.Unix(), to.Unix())
}

// Get returns a cached series if present and not older than 2x max_cache_age.
// An in-memory entry past that bound is not served but stays in the map
// until Evict removes it.
func (c *Cache) Get(symbol string, from, to time.Time, timeframe string) ([]OHLCV, bool) {
	key := cacheKey(symbol, from, to, timeframe)

	c.mu.Lock()
	entry, ok := c.entries[key]
	c.mu.Unlock()
	if ok {
		if time.Since(entry.storedAt) > 2*c.ttl {
			return nil, false
		}
		return entry.bars, true
	}

	if c.rdb == nil {
		return nil, false
	}
	raw, err := c.rdb.Get(context.Background(), key).Bytes()
	if err != nil {
		return nil, false
	}
	var bars []OHLCV
	if err := json.Unmarshal(raw, &bars); err != nil {
		return nil, false
	}
	return bars, true
}

// Set stores a reconciled series, write-through to Redis when configured.
func (c *Cache) Set(symbol string, from, to time.Time, timeframe string, bars []OHLCV) {
	key := cacheKey(symbol, from, to, timeframe)

	c.mu.Lock()
	c.entries[key] = cacheEntry{bars: bars, storedAt: time.Now()}
	c.mu.Unlock()

	if c.rdb == nil {
		return
	}
	if raw, err := json.Marshal(bars); err == nil {
		c.rdb.Set(context.Background(), key, raw, c.ttl)
	}
}

// Evict removes entries older than 2x max_cache_age and returns how many
// it removed. It runs only when a caller invokes it; neither Cache nor
// Adapter schedules it.
func (c *Cache) Evict(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, entry := range c.entries {
		if now.Sub(entry.storedAt) > 2*c.ttl {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}
