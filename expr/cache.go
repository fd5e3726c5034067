package expr

import (
	"sort"
	"sync"
)

// DefaultCacheSize bounds the compiled-segment cache.
const DefaultCacheSize = 1000

type cacheEntry struct {
	compiled *Compiled
	seq      uint64
}

// cache holds compiled segments keyed by their trimmed text. When full, the
// oldest half by insertion order is dropped before the next insert. Eviction
// may race with concurrent inserts; the bound is best effort.
type cache struct {
	mu      sync.RWMutex
	max     int
	seq     uint64
	entries map[string]cacheEntry
}

func newCache(max int) *cache {
	if max <= 0 {
		max = DefaultCacheSize
	}
	return &cache{max: max, entries: make(map[string]cacheEntry, max)}
}

func (c *cache) get(key string) (*Compiled, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e.compiled, ok
}

func (c *cache) put(key string, compiled *Compiled) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok && len(c.entries) >= c.max {
		c.evictLocked()
	}
	c.seq++
	c.entries[key] = cacheEntry{compiled: compiled, seq: c.seq}
}

func (c *cache) evictLocked() {
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := c.entries[keys[i]], c.entries[keys[j]]
		if !a.compiled.CompiledAt.Equal(b.compiled.CompiledAt) {
			return a.compiled.CompiledAt.Before(b.compiled.CompiledAt)
		}
		return a.seq < b.seq
	})
	drop := len(keys) - c.max/2
	for _, k := range keys[:drop] {
		delete(c.entries, k)
	}
}

func (c *cache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry, c.max)
}

func (c *cache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// CacheStats reports cache occupancy.
type CacheStats struct {
	Size int `json:"size"`
	Max  int `json:"max"`
}
