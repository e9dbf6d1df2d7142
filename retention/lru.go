package retention

import (
	"sync"

	"github.com/golang/groupcache/lru"
)

// HotColdCache is a two-tier blob cache: a bounded "hot" LRU (recently
// retrieved content, cheap repeated access) and an unbounded "cold" map
// that simply holds whatever the hot LRU evicts, so a cached blob is never
// dropped from memory entirely — it just stops being fast to reach. It is
// a standalone type; DedupStore does not use it.
//
// Grounded on github.com/golang/groupcache/lru (promoted from the
// teacher's indirect dependency set, pulled in transitively via the
// Google API client chain) per Design Note §9's "LRU with explicit
// size/count caps" substitute for GC-sensitive weak-reference caching.
type HotColdCache struct {
	mu  sync.Mutex
	hot *lru.Cache
	// cold holds entries evicted from hot; a real deployment would back
	// this with the dedup store itself (content is never actually lost,
	// only demoted), but the cache as a standalone structure keeps a
	// lightweight copy so Get doesn't need a DedupStore reference.
	cold map[string][]byte
}

// NewHotColdCache builds a cache whose hot tier holds at most
// hotCapacity entries.
func NewHotColdCache(hotCapacity int) *HotColdCache {
	c := &HotColdCache{
		cold: make(map[string][]byte),
	}
	c.hot = &lru.Cache{
		MaxEntries: hotCapacity,
		OnEvicted: func(key lru.Key, value interface{}) {
			c.cold[key.(string)] = value.([]byte)
		},
	}
	return c
}

// Put records data under key, promoting it into the hot tier and clearing
// any stale cold-tier copy.
func (c *HotColdCache) Put(key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cold, key)
	c.hot.Add(key, data)
}

// Get returns the cached bytes for key, checking the hot tier first and
// falling back to cold. A cold hit is promoted back into hot, matching
// standard LRU-with-demotion behavior.
func (c *HotColdCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.hot.Get(key); ok {
		return v.([]byte), true
	}
	if v, ok := c.cold[key]; ok {
		delete(c.cold, key)
		c.hot.Add(key, v)
		return v, true
	}
	return nil, false
}

// Remove drops key from both tiers.
func (c *HotColdCache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hot.Remove(key)
	delete(c.cold, key)
}

// Len returns the number of entries held across both tiers.
func (c *HotColdCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hot.Len() + len(c.cold)
}
