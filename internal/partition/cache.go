package partition

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/freeeve/posdb/internal/entrykey"
)

// QueryCache memoizes QueryRanges results by key, bounded to a fixed entry
// count (spec §9 design notes: "a small LRU absorbs repeated lookups of hot
// positions such as the opening starting position without touching disk on
// every request").
type QueryCache struct {
	cache *lru.Cache[entrykey.Key, Payload]
}

// NewQueryCache creates a cache holding up to size entries.
func NewQueryCache(size int) (*QueryCache, error) {
	c, err := lru.New[entrykey.Key, Payload](size)
	if err != nil {
		return nil, err
	}
	return &QueryCache{cache: c}, nil
}

// Get returns a cached payload for key, if present.
func (c *QueryCache) Get(key entrykey.Key) (Payload, bool) {
	return c.cache.Get(key)
}

// Put stores payload for key, evicting the least recently used entry if the
// cache is full.
func (c *QueryCache) Put(key entrykey.Key, payload Payload) {
	c.cache.Add(key, payload)
}

// Invalidate drops every cached entry, used after a compaction changes
// which runs answer a query (a stale cached count would otherwise survive
// past the merge that produced it).
func (c *QueryCache) Invalidate() {
	c.cache.Purge()
}

// Len returns the number of entries currently cached.
func (c *QueryCache) Len() int { return c.cache.Len() }
