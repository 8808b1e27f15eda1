package pricing

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type cacheEntry struct {
	result   PriceResult
	storedAt time.Time
	ttl      time.Duration
}

// Cache memoises price results per token with per-entry TTLs. Expiry is
// checked lazily on read; an entry older than its TTL is a miss.
type Cache struct {
	mu      sync.RWMutex
	entries map[common.Address]cacheEntry
	now     func() time.Time
}

// NewCache constructs an empty cache.
func NewCache() *Cache {
	return &Cache{
		entries: make(map[common.Address]cacheEntry),
		now:     time.Now,
	}
}

// Get returns the cached result for token, or false on miss or expiry.
func (c *Cache) Get(token common.Address) (PriceResult, bool) {
	c.mu.RLock()
	entry, ok := c.entries[token]
	c.mu.RUnlock()

	if !ok {
		return PriceResult{}, false
	}
	if c.now().Sub(entry.storedAt) >= entry.ttl {
		return PriceResult{}, false
	}
	return entry.result, true
}

// Put stores a result with the given TTL. Last write wins.
func (c *Cache) Put(token common.Address, result PriceResult, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[token] = cacheEntry{result: result, storedAt: c.now(), ttl: ttl}
	c.mu.Unlock()
}

// Clear drops every entry. Intended for explicit cache-busting; normal misses
// never trigger it.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[common.Address]cacheEntry)
	c.mu.Unlock()
}
