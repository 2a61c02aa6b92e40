package specificity

import (
	"sync"
	"time"
)

// DefaultTTL bounds how long computed hover styles are reused on hover-enter.
const DefaultTTL = 30 * time.Second

// Override is the pair of inline values a pseudo-state toggles between.
type Override struct {
	Original string
	Hover    string
}

// Overrides maps a property to its override.
type Overrides map[string]Override

type cacheEntry struct {
	overrides Overrides
	expiresAt time.Time
}

// Cache holds computed overrides per element address. Entries are never
// invalidated eagerly.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]cacheEntry
}

// NewCache creates a cache with the given TTL (DefaultTTL when <= 0) and
// clock (time.Now when nil).
func NewCache(ttl time.Duration, now func() time.Time) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Cache{ttl: ttl, now: now, entries: make(map[string]cacheEntry)}
}

// GetOrCompute returns the entry for key, computing and storing it when
// absent, or when forceRefresh is set and the entry has expired.
func (c *Cache) GetOrCompute(key string, forceRefresh bool, compute func() Overrides) Overrides {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && (!forceRefresh || c.now().Before(e.expiresAt)) {
		c.mu.Unlock()
		return e.overrides
	}
	c.mu.Unlock()

	o := compute()

	c.mu.Lock()
	c.entries[key] = cacheEntry{overrides: o, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return o
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
