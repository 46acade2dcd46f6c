package secrets

import (
	"sync"
	"time"
)

// Cache is the interface for caching secret values. Implementations must be
// safe for concurrent use.
type Cache interface {
	// Get retrieves a value by key; the second return reports a hit.
	Get(key string) (string, bool)

	// Set stores a value with the given TTL. A zero TTL uses the
	// implementation default.
	Set(key string, value string, ttl time.Duration)

	// Delete removes a key.
	Delete(key string)

	// Clear removes all entries.
	Clear()
}

type cacheEntry struct {
	value      string
	expiration time.Time
}

// InMemoryCache is a thread-safe TTL cache backed by a map. When the cache
// is full the entry closest to expiry is evicted.
type InMemoryCache struct {
	mu         sync.Mutex
	entries    map[string]cacheEntry
	defaultTTL time.Duration
	maxSize    int
}

var _ Cache = (*InMemoryCache)(nil)

// NewInMemoryCache creates a cache with the given default TTL and maximum
// entry count. A maxSize of 0 means unlimited.
func NewInMemoryCache(defaultTTL time.Duration, maxSize int) *InMemoryCache {
	return &InMemoryCache{
		entries:    make(map[string]cacheEntry),
		defaultTTL: defaultTTL,
		maxSize:    maxSize,
	}
}

// Get implements Cache.Get. Expired entries are removed on access.
func (c *InMemoryCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if time.Now().After(entry.expiration) {
		delete(c.entries, key)
		return "", false
	}
	return entry.value, true
}

// Set implements Cache.Set.
func (c *InMemoryCache) Set(key string, value string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ttl == 0 {
		ttl = c.defaultTTL
	}

	if c.maxSize > 0 && len(c.entries) >= c.maxSize {
		if _, exists := c.entries[key]; !exists {
			c.evictOldestLocked()
		}
	}

	c.entries[key] = cacheEntry{value: value, expiration: time.Now().Add(ttl)}
}

// Delete implements Cache.Delete.
func (c *InMemoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear implements Cache.Clear.
func (c *InMemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

// Size returns the number of live entries.
func (c *InMemoryCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	now := time.Now()
	for _, entry := range c.entries {
		if now.Before(entry.expiration) {
			n++
		}
	}
	return n
}

func (c *InMemoryCache) evictOldestLocked() {
	var oldestKey string
	var oldestTime time.Time
	first := true
	for k, entry := range c.entries {
		if first || entry.expiration.Before(oldestTime) {
			oldestKey = k
			oldestTime = entry.expiration
			first = false
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
