package docent

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// Cache is a TTL keyed store deduplicating identical (prompt, options)
// queries. Entries are immutable once stored and logically expire the moment
// now > expiry even if not yet physically purged: Get on an expired key evicts
// it and reports a miss. Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	value  any
	expiry time.Time
}

// CacheStats is the observability surface of a Cache.
type CacheStats struct {
	TotalItems   int     `json:"total_items"`
	ValidItems   int     `json:"valid_items"`
	ExpiredItems int     `json:"expired_items"`
	TTLSeconds   float64 `json:"ttl_seconds"`
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithTTL sets the entry time-to-live. Default is 5 minutes.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) {
		c.ttl = ttl
	}
}

// withClock overrides the time source for tests.
func withClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		c.now = now
	}
}

// NewCache creates a Cache.
func NewCache(opts ...CacheOption) *Cache {
	c := &Cache{
		entries: make(map[string]cacheEntry),
		ttl:     5 * time.Minute,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key derives the cache key for a prompt and its request options. Options are
// canonicalized before hashing: transport-only keys ("stream" and anything
// prefixed "stream_") are dropped, and encoding/json sorts map keys, so a
// streaming and a non-streaming request for otherwise-identical inputs share
// one entry.
func Key(prompt string, options map[string]any) string {
	canon := make(map[string]any, len(options))
	for k, v := range options {
		if k == "stream" || strings.HasPrefix(k, "stream_") {
			continue
		}
		canon[k] = v
	}
	payload, err := json.Marshal(struct {
		Prompt  string         `json:"prompt"`
		Options map[string]any `json:"options"`
	}{Prompt: prompt, Options: canon})
	if err != nil {
		// Options with unmarshalable values degrade to a prompt-only key.
		payload = []byte(prompt)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Get returns the cached value for key. A present-but-expired entry is evicted
// and reported as a miss.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expiry) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.value, true
}

// Set stores value under key, overwriting any prior entry.
func (c *Cache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, expiry: c.now().Add(c.ttl)}
}

// ClearExpired sweeps all expired entries and returns how many were removed.
func (c *Cache) ClearExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for key, entry := range c.entries {
		if now.After(entry.expiry) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}

// Stats reports item counts without evicting anything.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	stats := CacheStats{TotalItems: len(c.entries), TTLSeconds: c.ttl.Seconds()}
	for _, entry := range c.entries {
		if now.After(entry.expiry) {
			stats.ExpiredItems++
		} else {
			stats.ValidItems++
		}
	}
	return stats
}
