package secrets

import (
	"sync"
	"time"

	"github.com/dcamposbiorender/AICoS-lab-sub000/internal/crypto"
)

// DefaultCacheTTL is the age past which cached credentials are stale.
const DefaultCacheTTL = 30 * time.Minute

type cacheEntry struct {
	sealed   []byte
	cachedAt time.Time
}

// Cache is an encrypted in-memory credential cache. Values are sealed
// with a cache-scoped key derived independently of the master secret, so
// a heap dump exposes no plaintext. The cache does not expire entries
// proactively; stale entries are dropped on access.
type Cache struct {
	mu      sync.Mutex
	key     []byte
	ttl     time.Duration
	entries map[string]cacheEntry
}

// NewCache derives the cache cipher key from seed and returns an empty
// cache. ttl <= 0 selects DefaultCacheTTL.
func NewCache(seed []byte, ttl time.Duration) (*Cache, error) {
	key, err := crypto.DeriveCacheKey(seed, "credential-cache-v1")
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		key:     key,
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}, nil
}

// Set encrypts and stores a value, stamping the cache-write time.
func (c *Cache) Set(id, value string) error {
	sealed, err := crypto.Seal([]byte(value), c.key)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.entries[id] = cacheEntry{sealed: sealed, cachedAt: time.Now()}
	c.mu.Unlock()
	return nil
}

// Get decrypts and returns a fresh cached value. Misses on absence,
// staleness, or any decryption error; the latter two also evict the
// entry.
func (c *Cache) Get(id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return "", false
	}
	if time.Since(e.cachedAt) > c.ttl {
		delete(c.entries, id)
		return "", false
	}
	plaintext, err := crypto.Open(e.sealed, c.key)
	if err != nil {
		delete(c.entries, id)
		return "", false
	}
	return string(plaintext), true
}

// Age returns how long ago an id was cached. ok is false when absent.
func (c *Cache) Age(id string) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return 0, false
	}
	return time.Since(e.cachedAt), true
}

// Purge removes a single entry.
func (c *Cache) Purge(id string) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}

// Clear wipes all cached entries and timestamps. Call whenever
// credentials may have rotated.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}

// Len reports the number of entries, stale ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep drops entries older than the TTL. Invoked by the retention
// janitor so long-idle processes do not pin dead ciphertext.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for id, e := range c.entries {
		if time.Since(e.cachedAt) > c.ttl {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}
