package generate

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/namikmesic/genstream/internal/backend"
	"github.com/namikmesic/genstream/internal/stream"
)

const (
	DefaultCacheTTL        = 5 * time.Minute
	DefaultCacheMaxEntries = 100
)

type cacheEntry struct {
	result   stream.Result
	storedAt time.Time
}

// Cache holds recent results so an identical request is answered without
// calling the backend. Entries expire after ttl; when full, the oldest
// inserted entry is evicted.
type Cache struct {
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
	order   []string // insertion order, oldest first
}

func NewCache(ttl time.Duration, maxEntries int) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultCacheMaxEntries
	}
	return &Cache{
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
		entries:    make(map[string]cacheEntry),
	}
}

// CacheKey identifies a request by kind, model and input.
func CacheKey(kind backend.Kind, model, input string) string {
	h := sha256.New()
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(input))
	return hex.EncodeToString(h.Sum(nil))
}

func (c *Cache) Get(key string) (stream.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return stream.Result{}, false
	}
	if c.now().Sub(e.storedAt) > c.ttl {
		c.removeLocked(key)
		return stream.Result{}, false
	}
	return e.result, true
}

func (c *Cache) Put(key string, result stream.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.expireLocked()
	if _, ok := c.entries[key]; ok {
		c.removeLocked(key)
	}
	for len(c.order) >= c.maxEntries {
		c.removeLocked(c.order[0])
	}
	c.entries[key] = cacheEntry{result: result, storedAt: c.now()}
	c.order = append(c.order, key)
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) expireLocked() {
	now := c.now()
	kept := c.order[:0]
	for _, key := range c.order {
		if now.Sub(c.entries[key].storedAt) > c.ttl {
			delete(c.entries, key)
			continue
		}
		kept = append(kept, key)
	}
	c.order = kept
}

func (c *Cache) removeLocked(key string) {
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
