package application

import (
	"bytes"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bnema/possync/internal/ports"
)

// NormalizeKey reduces an endpoint to path plus sorted query so equivalent
// spellings share one cache entry.
func NormalizeKey(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}

	path := parsed.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if parsed.RawQuery == "" {
		return path
	}
	return path + "?" + parsed.Query().Encode()
}

type cacheEntry struct {
	payload  []byte
	storedAt time.Time
}

// ResponseCache holds raw response bodies by exact normalized key.
type ResponseCache struct {
	ttl   time.Duration
	clock ports.Clock

	mu      sync.Mutex
	entries map[string]cacheEntry
}

// NewResponseCache builds a cache; ttl <= 0 keeps entries until invalidated.
func NewResponseCache(ttl time.Duration, clock ports.Clock) *ResponseCache {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &ResponseCache{ttl: ttl, clock: clock, entries: map[string]cacheEntry{}}
}

func (c *ResponseCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && c.clock.Now().Sub(entry.storedAt) >= c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return bytes.Clone(entry.payload), true
}

func (c *ResponseCache) Put(key string, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{payload: bytes.Clone(payload), storedAt: c.clock.Now()}
}

func (c *ResponseCache) StoredAt(key string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	return entry.storedAt, ok
}

func (c *ResponseCache) Invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	return ok
}

func (c *ResponseCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string]cacheEntry{}
}

func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
