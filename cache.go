package tabula

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Cache is the interface for caching search results. Implementations
// may be backed by Redis, Memcached or the in-memory cache below.
type Cache interface {
	// Get retrieves a value from the cache.
	// Returns nil, nil if the key doesn't exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in the cache with an optional TTL.
	// If ttl is 0, the value does not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from the cache.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes all values with the given prefix.
	// Mutating operations use it to drop the cached searches of a table.
	DeletePrefix(ctx context.Context, prefix string) error
}

// CacheKey identifies a cached search.
type CacheKey struct {
	Table     string
	Predicate string
	Args      string
	OrderBy   string
}

// String returns the cache key text. It starts with the table name so
// DeletePrefix(table + ":") invalidates every search of that table.
func (k CacheKey) String() string {
	return k.Table + ":" + k.Predicate + ":" + k.Args + ":" + k.OrderBy
}

// EncodeRows serializes search result rows for caching.
func EncodeRows(rows []map[string]any) ([]byte, error) {
	return msgpack.Marshal(rows)
}

// DecodeRows deserializes cached search result rows.
func DecodeRows(data []byte) ([]map[string]any, error) {
	var rows []map[string]any
	if err := msgpack.Unmarshal(data, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// MemoryCache is a process-local Cache implementation.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// NewMemoryCache returns an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry)}
}

// Get implements the Cache interface.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || (!e.expires.IsZero() && time.Now().After(e.expires)) {
		return nil, nil
	}
	return e.value, nil
}

// Set implements the Cache interface.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl)
	}
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
	return nil
}

// Delete implements the Cache interface.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// DeletePrefix implements the Cache interface.
func (c *MemoryCache) DeletePrefix(_ context.Context, prefix string) error {
	c.mu.Lock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
	return nil
}

var _ Cache = (*MemoryCache)(nil)
