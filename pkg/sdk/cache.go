package sdk

import (
	"context"
	"fmt"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"
)

// SessionCache is the key-value surface the session layer persists role
// resolutions in. Implementations must be safe for concurrent use.
type SessionCache interface {
	// Get returns the value stored under key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	ListKeys(ctx context.Context) ([]string, error)
}

// DefaultMemoryCacheSize bounds MemoryCache when no size is given.
const DefaultMemoryCacheSize = 1024

// MemoryCache is a bounded in-process SessionCache. Least recently used keys
// are evicted once the size limit is reached.
type MemoryCache struct {
	entries *lru.Cache[string, string]
}

var _ SessionCache = (*MemoryCache)(nil)

// NewMemoryCache creates a MemoryCache holding at most size keys.
func NewMemoryCache(size int) (*MemoryCache, error) {
	if size <= 0 {
		size = DefaultMemoryCacheSize
	}
	entries, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory cache: %w", err)
	}
	return &MemoryCache{entries: entries}, nil
}

func (c *MemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := c.entries.Get(key)
	return v, ok, nil
}

func (c *MemoryCache) Set(_ context.Context, key, value string) error {
	c.entries.Add(key, value)
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.entries.Remove(key)
	return nil
}

// ListKeys returns the keys in lexical order.
func (c *MemoryCache) ListKeys(_ context.Context) ([]string, error) {
	keys := c.entries.Keys()
	sort.Strings(keys)
	return keys, nil
}

// Len returns the number of stored keys.
func (c *MemoryCache) Len() int {
	return c.entries.Len()
}
