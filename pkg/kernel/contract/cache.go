package contract

import (
	"context"
	"sync"
)

// Cache memoizes another provider's successful lookups. Failures are not
// cached so a tool that appears later is picked up.
type Cache struct {
	inner MetadataProvider

	mu      sync.RWMutex
	entries map[string]*ActionMetadata
}

// NewCache wraps inner.
func NewCache(inner MetadataProvider) *Cache {
	return &Cache{inner: inner, entries: make(map[string]*ActionMetadata)}
}

// Metadata implements MetadataProvider.
func (c *Cache) Metadata(ctx context.Context, action, env string, iface int) (*ActionMetadata, error) {
	key := cacheKey(action, env, iface)

	c.mu.RLock()
	meta, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return meta, nil
	}

	meta, err := c.inner.Metadata(ctx, action, env, iface)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = meta
	c.mu.Unlock()
	return meta, nil
}

// Len reports how many lookups are cached.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Reset drops every cached entry.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.entries = make(map[string]*ActionMetadata)
	c.mu.Unlock()
}
