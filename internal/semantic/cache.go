package semantic

import (
	"context"
	"sync"
	"time"
)

// VectorCache stores embeddings by key. A miss is (nil, false, nil).
type VectorCache interface {
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Set(ctx context.Context, key string, vec []float32) error
}

// cacheEntry represents a cached embedding.
type cacheEntry struct {
	expiry time.Time
	vector []float32
}

// MemoryCache is a thread-safe in-process VectorCache with a TTL.
type MemoryCache struct {
	entries map[string]cacheEntry
	stopCh  chan struct{}
	ttl     time.Duration
	mu      sync.RWMutex
	once    sync.Once
}

// NewMemoryCache creates a cache whose entries expire after ttl.
// A zero ttl keeps entries until the process exits.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	cache := &MemoryCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		stopCh:  make(chan struct{}),
	}

	if ttl > 0 {
		go cache.cleanup(janitorInterval(ttl))
	}

	return cache
}

// Get retrieves a vector if it exists and hasn't expired.
func (c *MemoryCache) Get(_ context.Context, key string) ([]float32, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.entries[key]
	if !exists {
		return nil, false, nil
	}

	if !entry.expiry.IsZero() && time.Now().After(entry.expiry) {
		return nil, false, nil
	}

	return entry.vector, true, nil
}

// Set stores a vector in the cache.
func (c *MemoryCache) Set(_ context.Context, key string, vec []float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := cacheEntry{vector: vec}
	if c.ttl > 0 {
		entry.expiry = time.Now().Add(c.ttl)
	}
	c.entries[key] = entry
	return nil
}

// Size returns the number of entries in the cache, including expired ones not yet swept.
func (c *MemoryCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear removes all entries from the cache.
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

// Close stops the cleanup goroutine.
func (c *MemoryCache) Close() {
	c.once.Do(func() { close(c.stopCh) })
}

// cleanup periodically removes expired entries.
func (c *MemoryCache) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.sweep(time.Now())
		}
	}
}

func (c *MemoryCache) sweep(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.entries {
		if !entry.expiry.IsZero() && now.After(entry.expiry) {
			delete(c.entries, key)
		}
	}
}

func janitorInterval(ttl time.Duration) time.Duration {
	interval := ttl / 2
	if interval > 5*time.Minute {
		return 5 * time.Minute
	}
	if interval < 10*time.Millisecond {
		return 10 * time.Millisecond
	}
	return interval
}
