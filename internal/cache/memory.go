package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mugisham37/cms-gateway/internal/observability"
)

// MemoryCache is an in-memory LRU cache with TTL expiry.
type MemoryCache struct {
	logger     observability.Logger
	maxEntries int
	defaultTTL time.Duration

	mu       sync.Mutex
	items    map[string]*list.Element
	eviction *list.List

	hits   int64
	misses int64

	stopCh    chan struct{}
	closeOnce sync.Once
}

// memoryEntry represents an entry in the memory cache.
type memoryEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// MemoryOption is a functional option for the memory cache.
type MemoryOption func(*MemoryCache)

// WithMaxEntries bounds the cache size; the least recently used entry is
// evicted at capacity.
func WithMaxEntries(n int) MemoryOption {
	return func(c *MemoryCache) {
		c.maxEntries = n
	}
}

// WithDefaultTTL sets the TTL applied when Set receives zero.
func WithDefaultTTL(ttl time.Duration) MemoryOption {
	return func(c *MemoryCache) {
		c.defaultTTL = ttl
	}
}

// WithMemoryLogger sets the logger.
func WithMemoryLogger(logger observability.Logger) MemoryOption {
	return func(c *MemoryCache) {
		c.logger = logger
	}
}

// NewMemoryCache creates an in-memory cache and starts its cleanup loop.
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	c := &MemoryCache{
		logger:     observability.NopLogger(),
		maxEntries: 10000,
		defaultTTL: time.Minute,
		items:      make(map[string]*list.Element),
		eviction:   list.New(),
		stopCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.cleanupLoop()

	return c
}

// Get retrieves a value from the cache.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, exists := c.items[key]
	if !exists {
		atomic.AddInt64(&c.misses, 1)
		return nil, ErrCacheMiss
	}

	entry := elem.Value.(*memoryEntry)
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		c.removeElement(elem)
		atomic.AddInt64(&c.misses, 1)
		return nil, ErrCacheMiss
	}

	c.eviction.MoveToFront(elem)
	atomic.AddInt64(&c.hits, 1)

	return entry.value, nil
}

// Set stores a value in the cache.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.defaultTTL
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	entry := &memoryEntry{key: key, value: value, expiresAt: expiresAt}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.items[key]; exists {
		c.eviction.MoveToFront(elem)
		elem.Value = entry
		return nil
	}

	elem := c.eviction.PushFront(entry)
	c.items[key] = elem

	for c.eviction.Len() > c.maxEntries {
		c.evictOldest()
	}

	return nil
}

// Delete removes a value from the cache.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.items[key]; exists {
		c.removeElement(elem)
	}
	return nil
}

// Clear removes all values from the cache.
func (c *MemoryCache) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.eviction.Init()
	return nil
}

// Close stops the cleanup goroutine.
func (c *MemoryCache) Close() error {
	c.closeOnce.Do(func() {
		close(c.stopCh)
	})
	return nil
}

// Stats returns cache statistics.
func (c *MemoryCache) Stats() Stats {
	c.mu.Lock()
	size := int64(c.eviction.Len())
	c.mu.Unlock()

	return Stats{
		Hits:   atomic.LoadInt64(&c.hits),
		Misses: atomic.LoadInt64(&c.misses),
		Size:   size,
	}
}

// evictOldest removes the oldest entry. Must hold the lock.
func (c *MemoryCache) evictOldest() {
	if elem := c.eviction.Back(); elem != nil {
		c.removeElement(elem)
	}
}

// removeElement removes an element. Must hold the lock.
func (c *MemoryCache) removeElement(elem *list.Element) {
	c.eviction.Remove(elem)
	entry := elem.Value.(*memoryEntry)
	delete(c.items, entry.key)
}

// cleanupLoop periodically removes expired entries.
func (c *MemoryCache) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stopCh:
			return
		}
	}
}

// cleanup removes expired entries under a single lock acquisition.
func (c *MemoryCache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	var toRemove []*list.Element
	for elem := c.eviction.Back(); elem != nil; elem = elem.Prev() {
		entry := elem.Value.(*memoryEntry)
		if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
			toRemove = append(toRemove, elem)
		}
	}
	for _, elem := range toRemove {
		c.removeElement(elem)
	}

	if len(toRemove) > 0 {
		c.logger.Debug("cache cleanup completed",
			observability.Int("removed", len(toRemove)))
	}
}
