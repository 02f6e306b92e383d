package cache

import (
	"container/list"
	"sync"
	"time"
)

// MemoryCache implements an in-memory cache with optional LRU eviction.
// A capacity of zero or less means the cache is unbounded and never evicts,
// which is what buckets require. Bounded instances serve as the hot layer in
// front of disk buckets.
type MemoryCache struct {
	capacity int64 // Maximum size in bytes, <= 0 for unbounded
	size     int64 // Current size in bytes

	// LRU implementation
	items    map[string]*list.Element
	eviction *list.List

	mu sync.RWMutex

	stats CacheStats
}

// memoryCacheEntry represents an entry in the memory cache
type memoryCacheEntry struct {
	key       string
	value     []byte
	size      int64
	timestamp time.Time
	hits      int64
}

// NewMemoryCache creates a new memory cache with the specified capacity in bytes.
func NewMemoryCache(capacity int64) *MemoryCache {
	if capacity < 0 {
		capacity = 0
	}
	return &MemoryCache{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		eviction: list.New(),
		stats: CacheStats{
			Capacity: capacity,
		},
	}
}

func (c *MemoryCache) bounded() bool {
	return c.capacity > 0
}

// Get retrieves a value from the cache.
func (c *MemoryCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return nil, false
	}

	// Move to front (most recently used)
	c.eviction.MoveToFront(elem)
	entry := elem.Value.(*memoryCacheEntry)
	entry.hits++

	c.stats.Hits++
	c.stats.LastAccess = time.Now()
	return entry.value, true
}

// Put stores a value in the cache.
func (c *MemoryCache) Put(key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.putLocked(key, value)
	return c.evictLocked(key)
}

// PutAll stores every entry while holding the lock once.
func (c *MemoryCache) PutAll(entries map[string][]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, value := range entries {
		if c.bounded() && int64(len(value)) > c.capacity {
			return ErrItemTooLarge
		}
	}
	for key, value := range entries {
		c.putLocked(key, value)
	}
	return c.evictLocked("")
}

func (c *MemoryCache) putLocked(key string, value []byte) {
	valueSize := int64(len(value))

	if elem, ok := c.items[key]; ok {
		c.eviction.MoveToFront(elem)
		entry := elem.Value.(*memoryCacheEntry)
		c.size += valueSize - entry.size
		entry.value = value
		entry.size = valueSize
		entry.timestamp = time.Now()
		c.stats.Size = c.size
		return
	}

	entry := &memoryCacheEntry{
		key:       key,
		value:     value,
		size:      valueSize,
		timestamp: time.Now(),
	}
	c.items[key] = c.eviction.PushFront(entry)
	c.size += valueSize
	c.stats.Size = c.size
}

// evictLocked trims a bounded cache back under capacity. The entry under keep
// is never chosen; if it alone exceeds capacity it is removed and
// ErrItemTooLarge returned.
func (c *MemoryCache) evictLocked(keep string) error {
	if !c.bounded() {
		return nil
	}
	if elem, ok := c.items[keep]; ok && elem.Value.(*memoryCacheEntry).size > c.capacity {
		c.removeElement(elem)
		return ErrItemTooLarge
	}
	for c.size > c.capacity && c.eviction.Len() > 0 {
		back := c.eviction.Back()
		if back.Value.(*memoryCacheEntry).key == keep && c.eviction.Len() > 1 {
			c.eviction.MoveToFront(back)
			continue
		}
		c.evictOldest()
	}
	return nil
}

// Delete removes an entry from the cache.
func (c *MemoryCache) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil
	}

	c.removeElement(elem)
	return nil
}

// Clear removes all entries from the cache.
func (c *MemoryCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.eviction.Init()
	c.size = 0
	c.stats.Size = 0

	return nil
}

// Size returns the current cache size in bytes.
func (c *MemoryCache) Size() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.size
}

// Stats returns cache statistics.
func (c *MemoryCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := c.stats
	stats.Size = c.size
	stats.ItemCount = int64(len(c.items))

	if stats.Hits+stats.Misses > 0 {
		stats.HitRate = float64(stats.Hits) / float64(stats.Hits+stats.Misses)
	}

	return stats
}

// GetWithMetadata retrieves a value along with its metadata.
func (c *MemoryCache) GetWithMetadata(key string) ([]byte, CacheMetadata, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return nil, CacheMetadata{}, false
	}

	c.eviction.MoveToFront(elem)
	entry := elem.Value.(*memoryCacheEntry)
	entry.hits++

	c.stats.Hits++

	return entry.value, CacheMetadata{
		Key:       entry.key,
		Size:      entry.size,
		Timestamp: entry.timestamp,
		Hits:      entry.hits,
		Level:     CacheLevelMemory,
	}, true
}

// evictOldest removes the least recently used item (must be called with lock held).
func (c *MemoryCache) evictOldest() {
	elem := c.eviction.Back()
	if elem != nil {
		c.removeElement(elem)
		c.stats.Evictions++
		c.stats.LastEvict = time.Now()
	}
}

// removeElement removes an element from the cache (must be called with lock held).
func (c *MemoryCache) removeElement(elem *list.Element) {
	c.eviction.Remove(elem)
	entry := elem.Value.(*memoryCacheEntry)
	delete(c.items, entry.key)
	c.size -= entry.size
	c.stats.Size = c.size
}

// Contains checks if a key exists in the cache without updating LRU.
func (c *MemoryCache) Contains(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.items[key]
	return ok
}

// Keys returns all keys in the cache, most recently used first.
func (c *MemoryCache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.items))
	for elem := c.eviction.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*memoryCacheEntry).key)
	}
	return keys
}

// memoryBucket is an unbounded MemoryCache with a name.
type memoryBucket struct {
	*MemoryCache
	name    string
	created time.Time
}

func newMemoryBucket(name string) *memoryBucket {
	return &memoryBucket{
		MemoryCache: NewMemoryCache(0),
		name:        name,
		created:     time.Now(),
	}
}

func (b *memoryBucket) Name() string       { return b.name }
func (b *memoryBucket) Created() time.Time { return b.created }
