package cache

import (
	"container/list"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/narrate/internal/ttypes"
	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zstd"
)

var (
	// ErrItemTooLarge is returned when an item exceeds the cache capacity
	ErrItemTooLarge = errors.New("item too large for cache")

	// ErrCacheCorrupted is returned when a cached entry cannot be decompressed
	ErrCacheCorrupted = errors.New("cache data corrupted")
)

// MemoryCache implements an in-memory cache with LRU eviction.
// Values are stored zstd-compressed; capacity counts compressed bytes.
type MemoryCache struct {
	capacity int64 // Maximum size in bytes
	size     int64 // Current size in bytes

	// LRU implementation
	items    map[string]*list.Element
	eviction *list.List

	// Compression
	encoder *zstd.Encoder
	decoder *zstd.Decoder

	// Synchronization
	mu sync.Mutex

	// Metrics
	stats  ttypes.CacheStats
	logger *log.Logger
}

// memoryCacheEntry represents an entry in the memory cache
type memoryCacheEntry struct {
	key          string
	value        []byte // compressed
	size         int64
	originalSize int64
	timestamp    time.Time
	hits         int64
}

// NewMemoryCache creates a new memory cache with the specified capacity in bytes
// and zstd level (1 fastest .. 4 best).
func NewMemoryCache(capacity int64, level int) (*MemoryCache, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("cache capacity must be positive, got %d", capacity)
	}
	if level <= 0 {
		level = int(zstd.SpeedFastest)
	}

	encoder, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevel(level)))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return &MemoryCache{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		eviction: list.New(),
		encoder:  encoder,
		decoder:  decoder,
		stats: ttypes.CacheStats{
			Capacity: capacity,
		},
		logger: log.Default().WithPrefix("cache"),
	}, nil
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

	entry := elem.Value.(*memoryCacheEntry)
	data, err := c.decoder.DecodeAll(entry.value, make([]byte, 0, entry.originalSize))
	if err != nil {
		// Decompression failed, drop the entry
		c.logger.Warn("Dropping corrupted cache entry", "key", key, "error", err)
		c.removeElement(elem)
		c.stats.Misses++
		return nil, false
	}

	// Move to front (most recently used)
	c.eviction.MoveToFront(elem)
	entry.hits++

	c.stats.Hits++
	return data, true
}

// Put stores a value in the cache.
func (c *MemoryCache) Put(key string, value []byte) error {
	compressed := c.encoder.EncodeAll(value, make([]byte, 0, len(value)/2))
	valueSize := int64(len(compressed))

	c.mu.Lock()
	defer c.mu.Unlock()

	// Check if value is too large for cache
	if valueSize > c.capacity {
		return ErrItemTooLarge
	}

	// Replace existing entry
	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}

	// Evict items if necessary
	for c.size+valueSize > c.capacity && c.eviction.Len() > 0 {
		c.evictOldest()
	}

	entry := &memoryCacheEntry{
		key:          key,
		value:        compressed,
		size:         valueSize,
		originalSize: int64(len(value)),
		timestamp:    time.Now(),
	}

	c.items[key] = c.eviction.PushFront(entry)
	c.size += valueSize

	c.logger.Debug("Cached synthesized audio",
		"key", key,
		"size", humanize.Bytes(uint64(len(value))),
		"stored", humanize.Bytes(uint64(valueSize)))
	return nil
}

// Delete removes an entry from the cache.
func (c *MemoryCache) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
	return nil
}

// Clear removes all entries from the cache.
func (c *MemoryCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.eviction.Init()
	c.size = 0

	return nil
}

// Size returns the current cache size in bytes.
func (c *MemoryCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.size
}

// Stats returns cache statistics.
func (c *MemoryCache) Stats() ttypes.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Size = c.size
	stats.Items = len(c.items)
	return stats
}

// String summarizes usage for logs.
func (c *MemoryCache) String() string {
	stats := c.Stats()
	return fmt.Sprintf("%d items, %s of %s, %d hits, %d misses",
		stats.Items,
		humanize.Bytes(uint64(stats.Size)),
		humanize.Bytes(uint64(stats.Capacity)),
		stats.Hits,
		stats.Misses)
}

// Close releases the compression resources.
func (c *MemoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.decoder.Close()
	return c.encoder.Close()
}

// evictOldest removes the least recently used item (must be called with lock held).
func (c *MemoryCache) evictOldest() {
	elem := c.eviction.Back()
	if elem != nil {
		c.removeElement(elem)
		c.stats.Evictions++
	}
}

// removeElement removes an element from the cache (must be called with lock held).
func (c *MemoryCache) removeElement(elem *list.Element) {
	c.eviction.Remove(elem)
	entry := elem.Value.(*memoryCacheEntry)
	delete(c.items, entry.key)
	c.size -= entry.size
}
