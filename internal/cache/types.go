package cache

import (
	"errors"
	"time"
)

// Common errors for cache operations
var (
	// ErrItemTooLarge is returned when an item exceeds a bounded cache's capacity
	ErrItemTooLarge = errors.New("item too large for cache")

	// ErrCacheMiss is returned when an item is not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrCacheCorrupted is returned when cache data is corrupted
	ErrCacheCorrupted = errors.New("cache data corrupted")

	// ErrInvalidBucketName is returned for an empty bucket name
	ErrInvalidBucketName = errors.New("bucket name is required")

	// ErrStorageClosed is returned when a closed storage is used
	ErrStorageClosed = errors.New("cache storage is closed")
)

// CacheLevel represents the tier an entry was served from
type CacheLevel int

const (
	// CacheLevelHot is the shared in-memory read layer in front of disk buckets
	CacheLevelHot CacheLevel = iota

	// CacheLevelDisk is a persistent bucket
	CacheLevelDisk

	// CacheLevelMemory is a non-persistent bucket
	CacheLevelMemory
)

// String returns the string representation of the cache level
func (l CacheLevel) String() string {
	switch l {
	case CacheLevelHot:
		return "hot"
	case CacheLevelDisk:
		return "disk"
	case CacheLevelMemory:
		return "memory"
	default:
		return "unknown"
	}
}

// MarshalText encodes the level by name.
func (l CacheLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// CacheStats holds cache performance metrics
type CacheStats struct {
	Capacity int64 // Maximum capacity in bytes, 0 when unbounded

	Size      int64 // Current size in bytes
	ItemCount int64 // Number of items in cache

	Hits      int64
	Misses    int64
	Evictions int64
	HitRate   float64 // hits / (hits + misses)

	LastAccess time.Time
	LastEvict  time.Time
}

// CacheMetadata contains metadata about a cached item
type CacheMetadata struct {
	Key        string
	Size       int64
	Timestamp  time.Time // When item was cached
	LastAccess time.Time
	Hits       int64
	Level      CacheLevel
}

// Config holds configuration for a Storage.
type Config struct {
	// Dir is the root directory for disk buckets. Empty selects in-memory storage.
	Dir string

	// CompressionLevel is the zstd level (1-22), 0 disables compression.
	CompressionLevel int

	// HotCapacity bounds the shared in-memory read layer in bytes, 0 disables it.
	HotCapacity int64
}

// DefaultConfig returns default storage configuration
func DefaultConfig() Config {
	return Config{
		CompressionLevel: 3,
		HotCapacity:      32 * 1024 * 1024, // 32MB
	}
}

// Cache is a single bucket of key to bytes.
type Cache interface {
	Get(key string) ([]byte, bool)
	Put(key string, value []byte) error
	Delete(key string) error
	Clear() error

	Size() int64
	Contains(key string) bool
	Keys() []string

	Stats() CacheStats
}

// Bucket is a named Cache owned by a Storage.
type Bucket interface {
	Cache

	// Name returns the bucket name.
	Name() string

	// Created returns when the bucket was first opened.
	Created() time.Time

	// PutAll stores every entry in one batch.
	PutAll(entries map[string][]byte) error
}

// BucketInfo describes a bucket for diagnostics.
type BucketInfo struct {
	Name      string     `json:"name"`
	Created   time.Time  `json:"created"`
	ItemCount int64      `json:"items"`
	Size      int64      `json:"size"`
	Level     CacheLevel `json:"level"`
}

// Storage owns a set of named buckets.
type Storage interface {
	// Open returns the named bucket, creating it if absent.
	Open(name string) (Bucket, error)

	// Has reports whether the named bucket exists.
	Has(name string) (bool, error)

	// Names lists bucket names in creation order.
	Names() ([]string, error)

	// Delete removes the named bucket and everything in it. It reports
	// whether a bucket was removed.
	Delete(name string) (bool, error)

	// Match looks key up in every bucket in creation order.
	Match(key string) ([]byte, bool, error)

	// Info describes every bucket in creation order.
	Info() ([]BucketInfo, error)

	Close() error
}

// New opens the Storage described by cfg.
func New(cfg Config) (Storage, error) {
	if cfg.Dir == "" {
		return NewMemoryStorage(), nil
	}
	return NewDiskStorage(cfg)
}
