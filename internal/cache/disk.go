package cache

import (
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

const indexFileName = "bucket.index"

// codec compresses entry bodies. It is shared by every bucket of a storage;
// zstd EncodeAll and DecodeAll are safe for concurrent use.
type codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func newCodec(level int) (*codec, error) {
	if level <= 0 {
		return nil, nil
	}
	encoder, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &codec{encoder: encoder, decoder: decoder}, nil
}

func (c *codec) close() {
	if c == nil {
		return
	}
	_ = c.encoder.Close()
	c.decoder.Close()
}

// DiskCache is a bucket persisted as one directory: one file per entry and a
// gob index naming the bucket. The index is rewritten after every mutation so
// that other processes opening the same directory see a consistent bucket.
type DiskCache struct {
	basePath string
	name     string
	created  time.Time
	size     int64 // Current size on disk

	codec *codec

	// Index for fast lookups
	index map[string]*diskCacheEntry

	mu sync.RWMutex

	stats CacheStats
}

// diskCacheEntry represents an entry in the disk cache index
type diskCacheEntry struct {
	Key          string
	FileName     string
	Size         int64 // Size on disk (compressed)
	OriginalSize int64
	Timestamp    time.Time
	Compressed   bool
}

// diskIndex is the gob document stored next to the entries.
type diskIndex struct {
	Name    string
	Created time.Time
	Entries map[string]*diskCacheEntry
}

// openDiskCache opens the bucket stored in basePath, creating it with the
// given name when the directory holds no index yet.
func openDiskCache(basePath, name string, c *codec) (*DiskCache, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create bucket directory: %w", err)
	}

	dc := &DiskCache{
		basePath: basePath,
		name:     name,
		created:  time.Now(),
		codec:    c,
		index:    make(map[string]*diskCacheEntry),
	}

	idx, err := readDiskIndex(basePath)
	switch {
	case err == nil:
		dc.name = idx.Name
		dc.created = idx.Created
		if idx.Entries != nil {
			dc.index = idx.Entries
		}
	case errors.Is(err, os.ErrNotExist):
		if err := dc.saveIndex(); err != nil {
			return nil, fmt.Errorf("failed to write bucket index: %w", err)
		}
	default:
		// An unreadable index loses the entries but keeps the bucket usable.
		if name == "" {
			return nil, fmt.Errorf("%w: %s: %v", ErrCacheCorrupted, basePath, err)
		}
		if err := dc.saveIndex(); err != nil {
			return nil, fmt.Errorf("failed to rewrite bucket index: %w", err)
		}
	}

	dc.calculateSize()
	return dc, nil
}

// Name returns the bucket name.
func (dc *DiskCache) Name() string { return dc.name }

// Created returns when the bucket was first opened.
func (dc *DiskCache) Created() time.Time { return dc.created }

// Get retrieves a value from the disk cache.
func (dc *DiskCache) Get(key string) ([]byte, bool) {
	data, _, ok := dc.GetWithMetadata(key)
	return data, ok
}

// GetWithMetadata retrieves a value along with its metadata.
func (dc *DiskCache) GetWithMetadata(key string) ([]byte, CacheMetadata, bool) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	entry, ok := dc.index[key]
	if !ok {
		dc.stats.Misses++
		return nil, CacheMetadata{}, false
	}

	data, err := dc.readEntry(entry)
	if err != nil {
		// File missing or corrupted, remove from index
		_ = os.Remove(filepath.Join(dc.basePath, entry.FileName))
		delete(dc.index, key)
		dc.size -= entry.Size
		dc.stats.Misses++
		_ = dc.saveIndex()
		return nil, CacheMetadata{}, false
	}

	dc.stats.Hits++
	dc.stats.LastAccess = time.Now()

	return data, CacheMetadata{
		Key:        entry.Key,
		Size:       entry.OriginalSize,
		Timestamp:  entry.Timestamp,
		LastAccess: dc.stats.LastAccess,
		Level:      CacheLevelDisk,
	}, true
}

func (dc *DiskCache) readEntry(entry *diskCacheEntry) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(dc.basePath, entry.FileName))
	if err != nil {
		return nil, err
	}
	if !entry.Compressed {
		return data, nil
	}
	if dc.codec == nil {
		return nil, ErrCacheCorrupted
	}
	return dc.codec.decoder.DecodeAll(data, nil)
}

// Put stores a value in the disk cache.
func (dc *DiskCache) Put(key string, value []byte) error {
	return dc.PutAll(map[string][]byte{key: value})
}

// PutAll writes every entry file and then the index once.
func (dc *DiskCache) PutAll(entries map[string][]byte) error {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	for key, value := range entries {
		if err := dc.putLocked(key, value); err != nil {
			return err
		}
	}
	if err := dc.saveIndex(); err != nil {
		return fmt.Errorf("failed to write bucket index: %w", err)
	}
	return nil
}

func (dc *DiskCache) putLocked(key string, value []byte) error {
	originalSize := int64(len(value))

	dataToWrite := value
	compressed := false
	if dc.codec != nil && originalSize > 1024 { // Only compress if > 1KB
		if packed := dc.codec.encoder.EncodeAll(value, nil); len(packed) < len(value) {
			dataToWrite = packed
			compressed = true
		}
	}

	fileName := entryFileName(key)
	if err := writeFileAtomic(filepath.Join(dc.basePath, fileName), dataToWrite); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	if existing, ok := dc.index[key]; ok {
		dc.size -= existing.Size
	}

	diskSize := int64(len(dataToWrite))
	dc.index[key] = &diskCacheEntry{
		Key:          key,
		FileName:     fileName,
		Size:         diskSize,
		OriginalSize: originalSize,
		Timestamp:    time.Now(),
		Compressed:   compressed,
	}
	dc.size += diskSize
	return nil
}

// Delete removes an entry from the disk cache.
func (dc *DiskCache) Delete(key string) error {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	entry, ok := dc.index[key]
	if !ok {
		return nil
	}

	_ = os.Remove(filepath.Join(dc.basePath, entry.FileName))
	delete(dc.index, key)
	dc.size -= entry.Size

	return dc.saveIndex()
}

// Clear removes all entries from the disk cache but keeps the bucket.
func (dc *DiskCache) Clear() error {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	for _, entry := range dc.index {
		_ = os.Remove(filepath.Join(dc.basePath, entry.FileName))
	}

	dc.index = make(map[string]*diskCacheEntry)
	dc.size = 0

	return dc.saveIndex()
}

// Size returns the current cache size on disk in bytes.
func (dc *DiskCache) Size() int64 {
	dc.mu.RLock()
	defer dc.mu.RUnlock()

	return dc.size
}

// Stats returns cache statistics.
func (dc *DiskCache) Stats() CacheStats {
	dc.mu.RLock()
	defer dc.mu.RUnlock()

	stats := dc.stats
	stats.Size = dc.size
	stats.ItemCount = int64(len(dc.index))

	if stats.Hits+stats.Misses > 0 {
		stats.HitRate = float64(stats.Hits) / float64(stats.Hits+stats.Misses)
	}

	return stats
}

// Contains checks if a key exists in the cache.
func (dc *DiskCache) Contains(key string) bool {
	dc.mu.RLock()
	defer dc.mu.RUnlock()

	_, ok := dc.index[key]
	return ok
}

// Keys returns all keys in the cache, oldest first.
func (dc *DiskCache) Keys() []string {
	dc.mu.RLock()
	defer dc.mu.RUnlock()

	entries := make([]*diskCacheEntry, 0, len(dc.index))
	for _, entry := range dc.index {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].Key < entries[j].Key
		}
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})

	keys := make([]string, len(entries))
	for i, entry := range entries {
		keys[i] = entry.Key
	}
	return keys
}

// remove deletes the whole bucket directory.
func (dc *DiskCache) remove() error {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	dc.index = make(map[string]*diskCacheEntry)
	dc.size = 0
	return os.RemoveAll(dc.basePath)
}

func (dc *DiskCache) saveIndex() error {
	idx := diskIndex{
		Name:    dc.name,
		Created: dc.created,
		Entries: dc.index,
	}
	return writeGob(filepath.Join(dc.basePath, indexFileName), idx)
}

func (dc *DiskCache) calculateSize() {
	dc.size = 0
	for _, entry := range dc.index {
		dc.size += entry.Size
	}
}

func readDiskIndex(basePath string) (diskIndex, error) {
	var idx diskIndex
	file, err := os.Open(filepath.Join(basePath, indexFileName))
	if err != nil {
		return idx, err
	}
	defer file.Close() //nolint:errcheck

	if err := gob.NewDecoder(file).Decode(&idx); err != nil {
		return idx, fmt.Errorf("%w: %v", ErrCacheCorrupted, err)
	}
	return idx, nil
}

func entryFileName(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:16]) + ".cache"
}

// writeFileAtomic writes to a temp file first, then renames it into place.
func writeFileAtomic(path string, data []byte) error {
	tempPath := path + ".tmp"

	file, err := os.Create(tempPath)
	if err != nil {
		return err
	}

	_, err = file.Write(data)
	closeErr := file.Close()

	if err != nil {
		_ = os.Remove(tempPath)
		return err
	}
	if closeErr != nil {
		_ = os.Remove(tempPath)
		return closeErr
	}

	return os.Rename(tempPath, path)
}

func writeGob(path string, v any) error {
	tempPath := path + ".tmp"

	file, err := os.Create(tempPath)
	if err != nil {
		return err
	}

	err = gob.NewEncoder(file).Encode(v)
	closeErr := file.Close()

	if err != nil {
		_ = os.Remove(tempPath)
		return err
	}
	if closeErr != nil {
		_ = os.Remove(tempPath)
		return closeErr
	}

	return os.Rename(tempPath, path)
}
