package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

// MemoryStorage keeps buckets in process memory. Nothing survives a restart.
type MemoryStorage struct {
	mu      sync.RWMutex
	buckets map[string]*memoryBucket
	closed  bool
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{buckets: make(map[string]*memoryBucket)}
}

// Open returns the named bucket, creating it if absent.
func (s *MemoryStorage) Open(name string) (Bucket, error) {
	if name == "" {
		return nil, ErrInvalidBucketName
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStorageClosed
	}
	if b, ok := s.buckets[name]; ok {
		return b, nil
	}
	b := newMemoryBucket(name)
	s.buckets[name] = b
	return b, nil
}

// Has reports whether the named bucket exists.
func (s *MemoryStorage) Has(name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.buckets[name]
	return ok, nil
}

// Names lists bucket names in creation order.
func (s *MemoryStorage) Names() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return bucketNames(s.ordered()), nil
}

// Delete removes the named bucket.
func (s *MemoryStorage) Delete(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.buckets[name]; !ok {
		return false, nil
	}
	delete(s.buckets, name)
	return true, nil
}

// Match looks key up in every bucket in creation order.
func (s *MemoryStorage) Match(key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, b := range s.ordered() {
		if data, ok := b.Get(key); ok {
			return data, true, nil
		}
	}
	return nil, false, nil
}

// Info describes every bucket in creation order.
func (s *MemoryStorage) Info() ([]BucketInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ordered := s.ordered()
	infos := make([]BucketInfo, 0, len(ordered))
	for _, b := range ordered {
		stats := b.Stats()
		infos = append(infos, BucketInfo{
			Name:      b.Name(),
			Created:   b.Created(),
			ItemCount: stats.ItemCount,
			Size:      stats.Size,
			Level:     CacheLevelMemory,
		})
	}
	return infos, nil
}

// Close drops every bucket.
func (s *MemoryStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buckets = make(map[string]*memoryBucket)
	s.closed = true
	return nil
}

func (s *MemoryStorage) ordered() []Bucket {
	out := make([]Bucket, 0, len(s.buckets))
	for _, b := range s.buckets {
		out = append(out, b)
	}
	sortBuckets(out)
	return out
}

// DiskStorage keeps one DiskCache directory per bucket under Dir/buckets. The
// directory is rescanned on every call so buckets created or deleted by
// another process are picked up. An optional bounded MemoryCache shared by all
// buckets holds recently read entries, promoted from disk on a hit.
type DiskStorage struct {
	root  string
	codec *codec
	hot   *MemoryCache

	mu      sync.Mutex
	buckets map[string]*diskBucket // by directory name
	closed  bool
}

// NewDiskStorage opens (creating if needed) the storage rooted at cfg.Dir.
func NewDiskStorage(cfg Config) (*DiskStorage, error) {
	if cfg.Dir == "" {
		return nil, errors.New("cache directory is required")
	}
	root := filepath.Join(cfg.Dir, "buckets")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	c, err := newCodec(cfg.CompressionLevel)
	if err != nil {
		return nil, err
	}

	s := &DiskStorage{
		root:    root,
		codec:   c,
		buckets: make(map[string]*diskBucket),
	}
	if cfg.HotCapacity > 0 {
		s.hot = NewMemoryCache(cfg.HotCapacity)
	}
	return s, nil
}

// Open returns the named bucket, creating it if absent.
func (s *DiskStorage) Open(name string) (Bucket, error) {
	if name == "" {
		return nil, ErrInvalidBucketName
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.refreshLocked(); err != nil {
		return nil, err
	}
	dir := bucketDirName(name)
	if b, ok := s.buckets[dir]; ok {
		return b, nil
	}

	dc, err := openDiskCache(filepath.Join(s.root, dir), name, s.codec)
	if err != nil {
		return nil, err
	}
	b := &diskBucket{DiskCache: dc, hot: s.hot}
	s.buckets[dir] = b
	log.Debug("cache bucket created", "bucket", name, "dir", dir)
	return b, nil
}

// Has reports whether the named bucket exists.
func (s *DiskStorage) Has(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.refreshLocked(); err != nil {
		return false, err
	}
	_, ok := s.buckets[bucketDirName(name)]
	return ok, nil
}

// Names lists bucket names in creation order.
func (s *DiskStorage) Names() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.refreshLocked(); err != nil {
		return nil, err
	}
	return bucketNames(s.ordered()), nil
}

// Delete removes the named bucket directory.
func (s *DiskStorage) Delete(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.refreshLocked(); err != nil {
		return false, err
	}
	dir := bucketDirName(name)
	b, ok := s.buckets[dir]
	if !ok {
		return false, nil
	}
	b.purgeHot()
	if err := b.remove(); err != nil {
		return false, fmt.Errorf("failed to delete bucket %q: %w", name, err)
	}
	delete(s.buckets, dir)
	return true, nil
}

// Match looks key up in every bucket in creation order.
func (s *DiskStorage) Match(key string) ([]byte, bool, error) {
	s.mu.Lock()
	if err := s.refreshLocked(); err != nil {
		s.mu.Unlock()
		return nil, false, err
	}
	ordered := s.ordered()
	s.mu.Unlock()

	for _, b := range ordered {
		if data, ok := b.Get(key); ok {
			return data, true, nil
		}
	}
	return nil, false, nil
}

// Info describes every bucket in creation order.
func (s *DiskStorage) Info() ([]BucketInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.refreshLocked(); err != nil {
		return nil, err
	}
	ordered := s.ordered()
	infos := make([]BucketInfo, 0, len(ordered))
	for _, b := range ordered {
		stats := b.Stats()
		infos = append(infos, BucketInfo{
			Name:      b.Name(),
			Created:   b.Created(),
			ItemCount: stats.ItemCount,
			Size:      stats.Size,
			Level:     CacheLevelDisk,
		})
	}
	return infos, nil
}

// HotStats returns statistics of the shared in-memory read layer.
func (s *DiskStorage) HotStats() (CacheStats, bool) {
	if s.hot == nil {
		return CacheStats{}, false
	}
	return s.hot.Stats(), true
}

// Close releases the compressor. Bucket contents are already on disk.
func (s *DiskStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.codec.close()
	if s.hot != nil {
		_ = s.hot.Clear()
	}
	return nil
}

// refreshLocked reconciles the bucket map with the directories on disk.
// Directories whose index cannot be decoded are garbage and are removed.
func (s *DiskStorage) refreshLocked() error {
	if s.closed {
		return ErrStorageClosed
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("failed to read cache directory: %w", err)
	}

	seen := make(map[string]bool, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := entry.Name()
		seen[dir] = true
		if _, ok := s.buckets[dir]; ok {
			continue
		}

		path := filepath.Join(s.root, dir)
		if _, err := readDiskIndex(path); errors.Is(err, os.ErrNotExist) {
			// Still being created, or left behind by a crash.
			continue
		} else if err != nil {
			log.Warn("removing unreadable cache bucket", "dir", dir, "error", err)
			_ = os.RemoveAll(path)
			continue
		}
		dc, err := openDiskCache(path, "", s.codec)
		if err != nil {
			log.Warn("removing unreadable cache bucket", "dir", dir, "error", err)
			_ = os.RemoveAll(path)
			continue
		}
		s.buckets[dir] = &diskBucket{DiskCache: dc, hot: s.hot}
	}

	for dir, b := range s.buckets {
		if !seen[dir] {
			b.purgeHot()
			delete(s.buckets, dir)
		}
	}
	return nil
}

func (s *DiskStorage) ordered() []Bucket {
	out := make([]Bucket, 0, len(s.buckets))
	for _, b := range s.buckets {
		out = append(out, b)
	}
	sortBuckets(out)
	return out
}

// diskBucket fronts a DiskCache with the storage's hot layer.
type diskBucket struct {
	*DiskCache
	hot *MemoryCache
}

func (b *diskBucket) hotKey(key string) string {
	return b.name + "\x00" + key
}

// Get checks the hot layer first and promotes disk hits into it.
func (b *diskBucket) Get(key string) ([]byte, bool) {
	if b.hot != nil {
		if data, ok := b.hot.Get(b.hotKey(key)); ok {
			return data, true
		}
	}
	data, ok := b.DiskCache.Get(key)
	if ok && b.hot != nil {
		// Promotion is best-effort
		_ = b.hot.Put(b.hotKey(key), data)
	}
	return data, ok
}

func (b *diskBucket) Put(key string, value []byte) error {
	return b.PutAll(map[string][]byte{key: value})
}

func (b *diskBucket) PutAll(entries map[string][]byte) error {
	if b.hot != nil {
		for key := range entries {
			_ = b.hot.Delete(b.hotKey(key))
		}
	}
	return b.DiskCache.PutAll(entries)
}

func (b *diskBucket) Delete(key string) error {
	if b.hot != nil {
		_ = b.hot.Delete(b.hotKey(key))
	}
	return b.DiskCache.Delete(key)
}

func (b *diskBucket) Clear() error {
	b.purgeHot()
	return b.DiskCache.Clear()
}

func (b *diskBucket) purgeHot() {
	if b.hot == nil {
		return
	}
	prefix := b.name + "\x00"
	for _, key := range b.hot.Keys() {
		if strings.HasPrefix(key, prefix) {
			_ = b.hot.Delete(key)
		}
	}
}

// bucketDirName maps a bucket name to a filesystem-safe directory name.
func bucketDirName(name string) string {
	hash := sha256.Sum256([]byte(name))
	return "b-" + hex.EncodeToString(hash[:8])
}

func sortBuckets(buckets []Bucket) {
	sort.SliceStable(buckets, func(i, j int) bool {
		ci, cj := buckets[i].Created(), buckets[j].Created()
		if ci.Equal(cj) {
			return buckets[i].Name() < buckets[j].Name()
		}
		return ci.Before(cj)
	})
}

func bucketNames(buckets []Bucket) []string {
	names := make([]string, len(buckets))
	for i, b := range buckets {
		names[i] = b.Name()
	}
	return names
}
