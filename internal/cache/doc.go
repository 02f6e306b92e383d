// Package cache stores named buckets of cached responses.
//
// A bucket maps a request key to raw bytes. Buckets live either in memory or
// on disk (one directory per bucket, zstd compressed entries, gob index). A
// Storage owns the set of buckets and answers lookups across all of them in
// creation order. Buckets never evict entries by size or age; they are
// removed as a whole by their owner.
package cache
