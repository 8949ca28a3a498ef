package cache

import (
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"gramfs/internal/metrics"
)

// BlobCache is an LRU cache of downloaded blob bytes keyed by blob id.
// Entries are at most one chunk long, so the entry budget is derived from
// a byte budget divided by the chunk size.
//
// Thread-safe. The slices returned by Get are shared with the cache;
// callers must treat them as read-only.
type BlobCache struct {
	mu      sync.Mutex // serializes Put so the byte counter stays exact
	entries *lru.Cache[string, []byte]
	bytes   atomic.Int64
}

// NewBlobCache creates a cache holding roughly budgetBytes of chunk data.
// A budget smaller than one chunk still caches a single entry.
func NewBlobCache(budgetBytes, chunkSize int64) (*BlobCache, error) {
	if chunkSize <= 0 {
		chunkSize = 1
	}
	n := int(budgetBytes / chunkSize)
	if n < 1 {
		n = 1
	}

	c := &BlobCache{}
	entries, err := lru.NewWithEvict(n, func(_ string, data []byte) {
		c.bytes.Add(-int64(len(data)))
	})
	if err != nil {
		return nil, err
	}
	c.entries = entries
	return c, nil
}

// Get returns the cached bytes for a blob id.
func (c *BlobCache) Get(id string) ([]byte, bool) {
	if Disabled {
		return nil, false
	}
	data, ok := c.entries.Get(id)
	metrics.RecordCacheHit(ok)
	return data, ok
}

// Put stores the bytes for a blob id, evicting least-recently-used
// entries as needed.
func (c *BlobCache) Put(id string, data []byte) {
	if Disabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	// Add does not run the evict callback when replacing an existing key.
	if prev, ok := c.entries.Peek(id); ok {
		c.bytes.Add(-int64(len(prev)))
	}
	c.bytes.Add(int64(len(data)))
	c.entries.Add(id, data)
}

// Invalidate drops every entry.
func (c *BlobCache) Invalidate() {
	c.entries.Purge()
}

// Len returns the number of cached blobs.
func (c *BlobCache) Len() int {
	return c.entries.Len()
}

// Bytes returns the total cached byte count.
func (c *BlobCache) Bytes() int64 {
	return c.bytes.Load()
}
