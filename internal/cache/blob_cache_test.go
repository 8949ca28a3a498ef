package cache

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, budget, chunkSize int64) *BlobCache {
	t.Helper()
	c, err := NewBlobCache(budget, chunkSize)
	require.NoError(t, err)
	return c
}

func TestBlobCacheHitMiss(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, 1024, 16)

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Put("a", []byte("chunk-a"))
	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, []byte("chunk-a"), got)
}

func TestBlobCacheEviction(t *testing.T) {
	t.Parallel()

	// Budget of 4 chunk-sized entries.
	c := newTestCache(t, 64, 16)

	for i := 0; i < 6; i++ {
		c.Put(fmt.Sprintf("blob-%d", i), make([]byte, 16))
	}

	assert.Equal(t, 4, c.Len())
	assert.Equal(t, int64(64), c.Bytes())

	// Oldest entries were evicted.
	_, ok := c.Get("blob-0")
	assert.False(t, ok)
	_, ok = c.Get("blob-5")
	assert.True(t, ok)
}

func TestBlobCacheByteAccounting(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, 1024, 16)

	c.Put("a", make([]byte, 10))
	c.Put("b", make([]byte, 6))
	assert.Equal(t, int64(16), c.Bytes())

	// Replacing a key must not double-count.
	c.Put("a", make([]byte, 4))
	assert.Equal(t, int64(10), c.Bytes())

	c.Invalidate()
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int64(0), c.Bytes())
}

func TestBlobCacheMinimumOneEntry(t *testing.T) {
	t.Parallel()

	// Budget below one chunk still holds a single entry.
	c := newTestCache(t, 1, 16)
	c.Put("a", make([]byte, 16))
	_, ok := c.Get("a")
	assert.True(t, ok)

	c.Put("b", make([]byte, 16))
	_, ok = c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("b")
	assert.True(t, ok)
}
