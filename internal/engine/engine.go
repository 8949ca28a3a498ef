// Copyright 2026 GramFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package engine implements the gramfs core: a tree of nodes stored in
// the catalog whose file content is split into fixed-size chunks kept
// in a remote blob store. Writes land in in-memory staging regions and
// a background flusher reconciles them with the remote chunks; reads
// reconstruct file ranges from exactly the chunks they need.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gramfs/internal/blob"
	"gramfs/internal/cache"
	"gramfs/internal/common"
	"gramfs/internal/storage"
)

const (
	// DefaultStagingCapacity bounds a single path's staging region.
	DefaultStagingCapacity = 64 << 20

	// DefaultCacheBudget bounds the blob cache across all paths.
	DefaultCacheBudget = 256 << 20
)

// Options tune an Engine. Zero values select the defaults.
type Options struct {
	// StagingCapacity is the per-path staging region ceiling in bytes.
	// A write starting at or past the ceiling fails with ErrCapacity.
	StagingCapacity int64

	// CacheBudget is the blob cache size in bytes.
	CacheBudget int64

	// FlushInterval is how often the flusher scans for idle regions.
	FlushInterval time.Duration

	// IdleThreshold is how long a region must go without writes before
	// the flusher drains it.
	IdleThreshold time.Duration
}

// Engine ties the catalog, the blob store, the blob cache, and the
// staging set together. One engine serves one mounted catalog.
type Engine struct {
	cat       *storage.Catalog
	store     blob.Store
	blobCache *cache.BlobCache
	staging   *stagingSet
	flusher   *flusher
	chunkSize int64
}

// New creates an engine over an open catalog and a blob store. The
// catalog's persisted chunk size governs all offset arithmetic; the
// store must accept objects at least that large.
func New(cat *storage.Catalog, store blob.Store, opts Options) (*Engine, error) {
	if cat == nil {
		return nil, errors.New("engine: nil catalog")
	}
	if store == nil {
		return nil, errors.New("engine: nil blob store")
	}
	chunkSize := cat.ChunkSize()
	if maxObj := store.MaxObjectSize(); maxObj > 0 && maxObj < chunkSize {
		return nil, fmt.Errorf("engine: %s store accepts %d byte objects, chunk size is %d",
			store.Type(), maxObj, chunkSize)
	}

	capacity := opts.StagingCapacity
	if capacity <= 0 {
		capacity = DefaultStagingCapacity
	}
	budget := opts.CacheBudget
	if budget <= 0 {
		budget = DefaultCacheBudget
	}
	blobCache, err := cache.NewBlobCache(budget, chunkSize)
	if err != nil {
		return nil, fmt.Errorf("engine: blob cache: %w", err)
	}

	e := &Engine{
		cat:       cat,
		store:     store,
		blobCache: blobCache,
		staging:   newStagingSet(capacity),
		chunkSize: chunkSize,
	}
	e.flusher = newFlusher(e, opts.FlushInterval, opts.IdleThreshold)
	return e, nil
}

// Catalog returns the engine's catalog.
func (e *Engine) Catalog() *storage.Catalog {
	return e.cat
}

// Store returns the engine's blob store.
func (e *Engine) Store() blob.Store {
	return e.store
}

// ChunkSize returns the catalog's persisted chunk size.
func (e *Engine) ChunkSize() int64 {
	return e.chunkSize
}

// StagedStats returns the live staging region count and byte total.
func (e *Engine) StagedStats() (regions int, bytes int64) {
	return e.staging.stats()
}

// Start launches the background flusher.
func (e *Engine) Start() {
	e.flusher.start()
}

// Close stops the flusher and drains every staging region. The catalog
// stays open; its owner closes it.
func (e *Engine) Close(ctx context.Context) error {
	return e.flusher.stop(ctx)
}

// FlushPath synchronously drains the staging region for path.
func (e *Engine) FlushPath(ctx context.Context, path string) error {
	return e.flusher.flushPath(ctx, common.NormalizePath(path))
}

// FlushAll synchronously drains every staging region, ignoring the
// idle threshold, and returns the first error. Failed regions keep
// their bytes and are retried by the background loop.
func (e *Engine) FlushAll(ctx context.Context) error {
	return e.flusher.flushAll(ctx)
}

// Stat resolves path and returns its node. For a regular file with a
// live staging region the reported size covers the staged bytes, so a
// freshly written file stats at its written length before the flush
// lands.
func (e *Engine) Stat(ctx context.Context, path string) (*storage.Node, error) {
	path = common.NormalizePath(path)
	node, err := e.cat.ResolvePath(ctx, path)
	if err != nil {
		return nil, err
	}
	e.applyStagedSize(path, node)
	return node, nil
}

// ReadDir lists the children of the directory at path, sorted by name.
func (e *Engine) ReadDir(ctx context.Context, path string) ([]*storage.Node, error) {
	path = common.NormalizePath(path)
	node, err := e.cat.ResolvePath(ctx, path)
	if err != nil {
		return nil, err
	}
	if !node.IsDir() {
		return nil, fmt.Errorf("readdir %q: %w", path, common.ErrNotDir)
	}
	children, err := e.cat.BunDB().Children(ctx, node.ID)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		e.applyStagedSize(common.JoinPath(path, child.Name), child)
	}
	return children, nil
}

// Readlink returns the target of the symlink at path.
func (e *Engine) Readlink(ctx context.Context, path string) (string, error) {
	node, err := e.cat.ResolvePath(ctx, common.NormalizePath(path))
	if err != nil {
		return "", err
	}
	if !node.IsSymlink() {
		return "", fmt.Errorf("readlink %q: %w", path, common.ErrInvalidPath)
	}
	return node.SymlinkTarget, nil
}

func (e *Engine) applyStagedSize(path string, node *storage.Node) {
	if !node.IsRegular() {
		return
	}
	if end, ok := e.staging.end(path); ok && end > node.Size {
		node.Size = end
	}
}

// fetchBlob returns the bytes of a blob, serving from the cache when
// possible and caching fresh downloads. Callers must treat the result
// as read-only.
func (e *Engine) fetchBlob(ctx context.Context, id string) ([]byte, error) {
	if data, ok := e.blobCache.Get(id); ok {
		return data, nil
	}
	data, err := e.store.Download(ctx, id)
	if err != nil {
		return nil, err
	}
	e.blobCache.Put(id, data)
	return data, nil
}
