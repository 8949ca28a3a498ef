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

// Package integration exercises the full stack in-process: catalog,
// staging, flusher, blob store, and the VFS layer wired together the way
// the daemon wires them, minus the NFS transport. Tests that need a
// ticking flusher use short intervals so nothing waits on wall-clock
// defaults.
package integration

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gramfs/internal/blob"
	"gramfs/internal/engine"
	"gramfs/internal/storage"
	"gramfs/internal/vfs"
)

const (
	// testChunkSize keeps multi-chunk files tiny.
	testChunkSize = 8

	// Flusher timings for tests that start the background loop.
	testFlushInterval = 20 * time.Millisecond
	testIdleThreshold = 40 * time.Millisecond

	// eventuallyTimeout bounds every wait on the background flusher.
	eventuallyTimeout = 5 * time.Second
)

// stack is the assembled system under test.
type stack struct {
	cat   *storage.Catalog
	store *blob.MemoryStore
	eng   *engine.Engine
	fs    *vfs.GramFS
}

// newStack builds an engine with the test chunk size over a fresh
// catalog and in-memory store. The flusher is configured with fast test
// timings but not started; call eng.Start for background-flush tests.
func newStack(t *testing.T, opts engine.Options) *stack {
	t.Helper()
	return newStackWithStore(t, blob.NewMemoryStore(0), opts)
}

// newStackWithStore is newStack over a caller-provided blob store.
func newStackWithStore(t *testing.T, store blob.Store, opts engine.Options) *stack {
	t.Helper()

	cat, err := storage.Create(filepath.Join(t.TempDir(), "test.gramfs"), testChunkSize)
	require.NoError(t, err, "failed to create catalog")
	t.Cleanup(func() { cat.Close() })

	if opts.FlushInterval == 0 {
		opts.FlushInterval = testFlushInterval
	}
	if opts.IdleThreshold == 0 {
		opts.IdleThreshold = testIdleThreshold
	}

	eng, err := engine.New(cat, store, opts)
	require.NoError(t, err, "failed to build engine")
	t.Cleanup(func() { eng.Close(context.Background()) })

	mem, _ := store.(*blob.MemoryStore)
	return &stack{cat: cat, store: mem, eng: eng, fs: vfs.NewGramFS(eng)}
}

// writeFile creates or overwrites path with content through the engine.
func (s *stack) writeFile(t *testing.T, path, content string) {
	t.Helper()
	ctx := context.Background()
	if _, err := s.eng.Stat(ctx, path); err != nil {
		_, err = s.eng.Create(ctx, path, storage.DefaultFileMode, 0, 0)
		require.NoError(t, err, "create %s", path)
	}
	n, err := s.eng.Write(ctx, path, 0, []byte(content))
	require.NoError(t, err, "write %s", path)
	require.Equal(t, len(content), n)
}

// readFile reads up to n bytes of path through the engine.
func (s *stack) readFile(t *testing.T, path string, n int) string {
	t.Helper()
	data, err := s.eng.Read(context.Background(), path, 0, n)
	require.NoError(t, err, "read %s", path)
	return string(data)
}

// flush drains every staging region and fails the test on error.
func (s *stack) flush(t *testing.T) {
	t.Helper()
	require.NoError(t, s.eng.FlushAll(context.Background()))
}

// stagedRegions returns how many paths currently hold staged bytes.
func (s *stack) stagedRegions() int {
	regions, _ := s.eng.StagedStats()
	return regions
}
