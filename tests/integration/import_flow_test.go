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

package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gramfs/internal/engine"
)

// Import of a local tree, then reads through the VFS layer — the same
// route a client takes after 'gramfs import' followed by a mount.
func TestImportThenServeOverVFS(t *testing.T) {
	t.Parallel()
	s := newStack(t, engine.Options{})
	ctx := context.Background()

	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "nested"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "top.txt"), []byte("top level"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "nested", "deep.bin"),
		[]byte("0123456789abcdefghij"), 0644))

	result, err := s.eng.ImportDirectory(ctx, src, "/imported", engine.ImportConfig{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Files)
	assert.Equal(t, int64(9+20), result.CopiedBytes)

	// Imports flush per file; the store holds every chunk already.
	assert.Zero(t, s.stagedRegions())
	assert.NotZero(t, s.store.Len())

	fs := s.fs
	h, err := fs.Open("/imported/nested/deep.bin", os.O_RDONLY, 0)
	require.NoError(t, err)
	defer fs.Close(h)

	buf := make([]byte, 32)
	n, err := fs.Read(h, buf, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdefghij", string(buf[:n]))

	dh, err := fs.OpenDir("/imported")
	require.NoError(t, err)
	defer fs.Close(dh)
	entries, err := fs.ReadDir(dh, 0, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 4, `".", "..", top.txt, nested`)
}

// Re-importing a changed tree over the same destination converges on
// the new state without leaving stale nodes behind.
func TestImportIsIdempotentOverChanges(t *testing.T) {
	t.Parallel()
	s := newStack(t, engine.Options{})
	ctx := context.Background()

	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("version one"), 0644))

	_, err := s.eng.ImportDirectory(ctx, src, "/sync", engine.ImportConfig{})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("v2"), 0644))
	_, err = s.eng.ImportDirectory(ctx, src, "/sync", engine.ImportConfig{})
	require.NoError(t, err)

	node, err := s.eng.Stat(ctx, "/sync/a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(2), node.Size)

	data, err := s.eng.Read(ctx, "/sync/a.txt", 0, 100)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
}
