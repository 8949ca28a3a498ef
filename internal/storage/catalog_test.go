package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gramfs/internal/common"
)

// testCatalog creates a temporary catalog for testing.
// Uses t.TempDir() which automatically cleans up after the test.
func testCatalog(t *testing.T) (*Catalog, func()) {
	t.Helper()
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "test.gramfs")

	cat, err := Create(path, 0)
	require.NoError(t, err, "failed to create catalog")

	return cat, func() {
		cat.Close()
	}
}

func TestCreate(t *testing.T) {
	t.Parallel()

	t.Run("creates new catalog", func(t *testing.T) {
		t.Parallel()
		tmpDir := t.TempDir()
		path := filepath.Join(tmpDir, "new.gramfs")

		cat, err := Create(path, 0)
		require.NoError(t, err)
		defer cat.Close()

		// Verify file exists
		_, err = os.Stat(path)
		assert.NoError(t, err, "catalog file should exist")

		// Verify path is returned correctly
		assert.Equal(t, path, cat.Path())

		// Default chunk size is adopted
		assert.Equal(t, int64(DefaultChunkSize), cat.ChunkSize())

		// Verify root node exists
		root, err := cat.BunDB().NodeByID(context.Background(), RootNodeID)
		require.NoError(t, err)
		assert.True(t, root.IsDir(), "root node should be a directory")
		assert.Equal(t, uint32(RootDirMode), root.Mode)
		assert.Equal(t, int64(DirSize), root.Size)
	})

	t.Run("fails when file already exists", func(t *testing.T) {
		t.Parallel()
		cat, cleanup := testCatalog(t)
		defer cleanup()

		_, err := Create(cat.Path(), 0)
		assert.Error(t, err, "Create() should fail when file exists")
	})

	t.Run("rejects negative chunk size", func(t *testing.T) {
		t.Parallel()
		tmpDir := t.TempDir()
		_, err := Create(filepath.Join(tmpDir, "bad.gramfs"), -1)
		assert.Error(t, err)
	})
}

func TestOpen(t *testing.T) {
	t.Parallel()

	t.Run("reopens existing catalog", func(t *testing.T) {
		t.Parallel()
		cat, cleanup := testCatalog(t)
		path := cat.Path()
		cat.Close()
		defer cleanup()

		cat2, err := Open(path)
		require.NoError(t, err)
		defer cat2.Close()

		root, err := cat2.BunDB().NodeByID(context.Background(), RootNodeID)
		require.NoError(t, err)
		assert.True(t, root.IsDir(), "root node should be a directory")
	})

	t.Run("adopts persisted chunk size", func(t *testing.T) {
		t.Parallel()
		tmpDir := t.TempDir()
		path := filepath.Join(tmpDir, "small.gramfs")

		cat, err := Create(path, 4096)
		require.NoError(t, err)
		cat.Close()

		cat2, err := Open(path)
		require.NoError(t, err)
		defer cat2.Close()
		assert.Equal(t, int64(4096), cat2.ChunkSize())
	})

	t.Run("fails for nonexistent file", func(t *testing.T) {
		t.Parallel()
		_, err := Open("/nonexistent/path/file.gramfs")
		assert.Error(t, err)
	})
}

func TestResolvePath(t *testing.T) {
	t.Parallel()

	seed := func(t *testing.T, cat *Catalog) (dirID, fileID int64) {
		t.Helper()
		ctx := context.Background()
		now := time.Now()
		dirID, err := cat.BunDB().CreateNode(ctx, &Node{
			ParentID:   RootNodeID,
			Name:       "docs",
			Mode:       DefaultDirMode,
			Size:       DirSize,
			CreatedAt:  now,
			UpdatedAt:  now,
			AccessedAt: now,
		})
		require.NoError(t, err)
		fileID, err = cat.BunDB().CreateNode(ctx, &Node{
			ParentID:   dirID,
			Name:       "notes.txt",
			Mode:       DefaultFileMode,
			CreatedAt:  now,
			UpdatedAt:  now,
			AccessedAt: now,
		})
		require.NoError(t, err)
		return dirID, fileID
	}

	t.Run("root resolves to root node", func(t *testing.T) {
		t.Parallel()
		cat, cleanup := testCatalog(t)
		defer cleanup()

		for _, path := range []string{"", "/", "//"} {
			node, err := cat.ResolvePath(context.Background(), path)
			require.NoError(t, err, "path %q", path)
			assert.Equal(t, int64(RootNodeID), node.ID)

			ids, err := cat.ResolvePathChain(context.Background(), path)
			require.NoError(t, err, "path %q", path)
			assert.Equal(t, []int64{RootNodeID}, ids)
		}
	})

	t.Run("walks nested components", func(t *testing.T) {
		t.Parallel()
		cat, cleanup := testCatalog(t)
		defer cleanup()
		dirID, fileID := seed(t, cat)

		node, err := cat.ResolvePath(context.Background(), "/docs/notes.txt")
		require.NoError(t, err)
		assert.Equal(t, fileID, node.ID)
		assert.Equal(t, "notes.txt", node.Name)
		assert.True(t, node.IsRegular())

		ids, err := cat.ResolvePathChain(context.Background(), "/docs/notes.txt")
		require.NoError(t, err)
		assert.Equal(t, []int64{RootNodeID, dirID, fileID}, ids)
	})

	t.Run("missing component returns ErrNotFound", func(t *testing.T) {
		t.Parallel()
		cat, cleanup := testCatalog(t)
		defer cleanup()
		seed(t, cat)

		_, err := cat.ResolvePath(context.Background(), "/docs/missing.txt")
		assert.ErrorIs(t, err, common.ErrNotFound)

		_, err = cat.ResolvePathChain(context.Background(), "/nope/notes.txt")
		assert.ErrorIs(t, err, common.ErrNotFound)
	})

	t.Run("file as intermediate component returns ErrNotDir", func(t *testing.T) {
		t.Parallel()
		cat, cleanup := testCatalog(t)
		defer cleanup()
		seed(t, cat)

		_, err := cat.ResolvePath(context.Background(), "/docs/notes.txt/deeper")
		assert.ErrorIs(t, err, common.ErrNotDir)

		_, err = cat.ResolvePathChain(context.Background(), "/docs/notes.txt/deeper")
		assert.ErrorIs(t, err, common.ErrNotDir)
	})
}

func TestCloseRemovesWalFiles(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "walclean.gramfs")

	cat, err := Create(path, 0)
	require.NoError(t, err)

	// Produce some WAL activity before closing
	_, err = cat.BunDB().CreateNode(context.Background(), &Node{
		ParentID:   RootNodeID,
		Name:       "touch",
		Mode:       DefaultFileMode,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
		AccessedAt: time.Now(),
	})
	require.NoError(t, err)

	require.NoError(t, cat.Close())

	_, err = os.Stat(path + "-wal")
	assert.True(t, os.IsNotExist(err), "-wal file should be removed on close")
	_, err = os.Stat(path + "-shm")
	assert.True(t, os.IsNotExist(err), "-shm file should be removed on close")
}

func TestStats(t *testing.T) {
	t.Parallel()
	cat, cleanup := testCatalog(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Now()
	dirID, err := cat.BunDB().CreateNode(ctx, &Node{
		ParentID: RootNodeID, Name: "docs", Mode: DefaultDirMode, Size: DirSize,
		CreatedAt: now, UpdatedAt: now, AccessedAt: now,
	})
	require.NoError(t, err)

	fileID, err := cat.BunDB().CreateNode(ctx, &Node{
		ParentID: dirID, Name: "a.bin", Mode: DefaultFileMode, Size: 100,
		CreatedAt: now, UpdatedAt: now, AccessedAt: now,
	})
	require.NoError(t, err)
	require.NoError(t, cat.BunDB().UpsertChunk(ctx, fileID, 0, "blob-0"))
	require.NoError(t, cat.BunDB().UpsertChunk(ctx, fileID, 1, "blob-1"))

	_, err = cat.BunDB().CreateNode(ctx, &Node{
		ParentID: RootNodeID, Name: "link", Mode: ModeSymlink | 0777,
		SymlinkTarget: "docs/a.bin", Size: 10,
		CreatedAt: now, UpdatedAt: now, AccessedAt: now,
	})
	require.NoError(t, err)

	stats, err := cat.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Files)
	assert.Equal(t, int64(1), stats.Dirs, "root is not counted")
	assert.Equal(t, int64(1), stats.Symlinks)
	assert.Equal(t, int64(2), stats.Chunks)
	assert.Equal(t, int64(100), stats.LogicalBytes, "symlink sizes are not content")
	assert.Equal(t, SchemaVersion, stats.Version)
	assert.Equal(t, cat.ChunkSize(), stats.ChunkSize)
}
