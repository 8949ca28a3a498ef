package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gramfs/internal/common"
)

// writeTree materializes a map of relative path -> content under dir.
// A trailing slash marks a directory; a "-> target" value a symlink.
func writeTree(t *testing.T, dir string, tree map[string]string) {
	t.Helper()
	for rel, content := range tree {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		switch {
		case rel[len(rel)-1] == '/':
			require.NoError(t, os.MkdirAll(path, 0755))
		case len(content) > 3 && content[:3] == "-> ":
			require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
			require.NoError(t, os.Symlink(content[3:], path))
		default:
			require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
			require.NoError(t, os.WriteFile(path, []byte(content), 0644))
		}
	}
}

func TestImportDirectory(t *testing.T) {
	t.Parallel()
	eng, _ := testEngine(t, 8, Options{})
	ctx := context.Background()

	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"readme.txt":      "hello import",
		"docs/":           "",
		"docs/a.txt":      "aaaa",
		"docs/deep/b.bin": "0123456789abcdef0123", // spans 3 chunks at size 8
		"link":            "-> readme.txt",
	})

	result, err := eng.ImportDirectory(ctx, src, "/in", ImportConfig{})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Files)
	assert.Equal(t, 1, result.Symlinks)
	assert.GreaterOrEqual(t, result.Dirs, 2)
	assert.Equal(t, int64(12+4+20), result.CopiedBytes)
	assert.Empty(t, result.SkippedPaths)

	// Content went through the flush path, so reads come from the store
	got, err := eng.Read(ctx, "/in/docs/deep/b.bin", 0, 20)
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdef0123", string(got))

	got, err = eng.Read(ctx, "/in/readme.txt", 0, 100)
	require.NoError(t, err)
	assert.Equal(t, "hello import", string(got))

	target, err := eng.Readlink(ctx, "/in/link")
	require.NoError(t, err)
	assert.Equal(t, "readme.txt", target)

	// Nothing left staged once the import returns
	regions, bytes := eng.StagedStats()
	assert.Zero(t, regions)
	assert.Zero(t, bytes)
}

func TestImportDirectory_Reimport(t *testing.T) {
	t.Parallel()
	eng, _ := testEngine(t, 4, Options{})
	ctx := context.Background()

	src := t.TempDir()
	writeTree(t, src, map[string]string{"f.txt": "long original content"})
	_, err := eng.ImportDirectory(ctx, src, "/", ImportConfig{})
	require.NoError(t, err)

	// Shrink the file and import again over the same destination
	require.NoError(t, os.WriteFile(filepath.Join(src, "f.txt"), []byte("tiny"), 0644))
	_, err = eng.ImportDirectory(ctx, src, "/", ImportConfig{})
	require.NoError(t, err)

	node, err := eng.Stat(ctx, "/f.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(4), node.Size, "old tail chunks must not survive a re-import")

	got, err := eng.Read(ctx, "/f.txt", 0, 100)
	require.NoError(t, err)
	assert.Equal(t, "tiny", string(got))
}

func TestImportDirectory_CapacityBoundedStaging(t *testing.T) {
	t.Parallel()
	// Capacity far below the file size forces mid-file flushes.
	eng, store := testEngine(t, 4, Options{StagingCapacity: 16})
	ctx := context.Background()

	src := t.TempDir()
	content := make([]byte, 100)
	for i := range content {
		content[i] = byte('a' + i%26)
	}
	require.NoError(t, os.WriteFile(filepath.Join(src, "big.bin"), content, 0644))

	result, err := eng.ImportDirectory(ctx, src, "/", ImportConfig{})
	require.NoError(t, err)
	assert.Equal(t, int64(100), result.CopiedBytes)

	got, err := eng.Read(ctx, "/big.bin", 0, 100)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.NotZero(t, store.Len())
}

func TestImportDirectory_Filters(t *testing.T) {
	t.Parallel()
	eng, _ := testEngine(t, 8, Options{})
	ctx := context.Background()

	src := t.TempDir()
	writeTree(t, src, map[string]string{
		".gitignore":     "*.log\nbuild/\n",
		"keep.txt":       "keep",
		"noise.log":      "noise",
		"build/out.bin":  "artifact",
		".hidden":        "dot",
		"sub/.gitignore": "secret.txt\n",
		"sub/secret.txt": "secret",
		"sub/open.txt":   "open",
	})

	filter := BuildFileFilter(src, true, nil, nil)
	_, err := eng.ImportDirectory(ctx, src, "/", ImportConfig{Filter: filter, SkipHidden: true})
	require.NoError(t, err)

	_, err = eng.Stat(ctx, "/keep.txt")
	assert.NoError(t, err)
	_, err = eng.Stat(ctx, "/sub/open.txt")
	assert.NoError(t, err)

	for _, gone := range []string{"/noise.log", "/build", "/.hidden", "/sub/secret.txt", "/.gitignore"} {
		_, err = eng.Stat(ctx, gone)
		assert.ErrorIs(t, err, common.ErrNotFound, "%s should have been filtered", gone)
	}
}

func TestBuildFileFilter_IncludesExcludes(t *testing.T) {
	t.Parallel()
	src := t.TempDir()
	writeTree(t, src, map[string]string{".gitignore": "vendor/\n"})

	filter := BuildFileFilter(src, true, []string{"vendor/keep"}, []string{"tmp"})

	assert.False(t, filter(".gramfs/catalog", false), ".gramfs is always excluded")
	assert.False(t, filter("tmp/scratch.txt", false), "excludes win")
	assert.True(t, filter("vendor/keep/mod.go", false), "includes override gitignore")
	assert.False(t, filter("vendor/other/mod.go", true), "gitignore applies elsewhere")
	assert.True(t, filter("src/main.go", false))
}
