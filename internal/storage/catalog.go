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

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strconv"

	_ "github.com/tursodatabase/go-libsql"
	"github.com/uptrace/bun"

	"gramfs/internal/common"
)

// Catalog is the SQLite-backed metadata store of one gramfs filesystem:
// the file tree, node attributes, and the chunk references pointing into
// the remote blob store. It is the single source of truth for both; no
// caller caches catalog state across operations.
type Catalog struct {
	path      string
	db        *sql.DB
	bunDB     *BunDB
	chunkSize int64
}

// execPragma runs a PRAGMA statement using Query (not Exec) because libsql
// returns rows for PRAGMA statements. The result rows are drained and closed.
func execPragma(db *sql.DB, pragma string) error {
	rows, err := db.Query(pragma)
	if err != nil {
		return err
	}
	rows.Close()
	return nil
}

// applyPragmas sets essential PRAGMAs after opening a libsql connection.
// libsql ignores DSN-based _pragma=value parameters, so all PRAGMAs must be
// set explicitly via SQL statements after the connection is opened.
func applyPragmas(db *sql.DB, ctx DBContext) error {
	// Busy timeout MUST be set first — all subsequent PRAGMAs (especially
	// journal_mode=WAL which needs exclusive access) will wait for locks
	// instead of failing immediately with "database is locked".
	busyTimeout := GetBusyTimeout(ctx)
	if err := execPragma(db, fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout)); err != nil {
		return fmt.Errorf("failed to set busy_timeout: %w", err)
	}

	// WAL mode: enables concurrent readers during writes, reduces lock contention.
	// Must be set via explicit PRAGMA — libsql ignores _journal_mode in DSN.
	// journal_mode conversion requires exclusive file access; with busy_timeout
	// set above, this will wait rather than fail on transient locks.
	if err := execPragma(db, "PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to set journal_mode=WAL: %w", err)
	}

	// synchronous=NORMAL: WAL mode with NORMAL sync is safe against process crashes
	// (only vulnerable to OS crash / power loss). Avoids fsync on every commit.
	if err := execPragma(db, "PRAGMA synchronous=NORMAL"); err != nil {
		return fmt.Errorf("failed to set synchronous=NORMAL: %w", err)
	}

	// Foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// Larger cache for better read performance (default is ~2MB, set to 8MB).
	if err := execPragma(db, "PRAGMA cache_size = -8000"); err != nil {
		return fmt.Errorf("failed to set cache_size: %w", err)
	}

	// Memory-map I/O for reads (256MB). Reduces read() syscalls for hot data.
	// Failure is non-fatal (may not be supported on all platforms).
	_ = execPragma(db, "PRAGMA mmap_size = 268435456")

	return nil
}

// Create creates a new gramfs catalog with default context.
// A chunkSize of 0 selects DefaultChunkSize.
func Create(path string, chunkSize int64) (*Catalog, error) {
	return CreateWithContext(path, chunkSize, DBContextDefault)
}

// CreateWithContext creates a new gramfs catalog with the specified context.
func CreateWithContext(path string, chunkSize int64, ctx DBContext) (*Catalog, error) {
	if chunkSize < 0 {
		return nil, fmt.Errorf("invalid chunk size: %d", chunkSize)
	}
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}

	// Check if file already exists
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("file already exists: %s", path)
	}

	// Create SQLite database
	db, err := sql.Open("libsql", BuildDSN(path, ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	// Apply all PRAGMAs (WAL, synchronous, foreign keys, busy_timeout, cache, mmap).
	// Must be explicit — libsql ignores DSN-based _pragma=value parameters.
	if err := applyPragmas(db, ctx); err != nil {
		db.Close()
		os.Remove(path)
		return nil, err
	}

	// Create schema (execute statements individually for libsql compatibility)
	if err := execStatements(db, catalogSchema); err != nil {
		db.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	// Seed fs_info and the root directory
	if err := execStatements(db, initCatalog, SchemaVersion, strconv.FormatInt(chunkSize, 10)); err != nil {
		db.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to initialize root: %w", err)
	}

	return &Catalog{
		path:      path,
		db:        db,
		bunDB:     NewBunDB(db),
		chunkSize: chunkSize,
	}, nil
}

// Open opens an existing gramfs catalog with default context
func Open(path string) (*Catalog, error) {
	return OpenWithContext(path, DBContextDefault)
}

// OpenWithContext opens an existing gramfs catalog with the specified context.
// It refuses catalogs of unknown type or schema version, and always adopts
// the persisted chunk size.
func OpenWithContext(path string, ctx DBContext) (*Catalog, error) {
	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("file not found: %s", path)
	}

	// Open SQLite database
	db, err := sql.Open("libsql", BuildDSN(path, ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Apply all PRAGMAs (WAL, synchronous, foreign keys, busy_timeout, cache, mmap).
	// Must be explicit — libsql ignores DSN-based _pragma=value parameters.
	if err := applyPragmas(db, ctx); err != nil {
		db.Close()
		return nil, err
	}

	bunDB := NewBunDB(db)
	bgCtx := context.Background()

	// Verify it's a gramfs catalog
	fileType, err := bunDB.GetFsInfo(bgCtx, "type")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read fs info: %w", err)
	}
	if fileType != "gramfs" {
		db.Close()
		return nil, fmt.Errorf("not a gramfs catalog (type=%s)", fileType)
	}

	version, err := bunDB.GetFsInfo(bgCtx, "version")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read schema version: %w", err)
	}
	if version != SchemaVersion {
		db.Close()
		return nil, fmt.Errorf("unsupported schema version %q (want %q)", version, SchemaVersion)
	}

	// The persisted chunk size governs all offset arithmetic for this
	// catalog; a configured value never overrides it.
	chunkSizeStr, err := bunDB.GetFsInfo(bgCtx, "chunk_size")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read chunk size: %w", err)
	}
	chunkSize, err := strconv.ParseInt(chunkSizeStr, 10, 64)
	if err != nil || chunkSize <= 0 {
		db.Close()
		return nil, fmt.Errorf("invalid chunk size in catalog: %q", chunkSizeStr)
	}

	return &Catalog{
		path:      path,
		db:        db,
		bunDB:     bunDB,
		chunkSize: chunkSize,
	}, nil
}

// Close closes the database connection and cleans up WAL files.
// It performs a TRUNCATE checkpoint to merge WAL data into the main database,
// then removes the -wal and -shm files.
func (c *Catalog) Close() error {
	if c.db == nil {
		return nil
	}

	// Checkpoint WAL to merge all transactions into main database and truncate WAL
	// TRUNCATE mode: checkpoint and then truncate the WAL file to zero bytes
	// Note: PRAGMA wal_checkpoint returns rows, so we must use Query() not Exec()
	rows, err := c.db.Query("PRAGMA wal_checkpoint(TRUNCATE)")
	if err != nil {
		// Log but don't fail - the close is more important
		log.Printf("warning: WAL checkpoint failed: %v", err)
	} else {
		rows.Close()
	}

	// Close the database connection
	if err := c.db.Close(); err != nil {
		return err
	}

	// Remove WAL and SHM files if they exist
	walPath := c.path + "-wal"
	shmPath := c.path + "-shm"
	os.Remove(walPath) // Ignore errors - files may not exist
	os.Remove(shmPath)

	return nil
}

// Path returns the catalog file path
func (c *Catalog) Path() string {
	return c.path
}

// DB returns the underlying *sql.DB for use with Bun or other wrappers.
func (c *Catalog) DB() *sql.DB {
	return c.db
}

// BunDB returns the Bun database wrapper.
func (c *Catalog) BunDB() *BunDB {
	return c.bunDB
}

// ChunkSize returns the chunk size persisted in this catalog.
func (c *Catalog) ChunkSize() int64 {
	return c.chunkSize
}

// --- Path resolution ---

// ResolvePathChain walks the tree from the root and returns the node id of
// every component, root first. The empty path and "/" resolve to [RootNodeID].
// Returns common.ErrNotFound on the first component with no match; callers
// must not partially apply a failed resolution.
func (c *Catalog) ResolvePathChain(ctx context.Context, path string) ([]int64, error) {
	return c.resolvePathChainWith(c.bunDB.DB, ctx, path)
}

// ResolvePathChainWith is like ResolvePathChain but uses the provided bun.IDB.
func (c *Catalog) ResolvePathChainWith(idb bun.IDB, ctx context.Context, path string) ([]int64, error) {
	return c.resolvePathChainWith(idb, ctx, path)
}

func (c *Catalog) resolvePathChainWith(idb bun.IDB, ctx context.Context, path string) ([]int64, error) {
	names := common.SplitPath(path)
	ids := make([]int64, 1, len(names)+1)
	ids[0] = RootNodeID
	parentID := int64(RootNodeID)
	for i, name := range names {
		node, err := c.bunDB.LookupWith(idb, ctx, parentID, name)
		if err != nil {
			return nil, err
		}
		if i < len(names)-1 && !node.IsDir() {
			return nil, fmt.Errorf("resolve %q: %w", path, common.ErrNotDir)
		}
		ids = append(ids, node.ID)
		parentID = node.ID
	}
	return ids, nil
}

// ResolvePath walks the tree from the root and returns the node the path
// names. The empty path and "/" resolve to the root node.
func (c *Catalog) ResolvePath(ctx context.Context, path string) (*Node, error) {
	return c.resolvePathWith(c.bunDB.DB, ctx, path)
}

// ResolvePathWith is like ResolvePath but uses the provided bun.IDB.
func (c *Catalog) ResolvePathWith(idb bun.IDB, ctx context.Context, path string) (*Node, error) {
	return c.resolvePathWith(idb, ctx, path)
}

func (c *Catalog) resolvePathWith(idb bun.IDB, ctx context.Context, path string) (*Node, error) {
	names := common.SplitPath(path)
	node, err := c.bunDB.NodeByIDWith(idb, ctx, RootNodeID)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		if !node.IsDir() {
			return nil, fmt.Errorf("resolve %q: %w", path, common.ErrNotDir)
		}
		node, err = c.bunDB.LookupWith(idb, ctx, node.ID, name)
		if err != nil {
			return nil, err
		}
	}
	return node, nil
}

// RunInTx wraps the given function in a single SQLite transaction.
// All tx-aware methods called within fn share the same transaction.
func (c *Catalog) RunInTx(ctx context.Context, fn func(ctx context.Context, tx bun.Tx) error) error {
	return c.bunDB.RunInTx(ctx, nil, fn)
}

// CatalogStats summarizes the catalog contents.
type CatalogStats struct {
	Files        int64
	Dirs         int64
	Symlinks     int64
	Chunks       int64
	LogicalBytes int64 // sum of regular-file sizes
	ChunkSize    int64
	Version      string
	CreatedAt    string
}

// Stats counts nodes by type, chunk records, and logical bytes.
func (c *Catalog) Stats(ctx context.Context) (*CatalogStats, error) {
	stats := &CatalogStats{ChunkSize: c.chunkSize}

	var err error
	if stats.Version, err = c.bunDB.GetFsInfo(ctx, "version"); err != nil {
		return nil, err
	}
	if stats.CreatedAt, err = c.bunDB.GetFsInfo(ctx, "created_at"); err != nil {
		return nil, err
	}

	// The root is a directory node too; report only what lives under it.
	row := c.db.QueryRowContext(ctx, `
		SELECT
			COUNT(CASE WHEN is_directory = 0 AND symlink_target IS NULL THEN 1 END),
			COUNT(CASE WHEN is_directory = 1 AND id != ? THEN 1 END),
			COUNT(CASE WHEN symlink_target IS NOT NULL THEN 1 END),
			COALESCE(SUM(CASE WHEN is_directory = 0 AND symlink_target IS NULL THEN size END), 0)
		FROM nodes`, RootNodeID)
	if err := row.Scan(&stats.Files, &stats.Dirs, &stats.Symlinks, &stats.LogicalBytes); err != nil {
		return nil, err
	}

	row = c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`)
	if err := row.Scan(&stats.Chunks); err != nil {
		return nil, err
	}
	return stats, nil
}
