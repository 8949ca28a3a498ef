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
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const SchemaVersion = "1"

// DefaultChunkSize is the chunk size written into a freshly created catalog.
// The effective chunk size is always the one persisted in fs_info: changing
// it on an existing catalog would scramble the offset arithmetic of every
// file already stored.
const DefaultChunkSize = 20 * 1024 * 1024 // 20MB, the bot document upload limit

// Default busy_timeout in milliseconds (30 seconds)
const DefaultBusyTimeout = 30000

// Environment variable names for busy_timeout configuration
const (
	// EnvBusyTimeout is the general busy_timeout override for all contexts
	EnvBusyTimeout = "GRAMFS_BUSY_TIMEOUT"
	// EnvDaemonBusyTimeout is the busy_timeout for daemon (NFS server) database access
	EnvDaemonBusyTimeout = "GRAMFS_DAEMON_BUSY_TIMEOUT"
	// EnvCLIBusyTimeout is the busy_timeout for CLI database access
	EnvCLIBusyTimeout = "GRAMFS_CLI_BUSY_TIMEOUT"
)

// DBContext indicates the context in which the database is being accessed
type DBContext int

const (
	// DBContextDefault uses the general busy_timeout
	DBContextDefault DBContext = iota
	// DBContextDaemon uses the daemon-specific busy_timeout
	DBContextDaemon
	// DBContextCLI uses the CLI-specific busy_timeout
	DBContextCLI
)

// Package-level config values (set via SetConfigBusyTimeouts)
var (
	configDaemonBusyTimeout int
	configCLIBusyTimeout    int
)

// SetConfigBusyTimeouts sets the config-based busy_timeout values.
// This should be called by daemon/CLI after loading the config file.
// Values of 0 are ignored (use env var or default).
func SetConfigBusyTimeouts(daemonTimeout, cliTimeout int) {
	configDaemonBusyTimeout = daemonTimeout
	configCLIBusyTimeout = cliTimeout
}

// GetBusyTimeout returns the busy_timeout value for the given context.
// Priority: specific env (daemon/cli) > general env > config file > default
func GetBusyTimeout(ctx DBContext) int {
	// Check context-specific env var first
	var specificEnv string
	var configTimeout int
	switch ctx {
	case DBContextDaemon:
		specificEnv = EnvDaemonBusyTimeout
		configTimeout = configDaemonBusyTimeout
	case DBContextCLI:
		specificEnv = EnvCLIBusyTimeout
		configTimeout = configCLIBusyTimeout
	}

	if specificEnv != "" {
		if val := os.Getenv(specificEnv); val != "" {
			if timeout, err := strconv.Atoi(val); err == nil && timeout > 0 {
				return timeout
			}
		}
	}

	// Check general env var
	if val := os.Getenv(EnvBusyTimeout); val != "" {
		if timeout, err := strconv.Atoi(val); err == nil && timeout > 0 {
			return timeout
		}
	}

	// Check config file value
	if configTimeout > 0 {
		return configTimeout
	}

	// Return default
	return DefaultBusyTimeout
}

// BuildDSN builds the SQLite DSN with the appropriate busy_timeout for the context
func BuildDSN(path string, ctx DBContext) string {
	timeout := GetBusyTimeout(ctx)
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=%d", path, timeout)
}

// File mode constants (POSIX)
const (
	ModeDir     = 0040000 // Directory
	ModeFile    = 0100000 // Regular file
	ModeSymlink = 0120000 // Symbolic link
	ModeMask    = 0170000 // Type mask
)

// Default permissions
const (
	DefaultDirMode  = ModeDir | 0755  // rwxr-xr-x
	DefaultFileMode = ModeFile | 0644 // rw-r--r--
	RootDirMode     = ModeDir | 0777  // rwxrwxrwx, the seeded root
)

// RootNodeID is the node id of the filesystem root, seeded at init time.
const RootNodeID = 1

// DirSize is the nominal size reported for directories. Directory content
// lives in the catalog, not in chunks, so the value is a fixed placeholder.
const DirSize = 512

// Schema SQL for the catalog
const catalogSchema = `
-- Catalog metadata (schema version, chunk size)
CREATE TABLE IF NOT EXISTS fs_info (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

-- File tree: one row per file, directory, or symlink.
-- The type is derived: is_directory marks directories, a non-NULL
-- symlink_target marks symlinks, everything else is a regular file.
-- Permissions are nine booleans, collapsed to a POSIX mode in Go.
CREATE TABLE IF NOT EXISTS nodes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    parent_id INTEGER,
    name TEXT NOT NULL,
    is_directory INTEGER NOT NULL DEFAULT 0,
    symlink_target TEXT,
    size INTEGER NOT NULL DEFAULT 0,
    uid INTEGER NOT NULL DEFAULT 0,
    gid INTEGER NOT NULL DEFAULT 0,
    user_read INTEGER NOT NULL DEFAULT 1,
    user_write INTEGER NOT NULL DEFAULT 1,
    user_exec INTEGER NOT NULL DEFAULT 0,
    group_read INTEGER NOT NULL DEFAULT 1,
    group_write INTEGER NOT NULL DEFAULT 0,
    group_exec INTEGER NOT NULL DEFAULT 0,
    other_read INTEGER NOT NULL DEFAULT 1,
    other_write INTEGER NOT NULL DEFAULT 0,
    other_exec INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    accessed_at INTEGER NOT NULL,
    UNIQUE (parent_id, name),
    FOREIGN KEY (parent_id) REFERENCES nodes(id)
);

-- Index for directory listings
CREATE INDEX IF NOT EXISTS idx_nodes_parent ON nodes(parent_id);

-- Remote chunk references: one row per chunk of a regular file.
-- blob_id is NULL for a sequence slot that is allocated but not yet
-- flushed, or sparse; reads treat it as zeros. Sequences per node form
-- a contiguous range starting at 0.
CREATE TABLE IF NOT EXISTS chunks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    node_id INTEGER NOT NULL,
    seq INTEGER NOT NULL,
    blob_id TEXT,
    UNIQUE (node_id, seq),
    FOREIGN KEY (node_id) REFERENCES nodes(id)
);
`

// Initial data for a fresh catalog
const initCatalog = `
INSERT OR IGNORE INTO fs_info (key, value) VALUES ('version', ?);
INSERT OR IGNORE INTO fs_info (key, value) VALUES ('type', 'gramfs');
INSERT OR IGNORE INTO fs_info (key, value) VALUES ('chunk_size', ?);
INSERT OR IGNORE INTO fs_info (key, value) VALUES ('created_at', datetime('now'));

-- Root directory node (id=1, mode=0040777)
INSERT OR IGNORE INTO nodes (
    id, parent_id, name, is_directory, size, uid, gid,
    user_read, user_write, user_exec,
    group_read, group_write, group_exec,
    other_read, other_write, other_exec,
    created_at, updated_at, accessed_at)
VALUES (1, NULL, '/', 1, 512, 0, 0, 1, 1, 1, 1, 1, 1, 1, 1, 1, unixepoch(), unixepoch(), unixepoch());
`

// execStatements executes multiple SQL statements separated by semicolons.
// libsql driver doesn't support multi-statement Exec, so we split and execute individually.
func execStatements(db *sql.DB, sqlScript string, args ...interface{}) error {
	statements := splitStatements(sqlScript)
	argIdx := 0
	for _, stmt := range statements {
		if stmt == "" {
			continue
		}
		// Count placeholders in this statement
		placeholders := strings.Count(stmt, "?")
		stmtArgs := args[argIdx : argIdx+placeholders]
		argIdx += placeholders
		if _, err := db.Exec(stmt, stmtArgs...); err != nil {
			return err
		}
	}
	return nil
}

// splitStatements splits a SQL script into individual statements
func splitStatements(script string) []string {
	var statements []string
	var current strings.Builder

	lines := strings.Split(script, "\n")
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		// Skip comments and empty lines
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")
		if strings.HasSuffix(trimmed, ";") {
			statements = append(statements, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}
	// Handle any remaining content
	if current.Len() > 0 {
		stmt := strings.TrimSpace(current.String())
		if stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements
}
