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
	"time"

	"github.com/uptrace/bun"
)

// Bun ORM models for the catalog tables. The row models mirror the SQL
// schema (nine permission booleans, nullable parent/symlink/blob columns);
// the rest of the codebase works with the plain Node and Chunk structs and
// a POSIX mode integer.

// fsInfoRow represents the fs_info table
type fsInfoRow struct {
	bun.BaseModel `bun:"table:fs_info"`

	Key   string `bun:"key,pk"`
	Value string `bun:"value,notnull"`
}

// nodeRow represents the nodes table.
// Note: times are stored as Unix timestamps in the database.
type nodeRow struct {
	bun.BaseModel `bun:"table:nodes"`

	ID            int64  `bun:"id,pk,autoincrement"`
	ParentID      int64  `bun:"parent_id,nullzero"` // NULL (0) only for the root
	Name          string `bun:"name,notnull"`
	IsDirectory   bool   `bun:"is_directory,notnull"`
	SymlinkTarget string `bun:"symlink_target,nullzero"`
	Size          int64  `bun:"size,notnull"`
	UID           int64  `bun:"uid,notnull"`
	GID           int64  `bun:"gid,notnull"`
	UserRead      bool   `bun:"user_read,notnull"`
	UserWrite     bool   `bun:"user_write,notnull"`
	UserExec      bool   `bun:"user_exec,notnull"`
	GroupRead     bool   `bun:"group_read,notnull"`
	GroupWrite    bool   `bun:"group_write,notnull"`
	GroupExec     bool   `bun:"group_exec,notnull"`
	OtherRead     bool   `bun:"other_read,notnull"`
	OtherWrite    bool   `bun:"other_write,notnull"`
	OtherExec     bool   `bun:"other_exec,notnull"`
	CreatedAt     int64  `bun:"created_at,notnull"`  // Unix timestamp
	UpdatedAt     int64  `bun:"updated_at,notnull"`  // Unix timestamp
	AccessedAt    int64  `bun:"accessed_at,notnull"` // Unix timestamp
}

// Mode collapses the row's type and permission columns into a POSIX mode.
func (r *nodeRow) Mode() uint32 {
	var mode uint32
	switch {
	case r.IsDirectory:
		mode = ModeDir
	case r.SymlinkTarget != "":
		mode = ModeSymlink
	default:
		mode = ModeFile
	}
	if r.UserRead {
		mode |= 0400
	}
	if r.UserWrite {
		mode |= 0200
	}
	if r.UserExec {
		mode |= 0100
	}
	if r.GroupRead {
		mode |= 0040
	}
	if r.GroupWrite {
		mode |= 0020
	}
	if r.GroupExec {
		mode |= 0010
	}
	if r.OtherRead {
		mode |= 0004
	}
	if r.OtherWrite {
		mode |= 0002
	}
	if r.OtherExec {
		mode |= 0001
	}
	return mode
}

// SetMode spreads a POSIX mode across the row's type and permission
// columns. The symlink type bit is carried by symlink_target, which the
// caller sets separately.
func (r *nodeRow) SetMode(mode uint32) {
	r.IsDirectory = mode&ModeMask == ModeDir
	r.UserRead = mode&0400 != 0
	r.UserWrite = mode&0200 != 0
	r.UserExec = mode&0100 != 0
	r.GroupRead = mode&0040 != 0
	r.GroupWrite = mode&0020 != 0
	r.GroupExec = mode&0010 != 0
	r.OtherRead = mode&0004 != 0
	r.OtherWrite = mode&0002 != 0
	r.OtherExec = mode&0001 != 0
}

// ToNode converts a nodeRow to the Node struct used outside the package
func (r *nodeRow) ToNode() *Node {
	return &Node{
		ID:            r.ID,
		ParentID:      r.ParentID,
		Name:          r.Name,
		Mode:          r.Mode(),
		Uid:           uint32(r.UID),
		Gid:           uint32(r.GID),
		Size:          r.Size,
		SymlinkTarget: r.SymlinkTarget,
		CreatedAt:     time.Unix(r.CreatedAt, 0),
		UpdatedAt:     time.Unix(r.UpdatedAt, 0),
		AccessedAt:    time.Unix(r.AccessedAt, 0),
	}
}

// nodeRowFromNode converts a Node to a nodeRow
func nodeRowFromNode(n *Node) *nodeRow {
	r := &nodeRow{
		ID:            n.ID,
		ParentID:      n.ParentID,
		Name:          n.Name,
		SymlinkTarget: n.SymlinkTarget,
		Size:          n.Size,
		UID:           int64(n.Uid),
		GID:           int64(n.Gid),
		CreatedAt:     n.CreatedAt.Unix(),
		UpdatedAt:     n.UpdatedAt.Unix(),
		AccessedAt:    n.AccessedAt.Unix(),
	}
	r.SetMode(n.Mode)
	return r
}

// chunkRow represents the chunks table
type chunkRow struct {
	bun.BaseModel `bun:"table:chunks"`

	ID     int64  `bun:"id,pk,autoincrement"`
	NodeID int64  `bun:"node_id,notnull"`
	Seq    int64  `bun:"seq,notnull"`
	BlobID string `bun:"blob_id,nullzero"` // NULL ("") until flushed
}

// ToChunk converts a chunkRow to the Chunk struct used outside the package
func (r *chunkRow) ToChunk() *Chunk {
	return &Chunk{
		ID:     r.ID,
		NodeID: r.NodeID,
		Seq:    r.Seq,
		BlobID: r.BlobID,
	}
}

// Node is one file-tree entry: a directory, regular file, or symlink.
type Node struct {
	ID            int64
	ParentID      int64 // 0 only for the root
	Name          string
	Mode          uint32 // type bits | permission bits
	Uid           uint32
	Gid           uint32
	Size          int64
	SymlinkTarget string // set only for symlinks
	CreatedAt     time.Time
	UpdatedAt     time.Time
	AccessedAt    time.Time
}

// IsDir returns true if the node is a directory
func (n *Node) IsDir() bool {
	return n.Mode&ModeMask == ModeDir
}

// IsSymlink returns true if the node is a symbolic link
func (n *Node) IsSymlink() bool {
	return n.Mode&ModeMask == ModeSymlink
}

// IsRegular returns true if the node is a regular file
func (n *Node) IsRegular() bool {
	return n.Mode&ModeMask == ModeFile
}

// Chunk is one remote chunk reference of a regular file.
type Chunk struct {
	ID     int64
	NodeID int64
	Seq    int64  // zero-based position within the file
	BlobID string // empty until flushed; reads as zeros
}

// NodeUpdate names the node fields an update may change.
// Nil fields are left untouched.
type NodeUpdate struct {
	Mode       *uint32 // permission bits only; the type bits never change
	Uid        *uint32
	Gid        *uint32
	Size       *int64
	UpdatedAt  *time.Time
	AccessedAt *time.Time
}
