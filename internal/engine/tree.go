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

package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"gramfs/internal/chunk"
	"gramfs/internal/common"
	"gramfs/internal/storage"
)

// resolveParent resolves the directory that must contain path and
// returns it together with the final name component.
func (e *Engine) resolveParent(ctx context.Context, path string) (*storage.Node, string, error) {
	name := common.BaseName(path)
	if name == "" {
		return nil, "", fmt.Errorf("%q: %w", path, common.ErrInvalidPath)
	}
	parent, err := e.cat.ResolvePath(ctx, common.ParentPath(path))
	if err != nil {
		return nil, "", err
	}
	if !parent.IsDir() {
		return nil, "", fmt.Errorf("%q: %w", common.ParentPath(path), common.ErrNotDir)
	}
	return parent, name, nil
}

// isUniqueViolation reports whether err is a SQLite uniqueness error,
// which surfaces when two creates race on the same (parent, name).
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}

// Mkdir creates a directory and returns its node.
func (e *Engine) Mkdir(ctx context.Context, path string, mode, uid, gid uint32) (*storage.Node, error) {
	path = common.NormalizePath(path)
	if path == "" {
		return nil, fmt.Errorf("mkdir: %w", common.ErrExists)
	}
	parent, name, err := e.resolveParent(ctx, path)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	node := &storage.Node{
		ParentID:   parent.ID,
		Name:       name,
		Mode:       storage.ModeDir | (mode & 0777),
		Uid:        uid,
		Gid:        gid,
		Size:       storage.DirSize,
		CreatedAt:  now,
		UpdatedAt:  now,
		AccessedAt: now,
	}
	if _, err := e.cat.BunDB().CreateNode(ctx, node); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("mkdir %q: %w", path, common.ErrExists)
		}
		return nil, err
	}
	return node, nil
}

// Create creates an empty regular file and returns its node. The file
// has no chunks until its first flush.
func (e *Engine) Create(ctx context.Context, path string, mode, uid, gid uint32) (*storage.Node, error) {
	path = common.NormalizePath(path)
	if path == "" {
		return nil, fmt.Errorf("create: %w", common.ErrExists)
	}
	parent, name, err := e.resolveParent(ctx, path)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	node := &storage.Node{
		ParentID:   parent.ID,
		Name:       name,
		Mode:       storage.ModeFile | (mode & 0777),
		Uid:        uid,
		Gid:        gid,
		CreatedAt:  now,
		UpdatedAt:  now,
		AccessedAt: now,
	}
	if _, err := e.cat.BunDB().CreateNode(ctx, node); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("create %q: %w", path, common.ErrExists)
		}
		return nil, err
	}
	return node, nil
}

// Symlink creates a symbolic link to target and returns its node.
func (e *Engine) Symlink(ctx context.Context, path, target string, uid, gid uint32) (*storage.Node, error) {
	path = common.NormalizePath(path)
	if path == "" {
		return nil, fmt.Errorf("symlink: %w", common.ErrExists)
	}
	if target == "" {
		return nil, fmt.Errorf("symlink %q: empty target: %w", path, common.ErrInvalidPath)
	}
	parent, name, err := e.resolveParent(ctx, path)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	node := &storage.Node{
		ParentID:      parent.ID,
		Name:          name,
		Mode:          storage.ModeSymlink | 0777,
		Uid:           uid,
		Gid:           gid,
		Size:          int64(len(target)),
		SymlinkTarget: target,
		CreatedAt:     now,
		UpdatedAt:     now,
		AccessedAt:    now,
	}
	if _, err := e.cat.BunDB().CreateNode(ctx, node); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("symlink %q: %w", path, common.ErrExists)
		}
		return nil, err
	}
	return node, nil
}

// Rmdir removes an empty directory.
func (e *Engine) Rmdir(ctx context.Context, path string) error {
	path = common.NormalizePath(path)
	if path == "" {
		return fmt.Errorf("rmdir: cannot remove the root: %w", common.ErrInvalidPath)
	}
	node, err := e.cat.ResolvePath(ctx, path)
	if err != nil {
		return err
	}
	if !node.IsDir() {
		return fmt.Errorf("rmdir %q: %w", path, common.ErrNotDir)
	}
	err = e.cat.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		has, err := e.cat.BunDB().HasChildrenWith(tx, ctx, node.ID)
		if err != nil {
			return err
		}
		if has {
			return fmt.Errorf("rmdir %q: %w", path, common.ErrNotEmpty)
		}
		return e.cat.BunDB().DeleteNodeWith(tx, ctx, node.ID)
	})
	if err != nil {
		return err
	}
	e.staging.discard(path)
	return nil
}

// Unlink removes a regular file or symlink together with its chunk
// records and discards any staged bytes. The remote blobs themselves
// are not touched; the store is append-only.
func (e *Engine) Unlink(ctx context.Context, path string) error {
	path = common.NormalizePath(path)
	if path == "" {
		return fmt.Errorf("unlink: %w", common.ErrInvalidPath)
	}
	node, err := e.cat.ResolvePath(ctx, path)
	if err != nil {
		return err
	}
	if node.IsDir() {
		return fmt.Errorf("unlink %q: %w", path, common.ErrIsDir)
	}

	// Wait out any in-flight flush of this path so its commit cannot
	// interleave with the delete.
	unlock := e.staging.lockFlush(path)
	defer unlock()

	err = e.cat.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		if err := e.cat.BunDB().DeleteChunksWith(tx, ctx, node.ID); err != nil {
			return err
		}
		return e.cat.BunDB().DeleteNodeWith(tx, ctx, node.ID)
	})
	if err != nil {
		return err
	}
	e.staging.discard(path)
	return nil
}

// Rename moves the node at oldPath to newPath, re-parenting and
// renaming in one catalog update. An existing target is replaced the
// POSIX way: files replace files, empty directories replace empty
// directories. Staged bytes follow the file to its new path.
func (e *Engine) Rename(ctx context.Context, oldPath, newPath string) error {
	oldPath = common.NormalizePath(oldPath)
	newPath = common.NormalizePath(newPath)
	if oldPath == "" || newPath == "" {
		return fmt.Errorf("rename: %w", common.ErrInvalidPath)
	}
	if oldPath == newPath {
		return nil
	}
	// Moving a directory under its own descendant would detach the
	// subtree from the root. Paths are canonical, so a prefix test is
	// exactly the ancestry test.
	if strings.HasPrefix(newPath, oldPath+"/") {
		return fmt.Errorf("rename %q into itself: %w", oldPath, common.ErrInvalidPath)
	}

	node, err := e.cat.ResolvePath(ctx, oldPath)
	if err != nil {
		return err
	}
	newParent, newName, err := e.resolveParent(ctx, newPath)
	if err != nil {
		return err
	}

	// Hold both paths' flush locks across the transaction and the
	// region handoff below. The old path's region must not drain
	// mid-rekey, and once the transaction commits, newPath resolves to
	// the moved node: a flush of the replaced target's leftover region
	// landing before the discard would write the dead file's bytes onto
	// it. Lock in path order so two renames cannot deadlock.
	first, second := oldPath, newPath
	if second < first {
		first, second = second, first
	}
	unlockFirst := e.staging.lockFlush(first)
	defer unlockFirst()
	unlockSecond := e.staging.lockFlush(second)
	defer unlockSecond()

	err = e.cat.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		existing, err := e.cat.BunDB().LookupWith(tx, ctx, newParent.ID, newName)
		switch {
		case err == nil:
			if existing.ID == node.ID {
				return nil
			}
			if existing.IsDir() {
				if !node.IsDir() {
					return fmt.Errorf("rename onto %q: %w", newPath, common.ErrIsDir)
				}
				has, err := e.cat.BunDB().HasChildrenWith(tx, ctx, existing.ID)
				if err != nil {
					return err
				}
				if has {
					return fmt.Errorf("rename onto %q: %w", newPath, common.ErrNotEmpty)
				}
			} else if node.IsDir() {
				return fmt.Errorf("rename onto %q: %w", newPath, common.ErrNotDir)
			}
			if err := e.cat.BunDB().DeleteChunksWith(tx, ctx, existing.ID); err != nil {
				return err
			}
			if err := e.cat.BunDB().DeleteNodeWith(tx, ctx, existing.ID); err != nil {
				return err
			}
		case !errors.Is(err, common.ErrNotFound):
			return err
		}
		return e.cat.BunDB().RenameWith(tx, ctx, node.ID, newParent.ID, newName)
	})
	if err != nil {
		return err
	}
	e.staging.discard(newPath)
	e.staging.rekey(oldPath, newPath)
	return nil
}

// Chmod replaces the permission bits of the node at path. The type
// bits never change.
func (e *Engine) Chmod(ctx context.Context, path string, mode uint32) error {
	node, err := e.cat.ResolvePath(ctx, common.NormalizePath(path))
	if err != nil {
		return err
	}
	newMode := (node.Mode & storage.ModeMask) | (mode &^ storage.ModeMask)
	return e.cat.BunDB().UpdateNode(ctx, node.ID, &storage.NodeUpdate{Mode: &newMode})
}

// Chown changes the owner and/or group of the node at path. A nil
// field is left unchanged.
func (e *Engine) Chown(ctx context.Context, path string, uid, gid *uint32) error {
	if uid == nil && gid == nil {
		return nil
	}
	node, err := e.cat.ResolvePath(ctx, common.NormalizePath(path))
	if err != nil {
		return err
	}
	return e.cat.BunDB().UpdateNode(ctx, node.ID, &storage.NodeUpdate{Uid: uid, Gid: gid})
}

// Utimens sets the access and/or modification time of the node at
// path. A nil field is left unchanged.
func (e *Engine) Utimens(ctx context.Context, path string, atime, mtime *time.Time) error {
	if atime == nil && mtime == nil {
		return nil
	}
	node, err := e.cat.ResolvePath(ctx, common.NormalizePath(path))
	if err != nil {
		return err
	}
	return e.cat.BunDB().UpdateNode(ctx, node.ID, &storage.NodeUpdate{
		AccessedAt: atime,
		UpdatedAt:  mtime,
	})
}

// Truncate sets the byte length of the file at path. Shrinking deletes
// the chunk records past the new end and reslices the one the new end
// falls inside; extending materializes sparse NULL records so the
// sequence range stays contiguous and the gap reads as zeros. Staged
// bytes past the new length are dropped so a later flush cannot
// resurrect them.
func (e *Engine) Truncate(ctx context.Context, path string, size int64) error {
	path = common.NormalizePath(path)
	if size < 0 {
		return fmt.Errorf("truncate %q: negative size %d", path, size)
	}
	node, err := e.cat.ResolvePath(ctx, path)
	if err != nil {
		return err
	}
	if node.IsDir() {
		return fmt.Errorf("truncate %q: %w", path, common.ErrIsDir)
	}

	// Wait out any in-flight flush, then cut the staged bytes first so
	// nothing past the new end can land afterwards.
	unlock := e.staging.lockFlush(path)
	defer unlock()
	e.staging.truncate(path, size)

	newCount := chunk.Count(e.chunkSize, size)
	lastLen := chunk.LastLen(e.chunkSize, size)

	// When the new end falls inside an uploaded chunk, the shortened
	// blob is uploaded before the catalog commit, like a flush.
	reslicedID := ""
	reslice := false
	if size < node.Size && lastLen > 0 && lastLen < chunkLogicalLen(e.chunkSize, node.Size, newCount-1) {
		records, err := e.cat.BunDB().Chunks(ctx, node.ID)
		if err != nil {
			return err
		}
		for _, c := range records {
			if c.Seq != newCount-1 || c.BlobID == "" {
				continue
			}
			data, err := e.fetchBlob(ctx, c.BlobID)
			if err != nil {
				return fmt.Errorf("truncate %q: fetch chunk %d (blob %s): %v: %w",
					path, c.Seq, c.BlobID, err, common.ErrIO)
			}
			if int64(len(data)) <= lastLen {
				break
			}
			id, err := e.store.Upload(ctx, data[:lastLen])
			if err != nil {
				return fmt.Errorf("truncate %q: upload resliced chunk %d: %v: %w",
					path, c.Seq, err, common.ErrIO)
			}
			e.blobCache.Put(id, data[:lastLen])
			reslicedID, reslice = id, true
			break
		}
	}

	return e.cat.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		cur, err := e.cat.BunDB().NodeByIDWith(tx, ctx, node.ID)
		if err != nil {
			return err
		}
		if err := e.cat.BunDB().DeleteChunksFromWith(tx, ctx, node.ID, newCount); err != nil {
			return err
		}
		if reslice {
			if err := e.cat.BunDB().UpsertChunkWith(tx, ctx, node.ID, newCount-1, reslicedID); err != nil {
				return err
			}
		}
		for seq := chunk.Count(e.chunkSize, cur.Size); seq < newCount; seq++ {
			if err := e.cat.BunDB().UpsertChunkWith(tx, ctx, node.ID, seq, ""); err != nil {
				return err
			}
		}
		now := time.Now()
		return e.cat.BunDB().UpdateNodeWith(tx, ctx, node.ID, &storage.NodeUpdate{
			Size:      &size,
			UpdatedAt: &now,
		})
	})
}
