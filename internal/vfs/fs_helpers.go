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

package vfs

import (
	"runtime/debug"

	log "github.com/sirupsen/logrus"

	"github.com/macos-fuse-t/go-smb2/vfs"

	"gramfs/internal/storage"
)

// recoverGramFSPanic recovers from panics in GramFS operations.
// This is CRITICAL for preventing SMB/NFS server disconnections: a panic
// inside a filesystem callback would otherwise tear down the whole mount.
func recoverGramFSPanic(operation string, err *error) {
	if r := recover(); r != nil {
		log.Errorf("[GramFS] PANIC RECOVERED in %s: %v\nStack:\n%s", operation, r, debug.Stack())
		if err != nil {
			*err = EIO
		}
	}
}

// nodeToAttributes converts a catalog node to protocol attributes.
// The catalog has no link count or separate ctime, so the link count is
// always 1 and UpdatedAt stands in for both mtime and ctime.
func nodeToAttributes(node *storage.Node) *vfs.Attributes {
	attrs := &vfs.Attributes{}

	attrs.SetFileHandle(vfs.VfsNode(node.ID))
	attrs.SetInodeNumber(uint64(node.ID))
	attrs.SetSizeBytes(uint64(node.Size))
	attrs.SetLinkCount(1)
	attrs.SetUID(node.Uid)
	attrs.SetGID(node.Gid)
	attrs.SetPermissions(vfs.NewPermissionsFromMode(node.Mode))
	attrs.SetUnixMode(node.Mode & 0777)
	attrs.SetLastDataModificationTime(node.UpdatedAt)
	attrs.SetLastStatusChangeTime(node.UpdatedAt)
	attrs.SetAccessTime(node.AccessedAt)
	attrs.SetBirthTime(node.CreatedAt)
	attrs.SetChangeID(uint64(node.UpdatedAt.UnixNano()))

	if node.IsDir() {
		attrs.SetFileType(vfs.FileTypeDirectory)
	} else if node.IsSymlink() {
		attrs.SetFileType(vfs.FileTypeSymlink)
	} else {
		attrs.SetFileType(vfs.FileTypeRegularFile)
	}

	return attrs
}

// nodeToDirInfo converts a catalog node to a directory listing entry.
func nodeToDirInfo(node *storage.Node) vfs.DirInfo {
	di := vfs.DirInfo{
		Name: node.Name,
	}
	di.SetFileHandle(vfs.VfsNode(node.ID))
	di.SetInodeNumber(uint64(node.ID))
	di.SetSizeBytes(uint64(node.Size))
	di.SetLastDataModificationTime(node.UpdatedAt)

	if node.IsDir() {
		di.SetFileType(vfs.FileTypeDirectory)
	} else if node.IsSymlink() {
		di.SetFileType(vfs.FileTypeSymlink)
	} else {
		di.SetFileType(vfs.FileTypeRegularFile)
	}
	di.SetPermissions(vfs.NewPermissionsFromMode(node.Mode))
	di.SetUnixMode(node.Mode & 0777)

	return di
}
