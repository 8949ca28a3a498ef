//go:build !smb

package vfs

import (
	"time"

	smbvfs "github.com/macos-fuse-t/go-smb2/vfs"
)

// NfsVfsHandle is the handle type used by the NFS adapter.
// This gives NFS code access to the underlying VFS handle type without
// importing SMB packages directly.
type NfsVfsHandle = smbvfs.VfsHandle

// attrsWrapper wraps *smbvfs.Attributes to implement FileAttrs
type attrsWrapper struct {
	attrs *smbvfs.Attributes
}

func (w *attrsWrapper) GetFileType() FileType {
	return FileType(w.attrs.GetFileType())
}

func (w *attrsWrapper) GetSizeBytes() (uint64, bool) {
	return w.attrs.GetSizeBytes()
}

func (w *attrsWrapper) GetInodeNumber() uint64 {
	return w.attrs.GetInodeNumber()
}

func (w *attrsWrapper) GetLastDataModificationTime() (time.Time, bool) {
	return w.attrs.GetLastDataModificationTime()
}

func (w *attrsWrapper) GetUnixMode() (uint32, bool) {
	return w.attrs.GetUnixMode()
}

// dirInfoWrapper wraps *smbvfs.DirInfo to implement DirEntry
type dirInfoWrapper struct {
	info *smbvfs.DirInfo
}

func (w *dirInfoWrapper) GetFileType() FileType {
	return FileType(w.info.GetFileType())
}

func (w *dirInfoWrapper) GetSizeBytes() (uint64, bool) {
	return w.info.GetSizeBytes()
}

func (w *dirInfoWrapper) GetInodeNumber() uint64 {
	return w.info.GetInodeNumber()
}

func (w *dirInfoWrapper) GetUnixMode() (uint32, bool) {
	return w.info.GetUnixMode()
}

// WrapAttrs wraps a value that may be *smbvfs.Attributes into FileAttrs.
// Returns nil if the type is not recognized.
func WrapAttrs(v any) FileAttrs {
	if v == nil {
		return nil
	}
	if a, ok := v.(*smbvfs.Attributes); ok {
		return &attrsWrapper{attrs: a}
	}
	return nil
}

// WrapDirInfo wraps a value that may be *smbvfs.DirInfo into DirEntry.
// Returns nil if the type is not recognized.
func WrapDirInfo(v any) DirEntry {
	if v == nil {
		return nil
	}
	if d, ok := v.(*smbvfs.DirInfo); ok {
		return &dirInfoWrapper{info: d}
	}
	return nil
}

// NewAttrsWithMode creates a new Attributes object with the given unix
// mode. The NFS adapter uses this to construct SetAttr requests.
func NewAttrsWithMode(mode uint32) *smbvfs.Attributes {
	attrs := &smbvfs.Attributes{}
	attrs.SetUnixMode(mode)
	return attrs
}

// NewAttrsWithTimes creates a new Attributes object carrying an access
// and modification time, for SetAttr requests from the NFS adapter.
func NewAttrsWithTimes(atime, mtime time.Time) *smbvfs.Attributes {
	attrs := &smbvfs.Attributes{}
	attrs.SetAccessTime(atime)
	attrs.SetLastDataModificationTime(mtime)
	return attrs
}
