package vfs

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/macos-fuse-t/go-smb2/vfs"

	"gramfs/internal/common"
	"gramfs/internal/engine"
	"gramfs/internal/storage"
)

// Ownership of nodes created through the mount. The remote catalog has no
// identity authority of its own, so everything belongs to the daemon process.
var (
	defaultUID = uint32(os.Getuid())
	defaultGID = uint32(os.Getgid())
)

// GramFS implements vfs.VFSFileSystem backed by the chunk engine.
// The engine is safe for concurrent use; the only state held here is the
// handle table, which does its own locking. Attributes are never cached:
// every GetAttr goes to the catalog so staged writes show up immediately.
type GramFS struct {
	eng     *engine.Engine
	handles *HandleManager
}

// NewGramFS creates a new VFS backed by the given engine
func NewGramFS(eng *engine.Engine) *GramFS {
	return &GramFS{
		eng:     eng,
		handles: NewHandleManager(),
	}
}

// Engine returns the underlying chunk engine
func (fs *GramFS) Engine() *engine.Engine {
	return fs.eng
}

// DropHandles invalidates every outstanding handle, e.g. before unmount.
func (fs *GramFS) DropHandles() int {
	return fs.handles.Clear()
}

// --- File Operations ---
// All operations have panic recovery to prevent SMB/NFS server disconnections

// Open opens a file
func (fs *GramFS) Open(path string, flags int, mode int) (handle vfs.VfsHandle, err error) {
	defer recoverGramFSPanic("Open", &err)
	if log.IsLevelEnabled(log.TraceLevel) {
		start := time.Now()
		defer func() { log.Tracef("[VFS] Open %q flags=%d → %v (%v)", path, flags, err, time.Since(start)) }()
	}
	log.Debugf("[VFS] Open: path=%q flags=%d mode=%o", path, flags, mode)

	ctx := context.Background()
	path = common.NormalizePath(path)

	node, serr := fs.eng.Stat(ctx, path)
	switch {
	case serr == nil:
		if flags&os.O_CREATE != 0 && flags&os.O_EXCL != 0 {
			return 0, EEXIST
		}
	case errors.Is(serr, common.ErrNotFound) && flags&os.O_CREATE != 0:
		node, serr = fs.eng.Create(ctx, path, storage.ModeFile|uint32(mode)&0777, defaultUID, defaultGID)
		if errors.Is(serr, common.ErrExists) && flags&os.O_EXCL == 0 {
			// Lost a create race; open whatever won it.
			node, serr = fs.eng.Stat(ctx, path)
		}
		if serr != nil {
			return 0, errno(serr)
		}
	default:
		return 0, errno(serr)
	}

	if node.IsDir() {
		return 0, EISDIR
	}

	if flags&os.O_TRUNC != 0 && node.Size > 0 {
		if terr := fs.eng.Truncate(ctx, path, 0); terr != nil {
			return 0, errno(terr)
		}
	}

	h := fs.handles.Allocate(path, false, flags)
	return vfs.VfsHandle(h), nil
}

// Close closes a file handle
func (fs *GramFS) Close(handle vfs.VfsHandle) (err error) {
	defer recoverGramFSPanic("Close", &err)
	fs.handles.Release(HandleID(handle))
	return nil
}

// Read reads data from a file
func (fs *GramFS) Read(handle vfs.VfsHandle, buf []byte, offset uint64, flags int) (n int, err error) {
	defer recoverGramFSPanic("Read", &err)

	info, ok := fs.handles.Get(HandleID(handle))
	if !ok {
		return 0, EBADF
	}

	if info.isDir {
		return 0, EISDIR
	}

	// Length comes from buffer size, not flags
	ctx := context.Background()
	data, rerr := fs.eng.Read(ctx, info.path, int64(offset), len(buf))
	if rerr != nil {
		return 0, errno(rerr)
	}

	n = copy(buf, data)
	return n, nil
}

// Write writes data to a file. Bytes land in the staging area and are
// uploaded by the flush daemon; a full staging area surfaces as a short
// write first and ENOSPC once nothing more fits.
func (fs *GramFS) Write(handle vfs.VfsHandle, buf []byte, offset uint64, flags int) (n int, err error) {
	defer recoverGramFSPanic("Write", &err)
	if log.IsLevelEnabled(log.TraceLevel) {
		start := time.Now()
		defer func() { log.Tracef("[VFS] Write handle=%d len=%d off=%d → %v (%v)", handle, len(buf), offset, err, time.Since(start)) }()
	}

	info, ok := fs.handles.Get(HandleID(handle))
	if !ok {
		return 0, EBADF
	}

	if info.isDir {
		return 0, EISDIR
	}

	ctx := context.Background()
	n, werr := fs.eng.Write(ctx, info.path, int64(offset), buf)
	if werr != nil {
		return 0, errno(werr)
	}

	return n, nil
}

// Truncate truncates a file
func (fs *GramFS) Truncate(handle vfs.VfsHandle, size uint64) (err error) {
	defer recoverGramFSPanic("Truncate", &err)

	info, ok := fs.handles.Get(HandleID(handle))
	if !ok {
		return EBADF
	}

	if info.isDir {
		return EISDIR
	}

	if terr := fs.eng.Truncate(context.Background(), info.path, int64(size)); terr != nil {
		return errno(terr)
	}
	return nil
}

// FSync pushes the file's staged bytes to the blob store before returning.
// This is the one place a client can demand durability instead of waiting
// for the flush daemon.
func (fs *GramFS) FSync(handle vfs.VfsHandle) (err error) {
	defer recoverGramFSPanic("FSync", &err)

	info, ok := fs.handles.Get(HandleID(handle))
	if !ok {
		return EBADF
	}
	if info.isDir {
		return nil
	}

	if ferr := fs.eng.FlushPath(context.Background(), info.path); ferr != nil {
		return errno(ferr)
	}
	return nil
}

// Flush is called on close-like events and gets the same treatment as
// FSync: close-to-open consistency means the bytes must be uploaded by
// the time the close returns.
func (fs *GramFS) Flush(handle vfs.VfsHandle) error {
	return fs.FSync(handle)
}

// --- Directory Operations ---

// Mkdir creates a directory
func (fs *GramFS) Mkdir(path string, mode int) (attrs *vfs.Attributes, err error) {
	defer recoverGramFSPanic("Mkdir", &err)
	if log.IsLevelEnabled(log.TraceLevel) {
		start := time.Now()
		defer func() { log.Tracef("[VFS] Mkdir %q → %v (%v)", path, err, time.Since(start)) }()
	}
	log.Debugf("[VFS] Mkdir: path=%q mode=%o", path, mode)

	ctx := context.Background()
	path = common.NormalizePath(path)

	node, merr := fs.eng.Mkdir(ctx, path, storage.ModeDir|uint32(mode)&0777, defaultUID, defaultGID)
	if merr != nil {
		return nil, errno(merr)
	}

	return nodeToAttributes(node), nil
}

// OpenDir opens a directory
func (fs *GramFS) OpenDir(path string) (handle vfs.VfsHandle, err error) {
	defer recoverGramFSPanic("OpenDir", &err)
	log.Debugf("[VFS] OpenDir: path=%q", path)

	ctx := context.Background()
	path = common.NormalizePath(path)

	node, serr := fs.eng.Stat(ctx, path)
	if serr != nil {
		return 0, errno(serr)
	}

	if !node.IsDir() {
		return 0, ENOTDIR
	}

	h := fs.handles.Allocate(path, true, os.O_RDONLY)
	return vfs.VfsHandle(h), nil
}

// OpenAny opens a file or directory by path in a single call. This
// eliminates the try-Open-then-OpenDir double-attempt pattern used by
// BillyAdapter methods like Rename() and Chmod().
func (fs *GramFS) OpenAny(path string, flags int, mode int) (handle vfs.VfsHandle, err error) {
	defer recoverGramFSPanic("OpenAny", &err)
	log.Debugf("[VFS] OpenAny: path=%q flags=%d mode=%o", path, flags, mode)

	ctx := context.Background()
	path = common.NormalizePath(path)

	node, serr := fs.eng.Stat(ctx, path)
	if serr != nil {
		return 0, errno(serr)
	}

	if node.IsDir() {
		h := fs.handles.Allocate(path, true, os.O_RDONLY)
		return vfs.VfsHandle(h), nil
	}

	h := fs.handles.Allocate(path, false, flags)
	return vfs.VfsHandle(h), nil
}

// ReadDir reads directory entries
func (fs *GramFS) ReadDir(handle vfs.VfsHandle, offset int, count int) (entries []vfs.DirInfo, err error) {
	defer recoverGramFSPanic("ReadDir", &err)
	if log.IsLevelEnabled(log.TraceLevel) {
		start := time.Now()
		defer func() {
			log.Tracef("[VFS] ReadDir handle=%d off=%d → %d entries, %v (%v)", handle, offset, len(entries), err, time.Since(start))
		}()
	}
	log.Debugf("[VFS] ReadDir: handle=%d offset=%d count=%d", handle, offset, count)

	info, ok := fs.handles.Get(HandleID(handle))
	if !ok {
		return nil, EBADF
	}

	if !info.isDir {
		return nil, ENOTDIR
	}

	// SMB2 protocol: offset > 0 (RESTART_SCANS) means restart enumeration,
	// offset == 0 means continue from where we left off.
	if offset > 0 {
		fs.handles.SetDirEnumDone(HandleID(handle), false)
	}

	// If we already returned all entries, return EOF
	if fs.handles.IsDirEnumDone(HandleID(handle)) {
		return nil, io.EOF
	}

	ctx := context.Background()

	dirNode, serr := fs.eng.Stat(ctx, info.path)
	if serr != nil {
		return nil, errno(serr)
	}
	dirAttrs := nodeToAttributes(dirNode)

	// "." and ".." first; parent attrs are simplified to the dir's own.
	allEntries := []vfs.DirInfo{
		{Name: ".", Attributes: *dirAttrs},
		{Name: "..", Attributes: *dirAttrs},
	}

	children, lerr := fs.eng.ReadDir(ctx, info.path)
	if lerr != nil {
		return nil, errno(lerr)
	}
	for _, child := range children {
		allEntries = append(allEntries, nodeToDirInfo(child))
	}

	// Mark enumeration as done - next call will return EOF
	fs.handles.SetDirEnumDone(HandleID(handle), true)

	if count > 0 && count < len(allEntries) {
		return allEntries[:count], nil
	}

	return allEntries, nil
}

// --- Metadata Operations ---

// GetAttr gets file attributes
func (fs *GramFS) GetAttr(handle vfs.VfsHandle) (attrs *vfs.Attributes, err error) {
	defer recoverGramFSPanic("GetAttr", &err)
	log.Debugf("[VFS] GetAttr: handle=%d", handle)

	// Handle 0 means root directory
	path := ""
	if handle != 0 {
		info, ok := fs.handles.Get(HandleID(handle))
		if !ok {
			return nil, EBADF
		}
		path = info.path
	}

	node, serr := fs.eng.Stat(context.Background(), path)
	if serr != nil {
		return nil, errno(serr)
	}

	return nodeToAttributes(node), nil
}

// GetAttrByPath gets file attributes without opening a handle
func (fs *GramFS) GetAttrByPath(vfsPath string) (attrs *vfs.Attributes, err error) {
	defer recoverGramFSPanic("GetAttrByPath", &err)
	log.Debugf("[VFS] GetAttrByPath: path=%q", vfsPath)

	node, serr := fs.eng.Stat(context.Background(), common.NormalizePath(vfsPath))
	if serr != nil {
		return nil, errno(serr)
	}

	return nodeToAttributes(node), nil
}

// SetAttr sets file attributes
func (fs *GramFS) SetAttr(handle vfs.VfsHandle, inAttrs *vfs.Attributes) (attrs *vfs.Attributes, err error) {
	defer recoverGramFSPanic("SetAttr", &err)

	info, ok := fs.handles.Get(HandleID(handle))
	if !ok {
		return nil, EBADF
	}

	ctx := context.Background()

	// Chmod keeps the node's type bits; only permissions move.
	if mode, ok := inAttrs.GetUnixMode(); ok {
		if cerr := fs.eng.Chmod(ctx, info.path, mode&0777); cerr != nil {
			return nil, errno(cerr)
		}
	}

	if size, ok := inAttrs.GetSizeBytes(); ok {
		if terr := fs.eng.Truncate(ctx, info.path, int64(size)); terr != nil {
			return nil, errno(terr)
		}
	}

	// Explicit times win over the mtime a truncate just stamped.
	var atimePtr, mtimePtr *time.Time
	if mtime, ok := inAttrs.GetLastDataModificationTime(); ok {
		mtimePtr = &mtime
	}
	if atime, ok := inAttrs.GetAccessTime(); ok {
		atimePtr = &atime
	}
	if atimePtr != nil || mtimePtr != nil {
		if uerr := fs.eng.Utimens(ctx, info.path, atimePtr, mtimePtr); uerr != nil {
			return nil, errno(uerr)
		}
	}

	// Return updated attributes
	node, serr := fs.eng.Stat(ctx, info.path)
	if serr != nil {
		return nil, errno(serr)
	}

	return nodeToAttributes(node), nil
}

// Lookup finds a file in a directory
func (fs *GramFS) Lookup(dirHandle vfs.VfsHandle, name string) (attrs *vfs.Attributes, err error) {
	defer recoverGramFSPanic("Lookup", &err)
	log.Debugf("[VFS] Lookup: dirHandle=%d name=%q", dirHandle, name)

	// Handle 0 means root directory
	base := ""
	if dirHandle != 0 {
		info, ok := fs.handles.Get(HandleID(dirHandle))
		if !ok {
			return nil, EBADF
		}
		if !info.isDir {
			return nil, ENOTDIR
		}
		base = info.path
	}

	ctx := context.Background()

	// Looking up "/", "" or "." means the directory itself
	if name == "/" || name == "" || name == "." {
		node, serr := fs.eng.Stat(ctx, base)
		if serr != nil {
			return nil, errno(serr)
		}
		return nodeToAttributes(node), nil
	}

	// name may be multi-component ("subdir/nested.txt"); JoinPath
	// normalizes it against the directory the handle points at.
	target := common.JoinPath(base, name)

	node, serr := fs.eng.Stat(ctx, target)
	if serr != nil {
		return nil, errno(serr)
	}

	attrs = nodeToAttributes(node)
	log.Debugf("[VFS] Lookup result: name=%q id=%d mode=%o isDir=%v", name, node.ID, node.Mode, node.IsDir())
	return attrs, nil
}

// StatFS returns filesystem statistics. The numbers are nominal: the blob
// store has no real capacity to report, so we advertise the same fixed
// geometry the original client did.
func (fs *GramFS) StatFS(handle vfs.VfsHandle) (*vfs.FSAttributes, error) {
	attrs := &vfs.FSAttributes{}
	attrs.SetBlockSize(512)
	attrs.SetIOSize(512)
	attrs.SetBlocks(2024)
	attrs.SetFreeBlocks(2024)
	attrs.SetAvailableBlocks(2024)
	attrs.SetFiles(100000)
	attrs.SetFreeFiles(50000)
	return attrs, nil
}

// --- File Management ---

// Unlink removes a file or empty directory
func (fs *GramFS) Unlink(handle vfs.VfsHandle) (err error) {
	defer recoverGramFSPanic("Unlink", &err)
	log.Debugf("[VFS] Unlink: handle=%d", handle)

	info, ok := fs.handles.Get(HandleID(handle))
	if !ok {
		return EBADF
	}

	ctx := context.Background()

	if info.isDir {
		if rerr := fs.eng.Rmdir(ctx, info.path); rerr != nil {
			return errno(rerr)
		}
		return nil
	}

	if uerr := fs.eng.Unlink(ctx, info.path); uerr != nil {
		return errno(uerr)
	}
	return nil
}

// UnlinkByPath removes a file or empty directory by path without requiring
// a handle. This avoids the Open/Unlink/Close round-trip used by
// BillyAdapter.Remove().
func (fs *GramFS) UnlinkByPath(vfsPath string) (err error) {
	defer recoverGramFSPanic("UnlinkByPath", &err)

	ctx := context.Background()
	vfsPath = common.NormalizePath(vfsPath)
	log.Debugf("[VFS] UnlinkByPath: path=%q", vfsPath)

	node, serr := fs.eng.Stat(ctx, vfsPath)
	if serr != nil {
		return errno(serr)
	}

	if node.IsDir() {
		if rerr := fs.eng.Rmdir(ctx, vfsPath); rerr != nil {
			return errno(rerr)
		}
		return nil
	}

	if uerr := fs.eng.Unlink(ctx, vfsPath); uerr != nil {
		return errno(uerr)
	}
	return nil
}

// Rename renames/moves a file. newName is usually just the new name within
// the same directory (SMB SET_INFO), but a slash makes it a full path.
func (fs *GramFS) Rename(handle vfs.VfsHandle, newName string, flags int) (err error) {
	defer recoverGramFSPanic("Rename", &err)

	info, ok := fs.handles.Get(HandleID(handle))
	if !ok {
		return EBADF
	}

	oldPath := info.path
	var newPath string
	if strings.ContainsRune(newName, '/') {
		newPath = common.NormalizePath(newName)
	} else {
		newPath = common.JoinPath(common.ParentPath(oldPath), newName)
	}
	log.Debugf("[VFS] Rename: %q → %q", oldPath, newPath)

	if rerr := fs.eng.Rename(context.Background(), oldPath, newPath); rerr != nil {
		return errno(rerr)
	}

	// Keep every open handle under the old path pointing at the new one.
	fs.handles.Rekey(oldPath, newPath)

	return nil
}

// --- Symbolic Link Operations ---

// Readlink reads a symbolic link target
func (fs *GramFS) Readlink(handle vfs.VfsHandle) (target string, err error) {
	defer recoverGramFSPanic("Readlink", &err)

	info, ok := fs.handles.Get(HandleID(handle))
	if !ok {
		return "", EBADF
	}

	target, rerr := fs.eng.Readlink(context.Background(), info.path)
	if rerr != nil {
		return "", errno(rerr)
	}

	return target, nil
}

// Symlink converts an existing file to a symbolic link. SMB clients create
// a placeholder first and then issue the symlink against its handle, so the
// placeholder is dropped and replaced with a link node.
func (fs *GramFS) Symlink(handle vfs.VfsHandle, target string, mode int) (attrs *vfs.Attributes, err error) {
	defer recoverGramFSPanic("Symlink", &err)
	log.Debugf("[VFS] Symlink: handle=%d target=%q", handle, target)

	info, ok := fs.handles.Get(HandleID(handle))
	if !ok {
		return nil, EBADF
	}
	if info.isDir {
		return nil, EISDIR
	}

	ctx := context.Background()

	if uerr := fs.eng.Unlink(ctx, info.path); uerr != nil && !errors.Is(uerr, common.ErrNotFound) {
		return nil, errno(uerr)
	}

	node, serr := fs.eng.Symlink(ctx, info.path, target, defaultUID, defaultGID)
	if serr != nil {
		return nil, errno(serr)
	}

	return nodeToAttributes(node), nil
}

// Link creates a hard link
func (fs *GramFS) Link(srcNode vfs.VfsNode, dstNode vfs.VfsNode, name string) (*vfs.Attributes, error) {
	return nil, ENOTSUP
}

// --- Extended Attributes (stub implementation) ---

func (fs *GramFS) Listxattr(handle vfs.VfsHandle) ([]string, error) {
	// Return empty list - no xattrs supported
	return []string{}, nil
}

func (fs *GramFS) Getxattr(handle vfs.VfsHandle, name string, buf []byte) (int, error) {
	// No xattrs supported
	return 0, ENOATTR
}

func (fs *GramFS) Setxattr(handle vfs.VfsHandle, name string, value []byte) error {
	// Silently succeed (some SMB clients expect this to work)
	return nil
}

func (fs *GramFS) Removexattr(handle vfs.VfsHandle, name string) error {
	// Silently succeed
	return nil
}
