//go:build !smb

package daemon

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"time"

	billy "github.com/go-git/go-billy/v5"
	log "github.com/sirupsen/logrus"
	nfs "github.com/willscott/go-nfs"
	nfsfile "github.com/willscott/go-nfs/file"
	nfshelper "github.com/willscott/go-nfs/helpers"

	gramfs "gramfs/internal/vfs"
)

// vfsHandle is the handle type used by the VFS layer
// Uses the type exported from internal/vfs to avoid importing SMB packages
type vfsHandle = gramfs.NfsVfsHandle

func init() {
	netFSTypeName = "nfs"
}

// NFSServer wraps the go-nfs server
type NFSServer struct {
	listener net.Listener
	server   *nfs.Server
	handler  nfs.Handler
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewNFSServer creates a new NFS server over the chunk filesystem
func NewNFSServer(fs *gramfs.GramFS, shareName string) *NFSServer {
	// Set go-nfs log level to match daemon's log level
	if log.IsLevelEnabled(log.TraceLevel) {
		nfs.Log.SetLevel(nfs.TraceLevel)
	} else if log.IsLevelEnabled(log.DebugLevel) {
		nfs.Log.SetLevel(nfs.DebugLevel)
	}
	billyFS := NewBillyAdapter(fs)
	handler := nfshelper.NewNullAuthHandler(billyFS)
	cacheHelper := nfshelper.NewCachingHandler(handler, 65536)

	ctx, cancel := context.WithCancel(context.Background())
	server := &nfs.Server{
		Handler: cacheHelper,
		Context: ctx,
	}

	return &NFSServer{
		server:  server,
		handler: cacheHelper,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Serve starts the NFS server
func (s *NFSServer) Serve(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener

	return s.server.Serve(listener)
}

// Shutdown stops the NFS server gracefully
func (s *NFSServer) Shutdown() {
	// Close the listener first to stop accepting new connections
	if s.listener != nil {
		s.listener.Close()
	}

	// Settle time for in-flight NFS operations to complete after listener close.
	// The filesystem is unmounted BEFORE this shutdown call, so the kernel
	// NFS client has already disconnected. 100ms is sufficient for any
	// residual in-flight requests given the soft mount options.
	time.Sleep(100 * time.Millisecond)

	// Cancel context to signal handlers to stop
	if s.cancel != nil {
		s.cancel()
	}

	close(s.done)
}

// BillyAdapter adapts the chunk VFS to the Billy filesystem interface
type BillyAdapter struct {
	fs  *gramfs.GramFS
	uid uint32 // cached os.Getuid() — avoids syscall per BillyFileInfo.Sys()
	gid uint32 // cached os.Getgid() — avoids syscall per BillyFileInfo.Sys()
}

// NewBillyAdapter creates a Billy adapter for the chunk VFS
func NewBillyAdapter(fs *gramfs.GramFS) *BillyAdapter {
	return &BillyAdapter{
		fs:  fs,
		uid: uint32(os.Getuid()),
		gid: uint32(os.Getgid()),
	}
}

func (b *BillyAdapter) Create(filename string) (billy.File, error) {
	handle, err := b.fs.Open(filename, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	return &BillyFile{
		adapter: b,
		handle:  handle,
		name:    filename,
		flags:   os.O_CREATE | os.O_RDWR | os.O_TRUNC,
	}, nil
}

func (b *BillyAdapter) Open(filename string) (billy.File, error) {
	return b.OpenFile(filename, os.O_RDONLY, 0)
}

func (b *BillyAdapter) OpenFile(filename string, flag int, perm os.FileMode) (billy.File, error) {
	handle, err := b.fs.Open(filename, flag, int(perm))
	if err != nil {
		return nil, err
	}
	return &BillyFile{
		adapter: b,
		handle:  handle,
		name:    filename,
		flags:   flag,
	}, nil
}

func (b *BillyAdapter) Stat(filename string) (os.FileInfo, error) {
	attrs, err := b.fs.GetAttrByPath(filename)
	if err != nil {
		return nil, err
	}
	return &BillyFileInfo{
		name:    path.Base(filename),
		attrs:   attrs,
		adapter: b,
	}, nil
}

func (b *BillyAdapter) Rename(oldpath, newpath string) error {
	handle, err := b.fs.OpenAny(oldpath, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer b.fs.Close(handle)
	// The VFS treats a name with a slash as a full destination path, so
	// cross-directory renames survive intact.
	return b.fs.Rename(handle, newpath, 0)
}

func (b *BillyAdapter) Remove(filename string) error {
	return b.fs.UnlinkByPath(filename)
}

func (b *BillyAdapter) Join(elem ...string) string {
	return path.Join(elem...)
}

func (b *BillyAdapter) TempFile(dir, prefix string) (billy.File, error) {
	return nil, os.ErrInvalid
}

func (b *BillyAdapter) ReadDir(dirname string) ([]os.FileInfo, error) {
	handle, err := b.fs.OpenDir(dirname)
	if err != nil {
		return nil, err
	}
	defer b.fs.Close(handle)

	entries, err := b.fs.ReadDir(handle, 0, 0)
	if err != nil {
		return nil, err
	}

	var result []os.FileInfo
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		result = append(result, &BillyFileInfo{
			name:    e.Name,
			dirInfo: &e,
			adapter: b,
		})
	}
	return result, nil
}

func (b *BillyAdapter) MkdirAll(filename string, perm os.FileMode) error {
	_, err := b.fs.Mkdir(filename, int(perm))
	return err
}

func (b *BillyAdapter) Lstat(filename string) (os.FileInfo, error) {
	// Lstat and Stat are identical here: the VFS never follows symlinks,
	// it hands them to the client as-is
	attrs, err := b.fs.GetAttrByPath(filename)
	if err != nil {
		return nil, err
	}
	return &BillyFileInfo{
		name:    path.Base(filename),
		attrs:   attrs,
		adapter: b,
	}, nil
}

func (b *BillyAdapter) Symlink(target, link string) error {
	// Create the link file first
	handle, err := b.fs.Open(link, os.O_CREATE|os.O_RDWR, 0777)
	if err != nil {
		return err
	}
	defer b.fs.Close(handle)

	_, err = b.fs.Symlink(handle, target, 0777)
	return err
}

func (b *BillyAdapter) Readlink(link string) (string, error) {
	handle, err := b.fs.Open(link, os.O_RDONLY, 0)
	if err != nil {
		return "", err
	}
	defer b.fs.Close(handle)
	return b.fs.Readlink(handle)
}

func (b *BillyAdapter) Chroot(path string) (billy.Filesystem, error) {
	return nil, os.ErrInvalid
}

func (b *BillyAdapter) Root() string {
	return "/"
}

// billy.Change interface
func (b *BillyAdapter) Chmod(name string, mode os.FileMode) error {
	handle, err := b.fs.OpenAny(name, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer b.fs.Close(handle)

	attrs := gramfs.NewAttrsWithMode(uint32(mode) & 0777)
	_, err = b.fs.SetAttr(handle, attrs)
	return err
}

func (b *BillyAdapter) Chtimes(name string, atime, mtime time.Time) error {
	handle, err := b.fs.OpenAny(name, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer b.fs.Close(handle)

	attrs := gramfs.NewAttrsWithTimes(atime, mtime)
	_, err = b.fs.SetAttr(handle, attrs)
	return err
}

// Ownership is fixed to the daemon user; chown requests are accepted and ignored.
func (b *BillyAdapter) Lchown(name string, uid, gid int) error { return nil }
func (b *BillyAdapter) Chown(name string, uid, gid int) error  { return nil }

func (b *BillyAdapter) Capabilities() billy.Capability {
	return billy.WriteCapability | billy.ReadCapability |
		billy.ReadAndWriteCapability | billy.SeekCapability | billy.TruncateCapability
}

type BillyFile struct {
	adapter *BillyAdapter
	handle  interface{} // vfs.VfsHandle
	name    string
	flags   int
	offset  int64
}

func (f *BillyFile) Name() string {
	return f.name
}

func (f *BillyFile) Write(p []byte) (n int, err error) {
	n, err = f.adapter.fs.Write(f.handle.(vfsHandle), p, uint64(f.offset), 0)
	if err == nil {
		f.offset += int64(n)
	}
	return
}

func (f *BillyFile) Read(p []byte) (n int, err error) {
	n, err = f.adapter.fs.Read(f.handle.(vfsHandle), p, uint64(f.offset), 0)
	if err == nil {
		f.offset += int64(n)
	}
	return
}

func (f *BillyFile) ReadAt(p []byte, off int64) (n int, err error) {
	return f.adapter.fs.Read(f.handle.(vfsHandle), p, uint64(off), 0)
}

func (f *BillyFile) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		f.offset = offset
	case io.SeekCurrent:
		f.offset += offset
	case io.SeekEnd:
		attrs, err := f.adapter.fs.GetAttr(f.handle.(vfsHandle))
		if err != nil {
			return 0, err
		}
		size, _ := attrs.GetSizeBytes()
		f.offset = int64(size) + offset
	}
	return f.offset, nil
}

// Close releases the handle without draining staged writes. Uploads stay
// with the background flusher; a close-per-file upload would serialize
// bulk copies on the blob backend's latency. COMMIT and explicit fsync
// still force the upload through FSync.
func (f *BillyFile) Close() error {
	return f.adapter.fs.Close(f.handle.(vfsHandle))
}

func (f *BillyFile) Lock() error {
	return nil
}

func (f *BillyFile) Unlock() error {
	return nil
}

func (f *BillyFile) Truncate(size int64) error {
	return f.adapter.fs.Truncate(f.handle.(vfsHandle), uint64(size))
}

type BillyFileInfo struct {
	name    string
	attrs   interface{}   // *vfs.Attributes
	dirInfo interface{}   // *vfs.DirInfo
	adapter *BillyAdapter // cached uid/gid source (nil falls back to syscall)
}

func (fi *BillyFileInfo) Name() string {
	return fi.name
}

func (fi *BillyFileInfo) Size() int64 {
	if a := gramfs.WrapAttrs(fi.attrs); a != nil {
		size, _ := a.GetSizeBytes()
		return int64(size)
	}
	if d := gramfs.WrapDirInfo(fi.dirInfo); d != nil {
		size, _ := d.GetSizeBytes()
		return int64(size)
	}
	return 0
}

func (fi *BillyFileInfo) Mode() os.FileMode {
	// Determine base mode from file type
	var baseMode os.FileMode
	if fi.IsDir() {
		baseMode = os.ModeDir
	} else if fi.IsSymlink() {
		baseMode = os.ModeSymlink
	}

	// Try to get actual permissions from stored attributes
	if a := gramfs.WrapAttrs(fi.attrs); a != nil {
		if mode, ok := a.GetUnixMode(); ok {
			return baseMode | os.FileMode(mode&0777)
		}
	}
	if d := gramfs.WrapDirInfo(fi.dirInfo); d != nil {
		if mode, ok := d.GetUnixMode(); ok {
			return baseMode | os.FileMode(mode&0777)
		}
	}

	// Fallback to defaults if mode not available
	if fi.IsDir() {
		return os.ModeDir | 0755
	}
	if fi.IsSymlink() {
		return os.ModeSymlink | 0777
	}
	return 0644
}

func (fi *BillyFileInfo) IsSymlink() bool {
	if a := gramfs.WrapAttrs(fi.attrs); a != nil {
		return a.GetFileType() == gramfs.FileTypeSymlink
	}
	if d := gramfs.WrapDirInfo(fi.dirInfo); d != nil {
		return d.GetFileType() == gramfs.FileTypeSymlink
	}
	return false
}

func (fi *BillyFileInfo) ModTime() time.Time {
	if a := gramfs.WrapAttrs(fi.attrs); a != nil {
		t, _ := a.GetLastDataModificationTime()
		return t
	}
	return time.Now()
}

func (fi *BillyFileInfo) IsDir() bool {
	if a := gramfs.WrapAttrs(fi.attrs); a != nil {
		return a.GetFileType() == gramfs.FileTypeDirectory
	}
	if d := gramfs.WrapDirInfo(fi.dirInfo); d != nil {
		return d.GetFileType() == gramfs.FileTypeDirectory
	}
	return false
}

func (fi *BillyFileInfo) Sys() interface{} {
	// Return file.FileInfo from go-nfs/file package - this is critical for NFS to work!
	// go-nfs's GetInfo() only recognizes file.FileInfo or *file.FileInfo types
	uid, gid := fi.getUIDGID()

	if a := gramfs.WrapAttrs(fi.attrs); a != nil {
		return &nfsfile.FileInfo{
			Nlink:  1,
			UID:    uid,
			GID:    gid,
			Fileid: a.GetInodeNumber(),
		}
	}
	if d := gramfs.WrapDirInfo(fi.dirInfo); d != nil {
		return &nfsfile.FileInfo{
			Nlink:  1,
			UID:    uid,
			GID:    gid,
			Fileid: d.GetInodeNumber(),
		}
	}
	// Fallback with a default inode
	return &nfsfile.FileInfo{
		Nlink:  1,
		UID:    uid,
		GID:    gid,
		Fileid: 1,
	}
}

// getUIDGID returns cached uid/gid from the adapter if available, otherwise falls back to syscall.
func (fi *BillyFileInfo) getUIDGID() (uint32, uint32) {
	if fi.adapter != nil {
		return fi.adapter.uid, fi.adapter.gid
	}
	return uint32(os.Getuid()), uint32(os.Getgid())
}
