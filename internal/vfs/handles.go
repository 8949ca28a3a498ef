package vfs

import "sync"

// HandleID is the type for VFS handles
type HandleID uint64

// openHandle represents an open file or directory. Handles are path-keyed:
// the engine resolves paths on every operation, so a handle carries no
// catalog state beyond the path it was opened at.
type openHandle struct {
	path        string // path within the VFS (normalized, "" is root)
	isDir       bool
	flags       int
	dirEnumDone bool // true once directory enumeration completed (for SMB)
}

// HandleManager manages VFS handles
type HandleManager struct {
	mu         sync.RWMutex
	handles    map[HandleID]*openHandle
	nextHandle HandleID
}

// NewHandleManager creates a new handle manager
func NewHandleManager() *HandleManager {
	return &HandleManager{
		handles:    make(map[HandleID]*openHandle),
		nextHandle: 1,
	}
}

// Allocate creates a new handle for the given path
func (hm *HandleManager) Allocate(path string, isDir bool, flags int) HandleID {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	handle := hm.nextHandle
	hm.nextHandle++

	hm.handles[handle] = &openHandle{
		path:  path,
		isDir: isDir,
		flags: flags,
	}

	return handle
}

// Get retrieves a handle's info
func (hm *HandleManager) Get(h HandleID) (*openHandle, bool) {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	info, ok := hm.handles[h]
	return info, ok
}

// Release frees a handle
func (hm *HandleManager) Release(h HandleID) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	delete(hm.handles, h)
}

// Rekey updates the path of every handle at or below oldPath after a rename,
// so subsequent operations through those handles hit the moved entry.
func (hm *HandleManager) Rekey(oldPath, newPath string) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	prefix := oldPath + "/"
	for _, info := range hm.handles {
		if info.path == oldPath {
			info.path = newPath
		} else if len(info.path) > len(prefix) && info.path[:len(prefix)] == prefix {
			info.path = newPath + "/" + info.path[len(prefix):]
		}
	}
}

// SetDirEnumDone marks directory enumeration as complete
func (hm *HandleManager) SetDirEnumDone(h HandleID, done bool) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	if info, ok := hm.handles[h]; ok {
		info.dirEnumDone = done
	}
}

// IsDirEnumDone checks if directory enumeration is complete
func (hm *HandleManager) IsDirEnumDone(h HandleID) bool {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	if info, ok := hm.handles[h]; ok {
		return info.dirEnumDone
	}
	return false
}

// Clear removes all handles, returning the count of handles cleared.
// Used when the daemon drops a mount and wants every outstanding handle
// to fail with EBADF rather than touch a stale path.
func (hm *HandleManager) Clear() int {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	count := len(hm.handles)
	hm.handles = make(map[HandleID]*openHandle)
	// Don't reset nextHandle to avoid handle ID reuse issues
	return count
}
