package blob

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps objects in process memory. It backs tests and the
// "memory" settings backend, and can inject failures to exercise the
// engine's error paths.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	maxSize int64

	uploadErr   error
	downloadErr error
	uploads     int
	downloads   int
}

// NewMemoryStore creates an in-memory blob store. A maxSize of 0 uses
// DefaultMaxObjectSize.
func NewMemoryStore(maxSize int64) *MemoryStore {
	if maxSize == 0 {
		maxSize = DefaultMaxObjectSize
	}
	return &MemoryStore{
		objects: make(map[string][]byte),
		maxSize: maxSize,
	}
}

// Upload stores a copy of data under a fresh id.
func (m *MemoryStore) Upload(ctx context.Context, data []byte) (string, error) {
	if err := checkSize(m, len(data)); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads++
	if m.uploadErr != nil {
		return "", m.uploadErr
	}
	id := uuid.NewString()
	m.objects[id] = append([]byte(nil), data...)
	return id, nil
}

// Download returns a copy of the object stored under id.
func (m *MemoryStore) Download(ctx context.Context, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.downloads++
	if m.downloadErr != nil {
		return nil, m.downloadErr
	}
	data, ok := m.objects[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return append([]byte(nil), data...), nil
}

// MaxObjectSize reports the configured per-object limit.
func (m *MemoryStore) MaxObjectSize() int64 { return m.maxSize }

// Type returns "memory".
func (m *MemoryStore) Type() string { return "memory" }

// FailUploads makes subsequent uploads return err; nil restores normal
// operation.
func (m *MemoryStore) FailUploads(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploadErr = err
}

// FailDownloads makes subsequent downloads return err; nil restores
// normal operation.
func (m *MemoryStore) FailDownloads(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.downloadErr = err
}

// Len returns the number of stored objects.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// Counts returns how many uploads and downloads were attempted.
func (m *MemoryStore) Counts() (uploads, downloads int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.uploads, m.downloads
}

// Forget drops the object stored under id, simulating remote data loss.
func (m *MemoryStore) Forget(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, id)
}
