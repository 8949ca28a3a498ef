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
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gramfs/internal/common"
	"gramfs/internal/metrics"
)

// region is the in-memory staging buffer for one path. It covers the
// contiguous byte range [base, base+len(buf)); the base is fixed by the
// first write so appending to a large file does not allocate a zero
// prefix. A write past the current end grows the buffer and any gap
// reads as zeros, like a sparse file. Every byte in the buffer counts
// as staged, zeros included.
type region struct {
	mu        sync.Mutex
	taken     bool // set once the flusher removed this region from the set
	base      int64
	buf       []byte
	lastWrite time.Time
	failures  int // consecutive flush failures, maintained by the flusher
}

func (r *region) end() int64 {
	return r.base + int64(len(r.buf))
}

// overlay copies p into the region at absolute offset off, growing and
// re-basing as needed. It never rejects bytes; capacity enforcement is
// write's job.
func (r *region) overlay(off int64, p []byte) {
	if len(p) == 0 {
		return
	}
	if len(r.buf) == 0 {
		r.base = off
	}
	if off < r.base {
		shift := r.base - off
		grown := make([]byte, shift+int64(len(r.buf)))
		copy(grown[shift:], r.buf)
		r.buf = grown
		r.base = off
	}
	rel := off - r.base
	if end := rel + int64(len(p)); end > int64(len(r.buf)) {
		grown := make([]byte, end)
		copy(grown, r.buf)
		r.buf = grown
	}
	copy(r.buf[rel:], p)
}

// write stages p at absolute offset off under a capacity ceiling
// (0 means unbounded). The ceiling bounds the region-relative end: a
// write that fits is accepted whole, one that straddles the ceiling is
// shortened to it, and one starting at or past it is rejected with
// ErrCapacity so the protocol boundary can report a full device.
func (r *region) write(off int64, p []byte, capacity int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if capacity > 0 {
		base := r.base
		if len(r.buf) == 0 {
			base = off
		}
		if rel := off - base; rel >= 0 {
			if rel >= capacity {
				return 0, common.ErrCapacity
			}
			if rel+int64(len(p)) > capacity {
				p = p[:capacity-rel]
			}
		}
	}
	r.overlay(off, p)
	r.lastWrite = time.Now()
	return len(p), nil
}

// truncate drops staged bytes at or past absolute offset n and reports
// whether any bytes remain.
func (r *region) truncate(n int64) bool {
	if n <= r.base {
		r.buf = nil
		return false
	}
	if n < r.end() {
		r.buf = r.buf[:n-r.base]
	}
	return len(r.buf) > 0
}

// stagingSet is the process-wide set of live staging regions, keyed by
// normalized path. The set mutex guards the map; each region has its
// own mutex so writers to different paths never contend. flushLocks
// serializes whole-flush critical sections per path: the flusher holds
// a path's flush lock for the full drain, and structural operations
// (rename, unlink, truncate) hold it while they adjust the region so
// they cannot interleave with an in-flight flush of the same path.
type stagingSet struct {
	mu       sync.Mutex
	capacity int64
	regions  map[string]*region

	flushMu    sync.Mutex
	flushLocks map[string]*flushLock

	count atomic.Int64
	bytes atomic.Int64
}

type flushLock struct {
	mu   sync.Mutex
	refs int
}

func newStagingSet(capacity int64) *stagingSet {
	return &stagingSet{
		capacity:   capacity,
		regions:    make(map[string]*region),
		flushLocks: make(map[string]*flushLock),
	}
}

// write stages p for path at absolute offset off. If the path has no
// live region a fresh one is created. The loop re-checks the taken flag
// because the flusher may remove a region between the map read and the
// region lock; bytes must land either in the taken region (flushed now)
// or in a fresh one (flushed later), never in limbo.
func (s *stagingSet) write(path string, off int64, p []byte) (int, error) {
	for {
		s.mu.Lock()
		r := s.regions[path]
		if r == nil {
			r = &region{}
			s.regions[path] = r
			s.count.Add(1)
		}
		r.mu.Lock()
		s.mu.Unlock()
		if r.taken {
			r.mu.Unlock()
			continue
		}
		before := len(r.buf)
		n, err := r.write(off, p, s.capacity)
		s.bytes.Add(int64(len(r.buf) - before))
		r.mu.Unlock()
		s.publishGauge()
		return n, err
	}
}

// take atomically removes and returns the region for path, or nil. A
// writer racing with take either lands its bytes before the taken flag
// is set (they flush now) or observes the flag and starts fresh.
func (s *stagingSet) take(path string) *region {
	s.mu.Lock()
	r := s.regions[path]
	if r != nil {
		delete(s.regions, path)
	}
	s.mu.Unlock()
	if r == nil {
		return nil
	}
	r.mu.Lock()
	r.taken = true
	s.count.Add(-1)
	s.bytes.Add(-int64(len(r.buf)))
	r.mu.Unlock()
	s.publishGauge()
	return r
}

// requeue returns a region whose flush failed. If new writes started a
// fresh region meanwhile, the old bytes are merged underneath it so the
// newer bytes win where they overlap; the failure streak carries over.
func (s *stagingSet) requeue(path string, old *region) {
	s.mu.Lock()
	defer func() {
		s.mu.Unlock()
		s.publishGauge()
	}()

	cur := s.regions[path]
	if cur == nil {
		old.taken = false
		s.regions[path] = old
		s.count.Add(1)
		s.bytes.Add(int64(len(old.buf)))
		return
	}

	cur.mu.Lock()
	defer cur.mu.Unlock()
	before := len(cur.buf)
	merged := &region{base: old.base, buf: old.buf}
	merged.overlay(cur.base, cur.buf)
	cur.base = merged.base
	cur.buf = merged.buf
	cur.failures = old.failures
	s.bytes.Add(int64(len(cur.buf) - before))
}

// discard drops the region for path, if any.
func (s *stagingSet) discard(path string) {
	s.mu.Lock()
	r := s.regions[path]
	if r != nil {
		delete(s.regions, path)
		s.count.Add(-1)
		s.bytes.Add(-int64(len(r.buf)))
	}
	s.mu.Unlock()
	s.publishGauge()
}

// rekey moves the region for oldPath to newPath, along with every
// region staged under oldPath when it names a directory.
func (s *stagingSet) rekey(oldPath, newPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.regions[oldPath]; ok {
		delete(s.regions, oldPath)
		s.regions[newPath] = r
	}
	prefix := oldPath + "/"
	for path, r := range s.regions {
		if strings.HasPrefix(path, prefix) {
			delete(s.regions, path)
			s.regions[newPath+"/"+path[len(prefix):]] = r
		}
	}
}

// truncate drops staged bytes for path at or past offset n.
func (s *stagingSet) truncate(path string, n int64) {
	s.mu.Lock()
	r := s.regions[path]
	if r != nil {
		r.mu.Lock()
		before := len(r.buf)
		keep := r.truncate(n)
		s.bytes.Add(int64(len(r.buf) - before))
		r.mu.Unlock()
		if !keep {
			delete(s.regions, path)
			s.count.Add(-1)
		}
	}
	s.mu.Unlock()
	s.publishGauge()
}

// end returns the absolute end offset of the staged bytes for path.
func (s *stagingSet) end(path string) (int64, bool) {
	s.mu.Lock()
	r := s.regions[path]
	s.mu.Unlock()
	if r == nil {
		return 0, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buf) == 0 {
		return 0, false
	}
	return r.end(), true
}

// overlayInto copies the staged bytes overlapping [off, off+len(dst))
// into dst, whose first byte corresponds to absolute offset off. It
// reports whether anything was copied.
func (s *stagingSet) overlayInto(path string, off int64, dst []byte) bool {
	s.mu.Lock()
	r := s.regions[path]
	s.mu.Unlock()
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	lo := max(off, r.base)
	hi := min(off+int64(len(dst)), r.end())
	if lo >= hi {
		return false
	}
	copy(dst[lo-off:hi-off], r.buf[lo-r.base:hi-r.base])
	return true
}

// paths returns every path with a live region.
func (s *stagingSet) paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.regions))
	for path := range s.regions {
		out = append(out, path)
	}
	return out
}

// idlePaths returns every path whose region saw no write since the
// cutoff. Requeued regions keep their original lastWrite, so a failed
// flush is retried on the next tick rather than after another full
// idle period.
func (s *stagingSet) idlePaths(cutoff time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for path, r := range s.regions {
		r.mu.Lock()
		idle := r.lastWrite.Before(cutoff)
		r.mu.Unlock()
		if idle {
			out = append(out, path)
		}
	}
	return out
}

// stats returns the live region count and total staged bytes.
func (s *stagingSet) stats() (int, int64) {
	return int(s.count.Load()), s.bytes.Load()
}

func (s *stagingSet) publishGauge() {
	metrics.SetStaged(int(s.count.Load()), s.bytes.Load())
}

// lockFlush acquires the flush lock for path and returns its release
// function. Lock entries are reference counted so the map does not
// accumulate a key per path ever flushed.
func (s *stagingSet) lockFlush(path string) func() {
	s.flushMu.Lock()
	l := s.flushLocks[path]
	if l == nil {
		l = &flushLock{}
		s.flushLocks[path] = l
	}
	l.refs++
	s.flushMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.flushMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.flushLocks, path)
		}
		s.flushMu.Unlock()
	}
}
