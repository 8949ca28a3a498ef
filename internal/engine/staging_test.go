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
	"bytes"
	"errors"
	"testing"
	"time"

	"gramfs/internal/common"
)

func TestRegionWriteGrowsAndZeroFills(t *testing.T) {
	r := &region{}
	if n, err := r.write(4, []byte("ABCD"), 0); err != nil || n != 4 {
		t.Fatalf("write: n=%d err=%v", n, err)
	}
	if r.base != 4 || r.end() != 8 {
		t.Fatalf("expected [4,8), got [%d,%d)", r.base, r.end())
	}

	// A write past the end grows the buffer; the gap reads as zeros.
	if n, err := r.write(10, []byte("XY"), 0); err != nil || n != 2 {
		t.Fatalf("write: n=%d err=%v", n, err)
	}
	want := []byte("ABCD\x00\x00XY")
	if !bytes.Equal(r.buf, want) {
		t.Fatalf("buf = %q, want %q", r.buf, want)
	}

	// A write below the base re-bases the region.
	if n, err := r.write(2, []byte("ab"), 0); err != nil || n != 2 {
		t.Fatalf("write: n=%d err=%v", n, err)
	}
	if r.base != 2 {
		t.Fatalf("base = %d, want 2", r.base)
	}
	want = []byte("abABCD\x00\x00XY")
	if !bytes.Equal(r.buf, want) {
		t.Fatalf("buf = %q, want %q", r.buf, want)
	}

	// Overwrite inside the region.
	if _, err := r.write(3, []byte("zz"), 0); err != nil {
		t.Fatalf("write: %v", err)
	}
	want = []byte("azzBCD\x00\x00XY")
	if !bytes.Equal(r.buf, want) {
		t.Fatalf("buf = %q, want %q", r.buf, want)
	}
}

func TestRegionWriteCapacity(t *testing.T) {
	r := &region{}

	// Fits under the ceiling: accepted whole.
	if n, err := r.write(0, []byte("ABCD"), 8); err != nil || n != 4 {
		t.Fatalf("fit: n=%d err=%v", n, err)
	}

	// Straddles the ceiling: shortened, no error.
	n, err := r.write(6, []byte("EFGH"), 8)
	if err != nil {
		t.Fatalf("straddle: %v", err)
	}
	if n != 2 {
		t.Fatalf("straddle accepted %d bytes, want 2", n)
	}
	if r.end() != 8 {
		t.Fatalf("end = %d, want 8", r.end())
	}

	// Starts at the ceiling: rejected.
	if n, err := r.write(8, []byte("IJ"), 8); !errors.Is(err, common.ErrCapacity) || n != 0 {
		t.Fatalf("at ceiling: n=%d err=%v", n, err)
	}
	// Starts past the ceiling: rejected.
	if _, err := r.write(100, []byte("IJ"), 8); !errors.Is(err, common.ErrCapacity) {
		t.Fatalf("past ceiling: %v", err)
	}

	// The ceiling is region-relative: a fresh region starting at a high
	// offset has its full capacity available.
	r2 := &region{}
	if n, err := r2.write(1000, []byte("ABCD"), 8); err != nil || n != 4 {
		t.Fatalf("high base: n=%d err=%v", n, err)
	}
}

func TestRegionTruncate(t *testing.T) {
	r := &region{}
	if _, err := r.write(4, []byte("ABCDEF"), 0); err != nil {
		t.Fatal(err)
	}

	if !r.truncate(7) {
		t.Fatal("expected bytes to remain")
	}
	if !bytes.Equal(r.buf, []byte("ABC")) {
		t.Fatalf("buf = %q, want ABC", r.buf)
	}

	// Truncating at or below the base drops everything.
	if r.truncate(4) {
		t.Fatal("expected empty region")
	}
	if len(r.buf) != 0 {
		t.Fatalf("buf = %q, want empty", r.buf)
	}
}

func TestStagingSetWriteTake(t *testing.T) {
	s := newStagingSet(0)
	if _, err := s.write("docs/a.txt", 0, []byte("ABCD")); err != nil {
		t.Fatal(err)
	}
	if regions, staged := s.stats(); regions != 1 || staged != 4 {
		t.Fatalf("stats = (%d, %d), want (1, 4)", regions, staged)
	}

	rgn := s.take("docs/a.txt")
	if rgn == nil || !bytes.Equal(rgn.buf, []byte("ABCD")) {
		t.Fatalf("take returned %+v", rgn)
	}
	if regions, staged := s.stats(); regions != 0 || staged != 0 {
		t.Fatalf("stats after take = (%d, %d), want (0, 0)", regions, staged)
	}
	if s.take("docs/a.txt") != nil {
		t.Fatal("second take should return nil")
	}
}

func TestStagingSetRequeueMergesUnderNewerBytes(t *testing.T) {
	s := newStagingSet(0)
	if _, err := s.write("f", 0, []byte("AAAA")); err != nil {
		t.Fatal(err)
	}
	old := s.take("f")
	old.failures = 3

	// New writes arrive while the old region is being flushed.
	if _, err := s.write("f", 1, []byte("BB")); err != nil {
		t.Fatal(err)
	}
	s.requeue("f", old)

	rgn := s.take("f")
	if rgn == nil {
		t.Fatal("expected a region")
	}
	if !bytes.Equal(rgn.buf, []byte("ABBA")) {
		t.Fatalf("merged buf = %q, want ABBA", rgn.buf)
	}
	if rgn.failures != 3 {
		t.Fatalf("failures = %d, want 3", rgn.failures)
	}
}

func TestStagingSetRequeueWithoutNewerRegion(t *testing.T) {
	s := newStagingSet(0)
	if _, err := s.write("f", 2, []byte("CD")); err != nil {
		t.Fatal(err)
	}
	old := s.take("f")
	s.requeue("f", old)

	if regions, staged := s.stats(); regions != 1 || staged != 2 {
		t.Fatalf("stats = (%d, %d), want (1, 2)", regions, staged)
	}

	// The requeued region accepts writes again.
	if _, err := s.write("f", 4, []byte("EF")); err != nil {
		t.Fatal(err)
	}
	rgn := s.take("f")
	if rgn.base != 2 || !bytes.Equal(rgn.buf, []byte("CDEF")) {
		t.Fatalf("requeued region = [%d) %q", rgn.base, rgn.buf)
	}
}

func TestStagingSetDiscardAndTruncate(t *testing.T) {
	s := newStagingSet(0)
	if _, err := s.write("a", 0, []byte("ABCDEF")); err != nil {
		t.Fatal(err)
	}

	s.truncate("a", 4)
	if _, staged := s.stats(); staged != 4 {
		t.Fatalf("staged = %d, want 4", staged)
	}

	// Truncating to the base drops the region entirely.
	s.truncate("a", 0)
	if regions, _ := s.stats(); regions != 0 {
		t.Fatalf("regions = %d, want 0", regions)
	}

	if _, err := s.write("b", 0, []byte("XY")); err != nil {
		t.Fatal(err)
	}
	s.discard("b")
	if regions, staged := s.stats(); regions != 0 || staged != 0 {
		t.Fatalf("stats = (%d, %d), want (0, 0)", regions, staged)
	}
}

func TestStagingSetRekeyMovesSubtree(t *testing.T) {
	s := newStagingSet(0)
	for _, path := range []string{"docs/a", "docs/sub/b", "other"} {
		if _, err := s.write(path, 0, []byte("x")); err != nil {
			t.Fatal(err)
		}
	}

	s.rekey("docs", "moved")

	want := map[string]bool{"moved/a": true, "moved/sub/b": true, "other": true}
	for _, path := range s.paths() {
		if !want[path] {
			t.Fatalf("unexpected path %q", path)
		}
		delete(want, path)
	}
	if len(want) != 0 {
		t.Fatalf("missing paths after rekey: %v", want)
	}
}

func TestStagingSetOverlayInto(t *testing.T) {
	s := newStagingSet(0)
	if _, err := s.write("f", 4, []byte("ABCDEF")); err != nil {
		t.Fatal(err)
	}

	// dst covers [2, 8): overlap is [4, 8) -> "ABCD" at dst[2:].
	dst := bytes.Repeat([]byte("."), 6)
	if !s.overlayInto("f", 2, dst) {
		t.Fatal("expected overlap")
	}
	if string(dst) != "..ABCD" {
		t.Fatalf("dst = %q", dst)
	}

	// No overlap.
	dst = []byte("..")
	if s.overlayInto("f", 20, dst) {
		t.Fatal("expected no overlap")
	}
	if s.overlayInto("missing", 0, dst) {
		t.Fatal("expected no region")
	}
}

func TestStagingSetIdlePaths(t *testing.T) {
	s := newStagingSet(0)
	if _, err := s.write("fresh", 0, []byte("x")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.write("stale", 0, []byte("y")); err != nil {
		t.Fatal(err)
	}
	s.mu.Lock()
	s.regions["stale"].lastWrite = time.Now().Add(-time.Minute)
	s.mu.Unlock()

	idle := s.idlePaths(time.Now().Add(-time.Second))
	if len(idle) != 1 || idle[0] != "stale" {
		t.Fatalf("idlePaths = %v, want [stale]", idle)
	}
}
