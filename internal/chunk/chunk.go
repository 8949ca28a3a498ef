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

// Package chunk holds the offset arithmetic shared by every component that
// touches file content. Read assembly, flush reconciliation, and truncate
// all derive their chunk ranges from here rather than re-computing offsets
// locally, so the mapping between byte ranges and chunk sequences has a
// single definition.
package chunk

// Window describes the slice of one chunk covered by a byte range.
type Window struct {
	Seq int64 // zero-based chunk sequence
	Off int64 // first covered byte within the chunk
	Len int64 // number of covered bytes
}

// End returns the exclusive end offset of the window within its chunk.
func (w Window) End() int64 {
	return w.Off + w.Len
}

// Windows maps the byte range [offset, offset+length) onto the chunks that
// hold it, in ascending sequence order. The windows cover the range exactly,
// with no gap and no overlap. An empty range yields nil.
func Windows(chunkSize, offset, length int64) []Window {
	if chunkSize <= 0 || offset < 0 || length <= 0 {
		return nil
	}
	first := offset / chunkSize
	last := (offset + length - 1) / chunkSize
	ws := make([]Window, 0, last-first+1)
	for seq := first; seq <= last; seq++ {
		off := max(int64(0), offset-seq*chunkSize)
		end := min(chunkSize, offset+length-seq*chunkSize)
		ws = append(ws, Window{Seq: seq, Off: off, Len: end - off})
	}
	return ws
}

// Count returns the number of chunks needed to hold size bytes.
func Count(chunkSize, size int64) int64 {
	if chunkSize <= 0 || size <= 0 {
		return 0
	}
	return (size + chunkSize - 1) / chunkSize
}

// LastLen returns the byte length of the final chunk of a file of the given
// size. A full final chunk reports chunkSize, an empty file 0.
func LastLen(chunkSize, size int64) int64 {
	if chunkSize <= 0 || size <= 0 {
		return 0
	}
	if rem := size % chunkSize; rem != 0 {
		return rem
	}
	return chunkSize
}

// FileSize is the inverse of Count/LastLen: the logical file size implied by
// a chunk count and the length of the final chunk.
func FileSize(chunkSize, count, lastLen int64) int64 {
	if count <= 0 {
		return 0
	}
	return (count-1)*chunkSize + lastLen
}
