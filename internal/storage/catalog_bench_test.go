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

package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
)

// Benchmarks for the catalog hot paths: node creation (one per created
// file), per-component lookup (every path resolution), and chunk upserts
// (one per uploaded chunk during a flush).

func benchCatalog(b *testing.B) *Catalog {
	b.Helper()
	cat, err := Create(filepath.Join(b.TempDir(), "bench.gramfs"), DefaultChunkSize)
	if err != nil {
		b.Fatalf("create catalog: %v", err)
	}
	b.Cleanup(func() { cat.Close() })
	return cat
}

func BenchmarkCreateNode(b *testing.B) {
	cat := benchCatalog(b)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		node := &Node{Name: fmt.Sprintf("file-%d", i), ParentID: RootNodeID, Mode: DefaultFileMode}
		if _, err := cat.BunDB().CreateNode(ctx, node); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkResolvePath(b *testing.B) {
	cat := benchCatalog(b)
	ctx := context.Background()

	// A four-deep directory chain, resolved component by component
	parent := int64(RootNodeID)
	for _, name := range []string{"a", "b", "c", "d"} {
		node := &Node{Name: name, ParentID: parent, Mode: DefaultDirMode, Size: DirSize}
		id, err := cat.BunDB().CreateNode(ctx, node)
		if err != nil {
			b.Fatal(err)
		}
		parent = id
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := cat.ResolvePath(ctx, "/a/b/c/d"); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkUpsertChunk(b *testing.B) {
	cat := benchCatalog(b)
	ctx := context.Background()

	node := &Node{Name: "big.bin", ParentID: RootNodeID, Mode: DefaultFileMode}
	id, err := cat.BunDB().CreateNode(ctx, node)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		// Rewrites cycle over 64 sequences, like a flush repointing blobs
		seq := int64(i % 64)
		if err := cat.BunDB().UpsertChunk(ctx, id, seq, fmt.Sprintf("blob-%d", i)); err != nil {
			b.Fatal(err)
		}
	}
}
