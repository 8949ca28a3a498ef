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

// Package cache holds content caches for the gramfs engine.
//
// Only blob bytes are cached. Blob ids name immutable remote objects, so a
// cached entry can never go stale. Catalog state (the tree, attributes,
// chunk lists) is deliberately never cached: the catalog is the single
// source of truth and every operation re-reads it.
package cache

import "os"

// Disabled turns all caching off, via GRAMFS_CACHE=0. Useful to isolate
// cache-related bugs: with caching off every read hits the blob store.
var Disabled = os.Getenv("GRAMFS_CACHE") == "0"
