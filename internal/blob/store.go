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

// Package blob abstracts the remote object service that stores chunk
// content. Objects are immutable: an id returned by Upload always refers
// to the same bytes, and overwriting a chunk means uploading a new object
// and repointing the chunk record at the new id.
package blob

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound reports a download of an id the backend has no object for.
var ErrNotFound = errors.New("blob not found")

// DefaultMaxObjectSize matches the chunk size the filesystem defaults to.
const DefaultMaxObjectSize = 20 * 1024 * 1024

// Store is the transport boundary for chunk content.
type Store interface {
	// Upload stores data as one immutable object and returns its id.
	// len(data) must not exceed MaxObjectSize.
	Upload(ctx context.Context, data []byte) (string, error)

	// Download returns the full content of the object with the given id.
	Download(ctx context.Context, id string) ([]byte, error)

	// MaxObjectSize is the largest object the backend accepts. The
	// engine's chunk size must not exceed it.
	MaxObjectSize() int64

	// Type names the backend for logs and metrics.
	Type() string
}

func checkSize(s Store, n int) error {
	if int64(n) > s.MaxObjectSize() {
		return fmt.Errorf("object of %d bytes exceeds %s limit of %d", n, s.Type(), s.MaxObjectSize())
	}
	return nil
}
