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

package vfs

import (
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gramfs/internal/common"
)

func TestErrorMappings(t *testing.T) {
	t.Parallel()

	// Verify all errors are mapped to correct syscall errors
	tests := []struct {
		name string
		err  error
		want syscall.Errno
	}{
		{"ENOENT", ENOENT, syscall.ENOENT},
		{"EEXIST", EEXIST, syscall.EEXIST},
		{"ENOTDIR", ENOTDIR, syscall.ENOTDIR},
		{"EISDIR", EISDIR, syscall.EISDIR},
		{"EBADF", EBADF, syscall.EBADF},
		{"EINVAL", EINVAL, syscall.EINVAL},
		{"ENOTSUP", ENOTSUP, syscall.ENOTSUP},
		{"ENOSPC", ENOSPC, syscall.ENOSPC},
		{"EIO", EIO, syscall.EIO},
		{"EACCES", EACCES, syscall.EACCES},
		{"EPERM", EPERM, syscall.EPERM},
		{"EROFS", EROFS, syscall.EROFS},
		{"ENOATTR", ENOATTR, syscall.ENODATA},
		{"ENOTEMPTY", ENOTEMPTY, syscall.ENOTEMPTY},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.err, "%s should map to syscall.%s", tt.name, tt.name)
		})
	}
}

func TestErrno(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"nil", nil, nil},
		{"not found", common.ErrNotFound, ENOENT},
		{"exists", common.ErrExists, EEXIST},
		{"not dir", common.ErrNotDir, ENOTDIR},
		{"is dir", common.ErrIsDir, EISDIR},
		{"not empty", common.ErrNotEmpty, ENOTEMPTY},
		{"invalid path", common.ErrInvalidPath, EINVAL},
		{"invalid handle", common.ErrInvalidHandle, EBADF},
		{"capacity", common.ErrCapacity, ENOSPC},
		{"io", common.ErrIO, EIO},
		{"inconsistent", common.ErrInconsistent, EIO},
		{"unknown", errors.New("surprise"), EIO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, errno(tt.err))
		})
	}
}

func TestErrnoUnwrapsEngineErrors(t *testing.T) {
	t.Parallel()

	// Engine errors carry context around the sentinel; the mapping must
	// see through the wrapping.
	wrapped := fmt.Errorf("mkdir %q: %w", "docs/sub", common.ErrExists)
	assert.Equal(t, EEXIST, errno(wrapped))

	deep := fmt.Errorf("flush %q: %w", "f", fmt.Errorf("upload chunk 3: %w", common.ErrIO))
	assert.Equal(t, EIO, errno(deep))
}

func TestErrnoPassesThroughErrnos(t *testing.T) {
	t.Parallel()

	// Already-mapped errnos come back unchanged, not re-mapped to EIO.
	require.Equal(t, ENOTSUP, errno(ENOTSUP))
	require.Equal(t, EBADF, errno(fmt.Errorf("op: %w", EBADF)))
}
