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
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"gramfs/internal/common"
)

// ImportConfig configures a bulk import of a local directory tree.
type ImportConfig struct {
	// Filter is an optional file filter. If provided, only entries for
	// which Filter(relPath, isDir) returns true are imported.
	Filter FileFilter

	// SkipHidden skips entries whose name starts with '.' or '._'.
	SkipHidden bool

	// AllowPartial continues on read errors and collects skipped paths
	// instead of aborting the import.
	AllowPartial bool
}

// ImportResult summarizes a bulk import.
type ImportResult struct {
	Files        int
	Dirs         int
	Symlinks     int
	CopiedBytes  int64
	SkippedPaths []string
	Duration     time.Duration
}

// copyBufSize is the unit in which file content is pumped into staging.
const copyBufSize = 1 << 20

// ImportDirectory walks sourceDir and recreates it under destPath in the
// filesystem: directories and symlinks as catalog nodes, file content
// through the normal staging path. Each file is flushed to the blob store
// before the next one starts, so staging memory stays bounded by one
// file's capacity no matter how large the tree is.
func (e *Engine) ImportDirectory(ctx context.Context, sourceDir, destPath string, cfg ImportConfig) (*ImportResult, error) {
	start := time.Now()
	result := &ImportResult{}

	resolvedSource, err := filepath.EvalSymlinks(sourceDir)
	if err != nil {
		return nil, fmt.Errorf("import: resolve source: %w", err)
	}

	destPath = common.NormalizePath(destPath)
	if err := e.ensureDirs(ctx, destPath); err != nil {
		return nil, err
	}

	uid := uint32(os.Getuid())
	gid := uint32(os.Getgid())

	walkErr := filepath.Walk(resolvedSource, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if cfg.AllowPartial {
				result.SkippedPaths = append(result.SkippedPaths, path+": "+err.Error())
				if info != nil && info.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			return err
		}

		relPath, err := filepath.Rel(resolvedSource, path)
		if err != nil {
			return err
		}
		if relPath == "." {
			return nil
		}
		rel := filepath.ToSlash(relPath)

		if cfg.SkipHidden && isHiddenName(filepath.Base(path)) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if cfg.Filter != nil && !cfg.Filter(rel, info.IsDir()) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		target := common.JoinPath(destPath, rel)
		mode := uint32(info.Mode().Perm())

		switch {
		case info.IsDir():
			if _, err := e.Mkdir(ctx, target, mode, uid, gid); err != nil && !errors.Is(err, common.ErrExists) {
				return fmt.Errorf("import %s: %w", rel, err)
			}
			result.Dirs++
			return nil

		case info.Mode()&os.ModeSymlink != 0:
			linkTarget, err := os.Readlink(path)
			if err != nil {
				return e.skipOrFail(cfg, result, rel, err)
			}
			if _, err := e.Symlink(ctx, target, linkTarget, uid, gid); err != nil && !errors.Is(err, common.ErrExists) {
				return fmt.Errorf("import %s: %w", rel, err)
			}
			result.Symlinks++
			return nil

		case info.Mode().IsRegular():
			n, err := e.importFile(ctx, path, target, mode, uid, gid)
			if err != nil {
				return e.skipOrFail(cfg, result, rel, err)
			}
			result.Files++
			result.CopiedBytes += n
			return nil

		default:
			// Sockets, devices, pipes: nothing sensible to store
			result.SkippedPaths = append(result.SkippedPaths, rel+": unsupported file type")
			return nil
		}
	})
	if walkErr != nil {
		return nil, walkErr
	}

	result.Duration = time.Since(start)
	log.Infof("imported %s: %d files, %d dirs, %d symlinks, %d bytes in %v",
		sourceDir, result.Files, result.Dirs, result.Symlinks, result.CopiedBytes, result.Duration)
	return result, nil
}

// importFile copies one local file through the staging path and flushes
// it to the blob store. An existing destination is truncated first so a
// re-import never leaves stale tail chunks behind.
func (e *Engine) importFile(ctx context.Context, srcPath, destPath string, mode, uid, gid uint32) (int64, error) {
	if _, err := e.Create(ctx, destPath, mode, uid, gid); err != nil {
		if !errors.Is(err, common.ErrExists) {
			return 0, err
		}
		if err := e.Truncate(ctx, destPath, 0); err != nil {
			return 0, err
		}
	}

	f, err := os.Open(srcPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	buf := make([]byte, copyBufSize)
	var off int64
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			p := buf[:n]
			for len(p) > 0 {
				accepted, err := e.Write(ctx, destPath, off, p)
				if err != nil {
					if errors.Is(err, common.ErrCapacity) {
						// Staging region is full: drain it and retry the rest
						if err := e.FlushPath(ctx, destPath); err != nil {
							return off, err
						}
						continue
					}
					return off, err
				}
				off += int64(accepted)
				p = p[accepted:]
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return off, readErr
		}
	}

	if err := e.FlushPath(ctx, destPath); err != nil {
		return off, err
	}
	return off, nil
}

// ensureDirs creates every missing directory along destPath.
func (e *Engine) ensureDirs(ctx context.Context, destPath string) error {
	parts := common.SplitPath(destPath)
	cur := ""
	for _, part := range parts {
		cur = common.JoinPath(cur, part)
		if _, err := e.Mkdir(ctx, cur, 0755, uint32(os.Getuid()), uint32(os.Getgid())); err != nil && !errors.Is(err, common.ErrExists) {
			return fmt.Errorf("import: mkdir %s: %w", cur, err)
		}
	}
	return nil
}

func (e *Engine) skipOrFail(cfg ImportConfig, result *ImportResult, rel string, err error) error {
	if cfg.AllowPartial {
		result.SkippedPaths = append(result.SkippedPaths, rel+": "+err.Error())
		return nil
	}
	return fmt.Errorf("import %s: %w", rel, err)
}

func isHiddenName(name string) bool {
	return len(name) > 0 && name[0] == '.'
}
