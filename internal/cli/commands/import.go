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

package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"gramfs/internal/daemon"
	"gramfs/internal/engine"
	"gramfs/internal/storage"
)

var importCmd = &cobra.Command{
	Use:   "import <source-dir> [dest-path]",
	Short: "Import a local directory into the filesystem",
	Long: `Copies a local directory tree into the gramfs filesystem: directories
and symlinks become catalog entries, file content is chunked and
uploaded to the configured blob backend.

The destination defaults to the filesystem root. Imports run against
the catalog directly and require the daemon to be stopped.

Examples:
  gramfs import ~/photos /photos
  gramfs import ./project /work/project --gitignore
  gramfs import ./data / --exclude tmp --exclude '*.bak' --allow-partial`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runImport,
}

var (
	importGitignore    bool
	importHidden       bool
	importAllowPartial bool
	importIncludes     []string
	importExcludes     []string
)

func init() {
	importCmd.Flags().BoolVar(&importGitignore, "gitignore", false, "Honor .gitignore files in the source tree")
	importCmd.Flags().BoolVar(&importHidden, "hidden", false, "Include hidden files (skipped by default)")
	importCmd.Flags().BoolVar(&importAllowPartial, "allow-partial", false, "Continue past unreadable files instead of aborting")
	importCmd.Flags().StringArrayVar(&importIncludes, "include", nil, "Path prefix to import even if ignored (repeatable)")
	importCmd.Flags().StringArrayVar(&importExcludes, "exclude", nil, "Path prefix to skip (repeatable)")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	sourceDir := args[0]
	destPath := "/"
	if len(args) == 2 {
		destPath = args[1]
	}

	info, err := os.Stat(sourceDir)
	if err != nil {
		return fmt.Errorf("source directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("source %s is not a directory", sourceDir)
	}

	// The daemon owns the catalog and staging while it runs; importing
	// behind its back would race with the flusher.
	if daemon.IsDaemonRunning() {
		return fmt.Errorf("daemon is running; run 'gramfs unmount' before importing")
	}

	settings, err := daemon.LoadGlobalSettings()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	ctx := context.Background()

	cat, err := openOrCreateCatalog(settings)
	if err != nil {
		return err
	}
	defer cat.Close()

	store, err := daemon.NewBlobStore(ctx, settings)
	if err != nil {
		return fmt.Errorf("failed to create blob store: %w", err)
	}

	// No Start: the import flushes each file itself, so the background
	// flusher has nothing to do.
	eng, err := engine.New(cat, store, engine.Options{
		StagingCapacity: settings.StagingCapacity,
		CacheBudget:     settings.CacheBudget,
	})
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	defer eng.Close(ctx)

	cfg := engine.ImportConfig{
		SkipHidden:   !importHidden,
		AllowPartial: importAllowPartial,
	}
	if importGitignore || len(importIncludes) > 0 || len(importExcludes) > 0 {
		cfg.Filter = engine.BuildFileFilter(sourceDir, importGitignore, importIncludes, importExcludes)
	}

	fmt.Printf("Importing %s -> %s (backend: %s)...\n", sourceDir, destPath, store.Type())

	result, err := eng.ImportDirectory(ctx, sourceDir, destPath, cfg)
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	fmt.Printf("Imported %d file(s), %d dir(s), %d symlink(s), %s in %v\n",
		result.Files, result.Dirs, result.Symlinks,
		formatBytes(result.CopiedBytes), result.Duration.Round(10*time.Millisecond))
	if len(result.SkippedPaths) > 0 {
		fmt.Printf("Skipped %d path(s):\n", len(result.SkippedPaths))
		for _, p := range result.SkippedPaths {
			fmt.Printf("  %s\n", p)
		}
	}
	return nil
}

// openOrCreateCatalog opens the configured catalog, creating it with the
// configured chunk size on first use.
func openOrCreateCatalog(settings *daemon.GlobalSettings) (*storage.Catalog, error) {
	path := daemon.CatalogPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cat, err := storage.CreateWithContext(path, settings.ChunkSize, storage.DBContextCLI)
		if err != nil {
			return nil, fmt.Errorf("failed to create catalog: %w", err)
		}
		return cat, nil
	}
	cat, err := storage.OpenWithContext(path, storage.DBContextCLI)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	return cat, nil
}
