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

	"github.com/spf13/cobra"

	"gramfs/internal/daemon"
	"gramfs/internal/storage"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show catalog statistics",
	Long: `Prints statistics about the local catalog: how many files,
directories, and symlinks it tracks, how many chunk records point into
the blob store, and the logical size of the filesystem.

Only catalog metadata is read; the blob store is never contacted.`,
	Args: cobra.NoArgs,
	RunE: runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
	path := daemon.CatalogPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Printf("No catalog at %s\n", path)
		fmt.Println("Run 'gramfs mount' or 'gramfs import' to create one")
		return nil
	}

	cat, err := storage.OpenWithContext(path, storage.DBContextCLI)
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	defer cat.Close()

	stats, err := cat.Stats(context.Background())
	if err != nil {
		return fmt.Errorf("failed to read stats: %w", err)
	}

	fmt.Printf("Catalog:        %s\n", path)
	fmt.Printf("Schema version: %s\n", stats.Version)
	if stats.CreatedAt != "" {
		fmt.Printf("Created:        %s\n", stats.CreatedAt)
	}
	fmt.Printf("Chunk size:     %s\n", formatBytes(stats.ChunkSize))
	fmt.Printf("Files:          %d\n", stats.Files)
	fmt.Printf("Directories:    %d\n", stats.Dirs)
	fmt.Printf("Symlinks:       %d\n", stats.Symlinks)
	fmt.Printf("Chunks:         %d\n", stats.Chunks)
	fmt.Printf("Logical size:   %s\n", formatBytes(stats.LogicalBytes))
	return nil
}
