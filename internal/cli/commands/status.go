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
	"fmt"

	"github.com/spf13/cobra"

	"gramfs/internal/daemon"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show mount and staging status",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	if !daemon.IsDaemonRunning() {
		fmt.Println("Not mounted (daemon not running)")
		fmt.Println("Run 'gramfs mount' to mount the filesystem")
		return nil
	}

	client, err := daemon.Connect()
	if err != nil {
		return fmt.Errorf("failed to connect to daemon: %w", err)
	}
	defer client.Close()

	resp, err := client.Status()
	if err != nil {
		return fmt.Errorf("status request failed: %w", err)
	}
	if !resp.Success {
		return fmt.Errorf("%s", resp.Error)
	}

	if resp.Mounted {
		fmt.Printf("Mounted at:     %s\n", resp.MountPoint)
	} else {
		fmt.Println("Daemon running, mount not up")
	}
	fmt.Printf("Backend:        %s\n", resp.Backend)
	fmt.Printf("Server:         %s\n", resp.ServerAddr)
	fmt.Printf("Catalog:        %s\n", resp.CatalogPath)
	fmt.Printf("Chunk size:     %s\n", formatBytes(resp.ChunkSize))
	fmt.Printf("Daemon PID:     %d\n", resp.PID)

	if resp.StagedRegions > 0 {
		fmt.Printf("Staged writes:  %d file(s), %s pending upload\n",
			resp.StagedRegions, formatBytes(resp.StagedBytes))
	} else {
		fmt.Println("Staged writes:  none")
	}

	return nil
}

// formatBytes renders a byte count with a binary unit suffix.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
