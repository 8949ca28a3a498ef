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
	"path/filepath"

	"github.com/spf13/cobra"

	"gramfs/internal/daemon"
)

var mountCmd = &cobra.Command{
	Use:   "mount [mount-point]",
	Short: "Mount the filesystem",
	Long: `Starts the daemon (if not already running) and mounts the gramfs
filesystem at the configured mount point.

With a mount-point argument the new location is persisted to the
settings file first.

Examples:
  gramfs mount
  gramfs mount ~/gram`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMount,
}

func init() {
	rootCmd.AddCommand(mountCmd)
}

func runMount(cmd *cobra.Command, args []string) error {
	settings, err := daemon.LoadGlobalSettings()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	if len(args) == 1 {
		mountPoint, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("invalid mount point %q: %w", args[0], err)
		}
		if mountPoint != settings.MountPoint {
			if daemon.IsDaemonRunning() {
				return fmt.Errorf("daemon is already running with mount point %s; run 'gramfs unmount' first", settings.EffectiveMountPoint())
			}
			settings.MountPoint = mountPoint
			if err := daemon.SaveGlobalSettings(settings); err != nil {
				return fmt.Errorf("failed to save settings: %w", err)
			}
		}
	}

	if daemon.IsDaemonRunning() {
		fmt.Printf("Already mounted at %s\n", settings.EffectiveMountPoint())
		return nil
	}

	if err := StartDaemonIfNeeded(true); err != nil {
		return fmt.Errorf("failed to start daemon: %w (check %s)", err, daemon.LogPath())
	}

	// The daemon answers the socket before the mount syscall completes,
	// so ask it where things actually landed.
	client, err := daemon.Connect()
	if err != nil {
		return fmt.Errorf("daemon started but not reachable: %w", err)
	}
	defer client.Close()

	resp, err := client.Status()
	if err != nil {
		return fmt.Errorf("status request failed: %w", err)
	}

	fmt.Printf("Mounted at %s (backend: %s)\n", resp.MountPoint, resp.Backend)
	return nil
}
