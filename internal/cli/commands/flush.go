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

var flushCmd = &cobra.Command{
	Use:   "flush [path]",
	Short: "Upload staged writes now",
	Long: `Asks the daemon to upload staged writes to the blob store immediately
instead of waiting for the idle threshold.

With a path argument only that file's staging region is flushed; the
path is relative to the filesystem root, not the mount point.

Examples:
  gramfs flush
  gramfs flush /docs/report.txt`,
	Args: cobra.MaximumNArgs(1),
	RunE: runFlush,
}

func init() {
	rootCmd.AddCommand(flushCmd)
}

func runFlush(cmd *cobra.Command, args []string) error {
	if !daemon.IsDaemonRunning() {
		return fmt.Errorf("daemon not running; nothing staged")
	}

	path := ""
	if len(args) == 1 {
		path = args[0]
	}

	client, err := daemon.Connect()
	if err != nil {
		return fmt.Errorf("failed to connect to daemon: %w", err)
	}
	defer client.Close()

	resp, err := client.Flush(path)
	if err != nil {
		return err
	}

	if resp.Message != "" {
		fmt.Println(resp.Message)
	} else if path != "" {
		fmt.Printf("Flushed %s\n", path)
	} else {
		fmt.Println("Flushed all staged writes")
	}
	return nil
}
