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
	"os"

	"github.com/spf13/cobra"

	"gramfs/internal/daemon"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the gramfs configuration",
	Long: `Creates the gramfs configuration directory (~/.gramfs) with a default
settings file, and optionally selects the chunk storage backend.

For the telegram backend you need a bot token from @BotFather and the id
of a chat the bot can post to; chunks are uploaded as bot documents.

Examples:
  gramfs init
  gramfs init --backend s3
  gramfs init --backend memory`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

var initBackend string

func init() {
	initCmd.Flags().StringVar(&initBackend, "backend", "", "Chunk storage backend: telegram, s3, or memory")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	settingsPath := daemon.GlobalSettingsPath()
	existed := false
	if _, err := os.Stat(settingsPath); err == nil {
		existed = true
	}

	// PersistentPreRunE already ran InitConfigDir; this is just reporting
	if existed {
		fmt.Printf("Configuration already present in %s\n", daemon.ConfigDir())
	} else {
		fmt.Printf("Initialized gramfs configuration in %s\n", daemon.ConfigDir())
	}

	if initBackend != "" {
		settings, err := daemon.LoadGlobalSettings()
		if err != nil {
			return fmt.Errorf("failed to load settings: %w", err)
		}
		switch initBackend {
		case "telegram", "s3", "memory":
			settings.Backend = initBackend
		default:
			return fmt.Errorf("unknown backend %q (want telegram, s3, or memory)", initBackend)
		}
		if err := daemon.SaveGlobalSettings(settings); err != nil {
			return fmt.Errorf("failed to save settings: %w", err)
		}
		fmt.Printf("  backend set to %s\n", initBackend)
	}

	fmt.Printf("  settings: %s\n", settingsPath)
	fmt.Println()
	fmt.Println("Edit the settings file to configure your backend credentials,")
	fmt.Println("then run 'gramfs mount'.")
	return nil
}
