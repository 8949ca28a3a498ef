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

package util

import (
	"context"
	"fmt"
	"os"
)

// StartDaemonIfNeeded starts the daemon in the background if not running.
// isRunning determines whether a daemon already serves requests; startCmd
// is the argument vector passed to a re-exec of the current binary
// (e.g., []string{"daemon"}). When notify is set, progress goes to stderr.
func StartDaemonIfNeeded(ctx context.Context, notify bool, isRunning func() bool, startCmd []string) error {
	if isRunning() {
		return nil
	}

	if notify {
		fmt.Fprint(os.Stderr, "Starting daemon...")
	}

	exe, err := GetExecutablePath()
	if err != nil {
		if notify {
			fmt.Fprintln(os.Stderr, " failed")
		}
		return err
	}

	_, err = StartBackgroundProcess(exe, startCmd, nil)
	if err != nil {
		if notify {
			fmt.Fprintln(os.Stderr, " failed")
		}
		return err
	}

	// Wait for daemon to be ready
	err = PollUntil(ctx, FastPollConfig(), isRunning)
	if err != nil {
		if notify {
			fmt.Fprintln(os.Stderr, " timeout")
		}
		return fmt.Errorf("daemon did not start in time")
	}

	if notify {
		fmt.Fprintln(os.Stderr, " done")
	}
	return nil
}
