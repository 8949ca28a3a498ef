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

package daemon

import (
	"errors"
	"os"
	"strings"
	"testing"
)

func TestFormatCleanupResult_Empty(t *testing.T) {
	result := &CleanupResult{}
	formatted := FormatCleanupResult(result)
	if formatted != "No cleanup needed" {
		t.Errorf("FormatCleanupResult() = %q, want 'No cleanup needed'", formatted)
	}
}

func TestFormatCleanupResult_StaleMounts(t *testing.T) {
	result := &CleanupResult{
		StaleMounts: []string{"/mnt/a", "/mnt/b"},
	}
	formatted := FormatCleanupResult(result)
	if !strings.Contains(formatted, "2 stale mount(s)") {
		t.Errorf("FormatCleanupResult() = %q, want mount count", formatted)
	}
	if !strings.Contains(formatted, "/mnt/a") || !strings.Contains(formatted, "/mnt/b") {
		t.Errorf("FormatCleanupResult() = %q, want both mount points listed", formatted)
	}
}

func TestFormatCleanupResult_PidFile(t *testing.T) {
	result := &CleanupResult{
		CleanedPidFile: true,
	}
	formatted := FormatCleanupResult(result)
	if formatted == "No cleanup needed" {
		t.Error("should not say 'No cleanup needed' when PID was cleaned")
	}
}

func TestFormatCleanupResult_Socket(t *testing.T) {
	result := &CleanupResult{
		CleanedSocket: true,
	}
	formatted := FormatCleanupResult(result)
	if formatted == "No cleanup needed" {
		t.Error("should not say 'No cleanup needed' when socket was cleaned")
	}
}

func TestFormatCleanupResult_Errors(t *testing.T) {
	result := &CleanupResult{
		Errors: []error{errors.New("error 1"), errors.New("error 2")},
	}
	formatted := FormatCleanupResult(result)
	if !strings.Contains(formatted, "2 error(s)") {
		t.Errorf("FormatCleanupResult() = %q, want error count", formatted)
	}
}

func TestExtractConfigDirFromCmdline(t *testing.T) {
	tests := []struct {
		name    string
		cmdline string
		want    string
	}{
		{
			name:    "default daemon",
			cmdline: "/usr/local/bin/gramfs daemon start --foreground",
			want:    "",
		},
		{
			name:    "test daemon with config dir",
			cmdline: "GRAMFS_CONFIG_DIR=/tmp/gramfs-test-1 /usr/local/bin/gramfs daemon start",
			want:    "/tmp/gramfs-test-1",
		},
		{
			name:    "config dir at end of line",
			cmdline: "gramfs daemon start GRAMFS_CONFIG_DIR=/tmp/x",
			want:    "/tmp/x",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractConfigDirFromCmdline(tt.cmdline)
			if got != tt.want {
				t.Errorf("extractConfigDirFromCmdline() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCleanupStalePidFile(t *testing.T) {
	t.Setenv("GRAMFS_CONFIG_DIR", t.TempDir())

	// No PID file: nothing to clean
	if cleanupStalePidFile() {
		t.Error("cleanupStalePidFile() = true with no PID file")
	}

	// Stale PID file for a process that cannot exist
	if err := EnsureConfigDir(); err != nil {
		t.Fatal(err)
	}
	// 4194304 is beyond the default pid_max on Linux
	if err := os.WriteFile(PidPath(), []byte("4194304"), 0600); err != nil {
		t.Fatal(err)
	}
	if !cleanupStalePidFile() {
		t.Error("cleanupStalePidFile() = false for a dead PID")
	}
	if _, err := os.Stat(PidPath()); !os.IsNotExist(err) {
		t.Error("stale PID file should have been removed")
	}
}
