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

//go:build darwin

package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

const launchAgentLabel = "com.gramfs.daemon"

// The agent starts the daemon in the foreground and lets launchd own
// the process. KeepAlive stays off: 'gramfs unmount' stops the daemon
// over IPC and launchd must not restart it behind the user's back.
// Formatted with the executable path and the daemon log path.
const launchAgentPlist = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>` + launchAgentLabel + `</string>
    <key>ProgramArguments</key>
    <array>
        <string>%[1]s</string>
        <string>daemon</string>
        <string>start</string>
        <string>--foreground</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <false/>
    <key>ProcessType</key>
    <string>Background</string>
    <key>StandardOutPath</key>
    <string>%[2]s</string>
    <key>StandardErrorPath</key>
    <string>%[2]s</string>
</dict>
</plist>
`

// LaunchAgentPath returns where the agent plist lives for the current
// user.
func LaunchAgentPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "Library", "LaunchAgents", launchAgentLabel+".plist")
}

// InstallLaunchAgent writes the agent plist pointing at the current
// executable. Symlinks are resolved first so a plist written from a
// homebrew shim keeps working after the shim moves.
func InstallLaunchAgent() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return fmt.Errorf("resolve executable path: %w", err)
	}

	path := LaunchAgentPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create LaunchAgents directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(renderLaunchAgentPlist(exe, LogPath())), 0644); err != nil {
		return fmt.Errorf("write plist: %w", err)
	}
	return nil
}

// UninstallLaunchAgent unloads the agent if needed and removes the
// plist.
func UninstallLaunchAgent() error {
	if IsLaunchAgentLoaded() {
		_ = UnloadLaunchAgent()
	}
	if err := os.Remove(LaunchAgentPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove plist: %w", err)
	}
	return nil
}

func renderLaunchAgentPlist(exe, logPath string) string {
	return fmt.Sprintf(launchAgentPlist, exe, logPath)
}

func launchctl(args ...string) error {
	out, err := exec.Command("launchctl", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("launchctl %s: %w: %s", args[0], err, string(out))
	}
	return nil
}

// LoadLaunchAgent registers the installed plist with launchd.
func LoadLaunchAgent() error {
	return launchctl("load", LaunchAgentPath())
}

// UnloadLaunchAgent deregisters the plist from launchd.
func UnloadLaunchAgent() error {
	return launchctl("unload", LaunchAgentPath())
}

// IsLaunchAgentInstalled reports whether the plist exists on disk.
func IsLaunchAgentInstalled() bool {
	_, err := os.Stat(LaunchAgentPath())
	return err == nil
}

// IsLaunchAgentLoaded reports whether launchd currently knows the
// label.
func IsLaunchAgentLoaded() bool {
	return exec.Command("launchctl", "list", launchAgentLabel).Run() == nil
}

// GetLaunchAgentStatus describes the install/load state for display.
func GetLaunchAgentStatus() string {
	switch {
	case !IsLaunchAgentInstalled():
		return "not installed"
	case IsLaunchAgentLoaded():
		return "installed and loaded"
	default:
		return "installed but not loaded"
	}
}

// LaunchAgentSupported reports whether login start works on this
// platform.
func LaunchAgentSupported() bool {
	return true
}
