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
	"bufio"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// CleanupResult contains the result of a startup cleanup pass
type CleanupResult struct {
	StaleMounts    []string // Mount points that were unmounted
	CleanedPidFile bool     // Whether PID file was cleaned
	CleanedSocket  bool     // Whether socket file was cleaned
	Errors         []error  // Any errors encountered
}

// CleanupStaleMounts finds and unmounts stale gramfs mounts. A stale mount
// is a localhost NFS/SMB mount under the config directory whose daemon is
// no longer answering its socket — typically left behind by a crash.
func CleanupStaleMounts() (*CleanupResult, error) {
	result := &CleanupResult{}

	// Don't clean up if daemon is running
	if IsDaemonRunning() {
		return result, nil
	}

	for _, mountPoint := range findStaleLocalMounts() {
		if err := Unmount(mountPoint); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("failed to unmount %s: %w", mountPoint, err))
		} else {
			result.StaleMounts = append(result.StaleMounts, mountPoint)
		}
	}

	if cleanupStalePidFile() {
		result.CleanedPidFile = true
	}
	if cleanupStaleSocket() {
		result.CleanedSocket = true
	}

	return result, nil
}

// findStaleLocalMounts lists localhost mounts under the gramfs config
// directory. The mount(8) output differs between platforms:
//
//	macOS:  localhost:/ on /path/to/mnt (nfs, ...)
//	Linux:  localhost:/ on /path/to/mnt type nfs (...)
//
// Both keep "<device> on <mountpoint>", so parsing stops at " type " or
// " (" — whichever is present.
func findStaleLocalMounts() []string {
	output, err := exec.Command("mount").Output()
	if err != nil {
		return nil
	}

	var stale []string
	scanner := bufio.NewScanner(strings.NewReader(string(output)))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "localhost:/") &&
			!strings.HasPrefix(line, "127.0.0.1:/") &&
			!strings.Contains(line, "@127.0.0.1:") &&
			!strings.Contains(line, "@localhost:") {
			continue
		}
		parts := strings.SplitN(line, " on ", 2)
		if len(parts) < 2 {
			continue
		}
		mountPoint := parts[1]
		if idx := strings.Index(mountPoint, " type "); idx != -1 {
			mountPoint = mountPoint[:idx]
		} else if idx := strings.Index(mountPoint, " ("); idx != -1 {
			mountPoint = mountPoint[:idx]
		}
		// Only touch mounts inside our config directory
		if strings.Contains(mountPoint, "/.gramfs/") || strings.HasPrefix(mountPoint, getConfigDir()) {
			stale = append(stale, mountPoint)
		}
	}
	return stale
}

// cleanupStalePidFile removes the PID file if the process is not running
func cleanupStalePidFile() bool {
	pid, err := GetPID()
	if err != nil {
		// No PID file or can't read it
		return false
	}

	// Signal 0 checks liveness without delivering anything
	if err := syscall.Kill(pid, 0); err != nil {
		os.Remove(PidPath())
		return true
	}
	return false
}

// cleanupStaleSocket removes the socket file if the daemon isn't answering
func cleanupStaleSocket() bool {
	if _, err := os.Stat(SocketPath()); os.IsNotExist(err) {
		return false
	}
	if !IsDaemonRunning() {
		os.Remove(SocketPath())
		return true
	}
	return false
}

// CleanupOwnMount unmounts and cleans up this daemon's own mount point.
// Called before mounting to ensure a clean slate after a crashed instance.
func CleanupOwnMount() error {
	settings, err := LoadGlobalSettings()
	if err != nil {
		return err
	}
	mountPath := settings.EffectiveMountPoint()

	if IsMounted(mountPath) {
		if err := Unmount(mountPath); err != nil {
			return err
		}
	}

	// Remove the mount directory only when empty, to avoid eating real data
	if info, err := os.Stat(mountPath); err == nil && info.IsDir() {
		entries, err := os.ReadDir(mountPath)
		if err == nil && len(entries) == 0 {
			os.Remove(mountPath)
		}
	}

	return nil
}

// KillZombieDaemons kills gramfs daemon processes that are truly orphaned:
// the process is alive but its socket no longer answers. Test daemons
// (isolated via GRAMFS_CONFIG_DIR) are checked against their own socket so
// healthy parallel test daemons are left alone.
//
// Stale mounts are unmounted BEFORE any process is killed: a file manager
// holding a stale NFS mount hangs hard when the server process dies first.
func KillZombieDaemons() int {
	for _, mountPoint := range findStaleLocalMounts() {
		Unmount(mountPoint)
	}

	output, err := exec.Command("pgrep", "-f", "gramfs.*daemon").Output()
	if err != nil {
		return 0
	}

	killed := 0
	myPid := os.Getpid()
	for _, pidStr := range strings.Fields(string(output)) {
		pid, err := strconv.Atoi(pidStr)
		if err != nil || pid == myPid {
			continue
		}

		proc, err := os.FindProcess(pid)
		if err != nil {
			continue
		}

		psOut, err := exec.Command("ps", "-p", pidStr, "-o", "command=").Output()
		if err != nil {
			continue
		}
		cmdline := string(psOut)

		// Only kill daemons whose config dir we can identify and whose
		// socket is dead. The default instance is covered by the flock.
		configDir := extractConfigDirFromCmdline(cmdline)
		if configDir == "" {
			continue
		}
		if isDaemonRunningInConfigDir(configDir) {
			continue
		}

		proc.Signal(syscall.SIGKILL)
		killed++
	}

	return killed
}

// extractConfigDirFromCmdline extracts the config directory from a process
// command line by looking for a GRAMFS_CONFIG_DIR=xxx assignment. Returns
// empty string for the default daemon.
func extractConfigDirFromCmdline(cmdline string) string {
	idx := strings.Index(cmdline, "GRAMFS_CONFIG_DIR=")
	if idx == -1 {
		return ""
	}
	rest := cmdline[idx+len("GRAMFS_CONFIG_DIR="):]
	if endIdx := strings.IndexAny(rest, " \t\n"); endIdx != -1 {
		return rest[:endIdx]
	}
	return strings.TrimSpace(rest)
}

// isDaemonRunningInConfigDir checks for a live daemon by dialing the
// socket at {configDir}/daemon.sock. The 2s timeout covers daemons that
// are slow to accept while busy with NFS traffic.
func isDaemonRunningInConfigDir(configDir string) bool {
	socketPath := filepath.Join(configDir, daemonName()+".sock")
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// FormatCleanupResult formats a cleanup result for display
func FormatCleanupResult(result *CleanupResult) string {
	var parts []string

	if len(result.StaleMounts) > 0 {
		parts = append(parts, fmt.Sprintf("Unmounted %d stale mount(s):", len(result.StaleMounts)))
		for _, m := range result.StaleMounts {
			parts = append(parts, fmt.Sprintf("  - %s", m))
		}
	}

	if result.CleanedPidFile {
		parts = append(parts, "Cleaned up stale PID file")
	}

	if result.CleanedSocket {
		parts = append(parts, "Cleaned up stale socket file")
	}

	if len(result.Errors) > 0 {
		parts = append(parts, fmt.Sprintf("Encountered %d error(s):", len(result.Errors)))
		for _, e := range result.Errors {
			parts = append(parts, fmt.Sprintf("  - %s", e.Error()))
		}
	}

	if len(parts) == 0 {
		return "No cleanup needed"
	}

	return strings.Join(parts, "\n")
}
