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

//go:build linux

package daemon

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// NFSMount mounts the NFS share at the given path using mount -t nfs
func NFSMount(ip string, port int, shareName string, mountPath string) error {
	// Ensure mount point exists
	if err := os.MkdirAll(mountPath, 0755); err != nil {
		return fmt.Errorf("failed to create mount point: %w", err)
	}

	// Note: noac disables attribute caching so a flush updating sizes in the
	//   catalog is immediately visible through the mount.
	// Note: soft,timeo=50 (5 seconds per attempt), retrans=3 bounds how long the
	//   kernel retries a dead server instead of hanging every process that
	//   touches the mount. The daemon unmounts before shutting the server down,
	//   so the soft timeout is never hit in normal operation.
	// rsize/wsize=65536 keeps RPC sizes matched with the macOS side.
	cmd := exec.Command("mount",
		"-t", "nfs",
		"-o", fmt.Sprintf("port=%d,mountport=%d,tcp,nolock,vers=3,rsize=65536,wsize=65536,noac,soft,timeo=50,retrans=3", port, port),
		fmt.Sprintf("%s:/", ip),
		mountPath,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("nfs mount failed: %w: %s", err, string(output))
	}

	return nil
}

// Mount mounts an SMB share using mount -t cifs
func Mount(port int, shareName, mountPoint string) error {
	// Create mount point if it doesn't exist
	if err := os.MkdirAll(mountPoint, 0755); err != nil {
		return fmt.Errorf("failed to create mount point: %w", err)
	}

	url := fmt.Sprintf("//127.0.0.1/%s", shareName)

	log.Printf("Mount: running mount -t cifs %s -> %s", url, mountPoint)

	// guest auth, explicit port; uid/gid map the share to the daemon user
	cmd := exec.Command("mount",
		"-t", "cifs",
		"-o", fmt.Sprintf("port=%d,guest,uid=%d,gid=%d", port, os.Getuid(), os.Getgid()),
		url,
		mountPoint,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		log.Printf("Mount: cifs mount failed: %v, output: %s", err, string(output))
		return fmt.Errorf("cifs mount failed: %w, output: %s", err, string(output))
	}

	log.Printf("Mount: cifs mount succeeded, output: %s", string(output))

	return nil
}

// unmountTimeout is the maximum time to wait for each unmount attempt.
// After the NFS server is shut down, the kernel NFS client may block unmount
// commands while it waits for the server to respond (up to soft timeout).
// 3s is enough for normal unmounts; lazy unmount always succeeds quickly.
const unmountTimeout = 3 * time.Second

// Unmount unmounts a filesystem
func Unmount(mountPoint string) error {
	log.Printf("Unmount: attempting to unmount %s", mountPoint)

	// Check if actually mounted first
	if !IsMounted(mountPoint) {
		log.Printf("Unmount: %s is not mounted, nothing to do", mountPoint)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), unmountTimeout)
	cmd := exec.CommandContext(ctx, "umount", mountPoint)
	output, err := cmd.CombinedOutput()
	cancel()
	if err == nil {
		log.Printf("Unmount: umount succeeded for %s", mountPoint)
		return nil
	}
	log.Printf("Unmount: umount failed: %v, output: %s", err, string(output))

	// Force unmount
	ctx, cancel = context.WithTimeout(context.Background(), unmountTimeout)
	cmd = exec.CommandContext(ctx, "umount", "-f", mountPoint)
	output, err = cmd.CombinedOutput()
	cancel()
	if err == nil {
		log.Printf("Unmount: force unmount succeeded for %s", mountPoint)
		return nil
	}
	log.Printf("Unmount: force unmount failed: %v, output: %s", err, string(output))

	// Lazy unmount as last resort: detaches the mount point now and lets the
	// kernel finish when the filesystem stops being busy
	ctx, cancel = context.WithTimeout(context.Background(), unmountTimeout)
	cmd = exec.CommandContext(ctx, "umount", "-l", mountPoint)
	output, err = cmd.CombinedOutput()
	cancel()
	if err != nil {
		log.Printf("Unmount: lazy unmount failed: %v, output: %s", err, string(output))
		return fmt.Errorf("all unmount attempts failed for %s: %w", mountPoint, err)
	}
	log.Printf("Unmount: lazy unmount succeeded for %s", mountPoint)
	return nil
}

// IsMounted checks if a path is a mount point by checking /proc/self/mounts
func IsMounted(mountPoint string) bool {
	f, err := os.Open("/proc/self/mounts")
	if err != nil {
		return false
	}
	defer f.Close()

	realPath, err := filepath.EvalSymlinks(mountPoint)
	if err != nil {
		// Path doesn't exist yet or other error - use original path
		realPath = mountPoint
	}

	// Format: device mountpoint fstype options dump pass
	// Spaces in mount points are octal-escaped (\040)
	escaped := strings.ReplaceAll(realPath, " ", `\040`)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 2 && fields[1] == escaped {
			return true
		}
	}
	return false
}
