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

//go:build smb

package daemon

import (
	"log"

	gramfs "gramfs/internal/vfs"
)

// createServerForGramFS creates a network filesystem server over the VFS
func createServerForGramFS(fs *gramfs.GramFS, shareName string) (NetFSServer, error) {
	return NewSMBServer(fs, shareName), nil
}

// mountNetFS mounts the network filesystem
func mountNetFS(ip string, port int, shareName string, mountPath string) error {
	// SMB always uses 127.0.0.1 (ip parameter ignored for SMB)
	return Mount(port, shareName, mountPath)
}

// logServerType logs what type of server is being used
func logServerType() {
	log.Printf("Using SMB server")
}
