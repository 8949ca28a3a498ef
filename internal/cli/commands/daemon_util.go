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
	"context"

	"gramfs/internal/daemon"
	"gramfs/internal/util"
)

// StartDaemonIfNeeded starts the daemon in the background if it isn't
// already serving the IPC socket. When notify is set, progress goes to
// stderr.
func StartDaemonIfNeeded(notify bool) error {
	return util.StartDaemonIfNeeded(
		context.Background(),
		notify,
		daemon.IsDaemonRunning,
		[]string{"daemon", "start", "--foreground"},
	)
}
