//go:build !darwin

package daemon

import "errors"

// ErrLaunchAgentNotSupported is returned on non-macOS platforms.
var ErrLaunchAgentNotSupported = errors.New("login start is only supported on macOS")

// Stubs so the CLI compiles everywhere; LaunchAgentSupported gates all
// callers before any of these can be reached.

func LaunchAgentPath() string { return "" }

func InstallLaunchAgent() error { return ErrLaunchAgentNotSupported }

func UninstallLaunchAgent() error { return ErrLaunchAgentNotSupported }

func LoadLaunchAgent() error { return ErrLaunchAgentNotSupported }

func UnloadLaunchAgent() error { return ErrLaunchAgentNotSupported }

func IsLaunchAgentInstalled() bool { return false }

func IsLaunchAgentLoaded() bool { return false }

func GetLaunchAgentStatus() string { return "not supported on this platform" }

func LaunchAgentSupported() bool { return false }
