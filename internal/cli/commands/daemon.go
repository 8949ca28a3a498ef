package commands

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"gramfs/internal/daemon"
	"gramfs/internal/util"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Daemon management commands",
	Long:  `Commands for controlling the gramfs daemon that serves the mount.`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon",
	Long:  `Starts the gramfs daemon in the background and mounts the filesystem.`,
	Args:  cobra.NoArgs,
	RunE:  runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daemon",
	Long:  `Stops the running gramfs daemon, draining staged writes and unmounting first.`,
	Args:  cobra.NoArgs,
	RunE:  runDaemonStop,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Args:  cobra.NoArgs,
	RunE:  runDaemonStatus,
}

var daemonConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Configure daemon settings",
	Long: `Configure persistent daemon settings.

Settings are stored in ~/.gramfs/settings.yaml and take effect on next
daemon start.

Examples:
  # Enable debug logging
  gramfs daemon config --logging debug

  # Disable logging
  gramfs daemon config --logging none

  # Start the daemon on login (macOS)
  gramfs daemon config --login-start on

  # Show current configuration
  gramfs daemon config`,
	Args: cobra.NoArgs,
	RunE: runDaemonConfig,
}

var daemonForeground bool
var daemonLogLevel string
var daemonRestart bool
var daemonSkipCleanup bool
var configLogLevel string
var configLoginStart string

func init() {
	daemonStartCmd.Flags().BoolVarP(&daemonForeground, "foreground", "f", false, "Run in foreground")
	daemonStartCmd.Flags().StringVar(&daemonLogLevel, "logging", "", "Log level (deprecated: use 'daemon config --logging' instead)")
	daemonStartCmd.Flags().MarkHidden("logging") // Hide deprecated flag
	daemonStartCmd.Flags().BoolVar(&daemonRestart, "restart", false, "Restart daemon if already running (no confirmation)")
	daemonStartCmd.Flags().BoolVar(&daemonSkipCleanup, "skip-cleanup", false, "Skip startup cleanup (stale mounts, zombie daemons)")
	daemonConfigCmd.Flags().StringVar(&configLogLevel, "logging", "", "Log level: trace, debug, info, warn, none")
	daemonConfigCmd.Flags().StringVar(&configLoginStart, "login-start", "", "Start daemon on login: on, off")
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	daemonCmd.AddCommand(daemonConfigCmd)
	rootCmd.AddCommand(daemonCmd)
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	// Check if already running
	if daemon.IsDaemonRunning() {
		pid, _ := daemon.GetPID()

		if daemonRestart {
			fmt.Printf("Daemon already running (PID %d), restarting...\n", pid)
			if err := stopDaemonAndWait(); err != nil {
				return fmt.Errorf("failed to stop daemon for restart: %w", err)
			}
		} else {
			fmt.Printf("Daemon already running (PID %d)\n", pid)
			fmt.Println("Use --restart to restart the daemon")
			return nil
		}
	}

	// Load log level from settings (or the deprecated --logging flag)
	logLevel := daemonLogLevel
	if logLevel == "" {
		if settings, err := daemon.LoadGlobalSettings(); err == nil {
			logLevel = settings.LogLevel
		}
	}

	if daemonForeground {
		d := daemon.New()
		d.LogLevel = logLevel
		d.SkipCleanup = daemonSkipCleanup
		return d.Run()
	}

	// Start in background: re-exec ourselves detached, running the
	// foreground path
	cmdArgs := []string{"daemon", "start", "--foreground"}
	if logLevel != "" {
		cmdArgs = append(cmdArgs, "--logging", logLevel)
	}
	if daemonSkipCleanup {
		cmdArgs = append(cmdArgs, "--skip-cleanup")
	}

	exe, err := util.GetExecutablePath()
	if err != nil {
		return err
	}
	if _, err := util.StartBackgroundProcess(exe, cmdArgs, nil); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// Daemon startup includes: open catalog, reach the blob backend,
	// start the NFS server, wait for its port, mount — can take a while,
	// so poll generously.
	if util.WaitWithDeadline(time.Now().Add(10*time.Second), 25*time.Millisecond, daemon.IsDaemonRunning) {
		pid, _ := daemon.GetPID()
		fmt.Printf("Daemon started (PID %d)\n", pid)
		return nil
	}

	return fmt.Errorf("daemon did not start (check %s)", daemon.LogPath())
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	if !daemon.IsDaemonRunning() {
		fmt.Println("Daemon not running")
		// Still do cleanup in case there are stale artifacts
		daemon.CleanupOwnMount()
		return nil
	}

	if err := stopDaemonAndWait(); err != nil {
		return err
	}

	fmt.Println("Daemon stopped")
	return nil
}

// stopDaemonAndWait stops the daemon and waits for it to fully stop.
// The daemon drains staged writes to the blob store on the way down, so
// the wait is deliberately long.
func stopDaemonAndWait() error {
	pid, _ := daemon.GetPID()

	client, err := daemon.Connect()
	if err != nil {
		// Can't connect but daemon might still be running; clean up anyway
		fmt.Println("Warning: could not connect to daemon, forcing cleanup")
		daemon.CleanupOwnMount()
		return nil
	}

	resp, err := client.Stop()
	client.Close()

	if err != nil {
		return fmt.Errorf("stop request failed: %w", err)
	}
	if !resp.Success {
		return fmt.Errorf("%s", resp.Error)
	}

	stopped := util.WaitWithDeadline(time.Now().Add(30*time.Second), 25*time.Millisecond, func() bool {
		return !daemon.IsDaemonRunning()
	})

	if !stopped {
		// Daemon didn't stop gracefully. Killing it discards staged
		// writes, so say so.
		fmt.Printf("Warning: daemon (PID %d) did not stop gracefully, forcing cleanup (staged writes may be lost)\n", pid)

		if proc, err := os.FindProcess(pid); err == nil {
			proc.Signal(syscall.SIGKILL)
		}
		daemon.CleanupOwnMount()
		time.Sleep(500 * time.Millisecond)

		if daemon.IsDaemonRunning() {
			return fmt.Errorf("failed to stop daemon (PID %d)", pid)
		}
	}

	// Final cleanup of any stale artifacts
	daemon.CleanupOwnMount()

	return nil
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	settings, err := daemon.LoadGlobalSettings()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	if daemon.IsDaemonRunning() {
		pid, _ := daemon.GetPID()
		fmt.Printf("Daemon: running (PID %d)\n", pid)
	} else {
		fmt.Println("Daemon: not running")
	}

	fmt.Printf("Start on login: %s\n", getLoginStartStatus(settings.LoginStart))
	logLevel := settings.LogLevel
	if logLevel == "" {
		logLevel = "none"
	}
	fmt.Printf("Log level: %s\n", logLevel)

	return nil
}

// getLoginStartStatus merges the config setting with the actual
// LaunchAgent state (macOS only).
func getLoginStartStatus(loginStart bool) string {
	if !daemon.LaunchAgentSupported() {
		return "not supported"
	}
	if !loginStart {
		return "disabled"
	}
	if !daemon.IsLaunchAgentInstalled() {
		return "enabled (not active - not installed)"
	}
	if !daemon.IsLaunchAgentLoaded() {
		return "enabled (not active - not loaded)"
	}
	return "enabled (active)"
}

func runDaemonConfig(cmd *cobra.Command, args []string) error {
	settings, err := daemon.LoadGlobalSettings()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	// If no flags provided, show current config
	if configLogLevel == "" && configLoginStart == "" {
		fmt.Println("Current daemon configuration:")
		logLevel := settings.LogLevel
		if logLevel == "" {
			logLevel = "none"
		}
		fmt.Printf("  Backend: %s\n", settings.Backend)
		fmt.Printf("  Log level: %s\n", logLevel)
		fmt.Printf("  Start on login: %s\n", getLoginStartStatus(settings.LoginStart))
		fmt.Println()
		fmt.Println("To change settings:")
		fmt.Println("  gramfs daemon config --logging <level>")
		fmt.Println("  gramfs daemon config --login-start <on|off>")
		fmt.Printf("  edit %s for the rest\n", daemon.GlobalSettingsPath())
		return nil
	}

	if configLoginStart != "" {
		if err := handleLoginStartConfig(settings, configLoginStart); err != nil {
			return err
		}
	}

	if configLogLevel != "" {
		if err := handleLoggingConfig(settings, configLogLevel); err != nil {
			return err
		}
	}

	return nil
}

// handleLoginStartConfig handles the --login-start flag
func handleLoginStartConfig(settings *daemon.GlobalSettings, value string) error {
	if !daemon.LaunchAgentSupported() {
		return fmt.Errorf("start on login is only supported on macOS")
	}

	switch value {
	case "on":
		settings.LoginStart = true

		if err := daemon.InstallLaunchAgent(); err != nil {
			return fmt.Errorf("failed to install LaunchAgent: %w", err)
		}
		if err := daemon.LoadLaunchAgent(); err != nil {
			// Not fatal - might already be loaded or daemon already running
			fmt.Printf("Note: %v\n", err)
		}
		if err := daemon.SaveGlobalSettings(settings); err != nil {
			return fmt.Errorf("failed to save settings: %w", err)
		}

		fmt.Println("Start on login enabled")
		fmt.Printf("LaunchAgent installed at: %s\n", daemon.LaunchAgentPath())

	case "off":
		settings.LoginStart = false

		if err := daemon.UninstallLaunchAgent(); err != nil {
			return fmt.Errorf("failed to uninstall LaunchAgent: %w", err)
		}
		if err := daemon.SaveGlobalSettings(settings); err != nil {
			return fmt.Errorf("failed to save settings: %w", err)
		}

		fmt.Println("Start on login disabled")

	default:
		return fmt.Errorf("invalid --login-start value %q: must be 'on' or 'off'", value)
	}

	return nil
}

// handleLoggingConfig handles the --logging flag
func handleLoggingConfig(settings *daemon.GlobalSettings, value string) error {
	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true, "warn": true, "none": true, "": true,
	}
	normalizedLevel := value
	if normalizedLevel == "off" {
		normalizedLevel = "none"
	}
	if !validLevels[normalizedLevel] {
		return fmt.Errorf("invalid log level %q: must be one of trace, debug, info, warn, none", value)
	}

	if normalizedLevel == "none" {
		settings.LogLevel = ""
	} else {
		settings.LogLevel = normalizedLevel
	}

	if err := daemon.SaveGlobalSettings(settings); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}

	displayLevel := settings.LogLevel
	if displayLevel == "" {
		displayLevel = "none"
	}
	fmt.Printf("Log level set to: %s\n", displayLevel)

	if daemon.IsDaemonRunning() {
		fmt.Println("Restart the daemon for the new log level to take effect:")
		fmt.Println("  gramfs daemon start --restart")
	}

	return nil
}
