package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"gramfs/internal/artifacts"
	"gramfs/internal/storage"
)

// getConfigDir returns the config directory path.
// Uses GRAMFS_CONFIG_DIR env var if set, otherwise defaults to ~/.gramfs.
// This is computed dynamically to support test isolation.
func getConfigDir() string {
	if dir := os.Getenv("GRAMFS_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".gramfs")
}

// daemonName returns the fixed daemon name "daemon".
// Test isolation is achieved via GRAMFS_CONFIG_DIR instead of multiple daemon names.
func daemonName() string {
	return "daemon"
}

// ConfigDir returns the configuration directory path
func ConfigDir() string {
	return getConfigDir()
}

// SocketPath returns the Unix socket path
func SocketPath() string {
	return filepath.Join(getConfigDir(), daemonName()+".sock")
}

// PidPath returns the PID file path
func PidPath() string {
	return filepath.Join(getConfigDir(), daemonName()+".pid")
}

// LogPath returns the log file path.
// Uses GRAMFS_DAEMON_LOG env var if set, otherwise defaults to config_dir/daemon_name.log.
func LogPath() string {
	if envPath := os.Getenv("GRAMFS_DAEMON_LOG"); envPath != "" {
		return envPath
	}
	return filepath.Join(getConfigDir(), daemonName()+".log")
}

// LockPath returns the lock file path
func LockPath() string {
	return filepath.Join(getConfigDir(), daemonName()+".lock")
}

// GlobalSettingsPath returns the global settings file path
// This file is shared between the daemon and the CLI
func GlobalSettingsPath() string {
	return filepath.Join(getConfigDir(), "settings.yaml")
}

// CatalogPath returns the path to the catalog database. The catalog holds
// the whole tree plus the chunk references; the chunk bytes themselves
// live in the remote blob store.
func CatalogPath() string {
	return filepath.Join(getConfigDir(), "catalog.gramfs")
}

// DefaultMountPath returns the mount point used when settings leave
// mount_point empty
func DefaultMountPath() string {
	return filepath.Join(getConfigDir(), "mnt")
}

// EnsureConfigDir creates the config directory if it doesn't exist
func EnsureConfigDir() error {
	return os.MkdirAll(getConfigDir(), 0700)
}

// InitConfigDir initializes the config directory with default files
func InitConfigDir() error {
	// Create config directory
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Create default global settings file if not exists (using template)
	settingsPath := GlobalSettingsPath()
	if _, err := os.Stat(settingsPath); os.IsNotExist(err) {
		if err := os.WriteFile(settingsPath, artifacts.GlobalSettings, 0600); err != nil {
			return fmt.Errorf("failed to create default settings: %w", err)
		}
	}

	return nil
}

// TelegramSettings holds the Bot API connection block of settings.yaml.
type TelegramSettings struct {
	Token  string `yaml:"token"`   // bot token from @BotFather
	ChatID string `yaml:"chat_id"` // chat the bot sends chunk documents to
	APIURL string `yaml:"api_url"` // override for self-hosted Bot API servers
}

// S3Settings holds the S3/MinIO connection block of settings.yaml.
type S3Settings struct {
	Endpoint  string `yaml:"endpoint"` // empty for stock AWS endpoints
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// GlobalSettings represents global daemon settings
type GlobalSettings struct {
	Backend  string           `yaml:"backend"` // chunk storage backend: telegram, s3, or memory
	Telegram TelegramSettings `yaml:"telegram"`
	S3       S3Settings       `yaml:"s3"`

	ChunkSize       int64 `yaml:"chunk_size"`       // bytes per chunk; fixed at catalog creation (default: 20 MiB)
	FlushInterval   int   `yaml:"flush_interval"`   // seconds between flusher scans (default: 5)
	IdleThreshold   int   `yaml:"idle_threshold"`   // seconds a staging region must stay quiet before upload (default: 10)
	StagingCapacity int64 `yaml:"staging_capacity"` // per-path staging ceiling in bytes (default: 64 MiB)
	CacheBudget     int64 `yaml:"cache_budget"`     // blob cache size in bytes (default: 256 MiB)

	MountPoint        string `yaml:"mount_point"`         // empty = <config dir>/mnt
	NFSPort           int    `yaml:"nfs_port"`            // 0 = pick a free port
	LoginStart        bool   `yaml:"login_start"`         // start the daemon on login (macOS LaunchAgent)
	LogLevel          string `yaml:"log_level"`           // Log level: trace, debug, info, warn, off (default: off)
	MetricsAddr       string `yaml:"metrics_addr"`        // Prometheus listen address, empty disables metrics
	DaemonBusyTimeout int    `yaml:"daemon_busy_timeout"` // SQLite busy_timeout for daemon (ms), 0 = use default
	CLIBusyTimeout    int    `yaml:"cli_busy_timeout"`    // SQLite busy_timeout for CLI (ms), 0 = use default
}

// ApplyDefaults fills zero-value fields with their defaults.
func (s *GlobalSettings) ApplyDefaults() {
	if s.Backend == "" {
		s.Backend = "telegram"
	}
	if s.ChunkSize <= 0 {
		s.ChunkSize = storage.DefaultChunkSize
	}
	if s.FlushInterval <= 0 {
		s.FlushInterval = 5
	}
	if s.IdleThreshold <= 0 {
		s.IdleThreshold = 10
	}
	if s.StagingCapacity <= 0 {
		s.StagingCapacity = 64 << 20
	}
	if s.CacheBudget <= 0 {
		s.CacheBudget = 256 << 20
	}
}

// EffectiveMountPoint returns mount_point from settings, or the default
// mount path when unset.
func (s *GlobalSettings) EffectiveMountPoint() string {
	if s.MountPoint != "" {
		return s.MountPoint
	}
	return DefaultMountPath()
}

// loadDefaultGlobalSettings parses default settings from embedded artifact.
func loadDefaultGlobalSettings() GlobalSettings {
	var settings GlobalSettings
	if err := yaml.Unmarshal(artifacts.GlobalSettings, &settings); err != nil {
		panic("failed to parse embedded global settings: " + err.Error())
	}
	settings.ApplyDefaults()
	return settings
}

// LoadGlobalSettings loads the global settings from ~/.gramfs/settings.yaml.
// Always reads from file to get latest config. Falls back to embedded defaults if file doesn't exist.
func LoadGlobalSettings() (*GlobalSettings, error) {
	data, err := os.ReadFile(GlobalSettingsPath())
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults from embedded artifact
			settings := loadDefaultGlobalSettings()
			return &settings, nil
		}
		return nil, err
	}

	var settings GlobalSettings
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, err
	}
	settings.ApplyDefaults()

	return &settings, nil
}

// SaveGlobalSettings saves the global settings to ~/.gramfs/settings.yaml
func SaveGlobalSettings(settings *GlobalSettings) error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return err
	}
	// Add header comment (same as template header)
	header := []byte("# gramfs daemon settings\n# See: gramfs init --help\n\n")
	return os.WriteFile(GlobalSettingsPath(), append(header, data...), 0600)
}
