package daemon

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"drivefs/internal/artifacts"
)

// Environment variables read by LoadSettings.
const (
	EnvConfigDir = "DRIVEFS_CONFIG_DIR"
	EnvBaseURL   = "DRIVEFS_BASE_URL"
	EnvToken     = "DRIVEFS_TOKEN"
	EnvLogLevel  = "DRIVEFS_LOG_LEVEL"
	EnvLogFile   = "DRIVEFS_LOG"
)

// ConfigDir returns the config directory path.
// Uses DRIVEFS_CONFIG_DIR if set, otherwise ~/.drivefs. Computed on every
// call so tests can isolate themselves.
func ConfigDir() string {
	if dir := os.Getenv(EnvConfigDir); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".drivefs")
}

// SettingsPath returns the settings file path
func SettingsPath() string {
	return filepath.Join(ConfigDir(), "settings.yaml")
}

// LogPath returns the log file path.
// Uses DRIVEFS_LOG if set, otherwise config_dir/drivefs.log.
func LogPath() string {
	if p := os.Getenv(EnvLogFile); p != "" {
		return p
	}
	return filepath.Join(ConfigDir(), "drivefs.log")
}

// mountID names the per-mount state files. It is stable for a mount point.
func mountID(mountPath string) string {
	abs, err := filepath.Abs(mountPath)
	if err != nil {
		abs = mountPath
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+abs)).String()
}

// LockPath returns the run-lock file of the export serving mountPath
func LockPath(mountPath string) string {
	return filepath.Join(ConfigDir(), "mount-"+mountID(mountPath)+".lock")
}

// PidPath returns the PID file of the export serving mountPath
func PidPath(mountPath string) string {
	return filepath.Join(ConfigDir(), "mount-"+mountID(mountPath)+".pid")
}

// EnsureConfigDir creates the config directory if it doesn't exist
func EnsureConfigDir() error {
	return os.MkdirAll(ConfigDir(), 0700)
}

// InitConfigDir creates the config directory and writes the default
// settings file if there is none.
func InitConfigDir() error {
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	p := SettingsPath()
	if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
		if err := os.WriteFile(p, artifacts.GlobalSettings, 0600); err != nil {
			return fmt.Errorf("failed to create default settings: %w", err)
		}
	}
	return nil
}

// Settings is the content of settings.yaml.
type Settings struct {
	BaseURL        string `yaml:"base_url"`
	Token          string `yaml:"token"`
	Mountpoint     string `yaml:"mountpoint"`
	LogLevel       string `yaml:"log_level"`         // trace, debug, info, warn, off
	Listen         string `yaml:"listen"`            // NFS listen address
	AttrCacheTTLMs int    `yaml:"attr_cache_ttl_ms"` // 0 disables the attribute cache
	AttrCacheSize  int    `yaml:"attr_cache_size"`
	ServerDB       string `yaml:"server_db"`
	ServerListen   string `yaml:"server_listen"`
}

// AttrCacheTTL returns the attribute cache lifetime.
func (s *Settings) AttrCacheTTL() time.Duration {
	return time.Duration(s.AttrCacheTTLMs) * time.Millisecond
}

// ServerDBPath resolves ServerDB against the config directory.
func (s *Settings) ServerDBPath() string {
	if s.ServerDB == "" || filepath.IsAbs(s.ServerDB) {
		return s.ServerDB
	}
	return filepath.Join(ConfigDir(), s.ServerDB)
}

// DefaultSettings parses the embedded defaults.
func DefaultSettings() Settings {
	var s Settings
	if err := yaml.Unmarshal(artifacts.GlobalSettings, &s); err != nil {
		panic("failed to parse embedded settings: " + err.Error())
	}
	return s
}

// LoadSettings returns the embedded defaults overlaid with settings.yaml
// (when present), then with a .env file in the working directory and the
// DRIVEFS_* environment.
func LoadSettings() (*Settings, error) {
	s := DefaultSettings()

	data, err := os.ReadFile(SettingsPath())
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("parse %s: %w", SettingsPath(), err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, err
	}

	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}
	s.applyEnv()
	return &s, nil
}

// loadDotEnv loads path into the environment without overriding variables
// that are already set. A missing file is fine.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load %s: %w", path, err)
}

func (s *Settings) applyEnv() {
	if v := os.Getenv(EnvBaseURL); v != "" {
		s.BaseURL = v
	}
	if v := os.Getenv(EnvToken); v != "" {
		s.Token = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		s.LogLevel = v
	}
}

// SaveSettings writes s to settings.yaml.
func SaveSettings(s *Settings) error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	header := []byte("# DriveFS settings\n# See: drivefs --help\n\n")
	return os.WriteFile(SettingsPath(), append(header, data...), 0600)
}

// NormalizeLogLevel lower-cases level and maps "" and "none" to "off".
func NormalizeLogLevel(level string) string {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "" || level == "none" {
		return "off"
	}
	return level
}
