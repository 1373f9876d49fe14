package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Server describes how to reach the TeddyCloud-style server.
type Server struct {
	BaseURL        string `toml:"base_url"`
	RequestTimeout int    `toml:"request_timeout"`
	UploadTimeout  int    `toml:"upload_timeout"`
}

// Paths contains local directories used by the CLI.
type Paths struct {
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
}

// Encode contains batch and encoder settings.
type Encode struct {
	// UseLocal runs the local encoder binary when every source is a local file.
	UseLocal bool `toml:"use_local"`
	// FollowServerSettings reads encode.use_frontend and encode.bitrate from the
	// server at startup and lets them override UseLocal and Bitrate.
	FollowServerSettings bool     `toml:"follow_server_settings"`
	Bitrate              int      `toml:"bitrate"`
	MaxSources           int      `toml:"max_sources"`
	DefaultDirectory     string   `toml:"default_directory"`
	LocalEncoderBinary   string   `toml:"local_encoder_binary"`
	LocalEncoderArgs     []string `toml:"local_encoder_args"`
}

// URLImport contains settings for remote URL imports.
type URLImport struct {
	Quality           string `toml:"quality"`
	MetadataCacheTTL  int    `toml:"metadata_cache_ttl"`
	MetadataCacheSize int    `toml:"metadata_cache_size"`
}

// Events contains settings for the server push channel.
type Events struct {
	Path        string `toml:"path"`
	RetryDelay  int    `toml:"retry_delay"`
	ResyncDelay int    `toml:"resync_delay"`
}

// Notifications contains settings for user-visible notifications.
type Notifications struct {
	Console        bool   `toml:"console"`
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for tafkit.
//
// Configuration sections by subsystem:
//   - Server: base URL and HTTP timeouts
//   - Paths: session state and log directories
//   - Encode: batch limits, output directory, local encoder
//   - URLImport: download quality and metadata cache
//   - Events: push channel path and retry timing
//   - Notifications: console and ntfy delivery
//   - Logging: log format and level
type Config struct {
	Server        Server        `toml:"server"`
	Paths         Paths         `toml:"paths"`
	Encode        Encode        `toml:"encode"`
	URLImport     URLImport     `toml:"url_import"`
	Events        Events        `toml:"events"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/tafkit/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		info, err := os.Stat(expanded)
		if err != nil {
			if os.IsNotExist(err) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		if info.IsDir() {
			return "", false, fmt.Errorf("config path %q is a directory", expanded)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("tafkit.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the state and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// SessionDBPath returns the SQLite file holding the persisted work list.
func (c *Config) SessionDBPath() string {
	return filepath.Join(c.Paths.StateDir, "session.db")
}

// SessionLockPath returns the lock file guarding the session database.
func (c *Config) SessionLockPath() string {
	return filepath.Join(c.Paths.StateDir, "session.lock")
}

// LogFilePath returns the CLI log file location.
func (c *Config) LogFilePath() string {
	return filepath.Join(c.Paths.LogDir, "tafkit.log")
}

// RequestTimeout returns the per-request HTTP timeout.
func (c *Config) RequestTimeout() time.Duration {
	return seconds(c.Server.RequestTimeout)
}

// UploadTimeout returns the timeout applied to uploads, encodes, and downloads.
func (c *Config) UploadTimeout() time.Duration {
	return seconds(c.Server.UploadTimeout)
}

// EventRetryDelay returns the push channel reconnect delay.
func (c *Config) EventRetryDelay() time.Duration {
	return seconds(c.Events.RetryDelay)
}

// EventResyncDelay returns the delay before the fallback refresh after a push channel error.
func (c *Config) EventResyncDelay() time.Duration {
	return seconds(c.Events.ResyncDelay)
}

// MetadataCacheTTL returns how long URL metadata stays cached. Zero disables the cache.
func (c *Config) MetadataCacheTTL() time.Duration {
	return seconds(c.URLImport.MetadataCacheTTL)
}

func seconds(value int) time.Duration {
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// ErrConfigExists is returned by WriteSample when the target already exists
// and overwrite is false.
var ErrConfigExists = errors.New("config file already exists")

// WriteSample writes the annotated sample configuration to path, creating
// parent directories as needed.
func WriteSample(path string, overwrite bool) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%w: %s", ErrConfigExists, path)
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := f.WriteString(sampleConfig); err != nil {
		f.Close()
		return fmt.Errorf("write sample config: %w", err)
	}
	return f.Close()
}
