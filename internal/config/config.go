package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	ExportsDir  string `toml:"exports_dir"`
	DataDir     string `toml:"data_dir"`
	EnrichedDir string `toml:"enriched_dir"`
	StateDir    string `toml:"state_dir"`
	LogDir      string `toml:"log_dir"`
}

// Spotify contains Spotify Web API settings for the fetch client.
type Spotify struct {
	ClientID          string `toml:"client_id"`
	ClientSecret      string `toml:"client_secret"`
	BaseURL           string `toml:"base_url"`
	TokenURL          string `toml:"token_url"`
	RequestIntervalMS int    `toml:"request_interval_ms"`
	MaxRetries        int    `toml:"max_retries"`
	BatchSize         int    `toml:"batch_size"`
	BatchPauseSeconds int    `toml:"batch_pause_seconds"`
}

// Dataset contains settings for the bulk reference dataset matcher.
type Dataset struct {
	Path        string `toml:"path"`
	DownloadURL string `toml:"download_url"`
}

// Cleaning contains settings for history cleaning.
type Cleaning struct {
	MinPlayedSeconds int `toml:"min_played_seconds"`
}

// Split contains settings for partitioning the merged output.
type Split struct {
	Column string `toml:"column"`
}

// Notifications contains ntfy push notification settings.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Schedule contains settings for periodic pipeline runs.
type Schedule struct {
	Cron string `toml:"cron"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for playlog.
//
// Configuration sections by subsystem:
//   - Paths: exports, data, enriched, state, and log directories
//   - Spotify: API credentials, pacing, retry, and batch settings
//   - Dataset: reference dataset location and download URL
//   - Cleaning: minimum play duration threshold
//   - Split: discriminator column for partitioned outputs
//   - Notifications: ntfy push notification settings
//   - Schedule: cron expression for periodic runs
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Spotify       Spotify       `toml:"spotify"`
	Dataset       Dataset       `toml:"dataset"`
	Cleaning      Cleaning      `toml:"cleaning"`
	Split         Split         `toml:"split"`
	Notifications Notifications `toml:"notifications"`
	Schedule      Schedule      `toml:"schedule"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration
// file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/playlog/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
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
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("playlog.toml")
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

// EnsureDirectories creates the directories every command relies on.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.EnrichedDir, c.Paths.StateDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// CombinedHistoryPath is the combined raw export CSV produced by combine.
func (c *Config) CombinedHistoryPath() string {
	return filepath.Join(c.Paths.DataDir, "streaming_history_combined.csv")
}

// CleanHistoryPath is the cleaned base table produced by clean and consumed
// by every downstream stage.
func (c *Config) CleanHistoryPath() string {
	return filepath.Join(c.Paths.DataDir, "streaming_history_clean.csv")
}

// MatchedPath is the per-key dataset match table produced by match.
func (c *Config) MatchedPath() string {
	return filepath.Join(c.Paths.EnrichedDir, "dataset_matched.csv")
}

// MetadataPath is the append-only accumulator of fetched API metadata.
func (c *Config) MetadataPath() string {
	return filepath.Join(c.Paths.EnrichedDir, "spotify_metadata.csv")
}

// MergedPath is the canonical merged output table.
func (c *Config) MergedPath() string {
	return filepath.Join(c.Paths.EnrichedDir, "final_enriched_streaming_history.csv")
}

// ProgressDBPath is the SQLite progress store location.
func (c *Config) ProgressDBPath() string {
	return filepath.Join(c.Paths.StateDir, "progress.db")
}

// CooldownPath is the persisted fetch cooldown state file.
func (c *Config) CooldownPath() string {
	return filepath.Join(c.Paths.StateDir, "cooldown.json")
}

// LockPath is the cross-process run lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "playlog.lock")
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

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
