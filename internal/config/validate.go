package config

import (
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateCleaning(); err != nil {
		return err
	}
	if err := c.validateSplit(); err != nil {
		return err
	}
	if err := c.validateSchedule(); err != nil {
		return err
	}
	return c.validateLogging()
}

// ValidateSpotifyCredentials reports whether the fetch client can be built.
// Checked only by commands that contact the API, so merge-only runs work
// without credentials.
func (c *Config) ValidateSpotifyCredentials() error {
	if c.Spotify.ClientID == "" || c.Spotify.ClientSecret == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/playlog/config.toml"
		}
		return fmt.Errorf("spotify credentials are required. Set SPOTIFY_CLIENT_ID and SPOTIFY_CLIENT_SECRET env vars or edit %s (create with 'playlog config init')", defaultPath)
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.ExportsDir == "" {
		return errors.New("paths.exports_dir must be set")
	}
	if c.Paths.DataDir == "" {
		return errors.New("paths.data_dir must be set")
	}
	if c.Paths.EnrichedDir == "" {
		return errors.New("paths.enriched_dir must be set")
	}
	if c.Paths.StateDir == "" {
		return errors.New("paths.state_dir must be set")
	}
	return nil
}

func (c *Config) validateCleaning() error {
	if c.Cleaning.MinPlayedSeconds < 0 {
		return errors.New("cleaning.min_played_seconds must not be negative")
	}
	return nil
}

func (c *Config) validateSplit() error {
	if c.Split.Column == "" {
		return errors.New("split.column must be set")
	}
	return nil
}

func (c *Config) validateSchedule() error {
	if c.Schedule.Cron == "" {
		return nil
	}
	if _, err := cron.ParseStandard(c.Schedule.Cron); err != nil {
		return fmt.Errorf("schedule.cron: %w", err)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
