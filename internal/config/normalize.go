package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeSpotify()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.ExportsDir, err = expandPath(c.Paths.ExportsDir); err != nil {
		return fmt.Errorf("paths.exports_dir: %w", err)
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.EnrichedDir, err = expandPath(c.Paths.EnrichedDir); err != nil {
		return fmt.Errorf("paths.enriched_dir: %w", err)
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Dataset.Path, err = expandPath(c.Dataset.Path); err != nil {
		return fmt.Errorf("dataset.path: %w", err)
	}
	return nil
}

func (c *Config) normalizeSpotify() {
	c.Spotify.ClientID = strings.TrimSpace(c.Spotify.ClientID)
	c.Spotify.ClientSecret = strings.TrimSpace(c.Spotify.ClientSecret)
	if c.Spotify.ClientID == "" {
		c.Spotify.ClientID = strings.TrimSpace(os.Getenv("SPOTIFY_CLIENT_ID"))
	}
	if c.Spotify.ClientSecret == "" {
		c.Spotify.ClientSecret = strings.TrimSpace(os.Getenv("SPOTIFY_CLIENT_SECRET"))
	}
	c.Spotify.BaseURL = strings.TrimRight(strings.TrimSpace(c.Spotify.BaseURL), "/")
	c.Spotify.TokenURL = strings.TrimSpace(c.Spotify.TokenURL)
	if c.Spotify.RequestIntervalMS <= 0 {
		c.Spotify.RequestIntervalMS = defaultRequestIntervalMS
	}
	if c.Spotify.MaxRetries <= 0 {
		c.Spotify.MaxRetries = defaultMaxRetries
	}
	if c.Spotify.BatchSize <= 0 {
		c.Spotify.BatchSize = defaultBatchSize
	}
	if c.Spotify.BatchPauseSeconds < 0 {
		c.Spotify.BatchPauseSeconds = defaultBatchPauseSeconds
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
