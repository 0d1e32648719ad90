// Package config loads, normalizes, and validates the TOML configuration
// that drives every playlog command.
package config
