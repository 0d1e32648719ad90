// Package logging wraps log/slog with the console and JSON handlers used
// across playlog, plus small attribute helpers.
package logging
