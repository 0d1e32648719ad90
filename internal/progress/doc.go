// Package progress persists per-key fetch status in SQLite so interrupted
// enrichment runs resume without repeating completed work.
package progress
