// Package trackkey derives the canonical lookup key that correlates a
// listening event with metadata rows across sources.
package trackkey
