// Package metastore owns the append-only accumulator of metadata fetched
// from the Spotify API. Rows are only ever appended, never rewritten: a
// crash can at worst lose the final append, which is indistinguishable from
// never having started it.
package metastore
