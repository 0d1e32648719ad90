// Package merge joins the cleaned base table with both enrichment sources
// on disk. Metadata and dataset matches are staged into temporary SQLite
// tables, deduplicated there, and the base table is then streamed through
// once, so memory stays bounded by a single row regardless of history size.
package merge
