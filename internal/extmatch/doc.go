// Package extmatch matches base-table keys against the bulk reference
// dataset by exact normalized key, and owns the dataset archive downloader.
// The matcher's output is trusted by the enrichment loop only for keys that
// carry a reliable external identifier.
package extmatch
