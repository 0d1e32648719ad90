// Package pipeline coordinates the enrichment pipeline end to end: it owns
// the error taxonomy shared by every stage, the cross-process run lock, and
// the runner that sequences fetch, merge, and split.
package pipeline
