// Package history turns raw Spotify export files into the cleaned base
// table the enrichment pipeline consumes: combine folds the JSON exports
// into one CSV, clean derives temporal columns and the media-type
// discriminator, and the schema check guards every downstream stage.
package history
