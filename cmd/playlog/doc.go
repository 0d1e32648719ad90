// Command playlog enriches personal Spotify listening history with track
// metadata from a reference dataset and the Spotify Web API, producing a
// merged, partitioned CSV dataset.
package main
