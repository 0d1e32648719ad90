package history

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"playlog/internal/pipeline"
)

// Column names shared across the base table and derived outputs.
const (
	ColTimestamp = "ts"
	ColMSPlayed  = "ms_played"
	ColTrackName = "master_metadata_track_name"
	ColArtist    = "master_metadata_album_artist_name"
	ColMediaType = "media_type"
)

// ExportColumns is the canonical column set of the combined export table.
var ExportColumns = []string{
	ColTimestamp,
	"platform",
	ColMSPlayed,
	"conn_country",
	ColTrackName,
	ColArtist,
	"master_metadata_album_album_name",
	"spotify_track_uri",
	"episode_name",
	"episode_show_name",
	"spotify_episode_uri",
	"reason_start",
	"reason_end",
	"shuffle",
	"skipped",
	"offline",
	"incognito_mode",
}

// DerivedColumns are appended by clean, in output order.
var DerivedColumns = []string{
	"year",
	"month",
	"day",
	"weekday",
	"hour",
	"minutes_played",
	ColMediaType,
}

// RequiredColumns must be present in the cleaned base table before any
// downstream stage runs.
var RequiredColumns = []string{
	ColTimestamp,
	ColMSPlayed,
	ColTrackName,
	ColArtist,
	ColMediaType,
}

// ReadHeader returns the header row of a CSV table plus a name-to-index map.
func ReadHeader(path string) ([]string, map[string]int, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, pipeline.Wrap(pipeline.ErrStorage, "history", "open table", err)
	}
	defer file.Close()

	header, err := csv.NewReader(file).Read()
	if err != nil {
		return nil, nil, pipeline.Wrap(pipeline.ErrSchema, "history", "read table header", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(name)] = i
	}
	return header, index, nil
}

// RowCount returns the number of data rows in a CSV table, excluding the
// header. An empty file counts as zero rows.
func RowCount(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, pipeline.Wrap(pipeline.ErrStorage, "history", "open table", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	// Field counts vary between tables; only the row count matters here.
	reader.FieldsPerRecord = -1
	if _, err := reader.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil
		}
		return 0, pipeline.Wrap(pipeline.ErrStorage, "history", "read table header", err)
	}
	rows := 0
	for {
		if _, err := reader.Read(); err != nil {
			if errors.Is(err, io.EOF) {
				return rows, nil
			}
			return 0, pipeline.Wrap(pipeline.ErrStorage, "history", "read table row", err)
		}
		rows++
	}
}

// ValidateSchema verifies the base table carries every required column.
// This runs at startup, before any mutation, so a malformed table can never
// corrupt derived state.
func ValidateSchema(path string) error {
	_, index, err := ReadHeader(path)
	if err != nil {
		return err
	}

	var missing []string
	for _, col := range RequiredColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return pipeline.Wrap(pipeline.ErrSchema, "history",
			fmt.Sprintf("base table missing required columns: %s", strings.Join(missing, ", ")), nil)
	}
	return nil
}
