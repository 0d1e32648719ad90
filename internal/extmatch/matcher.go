package extmatch

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"playlog/internal/history"
	"playlog/internal/pipeline"
	"playlog/internal/trackkey"
)

// EnrichmentSource identifies dataset-matched metadata in merged output.
const EnrichmentSource = "dataset"

// Columns is the matched-table header, in file order.
var Columns = []string{
	"track_name",
	"artist_name",
	"key",
	"track_id",
	"genre",
	"popularity",
	"acousticness",
	"danceability",
	"duration_ms",
	"energy",
	"instrumentalness",
	"key_signature",
	"liveness",
	"loudness",
	"mode",
	"speechiness",
	"tempo",
	"time_signature",
	"valence",
}

// ValueColumns are the columns carried into the merged output.
var ValueColumns = Columns[3:]

// datasetColumns maps matched-table value columns to their reference dataset
// header names. The dataset calls the musical key column "key", which would
// collide with the normalized lookup key, so it becomes "key_signature".
var datasetColumns = map[string]string{
	"track_id":         "track_id",
	"genre":            "genre",
	"popularity":       "popularity",
	"acousticness":     "acousticness",
	"danceability":     "danceability",
	"duration_ms":      "duration_ms",
	"energy":           "energy",
	"instrumentalness": "instrumentalness",
	"key_signature":    "key",
	"liveness":         "liveness",
	"loudness":         "loudness",
	"mode":             "mode",
	"speechiness":      "speechiness",
	"tempo":            "tempo",
	"time_signature":   "time_signature",
	"valence":          "valence",
}

// Stats summarizes a matching pass.
type Stats struct {
	BaseKeys int
	Matched  int
}

// Match streams the reference dataset once, indexes it by normalized key,
// and writes the matched rows for every distinct base key to outPath sorted
// by key. The first dataset row seen per key wins; later duplicates are
// ignored.
func Match(ctx context.Context, basePath, datasetPath, outPath string) (Stats, error) {
	keys, err := history.DistinctKeys(basePath)
	if err != nil {
		return Stats{}, err
	}
	wanted := make(map[string]trackkey.Key, len(keys))
	for _, key := range keys {
		wanted[key.Value] = key
	}

	matches, err := indexDataset(ctx, datasetPath, wanted)
	if err != nil {
		return Stats{}, err
	}

	matchedKeys := make([]string, 0, len(matches))
	for key := range matches {
		matchedKeys = append(matchedKeys, key)
	}
	sort.Strings(matchedKeys)

	if err := writeMatched(outPath, wanted, matchedKeys, matches); err != nil {
		return Stats{}, err
	}

	return Stats{BaseKeys: len(keys), Matched: len(matches)}, nil
}

func indexDataset(ctx context.Context, datasetPath string, wanted map[string]trackkey.Key) (map[string][]string, error) {
	file, err := os.Open(datasetPath)
	if err != nil {
		return nil, pipeline.Wrap(pipeline.ErrStorage, "extmatch", "open dataset", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return nil, pipeline.Wrap(pipeline.ErrSchema, "extmatch", "read dataset header", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(name)] = i
	}
	trackIdx, ok := index["track_name"]
	if !ok {
		return nil, pipeline.Wrap(pipeline.ErrSchema, "extmatch", "dataset missing track_name column", nil)
	}
	artistIdx, ok := index["artist_name"]
	if !ok {
		return nil, pipeline.Wrap(pipeline.ErrSchema, "extmatch", "dataset missing artist_name column", nil)
	}
	valueIdx := make([]int, len(ValueColumns))
	for i, col := range ValueColumns {
		idx, ok := index[datasetColumns[col]]
		if !ok {
			return nil, pipeline.Wrap(pipeline.ErrSchema, "extmatch",
				fmt.Sprintf("dataset missing %s column", datasetColumns[col]), nil)
		}
		valueIdx[i] = idx
	}

	matches := make(map[string][]string)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, pipeline.Wrap(pipeline.ErrStorage, "extmatch", "read dataset row", err)
		}
		key := trackkey.Normalize(row[trackIdx], row[artistIdx])
		if _, want := wanted[key]; !want {
			continue
		}
		if _, seen := matches[key]; seen {
			continue
		}
		values := make([]string, len(valueIdx))
		for i, idx := range valueIdx {
			values[i] = row[idx]
		}
		matches[key] = values
	}
	return matches, nil
}

func writeMatched(outPath string, wanted map[string]trackkey.Key, matchedKeys []string, matches map[string][]string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return pipeline.Wrap(pipeline.ErrStorage, "extmatch", "create output directory", err)
	}

	tmpPath := outPath + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return pipeline.Wrap(pipeline.ErrStorage, "extmatch", "create matched table", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(Columns); err != nil {
		return pipeline.Wrap(pipeline.ErrStorage, "extmatch", "write header", err)
	}
	for _, key := range matchedKeys {
		original := wanted[key]
		row := append([]string{original.Track, original.Artist, key}, matches[key]...)
		if err := writer.Write(row); err != nil {
			return pipeline.Wrap(pipeline.ErrStorage, "extmatch", "write matched row", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return pipeline.Wrap(pipeline.ErrStorage, "extmatch", "flush matched table", err)
	}
	if err := file.Close(); err != nil {
		return pipeline.Wrap(pipeline.ErrStorage, "extmatch", "close matched table", err)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		os.Remove(tmpPath)
		return pipeline.Wrap(pipeline.ErrStorage, "extmatch", "rename matched table", err)
	}
	return nil
}

// HasReliableID reports whether a matched row carries the secondary signal
// (an external track identifier) that makes its match trustworthy. A row
// matched on name alone does not qualify.
func HasReliableID(trackID string) bool {
	return strings.TrimSpace(trackID) != ""
}

// ReliableKeys returns the keys from a matched table whose rows pass
// HasReliableID. A missing matched table yields an empty set.
func ReliableKeys(outPath string) (map[string]struct{}, error) {
	file, err := os.Open(outPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]struct{}{}, nil
		}
		return nil, pipeline.Wrap(pipeline.ErrStorage, "extmatch", "open matched table", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]struct{}{}, nil
		}
		return nil, pipeline.Wrap(pipeline.ErrStorage, "extmatch", "read matched header", err)
	}
	keyIdx, trackIDIdx := -1, -1
	for i, name := range header {
		switch name {
		case "key":
			keyIdx = i
		case "track_id":
			trackIDIdx = i
		}
	}
	if keyIdx < 0 || trackIDIdx < 0 {
		return nil, pipeline.Wrap(pipeline.ErrSchema, "extmatch", "matched table missing key or track_id column", nil)
	}

	keys := make(map[string]struct{})
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, pipeline.Wrap(pipeline.ErrStorage, "extmatch", "read matched row", err)
		}
		if HasReliableID(row[trackIDIdx]) {
			keys[row[keyIdx]] = struct{}{}
		}
	}
	return keys, nil
}
