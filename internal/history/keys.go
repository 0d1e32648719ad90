package history

import (
	"encoding/csv"
	"errors"
	"io"
	"os"
	"sort"

	"playlog/internal/pipeline"
	"playlog/internal/trackkey"
)

// DistinctKeys extracts the distinct normalized keys from a base table in
// stable (sorted) order. Rows without both a track and an artist name are
// skipped; podcast plays carry neither, so this naturally restricts keys to
// songs.
func DistinctKeys(path string) ([]trackkey.Key, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, pipeline.Wrap(pipeline.ErrStorage, "history", "open base table", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return nil, pipeline.Wrap(pipeline.ErrSchema, "history", "read base header", err)
	}
	trackIdx, artistIdx := -1, -1
	for i, name := range header {
		switch name {
		case ColTrackName:
			trackIdx = i
		case ColArtist:
			artistIdx = i
		}
	}
	if trackIdx < 0 || artistIdx < 0 {
		return nil, pipeline.Wrap(pipeline.ErrSchema, "history", "base table missing track or artist column", nil)
	}

	seen := make(map[string]trackkey.Key)
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, pipeline.Wrap(pipeline.ErrStorage, "history", "read base row", err)
		}
		if row[trackIdx] == "" || row[artistIdx] == "" {
			continue
		}
		key := trackkey.New(row[trackIdx], row[artistIdx])
		if _, ok := seen[key.Value]; !ok {
			seen[key.Value] = key
		}
	}

	keys := make([]trackkey.Key, 0, len(seen))
	for _, key := range seen {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Value < keys[j].Value })
	return keys, nil
}
