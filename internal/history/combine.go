package history

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"playlog/internal/pipeline"
)

// exportEntry models one play event in a Streaming_History*.json file.
// Absent or null fields decode to zero values, which render as empty CSV
// cells.
type exportEntry struct {
	TS                string `json:"ts"`
	Platform          string `json:"platform"`
	MSPlayed          int64  `json:"ms_played"`
	ConnCountry       string `json:"conn_country"`
	TrackName         string `json:"master_metadata_track_name"`
	ArtistName        string `json:"master_metadata_album_artist_name"`
	AlbumName         string `json:"master_metadata_album_album_name"`
	SpotifyTrackURI   string `json:"spotify_track_uri"`
	EpisodeName       string `json:"episode_name"`
	EpisodeShowName   string `json:"episode_show_name"`
	SpotifyEpisodeURI string `json:"spotify_episode_uri"`
	ReasonStart       string `json:"reason_start"`
	ReasonEnd         string `json:"reason_end"`
	Shuffle           bool   `json:"shuffle"`
	Skipped           bool   `json:"skipped"`
	Offline           bool   `json:"offline"`
	IncognitoMode     bool   `json:"incognito_mode"`
}

func (e exportEntry) row() []string {
	return []string{
		e.TS,
		e.Platform,
		strconv.FormatInt(e.MSPlayed, 10),
		e.ConnCountry,
		e.TrackName,
		e.ArtistName,
		e.AlbumName,
		e.SpotifyTrackURI,
		e.EpisodeName,
		e.EpisodeShowName,
		e.SpotifyEpisodeURI,
		e.ReasonStart,
		e.ReasonEnd,
		strconv.FormatBool(e.Shuffle),
		strconv.FormatBool(e.Skipped),
		strconv.FormatBool(e.Offline),
		strconv.FormatBool(e.IncognitoMode),
	}
}

// Combine folds every Streaming_History*.json file under exportsDir into a
// single combined CSV at outPath. Files are processed in sorted name order
// so output is deterministic.
func Combine(ctx context.Context, exportsDir, outPath string) (int, error) {
	pattern := filepath.Join(exportsDir, "Streaming_History*.json")
	files, err := filepath.Glob(pattern)
	if err != nil {
		return 0, fmt.Errorf("glob exports: %w", err)
	}
	if len(files) == 0 {
		return 0, pipeline.Wrap(pipeline.ErrConfiguration, "history",
			fmt.Sprintf("no export files matching %s", pattern), nil)
	}
	sort.Strings(files)

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return 0, pipeline.Wrap(pipeline.ErrStorage, "history", "create data directory", err)
	}

	tmpPath := outPath + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return 0, pipeline.Wrap(pipeline.ErrStorage, "history", "create combined table", err)
	}
	defer out.Close()

	writer := csv.NewWriter(out)
	if err := writer.Write(ExportColumns); err != nil {
		return 0, pipeline.Wrap(pipeline.ErrStorage, "history", "write header", err)
	}

	total := 0
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		entries, err := readExport(file)
		if err != nil {
			return 0, err
		}
		for _, entry := range entries {
			if err := writer.Write(entry.row()); err != nil {
				return 0, pipeline.Wrap(pipeline.ErrStorage, "history", "write row", err)
			}
		}
		total += len(entries)
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return 0, pipeline.Wrap(pipeline.ErrStorage, "history", "flush combined table", err)
	}
	if err := out.Close(); err != nil {
		return 0, pipeline.Wrap(pipeline.ErrStorage, "history", "close combined table", err)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		os.Remove(tmpPath)
		return 0, pipeline.Wrap(pipeline.ErrStorage, "history", "rename combined table", err)
	}
	return total, nil
}

func readExport(path string) ([]exportEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pipeline.Wrap(pipeline.ErrStorage, "history", "read export file", err)
	}
	var entries []exportEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse export file %s: %w", filepath.Base(path), err)
	}
	return entries, nil
}
