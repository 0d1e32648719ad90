package history

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"playlog/internal/pipeline"
)

// MediaType values derived for the discriminator column.
const (
	MediaTypeSong    = "song"
	MediaTypePodcast = "podcast"
)

// CleanStats summarizes a cleaning pass.
type CleanStats struct {
	Input   int
	Kept    int
	Dropped int
}

// Clean derives the temporal columns and the media-type discriminator for
// every play in the combined table, dropping plays shorter than minPlayed.
// The output carries all input columns plus DerivedColumns.
func Clean(ctx context.Context, inPath, outPath string, minPlayed time.Duration) (CleanStats, error) {
	in, err := os.Open(inPath)
	if err != nil {
		return CleanStats{}, pipeline.Wrap(pipeline.ErrStorage, "history", "open combined table", err)
	}
	defer in.Close()

	reader := csv.NewReader(in)
	header, err := reader.Read()
	if err != nil {
		return CleanStats{}, pipeline.Wrap(pipeline.ErrSchema, "history", "read combined header", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[name] = i
	}
	for _, col := range []string{ColTimestamp, ColMSPlayed} {
		if _, ok := index[col]; !ok {
			return CleanStats{}, pipeline.Wrap(pipeline.ErrSchema, "history",
				fmt.Sprintf("combined table missing %s column", col), nil)
		}
	}
	tsIdx := index[ColTimestamp]
	msIdx := index[ColMSPlayed]
	episodeIdx, hasEpisode := index["episode_name"]
	showIdx, hasShow := index["episode_show_name"]

	tmpPath := outPath + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return CleanStats{}, pipeline.Wrap(pipeline.ErrStorage, "history", "create clean table", err)
	}
	defer out.Close()

	writer := csv.NewWriter(out)
	if err := writer.Write(append(append([]string{}, header...), DerivedColumns...)); err != nil {
		return CleanStats{}, pipeline.Wrap(pipeline.ErrStorage, "history", "write clean header", err)
	}

	stats := CleanStats{}
	for {
		if err := ctx.Err(); err != nil {
			return CleanStats{}, err
		}
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return CleanStats{}, pipeline.Wrap(pipeline.ErrStorage, "history", "read combined row", err)
		}
		stats.Input++

		msPlayed, err := strconv.ParseInt(row[msIdx], 10, 64)
		if err != nil {
			return CleanStats{}, fmt.Errorf("parse ms_played %q: %w", row[msIdx], err)
		}
		if time.Duration(msPlayed)*time.Millisecond < minPlayed {
			stats.Dropped++
			continue
		}

		playedAt, err := time.Parse(time.RFC3339, row[tsIdx])
		if err != nil {
			return CleanStats{}, fmt.Errorf("parse ts %q: %w", row[tsIdx], err)
		}

		mediaType := MediaTypeSong
		if (hasEpisode && row[episodeIdx] != "") || (hasShow && row[showIdx] != "") {
			mediaType = MediaTypePodcast
		}

		derived := []string{
			strconv.Itoa(playedAt.Year()),
			strconv.Itoa(int(playedAt.Month())),
			strconv.Itoa(playedAt.Day()),
			playedAt.Weekday().String(),
			strconv.Itoa(playedAt.Hour()),
			strconv.FormatFloat(float64(msPlayed)/60000.0, 'f', 2, 64),
			mediaType,
		}
		if err := writer.Write(append(append([]string{}, row...), derived...)); err != nil {
			return CleanStats{}, pipeline.Wrap(pipeline.ErrStorage, "history", "write clean row", err)
		}
		stats.Kept++
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return CleanStats{}, pipeline.Wrap(pipeline.ErrStorage, "history", "flush clean table", err)
	}
	if err := out.Close(); err != nil {
		return CleanStats{}, pipeline.Wrap(pipeline.ErrStorage, "history", "close clean table", err)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		os.Remove(tmpPath)
		return CleanStats{}, pipeline.Wrap(pipeline.ErrStorage, "history", "rename clean table", err)
	}
	return stats, nil
}
