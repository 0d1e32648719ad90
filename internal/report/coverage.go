// Package report computes enrichment coverage figures for status output.
package report

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"io/fs"
	"os"

	"github.com/dustin/go-humanize"

	"playlog/internal/extmatch"
	"playlog/internal/history"
	"playlog/internal/merge"
	"playlog/internal/pipeline"
)

// Paths names the tables coverage is computed over. Absent files simply
// contribute zero.
type Paths struct {
	BasePath     string
	MatchedPath  string
	MetadataPath string
	MergedPath   string
}

// Coverage summarizes how much of the listening history is enriched.
type Coverage struct {
	BaseRows     int
	DistinctKeys int
	DatasetKeys  int
	APIKeys      int
	MergedRows   int
	// SourceRows counts merged rows per provenance value; the empty
	// provenance is keyed as "none".
	SourceRows map[string]int
	// FileSizes maps each existing table path to a human-readable size.
	FileSizes map[string]string
}

// Build computes coverage from the on-disk tables.
func Build(ctx context.Context, paths Paths) (*Coverage, error) {
	cov := &Coverage{
		SourceRows: map[string]int{},
		FileSizes:  map[string]string{},
	}

	if exists(paths.BasePath) {
		rows, err := countRows(ctx, paths.BasePath)
		if err != nil {
			return nil, err
		}
		cov.BaseRows = rows
		keys, err := history.DistinctKeys(paths.BasePath)
		if err != nil {
			return nil, err
		}
		cov.DistinctKeys = len(keys)
	}

	reliable, err := extmatch.ReliableKeys(paths.MatchedPath)
	if err != nil {
		return nil, err
	}
	cov.DatasetKeys = len(reliable)

	apiKeys, err := metadataKeys(ctx, paths.MetadataPath)
	if err != nil {
		return nil, err
	}
	cov.APIKeys = len(apiKeys)

	if exists(paths.MergedPath) {
		if err := scanMerged(ctx, paths.MergedPath, cov); err != nil {
			return nil, err
		}
	}

	for _, path := range []string{paths.BasePath, paths.MatchedPath, paths.MetadataPath, paths.MergedPath} {
		if info, err := os.Stat(path); err == nil {
			cov.FileSizes[path] = humanize.Bytes(uint64(info.Size()))
		}
	}
	return cov, nil
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func countRows(ctx context.Context, path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, pipeline.Wrap(pipeline.ErrStorage, "report", "open table", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	if _, err := reader.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil
		}
		return 0, pipeline.Wrap(pipeline.ErrStorage, "report", "read header", err)
	}
	rows := 0
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if _, err := reader.Read(); err != nil {
			if errors.Is(err, io.EOF) {
				return rows, nil
			}
			return 0, pipeline.Wrap(pipeline.ErrStorage, "report", "read row", err)
		}
		rows++
	}
}

func metadataKeys(ctx context.Context, path string) (map[string]struct{}, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]struct{}{}, nil
		}
		return nil, pipeline.Wrap(pipeline.ErrStorage, "report", "open metadata table", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]struct{}{}, nil
		}
		return nil, pipeline.Wrap(pipeline.ErrStorage, "report", "read metadata header", err)
	}
	keyIdx := -1
	for i, name := range header {
		if name == "key" {
			keyIdx = i
			break
		}
	}
	if keyIdx < 0 {
		return nil, pipeline.Wrap(pipeline.ErrSchema, "report", "metadata table missing key column", nil)
	}

	keys := make(map[string]struct{})
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, pipeline.Wrap(pipeline.ErrStorage, "report", "read metadata row", err)
		}
		keys[row[keyIdx]] = struct{}{}
	}
	return keys, nil
}

func scanMerged(ctx context.Context, path string, cov *Coverage) error {
	file, err := os.Open(path)
	if err != nil {
		return pipeline.Wrap(pipeline.ErrStorage, "report", "open merged table", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return pipeline.Wrap(pipeline.ErrStorage, "report", "read merged header", err)
	}
	sourceIdx := -1
	for i, name := range header {
		if name == merge.SourceColumn {
			sourceIdx = i
			break
		}
	}
	if sourceIdx < 0 {
		return pipeline.Wrap(pipeline.ErrSchema, "report", "merged table missing provenance column", nil)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return pipeline.Wrap(pipeline.ErrStorage, "report", "read merged row", err)
		}
		cov.MergedRows++
		source := row[sourceIdx]
		if source == "" {
			source = "none"
		}
		cov.SourceRows[source]++
	}
}
