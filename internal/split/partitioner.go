// Package split partitions the merged table into one file per value of a
// chosen column.
package split

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"playlog/internal/pipeline"
)

// UnclassifiedSubset receives rows whose partition column is empty.
const UnclassifiedSubset = "unclassified"

// Split streams the merged table once and writes each row to the subset
// file named after its value in column. Output files are created lazily, so
// only values that actually occur produce a file. Every subset carries the
// full merged header. The returned map counts rows per subset.
func Split(ctx context.Context, mergedPath, column, outDir string) (map[string]int, error) {
	in, err := os.Open(mergedPath)
	if err != nil {
		return nil, pipeline.Wrap(pipeline.ErrStorage, "split", "open merged table", err)
	}
	defer in.Close()

	reader := csv.NewReader(in)
	header, err := reader.Read()
	if err != nil {
		return nil, pipeline.Wrap(pipeline.ErrSchema, "split", "read merged header", err)
	}
	columnIdx := -1
	for i, name := range header {
		if name == column {
			columnIdx = i
			break
		}
	}
	if columnIdx < 0 {
		return nil, pipeline.Wrap(pipeline.ErrSchema, "split",
			fmt.Sprintf("merged table has no %s column", column), nil)
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, pipeline.Wrap(pipeline.ErrStorage, "split", "create output directory", err)
	}

	stem := strings.TrimSuffix(filepath.Base(mergedPath), filepath.Ext(mergedPath))
	writers := make(map[string]*subsetWriter)
	defer func() {
		for _, sw := range writers {
			sw.file.Close()
		}
	}()

	counts := make(map[string]int)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, pipeline.Wrap(pipeline.ErrStorage, "split", "read merged row", err)
		}

		subset := sanitizeSubset(row[columnIdx])
		sw, ok := writers[subset]
		if !ok {
			sw, err = newSubsetWriter(outDir, stem, subset, header)
			if err != nil {
				return nil, err
			}
			writers[subset] = sw
		}
		if err := sw.writer.Write(row); err != nil {
			return nil, pipeline.Wrap(pipeline.ErrStorage, "split", "write subset row", err)
		}
		counts[subset]++
	}

	for subset, sw := range writers {
		if err := sw.finish(); err != nil {
			return nil, pipeline.Wrap(pipeline.ErrStorage, "split",
				fmt.Sprintf("finalize subset %s", subset), err)
		}
	}
	return counts, nil
}

type subsetWriter struct {
	file    *os.File
	writer  *csv.Writer
	tmpPath string
	path    string
}

func newSubsetWriter(outDir, stem, subset string, header []string) (*subsetWriter, error) {
	path := filepath.Join(outDir, fmt.Sprintf("%s_%s.csv", stem, subset))
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return nil, pipeline.Wrap(pipeline.ErrStorage, "split", "create subset file", err)
	}
	sw := &subsetWriter{file: file, writer: csv.NewWriter(file), tmpPath: tmpPath, path: path}
	if err := sw.writer.Write(header); err != nil {
		file.Close()
		return nil, pipeline.Wrap(pipeline.ErrStorage, "split", "write subset header", err)
	}
	return sw, nil
}

func (sw *subsetWriter) finish() error {
	sw.writer.Flush()
	if err := sw.writer.Error(); err != nil {
		return err
	}
	if err := sw.file.Close(); err != nil {
		return err
	}
	if err := os.Rename(sw.tmpPath, sw.path); err != nil {
		os.Remove(sw.tmpPath)
		return err
	}
	return nil
}

// sanitizeSubset turns a column value into a filename fragment. Empty
// values fall into the unclassified subset; path separators and whitespace
// become underscores.
func sanitizeSubset(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return UnclassifiedSubset
	}
	value = strings.ToLower(value)
	mapper := func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}
	return strings.Map(mapper, value)
}
