package metastore

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"playlog/internal/pipeline"
)

// Accumulator appends fetch results to the on-disk metadata table. Each
// Append is flushed and fsynced before it returns, so the caller can commit
// progress only after the row is durable.
type Accumulator struct {
	path   string
	file   *os.File
	writer *csv.Writer
}

// Open opens the accumulator for appending, creating the file and writing
// the header when absent or empty. A partial trailing line left by an
// interrupted append is truncated away first, so the next row always starts
// on a clean line boundary.
func Open(path string) (*Accumulator, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, pipeline.Wrap(pipeline.ErrStorage, "metastore", "create directory", err)
	}

	if err := repairTail(path); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, pipeline.Wrap(pipeline.ErrStorage, "metastore", "open accumulator", err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, pipeline.Wrap(pipeline.ErrStorage, "metastore", "stat accumulator", err)
	}

	acc := &Accumulator{path: path, file: file, writer: csv.NewWriter(file)}
	if info.Size() == 0 {
		if err := acc.writeDurable(Columns); err != nil {
			_ = file.Close()
			return nil, err
		}
	}
	return acc, nil
}

// Append durably writes one record. The row is flushed and synced before
// Append returns; a failure is a storage error fatal to the run.
func (a *Accumulator) Append(rec Record) error {
	return a.writeDurable(rec.Row())
}

func (a *Accumulator) writeDurable(row []string) error {
	if err := a.writer.Write(row); err != nil {
		return pipeline.Wrap(pipeline.ErrStorage, "metastore", "append row", err)
	}
	a.writer.Flush()
	if err := a.writer.Error(); err != nil {
		return pipeline.Wrap(pipeline.ErrStorage, "metastore", "flush row", err)
	}
	if err := a.file.Sync(); err != nil {
		return pipeline.Wrap(pipeline.ErrStorage, "metastore", "sync accumulator", err)
	}
	return nil
}

// repairTail drops a torn final line left by a write interrupted mid-row.
// The torn row was never committed to progress, so discarding it only means
// the key stays pending and is fetched again.
func repairTail(path string) error {
	file, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return pipeline.Wrap(pipeline.ErrStorage, "metastore", "open accumulator", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return pipeline.Wrap(pipeline.ErrStorage, "metastore", "stat accumulator", err)
	}
	size := info.Size()
	if size == 0 {
		return nil
	}

	last := make([]byte, 1)
	if _, err := file.ReadAt(last, size-1); err != nil {
		return pipeline.Wrap(pipeline.ErrStorage, "metastore", "read accumulator tail", err)
	}
	if last[0] == '\n' {
		return nil
	}

	// Scan backwards for the last complete line. A torn header leaves no
	// newline at all; truncating to zero makes Open rewrite it.
	keep := int64(0)
	buf := make([]byte, 4096)
	for end := size - 1; end >= 0; {
		start := end - int64(len(buf)) + 1
		if start < 0 {
			start = 0
		}
		n := int(end - start + 1)
		if _, err := file.ReadAt(buf[:n], start); err != nil {
			return pipeline.Wrap(pipeline.ErrStorage, "metastore", "scan accumulator tail", err)
		}
		if i := bytes.LastIndexByte(buf[:n], '\n'); i >= 0 {
			keep = start + int64(i) + 1
			break
		}
		end = start - 1
	}

	if err := file.Truncate(keep); err != nil {
		return pipeline.Wrap(pipeline.ErrStorage, "metastore", "truncate torn row", err)
	}
	if err := file.Sync(); err != nil {
		return pipeline.Wrap(pipeline.ErrStorage, "metastore", "sync accumulator", err)
	}
	return nil
}

// Close closes the underlying file.
func (a *Accumulator) Close() error {
	if a == nil || a.file == nil {
		return nil
	}
	return a.file.Close()
}

// Path returns the accumulator file location.
func (a *Accumulator) Path() string {
	return a.path
}

// Records reads every record from an accumulator file in file order. A
// missing file yields no records: the accumulator simply has not been
// started yet.
func Records(path string) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, pipeline.Wrap(pipeline.ErrStorage, "metastore", "open accumulator", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, pipeline.Wrap(pipeline.ErrStorage, "metastore", "read header", err)
	}
	if len(header) != len(Columns) {
		return nil, pipeline.Wrap(pipeline.ErrSchema, "metastore", "unexpected accumulator header", nil)
	}

	var records []Record
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, pipeline.Wrap(pipeline.ErrStorage, "metastore", "read row", err)
		}
		rec, err := ParseRow(row)
		if err != nil {
			return nil, pipeline.Wrap(pipeline.ErrStorage, "metastore", "parse row", err)
		}
		records = append(records, rec)
	}
	return records, nil
}
