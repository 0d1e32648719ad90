package merge

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"playlog/internal/extmatch"
	"playlog/internal/history"
	"playlog/internal/logging"
	"playlog/internal/metastore"
	"playlog/internal/pipeline"
	"playlog/internal/spotify"
	"playlog/internal/trackkey"
)

// SourceColumn names the provenance column appended to merged output.
const SourceColumn = "enrichment_source"

// Inputs names the tables a merge consumes and produces. MatchedPath and
// MetadataPath may point at absent files; an absent source simply
// contributes nothing.
type Inputs struct {
	BasePath     string
	MatchedPath  string
	MetadataPath string
	OutPath      string
}

// Stats summarizes a merge.
type Stats struct {
	Rows        int
	FromDataset int
	FromAPI     int
	Unenriched  int
}

// Merge joins both enrichment sources onto the base table, one output row
// per base row. Dataset matches take precedence over API metadata for the
// provenance column; both value groups are carried when both sources know a
// key. The output is written to a temp file and renamed, so a crash never
// leaves a truncated table, and repeated merges over unchanged inputs
// produce byte-identical output.
func Merge(ctx context.Context, in Inputs, logger *slog.Logger) (Stats, error) {
	log := logging.NewComponentLogger(logger, "merge")

	if err := history.ValidateSchema(in.BasePath); err != nil {
		return Stats{}, err
	}

	stagingDir, err := os.MkdirTemp(filepath.Dir(in.OutPath), "merge-staging-*")
	if err != nil {
		return Stats{}, pipeline.Wrap(pipeline.ErrStorage, "merge", "create staging directory", err)
	}
	defer os.RemoveAll(stagingDir)

	metaDB, err := openStaging(filepath.Join(stagingDir, "metadata.db"), metastore.ValueColumns)
	if err != nil {
		return Stats{}, err
	}
	defer metaDB.Close()

	matchDB, err := openStaging(filepath.Join(stagingDir, "matched.db"), extmatch.ValueColumns)
	if err != nil {
		return Stats{}, err
	}
	defer matchDB.Close()

	// The two sources stage into separate database files, so the loads
	// never contend on a writer lock.
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return stageMetadata(groupCtx, metaDB, in.MetadataPath) })
	group.Go(func() error { return stageMatched(groupCtx, matchDB, in.MatchedPath) })
	if err := group.Wait(); err != nil {
		return Stats{}, err
	}

	stats, err := joinBase(ctx, in, metaDB, matchDB)
	if err != nil {
		return Stats{}, err
	}

	log.Info("merge complete",
		logging.Int("rows", stats.Rows),
		logging.Int("from_dataset", stats.FromDataset),
		logging.Int("from_api", stats.FromAPI),
		logging.Int("unenriched", stats.Unenriched))
	return stats, nil
}

// openStaging creates a throwaway SQLite table keyed by normalized key with
// one column per value column. Durability pragmas are relaxed: staging data
// is rebuilt from scratch on every merge.
func openStaging(path string, valueColumns []string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, pipeline.Wrap(pipeline.ErrStorage, "merge", "open staging db", err)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=OFF", "PRAGMA synchronous=OFF"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, pipeline.Wrap(pipeline.ErrStorage, "merge", "apply staging pragma", err)
		}
	}

	ddl := fmt.Sprintf(
		`CREATE TABLE staging (key TEXT PRIMARY KEY, fetched_at TEXT NOT NULL DEFAULT '', %s)`,
		columnDDL(valueColumns),
	)
	if _, err := db.Exec(ddl); err != nil {
		_ = db.Close()
		return nil, pipeline.Wrap(pipeline.ErrStorage, "merge", "create staging table", err)
	}
	return db, nil
}

func columnDDL(columns []string) string {
	parts := make([]string, len(columns))
	for i, col := range columns {
		parts[i] = quoteIdent(col) + " TEXT"
	}
	return strings.Join(parts, ", ")
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// stageMetadata loads the append-only metadata table, keeping for each key
// the row with the greatest fetched_at. The fetched_at layout is fixed
// width, so string comparison orders chronologically; on an exact tie the
// earlier appended row wins.
func stageMetadata(ctx context.Context, db *sql.DB, path string) error {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return pipeline.Wrap(pipeline.ErrStorage, "merge", "open metadata table", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return pipeline.Wrap(pipeline.ErrStorage, "merge", "read metadata header", err)
	}
	if len(header) != len(metastore.Columns) {
		return pipeline.Wrap(pipeline.ErrSchema, "merge", "unexpected metadata header", nil)
	}

	insert := fmt.Sprintf(
		`INSERT INTO staging (key, fetched_at, %s) VALUES (%s)
         ON CONFLICT(key) DO UPDATE SET %s
         WHERE excluded.fetched_at > staging.fetched_at`,
		joinQuoted(metastore.ValueColumns),
		placeholders(len(metastore.ValueColumns)+2),
		updateSet(append([]string{"fetched_at"}, metastore.ValueColumns...)),
	)
	stmt, err := db.PrepareContext(ctx, insert)
	if err != nil {
		return pipeline.Wrap(pipeline.ErrStorage, "merge", "prepare metadata insert", err)
	}
	defer stmt.Close()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return pipeline.Wrap(pipeline.ErrStorage, "merge", "read metadata row", err)
		}
		// Columns: track_name, artist_name, key, fetched_at, values...
		args := make([]any, 0, len(metastore.ValueColumns)+2)
		args = append(args, row[2], row[3])
		for _, value := range row[4:] {
			args = append(args, value)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return pipeline.Wrap(pipeline.ErrStorage, "merge", "stage metadata row", err)
		}
	}
	return nil
}

// stageMatched loads the dataset-matched table. Keys there are already
// unique, but INSERT OR IGNORE keeps first-row-wins semantics regardless.
func stageMatched(ctx context.Context, db *sql.DB, path string) error {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return pipeline.Wrap(pipeline.ErrStorage, "merge", "open matched table", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return pipeline.Wrap(pipeline.ErrStorage, "merge", "read matched header", err)
	}
	if len(header) != len(extmatch.Columns) {
		return pipeline.Wrap(pipeline.ErrSchema, "merge", "unexpected matched header", nil)
	}

	insert := fmt.Sprintf(
		`INSERT OR IGNORE INTO staging (key, %s) VALUES (%s)`,
		joinQuoted(extmatch.ValueColumns),
		placeholders(len(extmatch.ValueColumns)+1),
	)
	stmt, err := db.PrepareContext(ctx, insert)
	if err != nil {
		return pipeline.Wrap(pipeline.ErrStorage, "merge", "prepare matched insert", err)
	}
	defer stmt.Close()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return pipeline.Wrap(pipeline.ErrStorage, "merge", "read matched row", err)
		}
		// Columns: track_name, artist_name, key, values...
		args := make([]any, 0, len(extmatch.ValueColumns)+1)
		args = append(args, row[2])
		for _, value := range row[3:] {
			args = append(args, value)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return pipeline.Wrap(pipeline.ErrStorage, "merge", "stage matched row", err)
		}
	}
	return nil
}

// joinBase streams the base table once, looking up each row's key in both
// staged sources.
func joinBase(ctx context.Context, in Inputs, metaDB, matchDB *sql.DB) (Stats, error) {
	base, err := os.Open(in.BasePath)
	if err != nil {
		return Stats{}, pipeline.Wrap(pipeline.ErrStorage, "merge", "open base table", err)
	}
	defer base.Close()

	reader := csv.NewReader(base)
	baseHeader, err := reader.Read()
	if err != nil {
		return Stats{}, pipeline.Wrap(pipeline.ErrSchema, "merge", "read base header", err)
	}
	trackIdx, artistIdx := -1, -1
	for i, name := range baseHeader {
		switch name {
		case history.ColTrackName:
			trackIdx = i
		case history.ColArtist:
			artistIdx = i
		}
	}
	if trackIdx < 0 || artistIdx < 0 {
		return Stats{}, pipeline.Wrap(pipeline.ErrSchema, "merge", "base table missing track or artist column", nil)
	}

	matchStmt, err := matchDB.PrepareContext(ctx, selectValues(extmatch.ValueColumns))
	if err != nil {
		return Stats{}, pipeline.Wrap(pipeline.ErrStorage, "merge", "prepare matched lookup", err)
	}
	defer matchStmt.Close()

	metaStmt, err := metaDB.PrepareContext(ctx, selectValues(metastore.ValueColumns))
	if err != nil {
		return Stats{}, pipeline.Wrap(pipeline.ErrStorage, "merge", "prepare metadata lookup", err)
	}
	defer metaStmt.Close()

	tmpPath := in.OutPath + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return Stats{}, pipeline.Wrap(pipeline.ErrStorage, "merge", "create merged table", err)
	}
	defer out.Close()
	writer := csv.NewWriter(out)

	outHeader := append([]string{}, baseHeader...)
	outHeader = append(outHeader, extmatch.ValueColumns...)
	outHeader = append(outHeader, metastore.ValueColumns...)
	outHeader = append(outHeader, SourceColumn)
	if err := writer.Write(outHeader); err != nil {
		return Stats{}, pipeline.Wrap(pipeline.ErrStorage, "merge", "write merged header", err)
	}

	emptyMatch := make([]string, len(extmatch.ValueColumns))
	emptyMeta := make([]string, len(metastore.ValueColumns))

	stats := Stats{}
	for {
		if err := ctx.Err(); err != nil {
			return Stats{}, err
		}
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Stats{}, pipeline.Wrap(pipeline.ErrStorage, "merge", "read base row", err)
		}

		matchValues, metaValues := emptyMatch, emptyMeta
		matched, enriched := false, false
		if row[trackIdx] != "" && row[artistIdx] != "" {
			key := trackkey.Normalize(row[trackIdx], row[artistIdx])
			if values, ok, err := lookup(ctx, matchStmt, key, len(extmatch.ValueColumns)); err != nil {
				return Stats{}, err
			} else if ok {
				matchValues, matched = values, true
			}
			if values, ok, err := lookup(ctx, metaStmt, key, len(metastore.ValueColumns)); err != nil {
				return Stats{}, err
			} else if ok {
				metaValues, enriched = values, true
			}
		}

		source := ""
		switch {
		case matched:
			source = extmatch.EnrichmentSource
			stats.FromDataset++
		case enriched:
			source = spotify.EnrichmentSource
			stats.FromAPI++
		default:
			stats.Unenriched++
		}

		outRow := append([]string{}, row...)
		outRow = append(outRow, matchValues...)
		outRow = append(outRow, metaValues...)
		outRow = append(outRow, source)
		if err := writer.Write(outRow); err != nil {
			return Stats{}, pipeline.Wrap(pipeline.ErrStorage, "merge", "write merged row", err)
		}
		stats.Rows++
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return Stats{}, pipeline.Wrap(pipeline.ErrStorage, "merge", "flush merged table", err)
	}
	if err := out.Close(); err != nil {
		return Stats{}, pipeline.Wrap(pipeline.ErrStorage, "merge", "close merged table", err)
	}
	if err := os.Rename(tmpPath, in.OutPath); err != nil {
		os.Remove(tmpPath)
		return Stats{}, pipeline.Wrap(pipeline.ErrStorage, "merge", "rename merged table", err)
	}
	return stats, nil
}

func lookup(ctx context.Context, stmt *sql.Stmt, key string, width int) ([]string, bool, error) {
	values := make([]string, width)
	dest := make([]any, width)
	for i := range values {
		dest[i] = &values[i]
	}
	err := stmt.QueryRowContext(ctx, key).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, pipeline.Wrap(pipeline.ErrStorage, "merge", "lookup staged key", err)
	}
	return values, true, nil
}

func selectValues(columns []string) string {
	return fmt.Sprintf(`SELECT %s FROM staging WHERE key = ?`, joinQuoted(columns))
}

func joinQuoted(columns []string) string {
	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = quoteIdent(col)
	}
	return strings.Join(quoted, ", ")
}

func updateSet(columns []string) string {
	parts := make([]string, len(columns))
	for i, col := range columns {
		parts[i] = quoteIdent(col) + " = excluded." + quoteIdent(col)
	}
	return strings.Join(parts, ", ")
}

func placeholders(count int) string {
	parts := make([]string, count)
	for i := range parts {
		parts[i] = "?"
	}
	return strings.Join(parts, ", ")
}
