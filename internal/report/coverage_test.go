package report_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"playlog/internal/report"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestBuildCountsSourcesAndKeys(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "base.csv")
	writeFile(t, basePath,
		"ts,ms_played,master_metadata_track_name,master_metadata_album_artist_name,media_type\n"+
			"2023-01-01T00:00:00Z,60000,Song A,Artist,song\n"+
			"2023-01-02T00:00:00Z,60000,Song A,Artist,song\n"+
			"2023-01-03T00:00:00Z,60000,Song B,Artist,song\n")

	matchedPath := filepath.Join(dir, "matched.csv")
	writeFile(t, matchedPath,
		"track_name,artist_name,key,track_id\n"+
			"Song A,Artist,song a|||artist,id-a\n"+
			"Song B,Artist,song b|||artist,\n")

	metadataPath := filepath.Join(dir, "metadata.csv")
	writeFile(t, metadataPath,
		"track_name,artist_name,key,fetched_at\n"+
			"Song B,Artist,song b|||artist,2023-02-01T00:00:00.000000000Z\n"+
			"Song B,Artist,song b|||artist,2023-03-01T00:00:00.000000000Z\n")

	mergedPath := filepath.Join(dir, "merged.csv")
	writeFile(t, mergedPath,
		"ts,enrichment_source\n"+
			"2023-01-01T00:00:00Z,dataset\n"+
			"2023-01-02T00:00:00Z,dataset\n"+
			"2023-01-03T00:00:00Z,api\n")

	cov, err := report.Build(context.Background(), report.Paths{
		BasePath:     basePath,
		MatchedPath:  matchedPath,
		MetadataPath: metadataPath,
		MergedPath:   mergedPath,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if cov.BaseRows != 3 || cov.DistinctKeys != 2 {
		t.Errorf("base rows/keys = %d/%d, want 3/2", cov.BaseRows, cov.DistinctKeys)
	}
	// Song B has no track_id, so only Song A counts as dataset-covered.
	if cov.DatasetKeys != 1 {
		t.Errorf("DatasetKeys = %d, want 1", cov.DatasetKeys)
	}
	// Duplicate appends collapse to one distinct key.
	if cov.APIKeys != 1 {
		t.Errorf("APIKeys = %d, want 1", cov.APIKeys)
	}
	if cov.MergedRows != 3 {
		t.Errorf("MergedRows = %d, want 3", cov.MergedRows)
	}
	if cov.SourceRows["dataset"] != 2 || cov.SourceRows["api"] != 1 {
		t.Errorf("SourceRows = %v", cov.SourceRows)
	}
	if _, ok := cov.FileSizes[basePath]; !ok {
		t.Error("missing base file size")
	}
}

func TestBuildToleratesAbsentTables(t *testing.T) {
	dir := t.TempDir()
	cov, err := report.Build(context.Background(), report.Paths{
		BasePath:     filepath.Join(dir, "absent_base.csv"),
		MatchedPath:  filepath.Join(dir, "absent_matched.csv"),
		MetadataPath: filepath.Join(dir, "absent_metadata.csv"),
		MergedPath:   filepath.Join(dir, "absent_merged.csv"),
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if cov.BaseRows != 0 || cov.DatasetKeys != 0 || cov.APIKeys != 0 || cov.MergedRows != 0 {
		t.Fatalf("expected zero coverage, got %+v", cov)
	}
}
