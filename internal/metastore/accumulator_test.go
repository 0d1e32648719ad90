package metastore_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"playlog/internal/metastore"
)

func sampleRecord(key string, fetchedAt time.Time) metastore.Record {
	return metastore.Record{
		TrackName:        "Hey Jude",
		ArtistName:       "The Beatles",
		Key:              key,
		FetchedAt:        fetchedAt,
		SpotifyID:        "0aym2LBJBk9DAYuHHutrIl",
		SpotifyURI:       "spotify:track:0aym2LBJBk9DAYuHHutrIl",
		TrackPopularity:  78,
		TrackDurationMS:  431333,
		AlbumName:        "Hey Jude",
		AlbumTotalTracks: 10,
		ArtistPopularity: 88,
		ArtistFollowers:  29000000,
		APIGenres:        []string{"rock", "british invasion"},
	}
}

func TestAppendThenRecordsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spotify_metadata.csv")
	acc, err := metastore.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	want := sampleRecord("hey jude|||the beatles", time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	if err := acc.Append(want); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := acc.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	records, err := metastore.Records(path)
	if err != nil {
		t.Fatalf("Records failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	got := records[0]
	if got.Key != want.Key || got.SpotifyID != want.SpotifyID {
		t.Fatalf("unexpected record: %#v", got)
	}
	if !got.FetchedAt.Equal(want.FetchedAt) {
		t.Fatalf("fetched_at mismatch: %v vs %v", got.FetchedAt, want.FetchedAt)
	}
	if len(got.APIGenres) != 2 || got.APIGenres[1] != "british invasion" {
		t.Fatalf("unexpected genres: %v", got.APIGenres)
	}
}

func TestReopenAppendsWithoutRewriting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spotify_metadata.csv")

	acc, err := metastore.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := acc.Append(sampleRecord("k1", time.Now())); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := acc.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	acc, err = metastore.Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if err := acc.Append(sampleRecord("k2", time.Now())); err != nil {
		t.Fatalf("Append after reopen failed: %v", err)
	}
	if err := acc.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	records, err := metastore.Records(path)
	if err != nil {
		t.Fatalf("Records failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records after reopen, got %d", len(records))
	}
	if records[0].Key != "k1" || records[1].Key != "k2" {
		t.Fatalf("unexpected record order: %q, %q", records[0].Key, records[1].Key)
	}
}

func TestOpenRepairsTornFinalRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spotify_metadata.csv")

	acc, err := metastore.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := acc.Append(sampleRecord("k1", time.Now())); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := acc.Append(sampleRecord("k2", time.Now())); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := acc.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Chop the last row mid-write, as a crash during Append would.
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if err := os.Truncate(path, info.Size()-20); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	acc, err = metastore.Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if err := acc.Append(sampleRecord("k3", time.Now())); err != nil {
		t.Fatalf("Append after repair failed: %v", err)
	}
	if err := acc.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	records, err := metastore.Records(path)
	if err != nil {
		t.Fatalf("Records failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records after repair, got %d", len(records))
	}
	if records[0].Key != "k1" || records[1].Key != "k3" {
		t.Fatalf("unexpected records: %q, %q", records[0].Key, records[1].Key)
	}
}

func TestOpenRepairsTornHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spotify_metadata.csv")
	if err := os.WriteFile(path, []byte("track_name,artist_na"), 0o644); err != nil {
		t.Fatalf("write torn header: %v", err)
	}

	acc, err := metastore.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := acc.Append(sampleRecord("k1", time.Now())); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := acc.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	records, err := metastore.Records(path)
	if err != nil {
		t.Fatalf("Records failed: %v", err)
	}
	if len(records) != 1 || records[0].Key != "k1" {
		t.Fatalf("unexpected records after header repair: %#v", records)
	}
}

func TestRecordsMissingFileIsEmpty(t *testing.T) {
	records, err := metastore.Records(filepath.Join(t.TempDir(), "absent.csv"))
	if err != nil {
		t.Fatalf("Records failed: %v", err)
	}
	if records != nil {
		t.Fatalf("expected no records, got %d", len(records))
	}
}

func TestFetchedAtLayoutSortsLexicographically(t *testing.T) {
	early := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC).Format(metastore.FetchedAtLayout)
	late := time.Date(2026, 3, 1, 10, 0, 0, 500000000, time.UTC).Format(metastore.FetchedAtLayout)
	if !(early < late) {
		t.Fatalf("expected %q < %q", early, late)
	}
}
