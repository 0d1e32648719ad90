package metastore

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FetchedAtLayout is a fixed-width RFC3339 variant so that lexicographic
// ordering of the column matches chronological ordering.
const FetchedAtLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Columns is the accumulator header, in file order.
var Columns = []string{
	"track_name",
	"artist_name",
	"key",
	"fetched_at",
	"spotify_id",
	"spotify_uri",
	"track_popularity",
	"track_duration_ms",
	"track_explicit",
	"track_preview_url",
	"album_name",
	"album_release_date",
	"album_release_date_precision",
	"album_total_tracks",
	"album_type",
	"artist_popularity",
	"artist_followers",
	"api_genres",
}

// ValueColumns are the columns carried into the merged output (identity and
// bookkeeping columns excluded).
var ValueColumns = Columns[4:]

// Record is one fetch attempt's result.
type Record struct {
	TrackName                 string
	ArtistName                string
	Key                       string
	FetchedAt                 time.Time
	SpotifyID                 string
	SpotifyURI                string
	TrackPopularity           int
	TrackDurationMS           int64
	TrackExplicit             bool
	TrackPreviewURL           string
	AlbumName                 string
	AlbumReleaseDate          string
	AlbumReleaseDatePrecision string
	AlbumTotalTracks          int
	AlbumType                 string
	ArtistPopularity          int
	ArtistFollowers           int64
	APIGenres                 []string
}

// Row renders the record as a CSV row matching Columns.
func (r Record) Row() []string {
	return []string{
		r.TrackName,
		r.ArtistName,
		r.Key,
		r.FetchedAt.UTC().Format(FetchedAtLayout),
		r.SpotifyID,
		r.SpotifyURI,
		strconv.Itoa(r.TrackPopularity),
		strconv.FormatInt(r.TrackDurationMS, 10),
		strconv.FormatBool(r.TrackExplicit),
		r.TrackPreviewURL,
		r.AlbumName,
		r.AlbumReleaseDate,
		r.AlbumReleaseDatePrecision,
		strconv.Itoa(r.AlbumTotalTracks),
		r.AlbumType,
		strconv.Itoa(r.ArtistPopularity),
		strconv.FormatInt(r.ArtistFollowers, 10),
		strings.Join(r.APIGenres, "; "),
	}
}

// ParseRow decodes a CSV row produced by Row. Numeric fields tolerate being
// empty; a malformed numeric value is an error.
func ParseRow(row []string) (Record, error) {
	if len(row) != len(Columns) {
		return Record{}, fmt.Errorf("metadata row has %d columns, expected %d", len(row), len(Columns))
	}

	rec := Record{
		TrackName:                 row[0],
		ArtistName:                row[1],
		Key:                       row[2],
		SpotifyID:                 row[4],
		SpotifyURI:                row[5],
		TrackPreviewURL:           row[9],
		AlbumName:                 row[10],
		AlbumReleaseDate:          row[11],
		AlbumReleaseDatePrecision: row[12],
		AlbumType:                 row[14],
	}

	if row[3] != "" {
		fetchedAt, err := time.Parse(FetchedAtLayout, row[3])
		if err != nil {
			return Record{}, fmt.Errorf("parse fetched_at %q: %w", row[3], err)
		}
		rec.FetchedAt = fetchedAt
	}

	var err error
	if rec.TrackPopularity, err = parseInt(row[6]); err != nil {
		return Record{}, fmt.Errorf("parse track_popularity: %w", err)
	}
	if rec.TrackDurationMS, err = parseInt64(row[7]); err != nil {
		return Record{}, fmt.Errorf("parse track_duration_ms: %w", err)
	}
	if row[8] != "" {
		if rec.TrackExplicit, err = strconv.ParseBool(row[8]); err != nil {
			return Record{}, fmt.Errorf("parse track_explicit: %w", err)
		}
	}
	if rec.AlbumTotalTracks, err = parseInt(row[13]); err != nil {
		return Record{}, fmt.Errorf("parse album_total_tracks: %w", err)
	}
	if rec.ArtistPopularity, err = parseInt(row[15]); err != nil {
		return Record{}, fmt.Errorf("parse artist_popularity: %w", err)
	}
	if rec.ArtistFollowers, err = parseInt64(row[16]); err != nil {
		return Record{}, fmt.Errorf("parse artist_followers: %w", err)
	}
	if row[17] != "" {
		rec.APIGenres = strings.Split(row[17], "; ")
	}
	return rec, nil
}

func parseInt(value string) (int, error) {
	if value == "" {
		return 0, nil
	}
	return strconv.Atoi(value)
}

func parseInt64(value string) (int64, error) {
	if value == "" {
		return 0, nil
	}
	return strconv.ParseInt(value, 10, 64)
}
