package trackkey_test

import (
	"testing"

	"playlog/internal/trackkey"
)

func TestNormalizeFoldsCaseAndWhitespace(t *testing.T) {
	a := trackkey.Normalize("  Bohemian   Rhapsody ", "QUEEN")
	b := trackkey.Normalize("bohemian rhapsody", " queen")
	if a != b {
		t.Fatalf("expected equal keys, got %q and %q", a, b)
	}
}

func TestNormalizeStripsQuotes(t *testing.T) {
	a := trackkey.Normalize("Don't Stop Me Now", "Queen")
	b := trackkey.Normalize("Dont Stop Me Now", "Queen")
	if a != b {
		t.Fatalf("expected apostrophe-insensitive keys, got %q and %q", a, b)
	}
	c := trackkey.Normalize(`Don’t Stop Me Now`, "Queen")
	if a != c {
		t.Fatalf("expected curly-apostrophe-insensitive keys, got %q and %q", a, c)
	}
}

func TestNormalizeDistinguishesArtists(t *testing.T) {
	a := trackkey.Normalize("One", "Metallica")
	b := trackkey.Normalize("One", "U2")
	if a == b {
		t.Fatal("expected different artists to produce different keys")
	}
}

func TestNewPreservesOriginals(t *testing.T) {
	key := trackkey.New(" Hey Jude ", "The Beatles")
	if key.Track != "Hey Jude" {
		t.Fatalf("unexpected track: %q", key.Track)
	}
	if key.Artist != "The Beatles" {
		t.Fatalf("unexpected artist: %q", key.Artist)
	}
	if key.Value != trackkey.Normalize("Hey Jude", "The Beatles") {
		t.Fatalf("unexpected key value: %q", key.Value)
	}
}
