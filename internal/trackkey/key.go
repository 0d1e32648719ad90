package trackkey

import (
	"strings"

	"golang.org/x/text/cases"
)

// Separator joins the normalized track and artist halves of a key. It is
// unlikely to appear in real titles, which keeps keys unambiguous.
const Separator = "|||"

var folder = cases.Fold()

// Key pairs the original track and artist strings with their normalized form.
type Key struct {
	Track  string
	Artist string
	Value  string
}

// New builds a Key from raw track and artist names.
func New(track, artist string) Key {
	return Key{
		Track:  strings.TrimSpace(track),
		Artist: strings.TrimSpace(artist),
		Value:  Normalize(track, artist),
	}
}

// Normalize returns the canonical key for a (track, artist) pair. Equality of
// keys is case and whitespace insensitive; apostrophes and double quotes are
// stripped so that both metadata sources agree on the same identity.
func Normalize(track, artist string) string {
	return NormalizeField(track) + Separator + NormalizeField(artist)
}

// NormalizeField applies the key normalization rules to a single free-text
// field.
func NormalizeField(value string) string {
	value = strings.TrimSpace(value)
	value = strings.NewReplacer("'", "", "’", "", `"`, "").Replace(value)
	value = folder.String(value)
	return strings.Join(strings.Fields(value), " ")
}
