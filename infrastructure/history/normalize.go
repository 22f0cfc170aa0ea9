package history

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// Normalize builds the geography join key for a display name: accents are
// stripped, case is folded, and runs of whitespace collapse to one space.
// "São  José do Egito" and "sao jose do egito" share a key.
func Normalize(name string) string {
	// transform.Chain holds state, so a fresh chain per call keeps
	// Normalize safe for concurrent use.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, name)
	if err != nil {
		stripped = name
	}
	return strings.Join(strings.Fields(folder.String(stripped)), " ")
}
