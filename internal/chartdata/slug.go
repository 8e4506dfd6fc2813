package chartdata

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldMarks strips combining marks after NFD decomposition, so
// "Münster" and "Munster" slug identically.
var foldMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// SeriesID derives the stable identifier for a chart series from its
// category name and series title. Two uploads producing the same
// (category, title) pair always produce the same id, which is what the
// merge engine keys on.
func SeriesID(category, title string) string {
	return Slug(category + " " + title)
}

// Slug lower-cases s, folds diacritics, and collapses every run of
// non-alphanumeric characters into a single '-'.
func Slug(s string) string {
	if folded, _, err := transform.String(foldMarks, s); err == nil {
		s = folded
	}
	s = strings.ToLower(s)

	var b strings.Builder
	b.Grow(len(s))
	pendingDash := false
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
		} else {
			pendingDash = true
		}
	}
	return b.String()
}
