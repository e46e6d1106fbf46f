package text

import (
	"strings"
	"unicode"
)

// Sortify normalizes a string for case- and punctuation-insensitive
// comparison: lowercase, punctuation stripped, whitespace collapsed.
func Sortify(s string) string {
	var result strings.Builder
	lastSpace := true

	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			result.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				result.WriteRune(' ')
				lastSpace = true
			}
		}
		// Punctuation and symbols are dropped.
	}
	return strings.TrimRight(result.String(), " ")
}

// SortifiedName returns the document property holding the normalized form
// of a field, used to substitute sort keys transparently.
func SortifiedName(field string) string {
	return field + "Sortified"
}

// Slugify converts a string to a URL-safe slug: lowercase with runs of
// non-alphanumerics replaced by single hyphens.
func Slugify(s string) string {
	var result strings.Builder
	lastHyphen := true

	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(r)
			lastHyphen = false
		} else if !lastHyphen {
			result.WriteRune('-')
			lastHyphen = true
		}
	}
	return strings.TrimRight(result.String(), "-")
}
