// Package patterns provides token extraction and string similarity scoring
// for free-text transaction descriptions.
//
// A pattern is a wildcard-wrapped token (%TOKEN%) extracted from a
// description and matched as a case-insensitive substring. Similarity is
// derived from Levenshtein edit distance normalized by the longer input.
package patterns

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Wildcard wraps pattern tokens for substring matching
const Wildcard = "%"

// ExtractPattern extracts a wildcard pattern from a free-text description.
//
// The description is upper-cased and split on whitespace and punctuation
// (*, #, - and friends all act as separators). The first token longer than
// three characters that is not purely numeric becomes the pattern. The
// second return value is false when no such token exists: empty,
// whitespace-only, all-numeric or all-short input.
func ExtractPattern(description string) (string, bool) {
	token, ok := significantToken(description)
	if !ok {
		return "", false
	}
	return Wildcard + token + Wildcard, true
}

// MerchantSignature returns the bare significant token of a description,
// without wildcard wrapping. Used by the anomaly detector to identify
// merchants and by the recurring detector to name them.
func MerchantSignature(description string) (string, bool) {
	return significantToken(description)
}

// significantToken finds the first token with length > 3 that is not
// purely numeric.
func significantToken(description string) (string, bool) {
	upper := strings.ToUpper(description)

	tokens := strings.FieldsFunc(upper, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	for _, token := range tokens {
		if len(token) <= 3 {
			continue
		}
		if isNumeric(token) {
			continue
		}
		return token, true
	}

	return "", false
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return len(s) > 0
}

// CleanPattern strips the wildcard wrapping from a stored rule pattern
func CleanPattern(pattern string) string {
	return strings.Trim(pattern, Wildcard)
}

// Distance computes the Levenshtein edit distance between two strings.
// Insert, delete and substitute each cost 1. Case sensitive and symmetric;
// Distance(x, x) == 0 and Distance("", s) == len(s).
func Distance(a, b string) int {
	return levenshtein.ComputeDistance(a, b)
}

// Similarity scores two strings in [0, 1] as 1 - distance/maxlen. Lengths
// count runes, matching the distance metric. Two empty strings are
// identical and score 1.
func Similarity(a, b string) float64 {
	maxLen := utf8.RuneCountInString(a)
	if l := utf8.RuneCountInString(b); l > maxLen {
		maxLen = l
	}
	if maxLen == 0 {
		return 1.0
	}

	return 1.0 - float64(Distance(a, b))/float64(maxLen)
}
