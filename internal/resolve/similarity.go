package resolve

import (
	"unicode/utf8"

	"github.com/agext/levenshtein"
)

// Similarity returns 1 - levenshtein(a, b)/max(len(a), len(b)) measured in
// runes. Two empty strings are identical (1.0). The result is symmetric and
// always within [0, 1].
func Similarity(a, b string) float64 {
	la := utf8.RuneCountInString(a)
	lb := utf8.RuneCountInString(b)
	longest := max(la, lb)
	if longest == 0 {
		return 1.0
	}

	dist := levenshtein.Distance(a, b, nil)
	sim := 1 - float64(dist)/float64(longest)
	if sim < 0 {
		return 0
	}
	return sim
}
