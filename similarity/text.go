package similarity

import (
	"strings"

	"github.com/agext/levenshtein"
)

// EditSimilarity is 1 - distance/max(len) over runes: 1.0 for identical
// strings, 0 when either side is empty.
func EditSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	la, lb := len([]rune(a)), len([]rune(b))
	longest := la
	if lb > longest {
		longest = lb
	}
	dist := levenshtein.Distance(a, b, nil)
	return 1 - float64(dist)/float64(longest)
}

// Tokens splits text into lowercase whitespace-separated words.
func Tokens(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

// Jaccard is |A∩B| / |A∪B| over the token sets; 0 when either is empty.
func Jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	setA := make(map[string]struct{}, len(a))
	for _, t := range a {
		setA[t] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, t := range b {
		setB[t] = struct{}{}
	}

	intersection := 0
	for t := range setA {
		if _, ok := setB[t]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func normalizeText(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
