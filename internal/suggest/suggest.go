// Package suggest provides fuzzy name matching for "did you mean" hints
// when a category or pool reference does not resolve.
package suggest

import (
	"strings"
)

// levenshtein calculates the edit distance between two strings
func levenshtein(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	matrix := make([][]int, len(a)+1)
	for i := range matrix {
		matrix[i] = make([]int, len(b)+1)
		matrix[i][0] = i
	}
	for j := range matrix[0] {
		matrix[0][j] = j
	}

	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			matrix[i][j] = min(
				matrix[i-1][j]+1,      // deletion
				matrix[i][j-1]+1,      // insertion
				matrix[i-1][j-1]+cost, // substitution
			)
		}
	}

	return matrix[len(a)][len(b)]
}

// Closest returns the candidate name nearest to input, or "" when nothing
// is close enough to be a plausible typo. Matching is case-insensitive; a
// candidate qualifies within 3 edits or half the input length, whichever
// is larger.
func Closest(input string, candidates []string) string {
	lowered := strings.ToLower(input)
	maxDist := max(3, len(lowered)/2)

	best := ""
	bestDist := maxDist + 1
	for _, name := range candidates {
		dist := levenshtein(lowered, strings.ToLower(name))
		if dist < bestDist {
			best = name
			bestDist = dist
		}
	}
	return best
}
