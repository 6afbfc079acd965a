package match

import (
	"strings"

	"github.com/agnivade/levenshtein"
)

const (
	// Weight of the token distance versus the uncovered-target penalty.
	distanceWeight = 0.9
	coverageWeight = 0.1

	// A target token counts as covered when some query token is this close to it.
	coveredDistance = 0.25

	// Containment is scaled down so "electric" vs "electricity" beats an unrelated edit.
	containmentFactor = 0.5
)

// Score compares two normalized strings with order-insensitive token matching.
// It returns 0 for identical token sets and 1 for unrelated text.
// Query tokens shorter than minTokenLength are ignored unless every token is short.
func Score(query, target string, minTokenLength int) float64 {
	queryTokens := significantTokens(strings.Fields(query), minTokenLength)
	targetTokens := strings.Fields(target)
	if len(queryTokens) == 0 || len(targetTokens) == 0 {
		return 1
	}

	covered := make([]bool, len(targetTokens))
	var total float64
	for _, qt := range queryTokens {
		best := 1.0
		for i, tt := range targetTokens {
			d := tokenDistance(qt, tt)
			if d <= coveredDistance {
				covered[i] = true
			}
			if d < best {
				best = d
			}
		}
		total += best
	}

	uncovered := 0
	for _, c := range covered {
		if !c {
			uncovered++
		}
	}

	mean := total / float64(len(queryTokens))
	score := distanceWeight*mean + coverageWeight*float64(uncovered)/float64(len(targetTokens))
	if score > 1 {
		return 1
	}
	return score
}

// tokenDistance is the normalized edit distance between two tokens, reduced when one
// token contains the other.
func tokenDistance(a, b string) float64 {
	if a == b {
		return 0
	}

	ra, rb := []rune(a), []rune(b)
	longest := max(len(ra), len(rb))
	if longest == 0 {
		return 0
	}

	d := float64(levenshtein.ComputeDistance(a, b)) / float64(longest)

	if strings.Contains(a, b) || strings.Contains(b, a) {
		shortest := min(len(ra), len(rb))
		contained := containmentFactor * (1 - float64(shortest)/float64(longest))
		if contained < d {
			d = contained
		}
	}
	return d
}

func significantTokens(tokens []string, minLength int) []string {
	kept := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if len([]rune(t)) >= minLength {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		return tokens
	}
	return kept
}
