package model

import (
	"fmt"
	"sort"

	"github.com/Veraticus/factorflow/internal/common"
)

// MatchCandidate pairs a catalog factor with a match score. Lower scores are better.
type MatchCandidate struct {
	Strategy string // Fuzzy strategy that produced the candidate, if any
	Method   MatchMethod
	Factor   ReferenceFactor
	Score    float64
	RawScore float64 // Score before tie-break boosts
}

// Validate ensures the candidate names a factor and carries a raw score in [0, 1].
func (c *MatchCandidate) Validate() error {
	if c.Factor.ID == "" {
		return fmt.Errorf("%w: candidate has no factor", common.ErrInvalidInput)
	}
	if c.RawScore < 0 || c.RawScore > 1 {
		return fmt.Errorf("%w: raw score must be between 0.0 and 1.0, got %.2f", common.ErrInvalidInput, c.RawScore)
	}
	return nil
}

// MatchCandidates is a slice of MatchCandidate that supports sorting and selection.
type MatchCandidates []MatchCandidate

// Len implements sort.Interface.
func (c MatchCandidates) Len() int {
	return len(c)
}

// Less implements sort.Interface - lower scores come first.
func (c MatchCandidates) Less(i, j int) bool {
	if c[i].Score != c[j].Score {
		return c[i].Score < c[j].Score
	}
	// Equal scores fall back to the factor ID so selection is deterministic
	return c[i].Factor.ID < c[j].Factor.ID
}

// Swap implements sort.Interface.
func (c MatchCandidates) Swap(i, j int) {
	c[i], c[j] = c[j], c[i]
}

// Sort sorts the candidates by score in ascending order.
func (c MatchCandidates) Sort() {
	sort.Sort(c)
}

// Top returns the best candidate, or nil if empty.
func (c MatchCandidates) Top() *MatchCandidate {
	if len(c) == 0 {
		return nil
	}
	c.Sort()
	return &c[0]
}

// TopN returns the N best candidates.
func (c MatchCandidates) TopN(n int) MatchCandidates {
	if n <= 0 {
		return MatchCandidates{}
	}

	c.Sort()

	if n > len(c) {
		n = len(c)
	}

	result := make(MatchCandidates, n)
	copy(result, c[:n])
	return result
}

// ApplyBoosts lowers the score of candidates whose factor unit satisfies unitMatches
// or whose scope equals scope, then re-sorts. RawScore is left as it was.
func (c MatchCandidates) ApplyBoosts(unitMatches func(ReferenceFactor) bool, scope Scope, unitBoost, scopeBoost float64) {
	for i := range c {
		if unitMatches != nil && unitMatches(c[i].Factor) {
			c[i].Score -= unitBoost
		}
		if scope.Valid() && c[i].Factor.Scope == scope {
			c[i].Score -= scopeBoost
		}
	}

	c.Sort()
}
