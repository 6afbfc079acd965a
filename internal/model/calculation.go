// Package model defines the core domain models used throughout the application.
package model

import (
	"time"

	"github.com/google/uuid"
)

// MatchMethod records which matcher produced a candidate.
type MatchMethod string

// Match method constants.
const (
	MethodFuzzy    MatchMethod = "fuzzy"
	MethodSemantic MatchMethod = "semantic"
	MethodSearch   MatchMethod = "search"
)

// ConstituentValue is one gas of a calculated breakdown.
type ConstituentValue struct {
	Gas   string  `json:"gas"`
	Value float64 `json:"value"`
}

// CalculationResult is the derived output for one usage record.
// Results are keyed by EntryID; a newer result supersedes the previous one.
type CalculationResult struct {
	CalculatedAt    time.Time
	MatchedFactorID *string
	ID              string
	EntryID         string
	Unit            string
	Source          string
	Method          MatchMethod
	Breakdown       []ConstituentValue
	TotalValue      float64
	Score           float64
}

// NewCalculationResult creates a result with a fresh ID for the given record.
func NewCalculationResult(entryID string, at time.Time) *CalculationResult {
	return &CalculationResult{
		ID:           uuid.NewString(),
		EntryID:      entryID,
		CalculatedAt: at,
	}
}
