package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/factorflow/internal/common"
)

// Scope is the reporting scope of a usage record or reference factor.
type Scope int

// Reporting scopes. ScopeUnknown marks a missing or unparsable scope.
const (
	ScopeUnknown Scope = 0
	Scope1       Scope = 1
	Scope2       Scope = 2
	Scope3       Scope = 3
)

// Valid reports whether the scope is one of the three known scopes.
func (s Scope) Valid() bool {
	return s >= Scope1 && s <= Scope3
}

// String implements fmt.Stringer.
func (s Scope) String() string {
	if !s.Valid() {
		return "unknown"
	}
	return fmt.Sprintf("scope %d", int(s))
}

// MatchStatus tracks where a usage record is in the resolution pipeline.
type MatchStatus string

// Match status constants.
const (
	StatusUnmatched    MatchStatus = "unmatched"
	StatusMatched      MatchStatus = "matched"
	StatusFuzzyMatched MatchStatus = "fuzzy-matched"
	StatusFailed       MatchStatus = "failed"
)

// Valid reports whether the status is a known value.
func (s MatchStatus) Valid() bool {
	switch s {
	case StatusUnmatched, StatusMatched, StatusFuzzyMatched, StatusFailed:
		return true
	}
	return false
}

// MaxCategoryLevels is the deepest category path accepted on records and factors.
const MaxCategoryLevels = 4

// UsageRecord is a single quantity of consumption waiting to be resolved against the catalog.
type UsageRecord struct {
	Date         time.Time
	ID           string
	AccountID    string
	Unit         string // Free-text unit as reported upstream
	Notes        string
	MatchStatus  MatchStatus
	CategoryPath []string // Broadest level first
	Quantity     float64
	Scope        Scope
}

// CategoryText joins the non-empty category levels with spaces.
func (r *UsageRecord) CategoryText() string {
	return joinLevels(r.CategoryPath)
}

// Validate checks that the record carries everything matching needs.
// Every failure wraps common.ErrInvalidInput.
func (r *UsageRecord) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%w: missing id", common.ErrInvalidInput)
	}
	if r.CategoryText() == "" {
		return fmt.Errorf("%w: record %s has no category", common.ErrInvalidInput, r.ID)
	}
	if len(r.CategoryPath) > MaxCategoryLevels {
		return fmt.Errorf("%w: record %s has %d category levels (max %d)",
			common.ErrInvalidInput, r.ID, len(r.CategoryPath), MaxCategoryLevels)
	}
	if strings.TrimSpace(r.Unit) == "" {
		return fmt.Errorf("%w: record %s has no unit", common.ErrInvalidInput, r.ID)
	}
	if !r.Scope.Valid() {
		return fmt.Errorf("%w: record %s has invalid scope %d", common.ErrInvalidInput, r.ID, r.Scope)
	}
	if r.Quantity < 0 {
		return fmt.Errorf("%w: record %s has negative quantity %v", common.ErrInvalidInput, r.ID, r.Quantity)
	}
	return nil
}

func joinLevels(levels []string) string {
	parts := make([]string, 0, len(levels))
	for _, level := range levels {
		if trimmed := strings.TrimSpace(level); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return strings.Join(parts, " ")
}
