// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/Veraticus/factorflow/internal/common"
	"github.com/Veraticus/factorflow/internal/model"
)

// SelectorKind names which records a batch run should pick up.
type SelectorKind string

// Selector kinds.
const (
	// SelectUnmatched picks records that have never been resolved.
	SelectUnmatched SelectorKind = "unmatched"
	// SelectSourceChanged picks records whose stored result came from a source other
	// than the preferred one.
	SelectSourceChanged SelectorKind = "source-changed"
	// SelectFailed picks records whose last attempt failed.
	SelectFailed SelectorKind = "failed"
)

// RecordSelector scopes a batch run.
type RecordSelector struct {
	AccountID string
	Source    string // Preferred source, used by SelectSourceChanged
	Kind      SelectorKind
}

// ParseSelectorKind converts user input into a SelectorKind. Empty input selects unmatched records.
func ParseSelectorKind(s string) (SelectorKind, error) {
	switch kind := SelectorKind(strings.ToLower(strings.TrimSpace(s))); kind {
	case "":
		return SelectUnmatched, nil
	case SelectUnmatched, SelectSourceChanged, SelectFailed:
		return kind, nil
	default:
		return "", fmt.Errorf("%w: unknown selector %q", common.ErrInvalidInput, s)
	}
}

// RecordFilter defines filtering options for record queries.
type RecordFilter struct {
	AccountID string
	Source    string
	Kind      SelectorKind
	Limit     int
}

// Filter converts the selector into a store filter capped at limit records.
func (s RecordSelector) Filter(limit int) RecordFilter {
	kind := s.Kind
	if kind == "" {
		kind = SelectUnmatched
	}
	return RecordFilter{
		AccountID: s.AccountID,
		Source:    s.Source,
		Kind:      kind,
		Limit:     limit,
	}
}

// RecordStore is the persistence contract the batch orchestrator depends on.
type RecordStore interface {
	// FetchUnmatched returns records selected by filter, oldest first.
	FetchUnmatched(ctx context.Context, filter RecordFilter) ([]model.UsageRecord, error)
	// FetchFactors returns the catalog, restricted to one source when sourceFilter is set.
	FetchFactors(ctx context.Context, sourceFilter string) ([]model.ReferenceFactor, error)
	// UpsertResult stores result, replacing any previous result for the same record.
	UpsertResult(ctx context.Context, result *model.CalculationResult) error
	// SetMatchStatus updates one record's status.
	SetMatchStatus(ctx context.Context, entryID string, status model.MatchStatus) error
}
