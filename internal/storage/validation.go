// Package storage provides the data persistence layer for factorflow.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/factorflow/internal/model"
)

// Validation errors.
var (
	ErrNilContext    = errors.New("context cannot be nil")
	ErrEmptyString   = errors.New("string parameter cannot be empty")
	ErrNilParameter  = errors.New("parameter cannot be nil")
	ErrEmptySlice    = errors.New("slice cannot be empty")
	ErrInvalidStatus = errors.New("invalid match status")
	ErrInvalidRecord = errors.New("invalid usage record")
	ErrInvalidFactor = errors.New("invalid reference factor")
	ErrInvalidResult = errors.New("invalid calculation result")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateRecords validates a slice of records before import. Records may be
// incomplete, since the orchestrator reports incomplete records as failures,
// but they must be identifiable.
func validateRecords(records []model.UsageRecord) error {
	if records == nil {
		return fmt.Errorf("%w: records", ErrNilParameter)
	}
	if len(records) == 0 {
		return fmt.Errorf("%w: records", ErrEmptySlice)
	}

	for i := range records {
		if strings.TrimSpace(records[i].ID) == "" {
			return fmt.Errorf("record at index %d: %w: missing ID", i, ErrInvalidRecord)
		}
		if records[i].MatchStatus != "" && !records[i].MatchStatus.Valid() {
			return fmt.Errorf("record at index %d: %w: %s", i, ErrInvalidStatus, records[i].MatchStatus)
		}
		if len(records[i].CategoryPath) > model.MaxCategoryLevels {
			return fmt.Errorf("record at index %d: %w: too many category levels", i, ErrInvalidRecord)
		}
	}
	return nil
}

// validateFactors validates a slice of catalog factors.
func validateFactors(factors []model.ReferenceFactor) error {
	if factors == nil {
		return fmt.Errorf("%w: factors", ErrNilParameter)
	}
	if len(factors) == 0 {
		return fmt.Errorf("%w: factors", ErrEmptySlice)
	}

	for i := range factors {
		f := &factors[i]
		if strings.TrimSpace(f.ID) == "" {
			return fmt.Errorf("factor at index %d: %w: missing ID", i, ErrInvalidFactor)
		}
		if f.CategoryText() == "" {
			return fmt.Errorf("factor %s: %w: missing category", f.ID, ErrInvalidFactor)
		}
		if len(f.CategoryPath) > model.MaxCategoryLevels {
			return fmt.Errorf("factor %s: %w: too many category levels", f.ID, ErrInvalidFactor)
		}
	}
	return nil
}

// validateResult validates a calculation result.
func validateResult(result *model.CalculationResult) error {
	if result == nil {
		return fmt.Errorf("%w: result", ErrNilParameter)
	}
	if strings.TrimSpace(result.ID) == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidResult)
	}
	if strings.TrimSpace(result.EntryID) == "" {
		return fmt.Errorf("%w: missing entry ID", ErrInvalidResult)
	}
	if result.CalculatedAt.IsZero() {
		return fmt.Errorf("%w: missing calculation time", ErrInvalidResult)
	}
	return nil
}

// validateStatus validates a match status.
func validateStatus(status model.MatchStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return nil
}
