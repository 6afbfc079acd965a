// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Matching errors.
	ErrInvalidInput = errors.New("invalid input")
	ErrNoMatchFound = errors.New("no match found")

	// Calculation errors.
	ErrMissingConversionValue = errors.New("missing conversion value")
	ErrEstimationFailed       = errors.New("estimation failed")
	ErrEmbeddingFailed        = errors.New("embedding failed")

	// Store errors.
	ErrPersistence = errors.New("persistence failed")
	ErrCatalogLoad = errors.New("catalog load failed")
	ErrNotFound    = errors.New("not found")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Error kinds are low-cardinality labels for outcomes, logs and metrics.
const (
	KindInvalidInput = "invalid_input"
	KindNoMatch      = "no_match"
	KindMissingValue = "missing_conversion_value"
	KindEstimation   = "estimation"
	KindEmbedding    = "embedding"
	KindPersistence  = "persistence"
	KindCatalog      = "catalog"
	KindCanceled     = "canceled"
	KindUnknown      = "unknown"
	KindNone         = ""
)

// Kind classifies an error into one of the Kind* labels.
func Kind(err error) string {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrNoMatchFound):
		return KindNoMatch
	case errors.Is(err, ErrMissingConversionValue):
		return KindMissingValue
	case errors.Is(err, ErrEstimationFailed):
		return KindEstimation
	case errors.Is(err, ErrEmbeddingFailed):
		return KindEmbedding
	case errors.Is(err, ErrPersistence):
		return KindPersistence
	case errors.Is(err, ErrCatalogLoad):
		return KindCatalog
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindUnknown
	}
}

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrRateLimit) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return false
}
