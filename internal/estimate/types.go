// Package estimate talks to the external estimation and factor search services.
package estimate

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/Veraticus/factorflow/internal/model"
)

// Estimator computes a total for a factor that has no direct conversion value.
type Estimator interface {
	Estimate(ctx context.Context, req Request) (*Response, error)
}

// Searcher looks factors up in a remote catalog.
type Searcher interface {
	Search(ctx context.Context, req SearchRequest) ([]SearchResult, error)
}

// Request is the estimation service request body.
type Request struct {
	FactorID      string  `json:"factor_id"`
	Version       string  `json:"version,omitempty"`
	ParameterName string  `json:"parameter_name"`
	ParameterUnit string  `json:"parameter_unit"`
	Quantity      float64 `json:"quantity"`
}

// Response is the estimation service response body.
type Response struct {
	Unit         string                    `json:"unit"`
	Constituents []model.ConstituentFactor `json:"constituents,omitempty"`
	TotalValue   float64                   `json:"total_value"`
}

// SearchRequest queries the remote catalog.
type SearchRequest struct {
	Query   string
	Version string
}

// SearchResult is one raw factor returned by the search service.
type SearchResult struct {
	ID                 string            `json:"id"`
	Name               string            `json:"name"`
	Region             string            `json:"region"`
	Source             string            `json:"source"`
	Unit               string            `json:"unit,omitempty"`
	AcceptedParameters []model.Parameter `json:"accepted_parameters"`
	Year               int               `json:"year"`
}

// Factor converts a search result into a reference factor that must be estimated.
func (r *SearchResult) Factor(version string) model.ReferenceFactor {
	return model.ReferenceFactor{
		ID:                 "search:" + r.ID,
		ExternalID:         r.ID,
		Version:            version,
		CategoryPath:       []string{r.Name},
		Unit:               r.Unit,
		Source:             r.Source,
		Region:             r.Region,
		Year:               r.Year,
		AcceptedParameters: r.AcceptedParameters,
	}
}

type searchResponse struct {
	Results []SearchResult `json:"results"`
}

// StatusError is returned when a service answers with a non-2xx status.
type StatusError struct {
	Body       string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Body)
}

// IsTransient reports whether err is worth retrying: rate limiting, server errors
// and network failures.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
