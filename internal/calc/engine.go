// Package calc turns a matched usage record into a calculation result.
package calc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Veraticus/factorflow/internal/common"
	"github.com/Veraticus/factorflow/internal/estimate"
	"github.com/Veraticus/factorflow/internal/match"
	"github.com/Veraticus/factorflow/internal/model"
	"github.com/shopspring/decimal"
)

// EstimationError reports a failed call to the estimation service.
// It matches common.ErrEstimationFailed and unwraps to the last service error.
type EstimationError struct {
	Err      error
	FactorID string
	Attempts int
}

func (e *EstimationError) Error() string {
	return fmt.Sprintf("%v for factor %s after %d attempt(s): %v",
		common.ErrEstimationFailed, e.FactorID, e.Attempts, e.Err)
}

func (e *EstimationError) Unwrap() []error {
	return []error{common.ErrEstimationFailed, e.Err}
}

// Attempts returns how many estimation calls err records, or zero.
func Attempts(err error) int {
	var estErr *EstimationError
	if errors.As(err, &estErr) {
		return estErr.Attempts
	}
	return 0
}

// Engine computes results on the direct path and, when configured, through the
// external estimation and search services. It is safe for concurrent use.
type Engine struct {
	estimator estimate.Estimator
	searcher  estimate.Searcher
	now       func() time.Time
	version   string
	retry     common.RetryOptions
}

// Option configures an Engine.
type Option func(*Engine)

// WithEstimator enables the estimation path.
func WithEstimator(est estimate.Estimator) Option {
	return func(e *Engine) {
		e.estimator = est
	}
}

// WithSearcher enables CalculateFromSearch.
func WithSearcher(s estimate.Searcher) Option {
	return func(e *Engine) {
		e.searcher = s
	}
}

// WithRetry sets the retry policy for estimation calls.
func WithRetry(opts common.RetryOptions) Option {
	return func(e *Engine) {
		e.retry = opts
	}
}

// WithClock overrides the result timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithVersion sets the catalog version sent with search requests.
func WithVersion(version string) Option {
	return func(e *Engine) {
		e.version = version
	}
}

// New creates an Engine. Without WithEstimator only the direct path is available.
func New(opts ...Option) *Engine {
	e := &Engine{
		now:   time.Now,
		retry: common.DefaultRetryOptions(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CanSearch reports whether a searcher and an estimator are configured.
func (e *Engine) CanSearch() bool {
	return e.searcher != nil && e.estimator != nil
}

// Calculate derives the output value for rec using the matched candidate.
func (e *Engine) Calculate(ctx context.Context, rec model.UsageRecord, cand *model.MatchCandidate) (*model.CalculationResult, error) {
	if cand == nil {
		return nil, fmt.Errorf("%w: record %s has no candidate", common.ErrInvalidInput, rec.ID)
	}
	if err := cand.Validate(); err != nil {
		return nil, fmt.Errorf("record %s: %w", rec.ID, err)
	}
	if rec.Quantity < 0 {
		return nil, fmt.Errorf("%w: record %s has negative quantity", common.ErrInvalidInput, rec.ID)
	}

	factor := cand.Factor
	switch {
	case factor.HasDirectValue():
		return e.direct(rec, cand), nil
	case factor.RequiresEstimation():
		return e.estimated(ctx, rec, cand)
	default:
		return nil, fmt.Errorf("%w: factor %s", common.ErrMissingConversionValue, factor.ID)
	}
}

// CalculateFromSearch looks the query up in the remote catalog, picks the best raw
// result and estimates with it. It returns the synthesized candidate with the result.
func (e *Engine) CalculateFromSearch(ctx context.Context, rec model.UsageRecord, query string) (*model.CalculationResult, *model.MatchCandidate, error) {
	if !e.CanSearch() {
		return nil, nil, fmt.Errorf("%w: search is not configured", common.ErrNoMatchFound)
	}

	var results []estimate.SearchResult
	attempts, err := common.WithRetry(ctx, func(ctx context.Context) error {
		r, err := e.searcher.Search(ctx, estimate.SearchRequest{Query: query, Version: e.version})
		if err != nil {
			return classify(err)
		}
		results = r
		return nil
	}, e.retry)
	if err != nil {
		return nil, nil, &EstimationError{FactorID: "search:" + query, Attempts: attempts, Err: err}
	}

	best, ok := estimate.SelectBest(results)
	if !ok {
		return nil, nil, fmt.Errorf("%w: remote search returned nothing for %q", common.ErrNoMatchFound, query)
	}

	score := match.Score(query, strings.ToLower(best.Name), match.DefaultMinTokenLength)
	cand := &model.MatchCandidate{
		Factor:   best.Factor(e.version),
		Score:    score,
		RawScore: score,
		Method:   model.MethodSearch,
	}

	slog.Debug("Selected remote search result",
		"entry_id", rec.ID,
		"external_id", best.ID,
		"region", best.Region,
		"year", best.Year,
		"candidates", len(results))

	result, err := e.Calculate(ctx, rec, cand)
	if err != nil {
		return nil, nil, err
	}
	return result, cand, nil
}

func (e *Engine) direct(rec model.UsageRecord, cand *model.MatchCandidate) *model.CalculationResult {
	quantity := decimal.NewFromFloat(rec.Quantity)

	result := e.newResult(rec, cand)
	result.TotalValue = quantity.Mul(decimal.NewFromFloat(*cand.Factor.ConversionValue)).InexactFloat64()

	for _, c := range cand.Factor.Constituents {
		result.Breakdown = append(result.Breakdown, model.ConstituentValue{
			Gas:   c.Gas,
			Value: quantity.Mul(decimal.NewFromFloat(c.Value)).InexactFloat64(),
		})
	}
	return result
}

func (e *Engine) estimated(ctx context.Context, rec model.UsageRecord, cand *model.MatchCandidate) (*model.CalculationResult, error) {
	factor := cand.Factor
	if e.estimator == nil {
		return nil, fmt.Errorf("%w: factor %s needs estimation but no estimator is configured",
			common.ErrMissingConversionValue, factor.ID)
	}

	param, ok := SelectParameter(factor.AcceptedParameters, rec.Unit)
	if !ok {
		return nil, fmt.Errorf("%w: factor %s accepts no parameters", common.ErrMissingConversionValue, factor.ID)
	}

	req := estimate.Request{
		FactorID:      factor.ExternalID,
		Version:       factor.Version,
		ParameterName: param.Name,
		ParameterUnit: param.Unit,
		Quantity:      rec.Quantity,
	}

	var resp *estimate.Response
	attempts, err := common.WithRetry(ctx, func(ctx context.Context) error {
		r, err := e.estimator.Estimate(ctx, req)
		if err != nil {
			return classify(err)
		}
		resp = r
		return nil
	}, e.retry)
	if err != nil {
		return nil, &EstimationError{FactorID: factor.ID, Attempts: attempts, Err: err}
	}

	result := e.newResult(rec, cand)
	result.TotalValue = resp.TotalValue
	if resp.Unit != "" {
		result.Unit = resp.Unit
	}
	for _, c := range resp.Constituents {
		result.Breakdown = append(result.Breakdown, model.ConstituentValue{Gas: c.Gas, Value: c.Value})
	}

	if attempts > 1 {
		slog.Info("Estimation succeeded after retry",
			"entry_id", rec.ID,
			"factor_id", factor.ID,
			"attempts", attempts)
	}
	return result, nil
}

func (e *Engine) newResult(rec model.UsageRecord, cand *model.MatchCandidate) *model.CalculationResult {
	factorID := cand.Factor.ID
	result := model.NewCalculationResult(rec.ID, e.now())
	result.MatchedFactorID = &factorID
	result.Unit = cand.Factor.ResultUnit()
	result.Source = cand.Factor.Source
	result.Method = cand.Method
	result.Score = cand.Score
	return result
}

// SelectParameter picks the accepted parameter whose unit equals unit, ignoring case,
// falling back to the first accepted parameter.
func SelectParameter(params []model.Parameter, unit string) (model.Parameter, bool) {
	if len(params) == 0 {
		return model.Parameter{}, false
	}
	unit = strings.TrimSpace(unit)
	for _, p := range params {
		if strings.EqualFold(strings.TrimSpace(p.Unit), unit) {
			return p, true
		}
	}
	return params[0], true
}

func classify(err error) error {
	if estimate.IsTransient(err) {
		return common.Transient(err)
	}
	return common.Permanent(err)
}
