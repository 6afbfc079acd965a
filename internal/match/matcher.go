// Package match resolves usage records to catalog factors by approximate text matching.
package match

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/Veraticus/factorflow/internal/catalog"
	"github.com/Veraticus/factorflow/internal/common"
	"github.com/Veraticus/factorflow/internal/model"
	"github.com/Veraticus/factorflow/internal/normalize"
)

// Default matching parameters. These were chosen empirically and should be
// calibrated against real catalog data.
const (
	DefaultThreshold           = 0.35
	DefaultRelaxedThreshold    = 0.45
	DefaultDiagnosticThreshold = 0.6
	DefaultMinTokenLength      = 3
	DefaultUnitBoost           = 0.1
	DefaultScopeBoost          = 0.1

	// DiagnosticCandidates is how many near misses are reported for an unmatched record.
	DiagnosticCandidates = 3
)

// Config holds the matcher's thresholds and boosts. Scores are distances, so lower is better.
type Config struct {
	Threshold           float64 // Maximum score for full-query and category-only matches
	RelaxedThreshold    float64 // Maximum score inside the strict unit/scope subset
	DiagnosticThreshold float64 // Maximum score for near misses reported on failure
	MinTokenLength      int
	UnitBoost           float64
	ScopeBoost          float64
}

// DefaultConfig returns the standard matcher configuration.
func DefaultConfig() Config {
	return Config{
		Threshold:           DefaultThreshold,
		RelaxedThreshold:    DefaultRelaxedThreshold,
		DiagnosticThreshold: DefaultDiagnosticThreshold,
		MinTokenLength:      DefaultMinTokenLength,
		UnitBoost:           DefaultUnitBoost,
		ScopeBoost:          DefaultScopeBoost,
	}
}

// Validate checks that thresholds are on the 0-1 scale.
func (c Config) Validate() error {
	for name, v := range map[string]float64{
		"threshold":            c.Threshold,
		"relaxed_threshold":    c.RelaxedThreshold,
		"diagnostic_threshold": c.DiagnosticThreshold,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: matching.%s must be between 0 and 1, got %v", common.ErrInvalidConfig, name, v)
		}
	}
	if c.MinTokenLength < 1 {
		return fmt.Errorf("%w: matching.min_token_length must be positive", common.ErrInvalidConfig)
	}
	if c.UnitBoost < 0 || c.ScopeBoost < 0 {
		return fmt.Errorf("%w: matching boosts must not be negative", common.ErrInvalidConfig)
	}
	return nil
}

// Query is a normalized record ready for searching.
type Query struct {
	Category   string
	Unit       string
	ScopeToken string
	Scope      model.Scope
}

// Text returns the full "category unit scope" search text.
func (q Query) Text() string {
	return catalog.SearchString(q.Category, q.Unit, q.ScopeToken)
}

// Matcher runs the ordered strategies against one catalog index.
// It holds no mutable state and is safe for concurrent use.
type Matcher struct {
	idx        *catalog.Index
	normalizer *normalize.Normalizer
	strategies []Strategy
	cfg        Config
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithStrategies replaces the default strategy order.
func WithStrategies(strategies ...Strategy) Option {
	return func(m *Matcher) {
		m.strategies = strategies
	}
}

// New creates a matcher over idx.
func New(idx *catalog.Index, n *normalize.Normalizer, cfg Config, opts ...Option) *Matcher {
	m := &Matcher{
		idx:        idx,
		normalizer: n,
		strategies: DefaultStrategies(),
		cfg:        cfg,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Query normalizes a record's category, unit and scope.
// Missing fields yield common.ErrInvalidInput.
func (m *Matcher) Query(rec model.UsageRecord) (Query, error) {
	category := strings.Join(m.normalizer.NormalizePath(rec.CategoryPath), " ")
	if category == "" {
		return Query{}, fmt.Errorf("%w: record %s has no category", common.ErrInvalidInput, rec.ID)
	}
	unit := m.normalizer.Normalize(rec.Unit)
	if unit == "" {
		return Query{}, fmt.Errorf("%w: record %s has no unit", common.ErrInvalidInput, rec.ID)
	}
	if !rec.Scope.Valid() {
		return Query{}, fmt.Errorf("%w: record %s has no valid scope", common.ErrInvalidInput, rec.ID)
	}

	return Query{
		Category:   category,
		Unit:       unit,
		Scope:      rec.Scope,
		ScopeToken: normalize.ScopeToken(rec.Scope),
	}, nil
}

// Match returns the best catalog candidate for rec.
// It returns common.ErrNoMatchFound when no strategy produces a candidate.
func (m *Matcher) Match(rec model.UsageRecord) (*model.MatchCandidate, error) {
	q, err := m.Query(rec)
	if err != nil {
		return nil, err
	}

	for _, strategy := range m.strategies {
		candidates := strategy.Run(q, m.idx, m.cfg)
		if len(candidates) == 0 {
			continue
		}

		candidates.ApplyBoosts(m.unitMatcher(q.Unit), q.Scope, m.cfg.UnitBoost, m.cfg.ScopeBoost)
		best := *candidates.Top()

		slog.Debug("Matched record",
			"entry_id", rec.ID,
			"strategy", strategy.Name,
			"factor_id", best.Factor.ID,
			"score", best.Score,
			"raw_score", best.RawScore)
		return &best, nil
	}

	closest := m.nearest(q)
	slog.Warn("No catalog match for record",
		"entry_id", rec.ID,
		"query", q.Text(),
		"closest", describe(closest))

	return nil, fmt.Errorf("%w: %q", common.ErrNoMatchFound, q.Text())
}

// Diagnose returns up to three nearest candidates under the looser diagnostic threshold,
// for operators troubleshooting an unmatched record.
func (m *Matcher) Diagnose(rec model.UsageRecord) (model.MatchCandidates, error) {
	q, err := m.Query(rec)
	if err != nil {
		return nil, err
	}
	return m.nearest(q), nil
}

func (m *Matcher) nearest(q Query) model.MatchCandidates {
	seen := make(map[string]int)
	var all model.MatchCandidates

	loose := m.cfg
	loose.Threshold = m.cfg.DiagnosticThreshold
	loose.RelaxedThreshold = m.cfg.DiagnosticThreshold

	for _, strategy := range m.strategies {
		for _, c := range strategy.Run(q, m.idx, loose) {
			if i, ok := seen[c.Factor.ID]; ok {
				if c.Score < all[i].Score {
					all[i] = c
				}
				continue
			}
			seen[c.Factor.ID] = len(all)
			all = append(all, c)
		}
	}

	return all.TopN(DiagnosticCandidates)
}

func (m *Matcher) unitMatcher(unit string) func(model.ReferenceFactor) bool {
	return func(f model.ReferenceFactor) bool {
		return unitsEqual(m.normalizer.Normalize(f.Unit), unit)
	}
}

func unitsEqual(a, b string) bool {
	return a != "" && strings.EqualFold(a, b)
}

func describe(candidates model.MatchCandidates) []string {
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, fmt.Sprintf("%s (%s) %.3f", c.Factor.ID, c.Factor.CategoryText(), c.Score))
	}
	return out
}
