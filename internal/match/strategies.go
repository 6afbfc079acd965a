package match

import (
	"github.com/Veraticus/factorflow/internal/catalog"
	"github.com/Veraticus/factorflow/internal/model"
)

// Strategy names.
const (
	StrategyFullQuery       = "full-query"
	StrategyCategoryOnly    = "category-only"
	StrategyStrictUnitScope = "strict-unit-scope"
)

// Strategy is one pure search pass over the index. Strategies are tried in order and
// the first that returns candidates wins.
type Strategy struct {
	Run  func(q Query, idx *catalog.Index, cfg Config) model.MatchCandidates
	Name string
}

// DefaultStrategies returns the standard ordered strategy list.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{Name: StrategyFullQuery, Run: FullQuery},
		{Name: StrategyCategoryOnly, Run: CategoryOnly},
		{Name: StrategyStrictUnitScope, Run: StrictUnitScope},
	}
}

// FullQuery searches every entry with "category unit scope".
func FullQuery(q Query, idx *catalog.Index, cfg Config) model.MatchCandidates {
	return search(q.Text(), idx.Entries(), cfg.Threshold, cfg.MinTokenLength, StrategyFullQuery, searchStrings)
}

// CategoryOnly searches every entry with the category text alone, recovering matches
// when the record's unit or scope is unusual.
func CategoryOnly(q Query, idx *catalog.Index, cfg Config) model.MatchCandidates {
	return search(q.Category, idx.Entries(), cfg.Threshold, cfg.MinTokenLength, StrategyCategoryOnly, searchStrings)
}

// StrictUnitScope keeps only entries whose scope and canonical unit equal the query's,
// then searches their categories with the relaxed threshold.
func StrictUnitScope(q Query, idx *catalog.Index, cfg Config) model.MatchCandidates {
	if q.Unit == "" || !q.Scope.Valid() {
		return nil
	}

	compatible := idx.Filter(func(e *catalog.Entry) bool {
		return e.Scope == q.Scope && unitsEqual(e.Unit, q.Unit)
	})
	if len(compatible) == 0 {
		return nil
	}

	return search(q.Category, compatible, cfg.RelaxedThreshold, cfg.MinTokenLength, StrategyStrictUnitScope, categoryStrings)
}

// searchStrings are the full per-level and combined strings of an entry.
func searchStrings(e *catalog.Entry) []string {
	return e.SearchStrings
}

// categoryStrings are the entry's category levels without unit or scope.
func categoryStrings(e *catalog.Entry) []string {
	if len(e.Levels) > 1 {
		return append(append([]string{}, e.Levels...), e.Category)
	}
	return e.Levels
}

func search(
	text string,
	entries []catalog.Entry,
	threshold float64,
	minTokenLength int,
	strategy string,
	targets func(*catalog.Entry) []string,
) model.MatchCandidates {
	if text == "" {
		return nil
	}

	var candidates model.MatchCandidates
	for i := range entries {
		best, ok := bestScore(text, targets(&entries[i]), minTokenLength)
		if !ok || best > threshold {
			continue
		}
		candidates = append(candidates, model.MatchCandidate{
			Factor:   entries[i].Factor,
			Score:    best,
			RawScore: best,
			Method:   model.MethodFuzzy,
			Strategy: strategy,
		})
	}

	candidates.Sort()
	return candidates
}

func bestScore(text string, targets []string, minTokenLength int) (float64, bool) {
	if len(targets) == 0 {
		return 0, false
	}
	best := 1.0
	for _, target := range targets {
		if s := Score(text, target, minTokenLength); s < best {
			best = s
		}
	}
	return best, true
}
