package match

import (
	"testing"

	"github.com/Veraticus/factorflow/internal/catalog"
	"github.com/Veraticus/factorflow/internal/common"
	"github.com/Veraticus/factorflow/internal/model"
	"github.com/Veraticus/factorflow/internal/normalize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func electricityCatalog() []model.ReferenceFactor {
	return []model.ReferenceFactor{{
		ID:              "elec",
		CategoryPath:    []string{"Electricity"},
		Unit:            "kWh",
		Scope:           model.Scope2,
		ConversionValue: model.Float(0.233),
	}}
}

func newMatcher(factors []model.ReferenceFactor, opts ...Option) *Matcher {
	n := normalize.Default()
	return New(catalog.Build(factors, n), n, DefaultConfig(), opts...)
}

func TestMatcher_Match_Electricity(t *testing.T) {
	m := newMatcher(electricityCatalog())

	got, err := m.Match(model.UsageRecord{
		ID:           "r1",
		CategoryPath: []string{"electricity"},
		Unit:         "KWH",
		Scope:        model.Scope2,
		Quantity:     1000,
	})

	require.NoError(t, err)
	assert.Equal(t, "elec", got.Factor.ID)
	assert.Equal(t, StrategyFullQuery, got.Strategy)
	assert.Equal(t, model.MethodFuzzy, got.Method)
	assert.Zero(t, got.RawScore)
	assert.InDelta(t, -0.2, got.Score, 1e-9)
}

func TestMatcher_Match_UnknownFuel(t *testing.T) {
	m := newMatcher(electricityCatalog())

	got, err := m.Match(model.UsageRecord{
		ID:           "r2",
		CategoryPath: []string{"Unknown Fuel"},
		Unit:         "L",
		Scope:        model.Scope1,
		Quantity:     10,
	})

	assert.Nil(t, got)
	assert.ErrorIs(t, err, common.ErrNoMatchFound)
}

func TestMatcher_Match_InvalidInput(t *testing.T) {
	m := newMatcher(electricityCatalog())

	tests := []struct {
		name string
		rec  model.UsageRecord
	}{
		{name: "missing category", rec: model.UsageRecord{ID: "a", CategoryPath: []string{" "}, Unit: "kWh", Scope: model.Scope2}},
		{name: "missing unit", rec: model.UsageRecord{ID: "b", CategoryPath: []string{"Electricity"}, Scope: model.Scope2}},
		{name: "missing scope", rec: model.UsageRecord{ID: "c", CategoryPath: []string{"Electricity"}, Unit: "kWh"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Match(tt.rec)
			require.Error(t, err)
			assert.ErrorIs(t, err, common.ErrInvalidInput)
			assert.NotErrorIs(t, err, common.ErrNoMatchFound)
		})
	}
}

func TestMatcher_Match_Deterministic(t *testing.T) {
	factors := []model.ReferenceFactor{
		{ID: "b", CategoryPath: []string{"Fuels", "Diesel"}, Unit: "litres", Scope: model.Scope1},
		{ID: "a", CategoryPath: []string{"Fuels", "Diesel"}, Unit: "litres", Scope: model.Scope1},
		{ID: "c", CategoryPath: []string{"Fuels", "Petrol"}, Unit: "litres", Scope: model.Scope1},
	}
	m := newMatcher(factors)

	rec := model.UsageRecord{ID: "r", CategoryPath: []string{"Diesel Oil"}, Unit: "Litre", Scope: model.Scope1}
	first, err := m.Match(rec)
	require.NoError(t, err)

	for range 10 {
		again, err := m.Match(rec)
		require.NoError(t, err)
		assert.Equal(t, first.Factor.ID, again.Factor.ID)
		assert.Equal(t, first.Score, again.Score)
	}
	// Equal scores are broken by factor ID.
	assert.Equal(t, "a", first.Factor.ID)
}

func TestMatcher_Match_BoostOrdering(t *testing.T) {
	factors := []model.ReferenceFactor{
		{ID: "a-mwh", CategoryPath: []string{"Electricity"}, Unit: "MWh", Scope: model.Scope3},
		{ID: "z-kwh", CategoryPath: []string{"Electricity"}, Unit: "kWh", Scope: model.Scope2},
	}
	m := newMatcher(factors, WithStrategies(Strategy{Name: StrategyCategoryOnly, Run: CategoryOnly}))

	got, err := m.Match(model.UsageRecord{
		ID:           "r",
		CategoryPath: []string{"Electricity"},
		Unit:         "kilowatt hours",
		Scope:        model.Scope2,
	})

	require.NoError(t, err)
	assert.Equal(t, "z-kwh", got.Factor.ID)
	assert.InDelta(t, got.RawScore-0.2, got.Score, 1e-9)
}

func TestMatcher_Match_StrategyOrder(t *testing.T) {
	var calls []string
	record := func(name string, result model.MatchCandidates) Strategy {
		return Strategy{Name: name, Run: func(Query, *catalog.Index, Config) model.MatchCandidates {
			calls = append(calls, name)
			return result
		}}
	}

	hit := model.MatchCandidates{{Factor: model.ReferenceFactor{ID: "x"}, Score: 0.3, RawScore: 0.3, Strategy: "second"}}
	m := newMatcher(electricityCatalog(), WithStrategies(
		record("first", nil),
		record("second", hit),
		record("third", hit),
	))

	got, err := m.Match(model.UsageRecord{ID: "r", CategoryPath: []string{"anything"}, Unit: "kg", Scope: model.Scope1})
	require.NoError(t, err)
	assert.Equal(t, "x", got.Factor.ID)
	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestStrictUnitScope(t *testing.T) {
	n := normalize.Default()
	idx := catalog.Build([]model.ReferenceFactor{
		{ID: "gas-kwh-s1", CategoryPath: []string{"Natural Gas"}, Unit: "kWh", Scope: model.Scope1},
		{ID: "gas-m3-s1", CategoryPath: []string{"Natural Gas"}, Unit: "m3", Scope: model.Scope1},
		{ID: "gas-kwh-s3", CategoryPath: []string{"Natural Gas"}, Unit: "kWh", Scope: model.Scope3},
	}, n)

	t.Run("keeps only compatible entries", func(t *testing.T) {
		q := Query{Category: "natural gas", Unit: "kwh", Scope: model.Scope1, ScopeToken: "scope1"}
		got := StrictUnitScope(q, idx, DefaultConfig())
		require.Len(t, got, 1)
		assert.Equal(t, "gas-kwh-s1", got[0].Factor.ID)
		assert.Equal(t, StrategyStrictUnitScope, got[0].Strategy)
		assert.Zero(t, got[0].RawScore)
	})

	t.Run("unit compared case-insensitively", func(t *testing.T) {
		q := Query{Category: "natural gas", Unit: "KWH", Scope: model.Scope3}
		got := StrictUnitScope(q, idx, DefaultConfig())
		require.Len(t, got, 1)
		assert.Equal(t, "gas-kwh-s3", got[0].Factor.ID)
	})

	t.Run("unknown scope skips strategy", func(t *testing.T) {
		q := Query{Category: "natural gas", Unit: "kwh"}
		assert.Empty(t, StrictUnitScope(q, idx, DefaultConfig()))
	})

	t.Run("no compatible entries", func(t *testing.T) {
		q := Query{Category: "natural gas", Unit: "t", Scope: model.Scope1}
		assert.Empty(t, StrictUnitScope(q, idx, DefaultConfig()))
	})
}

func TestFullQueryAndCategoryOnly(t *testing.T) {
	n := normalize.Default()
	idx := catalog.Build(electricityCatalog(), n)
	q := Query{Category: "electricity", Unit: "liters", Scope: model.Scope1, ScopeToken: "scope1"}

	cfg := DefaultConfig()
	cfg.Threshold = 0.1

	assert.Empty(t, FullQuery(q, idx, cfg))

	relaxed := CategoryOnly(q, idx, cfg)
	require.Len(t, relaxed, 1)
	assert.Equal(t, StrategyCategoryOnly, relaxed[0].Strategy)
}

func TestMatcher_Diagnose(t *testing.T) {
	factors := []model.ReferenceFactor{
		{ID: "diesel", CategoryPath: []string{"Diesel"}, Unit: "litres", Scope: model.Scope1},
		{ID: "diesel-hgv", CategoryPath: []string{"Diesel", "HGV"}, Unit: "km", Scope: model.Scope3},
		{ID: "biodiesel", CategoryPath: []string{"Biodiesel"}, Unit: "litres", Scope: model.Scope1},
		{ID: "dieselx", CategoryPath: []string{"Diesel Blend"}, Unit: "litres", Scope: model.Scope1},
		{ID: "elec", CategoryPath: []string{"Electricity"}, Unit: "kWh", Scope: model.Scope2},
	}
	m := newMatcher(factors)

	got, err := m.Diagnose(model.UsageRecord{ID: "r", CategoryPath: []string{"Diesel"}, Unit: "L", Scope: model.Scope1})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(got), DiagnosticCandidates)
	require.NotEmpty(t, got)
	assert.Equal(t, "diesel", got[0].Factor.ID)

	ids := make(map[string]bool)
	for _, c := range got {
		assert.False(t, ids[c.Factor.ID], "duplicate candidate %s", c.Factor.ID)
		ids[c.Factor.ID] = true
		assert.LessOrEqual(t, c.Score, DefaultDiagnosticThreshold)
	}

	_, err = m.Diagnose(model.UsageRecord{ID: "bad"})
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.Threshold = 1.5
	assert.ErrorIs(t, bad.Validate(), common.ErrInvalidConfig)

	bad = DefaultConfig()
	bad.MinTokenLength = 0
	assert.ErrorIs(t, bad.Validate(), common.ErrInvalidConfig)
}
