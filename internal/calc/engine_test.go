package calc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Veraticus/factorflow/internal/common"
	"github.com/Veraticus/factorflow/internal/estimate"
	"github.com/Veraticus/factorflow/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func fastRetry() common.RetryOptions {
	return common.RetryOptions{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

func directCandidate(value float64) *model.MatchCandidate {
	return &model.MatchCandidate{
		Factor: model.ReferenceFactor{
			ID:              "elec",
			CategoryPath:    []string{"Electricity"},
			Unit:            "kWh",
			Scope:           model.Scope2,
			Source:          "DEFRA",
			ConversionValue: model.Float(value),
		},
		Method: model.MethodFuzzy,
	}
}

func estimatedCandidate() *model.MatchCandidate {
	return &model.MatchCandidate{
		Factor: model.ReferenceFactor{
			ID:         "grid-mix",
			ExternalID: "ext-42",
			Version:    "v3",
			Source:     "GHG Protocol",
			AcceptedParameters: []model.Parameter{
				{Name: "energy", Unit: "kWh"},
				{Name: "money", Unit: "usd"},
			},
		},
		Score:    0.1,
		RawScore: 0.1,
		Method:   model.MethodFuzzy,
	}
}

func TestEngine_Calculate_Electricity(t *testing.T) {
	e := New(WithClock(func() time.Time { return fixedNow }))

	rec := model.UsageRecord{ID: "r1", CategoryPath: []string{"electricity"}, Unit: "KWH", Scope: model.Scope2, Quantity: 1000}
	result, err := e.Calculate(context.Background(), rec, directCandidate(0.233))

	require.NoError(t, err)
	assert.Equal(t, 233.0, result.TotalValue)
	assert.Equal(t, "r1", result.EntryID)
	require.NotNil(t, result.MatchedFactorID)
	assert.Equal(t, "elec", *result.MatchedFactorID)
	assert.Equal(t, model.DefaultOutputUnit, result.Unit)
	assert.Equal(t, "DEFRA", result.Source)
	assert.Equal(t, fixedNow, result.CalculatedAt)
	assert.NotEmpty(t, result.ID)
}

func TestEngine_Calculate_Linear(t *testing.T) {
	e := New()
	quantities := []float64{0, 0.5, 1, 3, 17.25, 1000, 123456.789}
	values := []float64{0.233, 2.31, 0.0001, 12}

	for _, v := range values {
		for _, q := range quantities {
			rec := model.UsageRecord{ID: "r", Quantity: q}
			result, err := e.Calculate(context.Background(), rec, directCandidate(v))
			require.NoError(t, err)
			assert.InDelta(t, q*v, result.TotalValue, 1e-9*(1+q*v), "q=%v v=%v", q, v)
		}
	}
}

func TestEngine_Calculate_Breakdown(t *testing.T) {
	cand := directCandidate(2.5)
	cand.Factor.Constituents = []model.ConstituentFactor{{Gas: "co2", Value: 2.4}, {Gas: "ch4", Value: 0.1}}

	result, err := New().Calculate(context.Background(), model.UsageRecord{ID: "r", Quantity: 10}, cand)

	require.NoError(t, err)
	assert.Equal(t, 25.0, result.TotalValue)
	assert.Equal(t, []model.ConstituentValue{{Gas: "co2", Value: 24}, {Gas: "ch4", Value: 1}}, result.Breakdown)
}

func TestEngine_Calculate_Errors(t *testing.T) {
	tests := []struct {
		cand    *model.MatchCandidate
		wantErr error
		name    string
		rec     model.UsageRecord
	}{
		{
			name:    "nil candidate",
			rec:     model.UsageRecord{ID: "r"},
			wantErr: common.ErrInvalidInput,
		},
		{
			name:    "negative quantity",
			rec:     model.UsageRecord{ID: "r", Quantity: -1},
			cand:    directCandidate(1),
			wantErr: common.ErrInvalidInput,
		},
		{
			name:    "candidate without factor",
			rec:     model.UsageRecord{ID: "r", Quantity: 1},
			cand:    &model.MatchCandidate{RawScore: 0.1},
			wantErr: common.ErrInvalidInput,
		},
		{
			name:    "candidate raw score out of range",
			rec:     model.UsageRecord{ID: "r", Quantity: 1},
			cand:    &model.MatchCandidate{Factor: model.ReferenceFactor{ID: "f", ConversionValue: model.Float(1)}, RawScore: 1.5},
			wantErr: common.ErrInvalidInput,
		},
		{
			name:    "no value and no external path",
			rec:     model.UsageRecord{ID: "r", Quantity: 1},
			cand:    &model.MatchCandidate{Factor: model.ReferenceFactor{ID: "f"}},
			wantErr: common.ErrMissingConversionValue,
		},
		{
			name:    "external path without estimator",
			rec:     model.UsageRecord{ID: "r", Quantity: 1},
			cand:    estimatedCandidate(),
			wantErr: common.ErrMissingConversionValue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New().Calculate(context.Background(), tt.rec, tt.cand)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestEngine_Calculate_NoAcceptedParameters(t *testing.T) {
	cand := estimatedCandidate()
	cand.Factor.AcceptedParameters = nil

	e := New(WithEstimator(&fakeEstimator{}))
	_, err := e.Calculate(context.Background(), model.UsageRecord{ID: "r", Quantity: 1, Unit: "kWh"}, cand)
	assert.ErrorIs(t, err, common.ErrMissingConversionValue)
}

func TestEngine_Calculate_RetriesTransientEstimation(t *testing.T) {
	var calls atomic.Int32
	var got estimate.Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			http.Error(w, "try later", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"total_value": 81.5, "unit": "kgCO2e", "constituents": [{"gas": "co2", "value": 80}]}`))
	}))
	defer server.Close()

	client, err := estimate.NewClient(estimate.Config{BaseURL: server.URL})
	require.NoError(t, err)
	e := New(WithEstimator(client), WithRetry(fastRetry()))

	rec := model.UsageRecord{ID: "r", Unit: "KWH", Quantity: 350}
	result, err := e.Calculate(context.Background(), rec, estimatedCandidate())

	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.InDelta(t, 81.5, result.TotalValue, 1e-9)
	assert.Equal(t, []model.ConstituentValue{{Gas: "co2", Value: 80}}, result.Breakdown)

	assert.Equal(t, "ext-42", got.FactorID)
	assert.Equal(t, "v3", got.Version)
	assert.Equal(t, "energy", got.ParameterName)
	assert.Equal(t, "kWh", got.ParameterUnit)
	assert.InDelta(t, 350, got.Quantity, 1e-9)
}

func TestEngine_Calculate_EstimationExhausted(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "still down", http.StatusBadGateway)
	}))
	defer server.Close()

	client, err := estimate.NewClient(estimate.Config{BaseURL: server.URL})
	require.NoError(t, err)
	e := New(WithEstimator(client), WithRetry(fastRetry()))

	_, err = e.Calculate(context.Background(), model.UsageRecord{ID: "r", Quantity: 1}, estimatedCandidate())

	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrEstimationFailed)
	assert.Equal(t, common.KindEstimation, common.Kind(err))
	assert.Equal(t, 3, Attempts(err))
	assert.Equal(t, int32(3), calls.Load())

	var statusErr *estimate.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	assert.Equal(t, "still down", statusErr.Body)
}

func TestEngine_Calculate_PermanentEstimationFailure(t *testing.T) {
	est := &fakeEstimator{err: &estimate.StatusError{StatusCode: http.StatusBadRequest, Body: "unknown factor"}}
	e := New(WithEstimator(est), WithRetry(fastRetry()))

	_, err := e.Calculate(context.Background(), model.UsageRecord{ID: "r", Quantity: 1}, estimatedCandidate())

	assert.ErrorIs(t, err, common.ErrEstimationFailed)
	assert.Equal(t, 1, Attempts(err))
	assert.Equal(t, 1, est.calls)
}

func TestEngine_CalculateFromSearch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "diesel", r.URL.Query().Get("query"))
		_, _ = w.Write([]byte(`{"results": [
			{"id": "us-diesel", "name": "Diesel", "region": "US", "source": "EPA", "year": 2024,
			 "accepted_parameters": [{"name": "volume", "unit": "l"}]},
			{"id": "eu-diesel", "name": "Diesel", "region": "Europe", "source": "GHG Protocol", "year": 2021,
			 "accepted_parameters": [{"name": "volume", "unit": "l"}]}
		]}`))
	})
	var got estimate.Request
	mux.HandleFunc("/estimate", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"total_value": 26.8, "unit": "kgCO2e"}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client, err := estimate.NewClient(estimate.Config{BaseURL: server.URL})
	require.NoError(t, err)
	e := New(WithEstimator(client), WithSearcher(client), WithVersion("2024"), WithRetry(fastRetry()))
	require.True(t, e.CanSearch())

	result, cand, err := e.CalculateFromSearch(context.Background(), model.UsageRecord{ID: "r", Unit: "L", Quantity: 10}, "diesel")

	require.NoError(t, err)
	assert.Equal(t, "eu-diesel", got.FactorID)
	assert.Equal(t, "2024", got.Version)
	assert.Equal(t, "volume", got.ParameterName)
	assert.InDelta(t, 26.8, result.TotalValue, 1e-9)
	assert.Equal(t, model.MethodSearch, cand.Method)
	assert.Equal(t, model.MethodSearch, result.Method)
	assert.Zero(t, cand.RawScore)
	assert.Equal(t, "search:eu-diesel", *result.MatchedFactorID)
}

func TestEngine_CalculateFromSearch_NoResults(t *testing.T) {
	e := New(WithEstimator(&fakeEstimator{}), WithSearcher(&fakeSearcher{}))
	_, _, err := e.CalculateFromSearch(context.Background(), model.UsageRecord{ID: "r"}, "mystery")
	assert.ErrorIs(t, err, common.ErrNoMatchFound)

	_, _, err = New().CalculateFromSearch(context.Background(), model.UsageRecord{ID: "r"}, "mystery")
	assert.ErrorIs(t, err, common.ErrNoMatchFound)
}

func TestEngine_CalculateFromSearch_RetriesTransientSearch(t *testing.T) {
	var searches atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, _ *http.Request) {
		if searches.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"results": [{"id": "eu-diesel", "name": "Diesel", "region": "Europe",
			"accepted_parameters": [{"name": "volume", "unit": "l"}]}]}`))
	})
	mux.HandleFunc("/estimate", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"total_value": 2.68, "unit": "kgCO2e"}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client, err := estimate.NewClient(estimate.Config{BaseURL: server.URL})
	require.NoError(t, err)
	e := New(WithEstimator(client), WithSearcher(client), WithRetry(fastRetry()))

	result, _, err := e.CalculateFromSearch(context.Background(), model.UsageRecord{ID: "r", Unit: "l", Quantity: 1}, "diesel")

	require.NoError(t, err)
	assert.Equal(t, int32(3), searches.Load())
	assert.InDelta(t, 2.68, result.TotalValue, 1e-9)
}

func TestEngine_CalculateFromSearch_PermanentSearchError(t *testing.T) {
	var searches atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		searches.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client, err := estimate.NewClient(estimate.Config{BaseURL: server.URL})
	require.NoError(t, err)
	e := New(WithEstimator(client), WithSearcher(client), WithRetry(fastRetry()))

	_, _, err = e.CalculateFromSearch(context.Background(), model.UsageRecord{ID: "r"}, "diesel")

	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrEstimationFailed)
	assert.Equal(t, 1, Attempts(err))
	assert.Equal(t, int32(1), searches.Load())
}

func TestSelectParameter(t *testing.T) {
	params := []model.Parameter{{Name: "energy", Unit: "kWh"}, {Name: "money", Unit: "USD"}}

	p, ok := SelectParameter(params, "usd")
	require.True(t, ok)
	assert.Equal(t, "money", p.Name)

	p, ok = SelectParameter(params, "litres")
	require.True(t, ok)
	assert.Equal(t, "energy", p.Name)

	_, ok = SelectParameter(nil, "kWh")
	assert.False(t, ok)
}

type fakeEstimator struct {
	err   error
	resp  *estimate.Response
	calls int
}

func (f *fakeEstimator) Estimate(_ context.Context, _ estimate.Request) (*estimate.Response, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.resp == nil {
		return &estimate.Response{}, nil
	}
	return f.resp, nil
}

type fakeSearcher struct {
	results []estimate.SearchResult
}

func (f *fakeSearcher) Search(_ context.Context, _ estimate.SearchRequest) ([]estimate.SearchResult, error) {
	return f.results, nil
}
