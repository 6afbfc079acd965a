package estimate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Veraticus/factorflow/internal/common"
	"github.com/Veraticus/factorflow/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	_, err := NewClient(Config{})
	assert.ErrorIs(t, err, common.ErrMissingConfig)

	c, err := NewClient(Config{BaseURL: "http://example.test/", Version: "2024"})
	require.NoError(t, err)
	assert.Equal(t, "http://example.test", c.baseURL)
	assert.Equal(t, "2024", c.Version())
}

func TestClient_Estimate(t *testing.T) {
	var got Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/estimate", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"total_value": 42.5, "unit": "kgCO2e", "constituents": [{"gas": "co2", "value": 40}, {"gas": "ch4", "value": 2.5}]}`))
	}))
	defer server.Close()

	c, err := NewClient(Config{BaseURL: server.URL, APIKey: "secret", Version: "v7"})
	require.NoError(t, err)

	resp, err := c.Estimate(context.Background(), Request{
		FactorID:      "ext-1",
		ParameterName: "energy",
		ParameterUnit: "kWh",
		Quantity:      100,
	})

	require.NoError(t, err)
	assert.InDelta(t, 42.5, resp.TotalValue, 1e-9)
	assert.Equal(t, "kgCO2e", resp.Unit)
	assert.Equal(t, []model.ConstituentFactor{{Gas: "co2", Value: 40}, {Gas: "ch4", Value: 2.5}}, resp.Constituents)

	assert.Equal(t, "ext-1", got.FactorID)
	assert.Equal(t, "v7", got.Version)
	assert.Equal(t, "energy", got.ParameterName)
	assert.InDelta(t, 100, got.Quantity, 1e-9)
}

func TestClient_Estimate_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c, err := NewClient(Config{BaseURL: server.URL})
	require.NoError(t, err)

	_, err = c.Estimate(context.Background(), Request{FactorID: "x"})
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	assert.Equal(t, "upstream overloaded", statusErr.Body)
	assert.True(t, IsTransient(err))
}

func TestClient_Search(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "diesel", r.URL.Query().Get("query"))
		assert.Equal(t, "v2", r.URL.Query().Get("version"))
		_, _ = w.Write([]byte(`{"results": [
			{"id": "a", "name": "Diesel", "region": "Global", "source": "EPA", "year": 2022,
			 "accepted_parameters": [{"name": "volume", "unit": "l"}]},
			{"id": "b", "name": "Diesel", "region": "Europe", "source": "GHG Protocol", "year": 2023}
		]}`))
	}))
	defer server.Close()

	c, err := NewClient(Config{BaseURL: server.URL, Version: "v1"})
	require.NoError(t, err)

	results, err := c.Search(context.Background(), SearchRequest{Query: "diesel", Version: "v2"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, []model.Parameter{{Name: "volume", Unit: "l"}}, results[0].AcceptedParameters)

	factor := results[1].Factor("v2")
	assert.Equal(t, "search:b", factor.ID)
	assert.Equal(t, "b", factor.ExternalID)
	assert.True(t, factor.RequiresEstimation())
	assert.Equal(t, []string{"Diesel"}, factor.CategoryPath)
}

func TestClient_RateLimited(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		_, _ = w.Write([]byte(`{"results": []}`))
	}))
	defer server.Close()

	c, err := NewClient(Config{BaseURL: server.URL, RateLimit: 0.001})
	require.NoError(t, err)

	_, err = c.Search(context.Background(), SearchRequest{Query: "first"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Search(ctx, SearchRequest{Query: "second"})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		err  error
		name string
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "429", err: &StatusError{StatusCode: http.StatusTooManyRequests}, want: true},
		{name: "500", err: &StatusError{StatusCode: http.StatusInternalServerError}, want: true},
		{name: "503 wrapped", err: errors.Join(errors.New("ctx"), &StatusError{StatusCode: 503}), want: true},
		{name: "400", err: &StatusError{StatusCode: http.StatusBadRequest}, want: false},
		{name: "404", err: &StatusError{StatusCode: http.StatusNotFound}, want: false},
		{name: "plain", err: errors.New("decode failure"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsTransient_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {}))
	addr := server.URL
	server.Close()

	c, err := NewClient(Config{BaseURL: addr, Timeout: time.Second})
	require.NoError(t, err)

	_, err = c.Estimate(context.Background(), Request{FactorID: "x"})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}
