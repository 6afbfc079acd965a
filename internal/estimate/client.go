package estimate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Veraticus/factorflow/internal/common"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 4096
)

// Config configures the estimation and search client.
type Config struct {
	BaseURL   string
	APIKey    string
	Version   string // Catalog version sent with every request
	Timeout   time.Duration
	RateLimit rate.Limit // Requests per second; zero disables limiting
}

// Client calls the estimation and search endpoints over HTTP+JSON.
// It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string
	apiKey     string
	version    string
}

// NewClient creates a client for the service at cfg.BaseURL.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("%w: estimator base URL", common.ErrMissingConfig)
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("%w: estimator base URL: %w", common.ErrInvalidConfig, err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	limit := cfg.RateLimit
	if limit <= 0 {
		limit = rate.Inf
	}

	return &Client{
		baseURL: base,
		apiKey:  cfg.APIKey,
		version: cfg.Version,
		limiter: rate.NewLimiter(limit, 1),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

// Version returns the catalog version the client sends by default.
func (c *Client) Version() string {
	return c.version
}

// Estimate asks the service for the total of one factor application.
// Non-2xx responses are returned as *StatusError.
func (c *Client) Estimate(ctx context.Context, req Request) (*Response, error) {
	if req.Version == "" {
		req.Version = c.version
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/estimate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var resp Response
	if err := c.do(httpReq, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Search queries the remote catalog. Results keep the service's ranking.
func (c *Client) Search(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	version := req.Version
	if version == "" {
		version = c.version
	}

	params := url.Values{}
	params.Set("query", req.Query)
	if version != "" {
		params.Set("version", version)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var resp searchResponse
	if err := c.do(httpReq, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

func (c *Client) do(req *http.Request, out any) error {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return fmt.Errorf("rate limiter canceled: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
