package config

import (
	"fmt"
	"os"
	"time"

	"github.com/Veraticus/factorflow/internal/common"
	"github.com/Veraticus/factorflow/internal/estimate"
	"github.com/Veraticus/factorflow/internal/match"
	"github.com/Veraticus/factorflow/internal/semantic"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"
)

// BatchSettings holds the orchestration knobs read from the batch section.
type BatchSettings struct {
	Size        int
	Concurrency int
	ChunkDelay  time.Duration
}

// CacheSettings selects the vector cache backend.
type CacheSettings struct {
	RedisAddr string // Empty selects the in-process cache
	TTL       time.Duration
}

// DatabasePath returns the expanded SQLite path.
func DatabasePath(v *viper.Viper) string {
	path := v.GetString("database.path")
	if path == "" {
		path = DefaultDatabasePath
	}
	return ExpandPath(path)
}

// LoadEstimatorConfig reads the estimation service settings.
// It returns ErrMissingConfig when no base URL is configured.
func LoadEstimatorConfig(v *viper.Viper) (estimate.Config, error) {
	cfg := estimate.Config{
		BaseURL:   v.GetString("estimator.base_url"),
		APIKey:    v.GetString("estimator.api_key"),
		Version:   v.GetString("estimator.version"),
		Timeout:   v.GetDuration("estimator.timeout"),
		RateLimit: rate.Limit(v.GetFloat64("estimator.rate_limit")),
	}

	// Fall back to unprefixed variables commonly set for the service
	if cfg.BaseURL == "" {
		cfg.BaseURL = os.Getenv("ESTIMATOR_BASE_URL")
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("ESTIMATOR_API_KEY")
	}

	if cfg.BaseURL == "" {
		return cfg, fmt.Errorf("%w: estimator.base_url", common.ErrMissingConfig)
	}
	if cfg.RateLimit < 0 {
		return cfg, fmt.Errorf("%w: estimator.rate_limit must not be negative", common.ErrInvalidConfig)
	}
	return cfg, nil
}

// LoadEmbedderConfig reads the embedding endpoint settings.
func LoadEmbedderConfig(v *viper.Viper) (semantic.EmbedderConfig, error) {
	cfg := semantic.EmbedderConfig{
		BaseURL:    v.GetString("embedding.base_url"),
		APIKey:     v.GetString("embedding.api_key"),
		Model:      v.GetString("embedding.model"),
		Dimensions: v.GetInt("embedding.dimensions"),
		Timeout:    v.GetDuration("embedding.timeout"),
		RateLimit:  rate.Limit(v.GetFloat64("embedding.rate_limit")),
	}

	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.BaseURL == "" && cfg.APIKey != "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}

	if cfg.BaseURL == "" {
		return cfg, fmt.Errorf("%w: embedding.base_url", common.ErrMissingConfig)
	}
	if cfg.Dimensions < 0 {
		return cfg, fmt.Errorf("%w: embedding.dimensions must not be negative", common.ErrInvalidConfig)
	}
	return cfg, nil
}

// LoadSemanticConfig reads the semantic matcher settings.
func LoadSemanticConfig(v *viper.Viper) semantic.Config {
	cfg := semantic.DefaultConfig()
	if v.IsSet("embedding.threshold") {
		cfg.Threshold = v.GetFloat64("embedding.threshold")
	}
	if n := v.GetInt("embedding.concurrency"); n > 0 {
		cfg.Concurrency = n
	}
	return cfg
}

// LoadMatchConfig reads the fuzzy matcher thresholds.
func LoadMatchConfig(v *viper.Viper) match.Config {
	cfg := match.DefaultConfig()
	if v.IsSet("matching.threshold") {
		cfg.Threshold = v.GetFloat64("matching.threshold")
	}
	if v.IsSet("matching.relaxed_threshold") {
		cfg.RelaxedThreshold = v.GetFloat64("matching.relaxed_threshold")
	}
	if v.IsSet("matching.diagnostic_threshold") {
		cfg.DiagnosticThreshold = v.GetFloat64("matching.diagnostic_threshold")
	}
	if v.IsSet("matching.min_token_length") {
		cfg.MinTokenLength = v.GetInt("matching.min_token_length")
	}
	if v.IsSet("matching.unit_boost") {
		cfg.UnitBoost = v.GetFloat64("matching.unit_boost")
	}
	if v.IsSet("matching.scope_boost") {
		cfg.ScopeBoost = v.GetFloat64("matching.scope_boost")
	}
	return cfg
}

// LoadRetryOptions reads the estimation retry policy.
func LoadRetryOptions(v *viper.Viper) common.RetryOptions {
	opts := common.DefaultRetryOptions()
	if n := v.GetInt("batch.max_attempts"); n > 0 {
		opts.MaxAttempts = n
	}
	if d := v.GetDuration("batch.initial_delay"); d > 0 {
		opts.InitialDelay = d
	}
	if d := v.GetDuration("batch.max_delay"); d > 0 {
		opts.MaxDelay = d
	}
	return opts
}

// LoadBatchSettings reads the batch section, keeping defaults for unset or
// non-positive values.
func LoadBatchSettings(v *viper.Viper) BatchSettings {
	s := BatchSettings{
		Size:        500,
		Concurrency: 10,
		ChunkDelay:  1500 * time.Millisecond,
	}
	if n := v.GetInt("batch.size"); n > 0 {
		s.Size = n
	}
	if n := v.GetInt("batch.concurrency"); n > 0 {
		s.Concurrency = n
	}
	if v.IsSet("batch.chunk_delay") {
		if d := v.GetDuration("batch.chunk_delay"); d >= 0 {
			s.ChunkDelay = d
		}
	}
	return s
}

// LoadCacheSettings reads the vector cache section.
func LoadCacheSettings(v *viper.Viper) CacheSettings {
	s := CacheSettings{
		RedisAddr: v.GetString("cache.redis_addr"),
		TTL:       v.GetDuration("cache.ttl"),
	}
	if s.RedisAddr == "" {
		s.RedisAddr = os.Getenv("REDIS_ADDR")
	}
	if s.TTL <= 0 {
		s.TTL = 24 * time.Hour
	}
	return s
}
