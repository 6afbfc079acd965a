package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables that override configuration keys.
// A key such as batch.concurrency is read from FACTORFLOW_BATCH_CONCURRENCY.
const EnvPrefix = "FACTORFLOW"

// DefaultDatabasePath is used when database.path is not configured.
const DefaultDatabasePath = "$HOME/.local/share/factorflow/factorflow.db"

// SetDefaults registers every configuration key with its default value.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("database.path", DefaultDatabasePath)
	v.SetDefault("catalog.preferred_source", "")

	v.SetDefault("matching.threshold", 0.35)
	v.SetDefault("matching.relaxed_threshold", 0.45)
	v.SetDefault("matching.diagnostic_threshold", 0.6)
	v.SetDefault("matching.min_token_length", 3)
	v.SetDefault("matching.unit_boost", 0.1)
	v.SetDefault("matching.scope_boost", 0.1)

	v.SetDefault("batch.size", 500)
	v.SetDefault("batch.concurrency", 10)
	v.SetDefault("batch.chunk_delay", 1500*time.Millisecond)
	v.SetDefault("batch.max_attempts", 3)
	v.SetDefault("batch.initial_delay", time.Second)
	v.SetDefault("batch.max_delay", 30*time.Second)

	v.SetDefault("estimator.base_url", "")
	v.SetDefault("estimator.api_key", "")
	v.SetDefault("estimator.version", "")
	v.SetDefault("estimator.timeout", 30*time.Second)
	v.SetDefault("estimator.rate_limit", 0.0)

	v.SetDefault("search.enabled", false)

	v.SetDefault("embedding.enabled", false)
	v.SetDefault("embedding.base_url", "")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimensions", 0)
	v.SetDefault("embedding.threshold", 0.7)
	v.SetDefault("embedding.concurrency", 4)
	v.SetDefault("embedding.timeout", 30*time.Second)
	v.SetDefault("embedding.rate_limit", 0.0)

	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.ttl", 24*time.Hour)

	v.SetDefault("server.addr", ":8080")
}

// BindEnv makes every key overridable through FACTORFLOW_* variables.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}
