package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/factorflow/internal/calc"
	"github.com/Veraticus/factorflow/internal/common"
	"github.com/Veraticus/factorflow/internal/config"
	"github.com/Veraticus/factorflow/internal/engine"
	"github.com/Veraticus/factorflow/internal/estimate"
	"github.com/Veraticus/factorflow/internal/normalize"
	"github.com/Veraticus/factorflow/internal/semantic"
	"github.com/Veraticus/factorflow/internal/storage"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
)

// errRecordsFailed signals a completed batch with failed records.
var errRecordsFailed = errors.New("batch finished with failed records")

// initStorage opens the configured database and brings its schema up to date.
func initStorage(ctx context.Context) (*storage.SQLiteStorage, error) {
	store, err := storage.NewSQLiteStorage(config.DatabasePath(viper.GetViper()))
	if err != nil {
		return nil, common.NewUserError("failed to open database", err)
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// initCalcEngine builds the calculation engine. Without an estimator base URL only
// factors with a direct conversion value can be calculated.
func initCalcEngine() (*calc.Engine, error) {
	v := viper.GetViper()
	opts := []calc.Option{calc.WithRetry(config.LoadRetryOptions(v))}

	estCfg, err := config.LoadEstimatorConfig(v)
	switch {
	case errors.Is(err, common.ErrMissingConfig):
		slog.Debug("Estimation service not configured, using direct conversion values only")
		return calc.New(opts...), nil
	case err != nil:
		return nil, err
	}

	client, err := estimate.NewClient(estCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create estimation client: %w", err)
	}
	opts = append(opts, calc.WithEstimator(client), calc.WithVersion(client.Version()))
	if v.GetBool("search.enabled") {
		opts = append(opts, calc.WithSearcher(client))
	}
	return calc.New(opts...), nil
}

// vectorCache is the cache the semantic matcher writes through. closeFn releases it.
type vectorCache struct {
	cache   semantic.VectorCache
	closeFn func()
	shared  bool
}

// initVectorCache connects to redis when cache.redis_addr is set and otherwise
// falls back to a process-local cache.
func initVectorCache(ctx context.Context) (*vectorCache, error) {
	settings := config.LoadCacheSettings(viper.GetViper())
	if settings.RedisAddr == "" {
		mem := semantic.NewMemoryCache(settings.TTL)
		return &vectorCache{cache: mem, closeFn: mem.Close}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: settings.RedisAddr})
	rc := semantic.NewRedisCache(client, "factorflow:vec:", settings.TTL)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rc.Ping(pingCtx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", settings.RedisAddr, err)
	}

	return &vectorCache{
		cache:   rc,
		closeFn: func() { _ = client.Close() },
		shared:  true,
	}, nil
}

// initSemantic builds the embedding matcher, or returns nil when embeddings are disabled.
func initSemantic(ctx context.Context, n *normalize.Normalizer) (*semantic.Matcher, func(), error) {
	v := viper.GetViper()
	if !v.GetBool("embedding.enabled") {
		return nil, func() {}, nil
	}

	embCfg, err := config.LoadEmbedderConfig(v)
	if err != nil {
		return nil, nil, err
	}
	embedder, err := semantic.NewHTTPEmbedder(embCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	vc, err := initVectorCache(ctx)
	if err != nil {
		return nil, nil, err
	}

	return semantic.NewMatcher(embedder, vc.cache, n, config.LoadSemanticConfig(v)), vc.closeFn, nil
}

// initOrchestrator wires the orchestrator from configuration. The returned
// cleanup releases the semantic cache.
func initOrchestrator(ctx context.Context, store *storage.SQLiteStorage, extra ...engine.Option) (*engine.Orchestrator, func(), error) {
	v := viper.GetViper()
	n := normalize.Default()

	calcEngine, err := initCalcEngine()
	if err != nil {
		return nil, nil, err
	}

	sem, cleanup, err := initSemantic(ctx, n)
	if err != nil {
		return nil, nil, err
	}

	batch := config.LoadBatchSettings(v)
	opts := []engine.Option{
		engine.WithMatchConfig(config.LoadMatchConfig(v)),
		engine.WithPreferredSource(v.GetString("catalog.preferred_source")),
		engine.WithBatchSize(batch.Size),
		engine.WithChunkDelay(batch.ChunkDelay),
		engine.WithSearchFallback(v.GetBool("search.enabled")),
	}
	if sem != nil {
		opts = append(opts, engine.WithSemantic(sem))
	}
	opts = append(opts, extra...)

	return engine.NewOrchestrator(store, n, calcEngine, opts...), cleanup, nil
}
