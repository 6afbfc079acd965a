// Package semantic matches records to catalog factors by embedding similarity when
// lexical matching finds nothing.
package semantic

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync/atomic"

	"github.com/Veraticus/factorflow/internal/catalog"
	"github.com/Veraticus/factorflow/internal/common"
	"github.com/Veraticus/factorflow/internal/model"
	"github.com/Veraticus/factorflow/internal/normalize"
	"golang.org/x/sync/errgroup"
)

// DefaultThreshold is the minimum cosine similarity for a semantic match.
const DefaultThreshold = 0.7

// Config configures a Matcher.
type Config struct {
	Threshold    float64 // Similarity must exceed this to match
	Concurrency  int     // Parallel embedding calls during Precompute
	EmbedMissing bool    // Embed uncached factors while matching instead of skipping them
}

// DefaultConfig returns the standard semantic configuration.
func DefaultConfig() Config {
	return Config{
		Threshold:   DefaultThreshold,
		Concurrency: 4,
	}
}

// PrecomputeStats summarizes an offline embedding run.
type PrecomputeStats struct {
	Factors  int `json:"factors"`
	Records  int `json:"records"`
	Embedded int `json:"embedded"`
	Cached   int `json:"cached"`
	Failed   int `json:"failed"`
}

// Matcher finds the catalog factor nearest to a text in embedding space.
type Matcher struct {
	embedder   Embedder
	cache      VectorCache
	normalizer *normalize.Normalizer
	cfg        Config
}

// NewMatcher creates a semantic matcher. A nil cache disables caching.
func NewMatcher(embedder Embedder, cache VectorCache, n *normalize.Normalizer, cfg Config) *Matcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Matcher{
		embedder:   embedder,
		cache:      cache,
		normalizer: n,
		cfg:        cfg,
	}
}

// FactorText is the normalized text embedded for a factor.
func (m *Matcher) FactorText(f *model.ReferenceFactor) string {
	return catalog.SearchString(
		strings.Join(m.normalizer.NormalizePath(f.CategoryPath), " "),
		m.normalizer.Normalize(f.Unit),
		normalize.ScopeToken(f.Scope),
	)
}

// RecordText is the normalized text embedded for a record.
func (m *Matcher) RecordText(rec *model.UsageRecord) string {
	return catalog.SearchString(
		strings.Join(m.normalizer.NormalizePath(rec.CategoryPath), " "),
		m.normalizer.Normalize(rec.Unit),
		normalize.ScopeToken(rec.Scope),
	)
}

// FactorKey is the cache key of a factor's embedding.
func FactorKey(id, text string) string {
	return "factor:" + id + ":" + textHash(text)
}

// RecordKey is the cache key of a record's embedding.
func RecordKey(id, text string) string {
	return "record:" + id + ":" + textHash(text)
}

// Precompute embeds every factor and record not already cached.
// Individual failures are counted and skipped; only cancellation aborts the run.
func (m *Matcher) Precompute(ctx context.Context, factors []model.ReferenceFactor, records []model.UsageRecord) (PrecomputeStats, error) {
	stats := PrecomputeStats{Factors: len(factors), Records: len(records)}
	if m.cache == nil {
		return stats, fmt.Errorf("%w: precompute needs a vector cache", common.ErrMissingConfig)
	}

	var embedded, cached, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Concurrency)

	submit := func(key, text string) {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if _, ok, _ := m.cache.Get(gctx, key); ok {
				cached.Add(1)
				return nil
			}
			if _, err := m.embedAndStore(gctx, key, text); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				failed.Add(1)
				slog.Warn("Failed to embed", "key", key, "error", err)
				return nil
			}
			embedded.Add(1)
			return nil
		})
	}

	for i := range factors {
		text := m.FactorText(&factors[i])
		submit(FactorKey(factors[i].ID, text), text)
	}
	for i := range records {
		text := m.RecordText(&records[i])
		submit(RecordKey(records[i].ID, text), text)
	}

	err := g.Wait()

	stats.Embedded = int(embedded.Load())
	stats.Cached = int(cached.Load())
	stats.Failed = int(failed.Load())

	if err != nil {
		return stats, err
	}

	slog.Info("Precomputed embeddings",
		"factors", stats.Factors,
		"records", stats.Records,
		"embedded", stats.Embedded,
		"cached", stats.Cached,
		"failed", stats.Failed)
	return stats, nil
}

// EmbedAndMatch embeds the normalized text and returns the factor with the highest
// cosine similarity above the threshold. Factors without an embedding are skipped.
// It returns common.ErrEmbeddingFailed when text cannot be embedded and
// common.ErrNoMatchFound when nothing is similar enough.
func (m *Matcher) EmbedAndMatch(ctx context.Context, text string, factors []model.ReferenceFactor) (*model.MatchCandidate, error) {
	normalized := m.normalizer.Normalize(text)
	if normalized == "" {
		return nil, fmt.Errorf("%w: empty text", common.ErrInvalidInput)
	}

	vec, err := m.embedder.Embed(ctx, normalized)
	if err != nil {
		return nil, wrapEmbedding(err)
	}
	return m.nearest(ctx, vec, normalized, factors)
}

// MatchRecord matches a record by its RecordText. A vector left by Precompute is
// reused; otherwise the text goes through EmbedAndMatch.
func (m *Matcher) MatchRecord(ctx context.Context, rec *model.UsageRecord, factors []model.ReferenceFactor) (*model.MatchCandidate, error) {
	text := m.RecordText(rec)
	if text == "" {
		return nil, fmt.Errorf("%w: record %s has no text to embed", common.ErrInvalidInput, rec.ID)
	}

	vec, err := m.vector(ctx, RecordKey(rec.ID, text), text, false)
	if err != nil || vec == nil {
		return m.EmbedAndMatch(ctx, text, factors)
	}
	return m.nearest(ctx, vec, text, factors)
}

func (m *Matcher) nearest(ctx context.Context, query []float32, text string, factors []model.ReferenceFactor) (*model.MatchCandidate, error) {
	var best *model.MatchCandidate
	bestSim := math.Inf(-1)
	skipped := 0

	for i := range factors {
		f := &factors[i]
		factorText := m.FactorText(f)
		vec, err := m.vector(ctx, FactorKey(f.ID, factorText), factorText, m.cfg.EmbedMissing)
		if err != nil || vec == nil {
			skipped++
			continue
		}

		sim, ok := Cosine(query, vec)
		if !ok || sim <= m.cfg.Threshold {
			continue
		}
		if sim > bestSim || (sim == bestSim && f.ID < best.Factor.ID) {
			bestSim = sim
			score := max(0, 1-sim)
			best = &model.MatchCandidate{
				Factor:   *f,
				Score:    score,
				RawScore: score,
				Method:   model.MethodSemantic,
			}
		}
	}

	if skipped > 0 {
		slog.Debug("Skipped factors without embeddings", "skipped", skipped, "factors", len(factors))
	}

	if best == nil {
		return nil, fmt.Errorf("%w: no factor above similarity %.2f for %q", common.ErrNoMatchFound, m.cfg.Threshold, text)
	}
	return best, nil
}

// vector returns the cached embedding for key, embedding and caching text when
// missing and compute is set. A nil vector with nil error means "not available".
func (m *Matcher) vector(ctx context.Context, key, text string, compute bool) ([]float32, error) {
	if m.cache != nil {
		vec, ok, err := m.cache.Get(ctx, key)
		if err != nil {
			slog.Debug("Vector cache read failed", "key", key, "error", err)
		}
		if ok {
			return vec, nil
		}
	}
	if !compute {
		return nil, nil
	}
	return m.embedAndStore(ctx, key, text)
}

func (m *Matcher) embedAndStore(ctx context.Context, key, text string) ([]float32, error) {
	vec, err := m.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if m.cache != nil {
		if err := m.cache.Set(ctx, key, vec); err != nil {
			slog.Warn("Failed to cache embedding", "key", key, "error", err)
		}
	}
	return vec, nil
}

// Cosine returns the cosine similarity of a and b. It reports false for vectors of
// different length or zero magnitude.
func Cosine(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), true
}

func wrapEmbedding(err error) error {
	if errors.Is(err, common.ErrEmbeddingFailed) {
		return err
	}
	return fmt.Errorf("%w: %w", common.ErrEmbeddingFailed, err)
}

func textHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:8])
}
