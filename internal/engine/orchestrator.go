// Package engine drives batch resolution of usage records against the factor catalog.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Veraticus/factorflow/internal/calc"
	"github.com/Veraticus/factorflow/internal/catalog"
	"github.com/Veraticus/factorflow/internal/common"
	"github.com/Veraticus/factorflow/internal/match"
	"github.com/Veraticus/factorflow/internal/metrics"
	"github.com/Veraticus/factorflow/internal/model"
	"github.com/Veraticus/factorflow/internal/normalize"
	"github.com/Veraticus/factorflow/internal/semantic"
	"github.com/Veraticus/factorflow/internal/service"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Batch defaults.
const (
	DefaultBatchSize   = 500
	DefaultConcurrency = 10
	DefaultChunkDelay  = 1500 * time.Millisecond
)

// ErrBatchInProgress is returned when RunBatch is called while another run is active.
var ErrBatchInProgress = errors.New("batch already in progress")

// State is the lifecycle phase of the orchestrator.
type State int32

// Orchestrator states.
const (
	StateIdle State = iota
	StateFetching
	StateProcessing
	StateReporting
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateProcessing:
		return "processing"
	case StateReporting:
		return "reporting"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Orchestrator runs batches of records through matching, calculation and persistence.
type Orchestrator struct {
	store           service.RecordStore
	normalizer      *normalize.Normalizer
	calc            *calc.Engine
	semantic        *semantic.Matcher
	metrics         *metrics.BatchMetrics
	progress        func(model.RecordOutcome)
	onStart         func(total int)
	sleep           Sleeper
	preferredSource string
	matchCfg        match.Config
	batchSize       int
	chunkDelay      time.Duration
	state           atomic.Int32
	running         sync.Mutex
	searchFallback  bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSemantic enables the embedding fallback when fuzzy matching finds nothing.
func WithSemantic(m *semantic.Matcher) Option {
	return func(o *Orchestrator) {
		o.semantic = m
	}
}

// WithSearchFallback enables the remote catalog search as the last resort.
func WithSearchFallback(enabled bool) Option {
	return func(o *Orchestrator) {
		o.searchFallback = enabled
	}
}

// WithMatchConfig overrides the fuzzy matcher configuration.
func WithMatchConfig(cfg match.Config) Option {
	return func(o *Orchestrator) {
		o.matchCfg = cfg
	}
}

// WithPreferredSource restricts the catalog to one issuing authority when it has factors.
func WithPreferredSource(source string) Option {
	return func(o *Orchestrator) {
		o.preferredSource = source
	}
}

// WithBatchSize caps the number of records fetched per run.
func WithBatchSize(size int) Option {
	return func(o *Orchestrator) {
		if size > 0 {
			o.batchSize = size
		}
	}
}

// WithChunkDelay sets the pause between chunks. Zero disables it.
func WithChunkDelay(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d >= 0 {
			o.chunkDelay = d
		}
	}
}

// WithMetrics records batch metrics.
func WithMetrics(m *metrics.BatchMetrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithProgress registers a callback invoked once per processed record.
// Calls are serialized.
func WithProgress(fn func(model.RecordOutcome)) Option {
	return func(o *Orchestrator) {
		o.progress = fn
	}
}

// WithStart registers a callback invoked with the number of fetched records
// once the catalog is loaded and processing is about to begin.
func WithStart(fn func(total int)) Option {
	return func(o *Orchestrator) {
		o.onStart = fn
	}
}

// WithSleeper replaces the inter-chunk wait.
func WithSleeper(s Sleeper) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.sleep = s
		}
	}
}

// NewOrchestrator creates an orchestrator over store.
func NewOrchestrator(store service.RecordStore, n *normalize.Normalizer, engine *calc.Engine, opts ...Option) *Orchestrator {
	if n == nil {
		n = normalize.Default()
	}
	if engine == nil {
		engine = calc.New()
	}

	o := &Orchestrator{
		store:      store,
		normalizer: n,
		calc:       engine,
		sleep:      sleepContext,
		matchCfg:   match.DefaultConfig(),
		batchSize:  DefaultBatchSize,
		chunkDelay: DefaultChunkDelay,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the current lifecycle phase.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

func (o *Orchestrator) setState(s State) {
	o.state.Store(int32(s))
}

// RunBatch resolves the records picked by sel. Records are processed in chunks of
// concurrencyLimit; records inside a chunk run concurrently and chunks run one after
// another. Cancellation is honoured between chunks only, so work already started is
// persisted. Only store and catalog failures abort the run; every other failure is
// reported on the record's outcome.
func (o *Orchestrator) RunBatch(ctx context.Context, sel service.RecordSelector, concurrencyLimit int) (*model.BatchRun, error) {
	if !o.running.TryLock() {
		return nil, ErrBatchInProgress
	}
	defer o.running.Unlock()
	defer o.setState(StateIdle)

	if err := o.matchCfg.Validate(); err != nil {
		return nil, err
	}
	if concurrencyLimit <= 0 {
		concurrencyLimit = DefaultConcurrency
	}
	if sel.Kind == service.SelectSourceChanged && sel.Source == "" {
		sel.Source = o.preferredSource
	}

	run := &model.BatchRun{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
	}
	logger := slog.With("batch_id", run.ID, "account_id", sel.AccountID, "selector", sel.Kind)

	o.setState(StateFetching)
	records, err := o.store.FetchUnmatched(ctx, sel.Filter(o.batchSize))
	if err != nil {
		err = fmt.Errorf("failed to fetch records: %w", err)
		o.metrics.ObserveBatch(nil, err)
		return nil, err
	}
	if len(records) == 0 {
		logger.Info("No records to process")
		o.setState(StateReporting)
		run.Duration = time.Since(run.StartedAt)
		o.metrics.ObserveBatch(run, nil)
		return run, nil
	}

	idx, err := o.loadCatalog(ctx)
	if err != nil {
		o.metrics.ObserveBatch(nil, err)
		return nil, err
	}
	matcher := match.New(idx, o.normalizer, o.matchCfg)

	logger.Info("Starting batch",
		"records", len(records),
		"catalog_entries", idx.Len(),
		"concurrency", concurrencyLimit,
		"semantic", o.semantic != nil,
		"search_fallback", o.searchFallback && o.calc.CanSearch())

	o.setState(StateProcessing)
	if o.onStart != nil {
		o.onStart(len(records))
	}
	chunks := chunk(records, concurrencyLimit)
	for i, c := range chunks {
		if i > 0 {
			if err := ctx.Err(); err != nil {
				run.Cancelled = true
				break
			}
			if o.chunkDelay > 0 {
				if err := o.sleep(ctx, o.chunkDelay); err != nil {
					run.Cancelled = true
					break
				}
			}
		}

		o.processChunk(ctx, run, c, matcher, idx, concurrencyLimit)
		run.Chunks++
		o.metrics.ObserveChunk()

		logger.Debug("Chunk complete",
			"chunk", i+1,
			"chunks", len(chunks),
			"processed", run.Processed)
	}

	o.setState(StateReporting)
	run.Duration = time.Since(run.StartedAt)
	o.metrics.ObserveBatch(run, nil)

	if run.Cancelled {
		logger.Warn("Batch cancelled between chunks",
			"processed", run.Processed,
			"remaining", len(records)-run.Processed)
	}
	logger.Info("Batch complete",
		"processed", run.Processed,
		"succeeded", run.Succeeded,
		"failed", run.Failed,
		"chunks", run.Chunks,
		"duration", run.Duration)

	return run, nil
}

// loadCatalog fetches the catalog, falling back to every source when the preferred
// source has no factors.
func (o *Orchestrator) loadCatalog(ctx context.Context) (*catalog.Index, error) {
	factors, err := o.store.FetchFactors(ctx, o.preferredSource)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrCatalogLoad, err)
	}
	if len(factors) == 0 && o.preferredSource != "" {
		slog.Warn("Preferred source has no factors, using full catalog", "source", o.preferredSource)
		factors, err = o.store.FetchFactors(ctx, "")
		if err != nil {
			return nil, fmt.Errorf("%w: %w", common.ErrCatalogLoad, err)
		}
	}

	idx := catalog.Build(factors, o.normalizer, catalog.WithPreferredSource(o.preferredSource))
	if idx.Len() == 0 && !(o.searchFallback && o.calc.CanSearch()) {
		return nil, fmt.Errorf("%w: catalog is empty", common.ErrCatalogLoad)
	}
	slog.Debug("Catalog loaded",
		"factors", idx.Len(),
		"preferred_source", idx.PreferredSource(),
		"synonyms", o.normalizer.Synonyms())
	return idx, nil
}

func (o *Orchestrator) processChunk(ctx context.Context, run *model.BatchRun, records []model.UsageRecord, matcher *match.Matcher, idx *catalog.Index, limit int) {
	// Records already started finish even if the batch is cancelled.
	work := context.WithoutCancel(ctx)

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(limit)

	for _, rec := range records {
		g.Go(func() error {
			outcome := o.safeProcess(work, rec, matcher, idx)

			mu.Lock()
			run.Record(outcome)
			if o.progress != nil {
				o.progress(outcome)
			}
			mu.Unlock()

			o.metrics.ObserveRecord(outcome)
			return nil
		})
	}
	_ = g.Wait()
}

func (o *Orchestrator) safeProcess(ctx context.Context, rec model.UsageRecord, matcher *match.Matcher, idx *catalog.Index) (outcome model.RecordOutcome) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Record processing panicked", "entry_id", rec.ID, "panic", r)
			outcome = model.RecordOutcome{
				EntryID: rec.ID,
				Message: fmt.Sprintf("internal error: %v", r),
				Kind:    common.KindUnknown,
			}
		}
	}()
	return o.processRecord(ctx, rec, matcher, idx)
}

// processRecord takes one record through validate, match, calculate, persist.
func (o *Orchestrator) processRecord(ctx context.Context, rec model.UsageRecord, matcher *match.Matcher, idx *catalog.Index) model.RecordOutcome {
	outcome := model.RecordOutcome{EntryID: rec.ID}

	if err := rec.Validate(); err != nil {
		return o.markFailed(ctx, outcome, err)
	}

	result, cand, err := o.resolve(ctx, rec, matcher, idx)
	switch {
	case err == nil:
	case errors.Is(err, common.ErrNoMatchFound):
		return o.markUnmatched(ctx, outcome, err)
	case errors.Is(err, common.ErrEmbeddingFailed):
		// The record keeps its previous status.
		slog.Warn("Embedding failed, record left untouched", "entry_id", rec.ID, "error", err)
		return fail(outcome, err)
	default:
		return o.markFailed(ctx, outcome, err)
	}

	outcome.Method = cand.Method

	if err := o.store.UpsertResult(ctx, result); err != nil {
		return o.markFailed(ctx, outcome, ensurePersistence(err))
	}

	status := model.StatusFuzzyMatched
	if cand.RawScore == 0 {
		status = model.StatusMatched
	}
	if err := o.store.SetMatchStatus(ctx, rec.ID, status); err != nil {
		return fail(outcome, ensurePersistence(err))
	}

	outcome.Success = true
	outcome.Status = status
	outcome.Message = fmt.Sprintf("%s %s via %s (%s, score %.3f)",
		formatValue(result.TotalValue), result.Unit, cand.Factor.ID, cand.Method, cand.Score)
	return outcome
}

// resolve finds a candidate and calculates with it. Fuzzy matching runs first, then the
// semantic fallback and the remote search when configured.
func (o *Orchestrator) resolve(ctx context.Context, rec model.UsageRecord, matcher *match.Matcher, idx *catalog.Index) (*model.CalculationResult, *model.MatchCandidate, error) {
	cand, err := matcher.Match(rec)
	if err == nil {
		result, calcErr := o.calc.Calculate(ctx, rec, cand)
		return result, cand, calcErr
	}
	if !errors.Is(err, common.ErrNoMatchFound) {
		return nil, nil, err
	}

	if o.semantic != nil {
		semCand, semErr := o.semantic.MatchRecord(ctx, &rec, idx.Factors())
		switch {
		case semErr == nil:
			result, calcErr := o.calc.Calculate(ctx, rec, semCand)
			return result, semCand, calcErr
		case !errors.Is(semErr, common.ErrNoMatchFound):
			return nil, nil, semErr
		}
	}

	if o.searchFallback && o.calc.CanSearch() {
		q, qErr := matcher.Query(rec)
		if qErr != nil {
			return nil, nil, qErr
		}
		return o.calc.CalculateFromSearch(ctx, rec, q.Category)
	}

	return nil, nil, err
}

func (o *Orchestrator) markUnmatched(ctx context.Context, outcome model.RecordOutcome, cause error) model.RecordOutcome {
	outcome = fail(outcome, cause)
	if err := o.store.SetMatchStatus(ctx, outcome.EntryID, model.StatusUnmatched); err != nil {
		slog.Error("Failed to mark record unmatched", "entry_id", outcome.EntryID, "error", err)
		outcome.Message = fmt.Sprintf("%s (status not saved: %v)", outcome.Message, err)
		return outcome
	}
	outcome.Status = model.StatusUnmatched
	return outcome
}

// markFailed reports cause and records the failed status best-effort.
func (o *Orchestrator) markFailed(ctx context.Context, outcome model.RecordOutcome, cause error) model.RecordOutcome {
	outcome = fail(outcome, cause)
	if err := o.store.SetMatchStatus(ctx, outcome.EntryID, model.StatusFailed); err != nil {
		slog.Error("Failed to mark record failed", "entry_id", outcome.EntryID, "error", err)
		return outcome
	}
	outcome.Status = model.StatusFailed
	return outcome
}

func fail(outcome model.RecordOutcome, err error) model.RecordOutcome {
	outcome.Success = false
	outcome.Message = err.Error()
	outcome.Kind = common.Kind(err)
	if attempts := calc.Attempts(err); attempts > 0 {
		outcome.Attempts = attempts
	}
	return outcome
}

func ensurePersistence(err error) error {
	if errors.Is(err, common.ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %w", common.ErrPersistence, err)
}

func chunk(records []model.UsageRecord, size int) [][]model.UsageRecord {
	chunks := make([][]model.UsageRecord, 0, (len(records)+size-1)/size)
	for start := 0; start < len(records); start += size {
		end := min(start+size, len(records))
		chunks = append(chunks, records[start:end])
	}
	return chunks
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func formatValue(v float64) string {
	return fmt.Sprintf("%.4g", v)
}
