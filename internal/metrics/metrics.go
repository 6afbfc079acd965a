// Package metrics exposes Prometheus instruments for batch runs.
package metrics

import (
	"github.com/Veraticus/factorflow/internal/common"
	"github.com/Veraticus/factorflow/internal/model"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "factorflow"

// Batch outcome labels.
const (
	BatchCompleted = "completed"
	BatchPartial   = "partial"
	BatchCancelled = "cancelled"
	BatchAborted   = "aborted"
)

// BatchMetrics records batch and per-record signals. A nil *BatchMetrics is a no-op.
type BatchMetrics struct {
	batches       *prometheus.CounterVec
	records       *prometheus.CounterVec
	methods       *prometheus.CounterVec
	retryAttempts prometheus.Histogram
	duration      prometheus.Histogram
	chunks        prometheus.Counter
}

// New creates batch metrics and registers them with registerer.
// A nil registerer uses prometheus.DefaultRegisterer.
func New(registerer prometheus.Registerer) *BatchMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &BatchMetrics{
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_runs_total",
			Help:      "Batch runs by outcome.",
		}, []string{"outcome"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_processed_total",
			Help:      "Records processed by resulting status and error kind.",
		}, []string{"status", "kind"}),
		methods: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_total",
			Help:      "Successful matches by method.",
		}, []string{"method"}),
		retryAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "estimation_attempts",
			Help:      "Attempts spent on external estimation per record.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Wall-clock duration of batch runs.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800},
		}),
		chunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_chunks_total",
			Help:      "Chunks processed across all batch runs.",
		}),
	}

	registerer.MustRegister(m.batches, m.records, m.methods, m.retryAttempts, m.duration, m.chunks)
	return m
}

// ObserveRecord counts one processed record.
func (m *BatchMetrics) ObserveRecord(outcome model.RecordOutcome) {
	if m == nil {
		return
	}

	status := string(outcome.Status)
	if status == "" {
		status = "untouched"
	}
	m.records.WithLabelValues(status, outcome.Kind).Inc()

	if outcome.Success && outcome.Method != "" {
		m.methods.WithLabelValues(string(outcome.Method)).Inc()
	}
	if outcome.Attempts > 0 {
		m.retryAttempts.Observe(float64(outcome.Attempts))
	}
}

// ObserveChunk counts one processed chunk.
func (m *BatchMetrics) ObserveChunk() {
	if m == nil {
		return
	}
	m.chunks.Inc()
}

// ObserveBatch records the end of a run. err is the error returned by the run, if any.
func (m *BatchMetrics) ObserveBatch(run *model.BatchRun, err error) {
	if m == nil {
		return
	}

	m.batches.WithLabelValues(BatchOutcome(run, err)).Inc()
	if run != nil {
		m.duration.Observe(run.Duration.Seconds())
	}
}

// BatchOutcome classifies a finished run into one of the Batch* labels.
func BatchOutcome(run *model.BatchRun, err error) string {
	switch {
	case run != nil && run.Cancelled:
		return BatchCancelled
	case err != nil && common.Kind(err) == common.KindCanceled:
		return BatchCancelled
	case err != nil || run == nil:
		return BatchAborted
	case run.Failed > 0:
		return BatchPartial
	default:
		return BatchCompleted
	}
}

