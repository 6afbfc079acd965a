package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Veraticus/factorflow/internal/common"
	"github.com/Veraticus/factorflow/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveRecord(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveRecord(model.RecordOutcome{Status: model.StatusMatched, Method: model.MethodFuzzy, Success: true})
	m.ObserveRecord(model.RecordOutcome{Status: model.StatusMatched, Method: model.MethodFuzzy, Success: true})
	m.ObserveRecord(model.RecordOutcome{Status: model.StatusFailed, Kind: common.KindEstimation, Attempts: 3})
	m.ObserveRecord(model.RecordOutcome{Kind: common.KindEmbedding})

	assert.InDelta(t, 2, testutil.ToFloat64(m.records.WithLabelValues("matched", "")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.records.WithLabelValues("failed", common.KindEstimation)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.records.WithLabelValues("untouched", common.KindEmbedding)), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.methods.WithLabelValues("fuzzy")), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.retryAttempts))
}

func TestObserveBatch(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveChunk()
	m.ObserveChunk()
	m.ObserveBatch(&model.BatchRun{Processed: 2, Succeeded: 2, Duration: time.Second}, nil)
	m.ObserveBatch(&model.BatchRun{Processed: 2, Succeeded: 1, Failed: 1}, nil)
	m.ObserveBatch(nil, common.ErrCatalogLoad)

	assert.InDelta(t, 2, testutil.ToFloat64(m.chunks), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.batches.WithLabelValues(BatchCompleted)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.batches.WithLabelValues(BatchPartial)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.batches.WithLabelValues(BatchAborted)), 0)

	count, err := testutil.GatherAndCount(registry, "factorflow_batch_duration_seconds")
	assert.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestBatchOutcome(t *testing.T) {
	cases := []struct {
		run  *model.BatchRun
		err  error
		name string
		want string
	}{
		{name: "clean", run: &model.BatchRun{Processed: 1, Succeeded: 1}, want: BatchCompleted},
		{name: "partial", run: &model.BatchRun{Processed: 2, Succeeded: 1, Failed: 1}, want: BatchPartial},
		{name: "cancelled run", run: &model.BatchRun{Cancelled: true}, want: BatchCancelled},
		{name: "cancelled error", err: fmt.Errorf("fetch: %w", context.Canceled), want: BatchCancelled},
		{name: "aborted", err: errors.New("boom"), want: BatchAborted},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, BatchOutcome(tc.run, tc.err))
		})
	}
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *BatchMetrics
	assert.NotPanics(t, func() {
		m.ObserveRecord(model.RecordOutcome{Success: true})
		m.ObserveChunk()
		m.ObserveBatch(&model.BatchRun{}, nil)
	})
}

func TestNew_DuplicateRegistrationPanics(t *testing.T) {
	registry := prometheus.NewRegistry()
	New(registry)
	assert.Panics(t, func() { New(registry) })
}
