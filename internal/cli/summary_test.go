package cli

import (
	"strings"
	"testing"
	"time"

	"github.com/Veraticus/factorflow/internal/common"
	"github.com/Veraticus/factorflow/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestRenderBatchSummary(t *testing.T) {
	tests := []struct {
		run      *model.BatchRun
		name     string
		expected []string
	}{
		{
			name: "clean run",
			run: &model.BatchRun{
				Processed: 2, Succeeded: 2, Chunks: 1, Duration: 1500 * time.Millisecond,
				Details: []model.RecordOutcome{
					{EntryID: "a", Success: true, Method: model.MethodFuzzy},
					{EntryID: "b", Success: true, Method: model.MethodSemantic},
				},
			},
			expected: []string{"Batch Complete", "Processed: 2", "Chunks: 1", "fuzzy: 1", "semantic: 1"},
		},
		{
			name:     "with failures",
			run:      &model.BatchRun{Processed: 3, Succeeded: 1, Failed: 2},
			expected: []string{"Batch Completed With Failures", "Processed: 3"},
		},
		{
			name:     "cancelled",
			run:      &model.BatchRun{Processed: 10, Succeeded: 10, Cancelled: true},
			expected: []string{"Batch Cancelled"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := RenderBatchSummary(tt.run)
			for _, want := range tt.expected {
				assert.Contains(t, out, want)
			}
		})
	}

	assert.Empty(t, RenderBatchSummary(nil))
}

func TestRenderFailures(t *testing.T) {
	assert.Empty(t, RenderFailures(nil))

	out := RenderFailures([]model.RecordOutcome{
		{EntryID: "rec-02", Status: model.StatusUnmatched, Kind: common.KindNoMatch, Message: "no match found for unknown fuel"},
		{EntryID: "rec-01", Kind: common.KindInvalidInput, Message: "record has no unit"},
	})

	assert.Contains(t, out, "2 failed records")
	assert.Contains(t, out, "rec-01")
	assert.Contains(t, out, common.KindNoMatch)
	assert.Less(t, strings.Index(out, "rec-01"), strings.Index(out, "rec-02"))
}

func TestRenderCandidates(t *testing.T) {
	assert.Contains(t, RenderCandidates(nil), "No candidates")

	out := RenderCandidates(model.MatchCandidates{
		{Factor: model.ReferenceFactor{ID: "f-elec", Unit: "kWh", CategoryPath: []string{"Electricity", "Grid"}}, Score: 0.05, RawScore: 0.25},
	})
	assert.Contains(t, out, "f-elec")
	assert.Contains(t, out, "0.050")
	assert.Contains(t, out, "kWh")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}

func TestProgress(t *testing.T) {
	var buf strings.Builder
	p := NewProgress(&buf)

	// Observing before Start only counts.
	p.Observe(model.RecordOutcome{EntryID: "x"})
	assert.Equal(t, 1, p.failed)

	p.Start(2)
	p.Observe(model.RecordOutcome{EntryID: "a", Success: true})
	p.Finish()
	assert.NotEmpty(t, buf.String())
}

func TestFormatStatus(t *testing.T) {
	assert.Contains(t, FormatStatus(""), "untouched")
	assert.Contains(t, FormatStatus(model.StatusFailed), "failed")
	assert.Equal(t, ErrorStyle, StatusStyle(model.StatusFailed))
	assert.Equal(t, SuccessStyle, StatusStyle(model.StatusFuzzyMatched))
}
