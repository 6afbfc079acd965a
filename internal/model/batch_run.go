package model

import (
	"sort"
	"time"
)

// RecordOutcome is the result of processing one record in a batch run.
type RecordOutcome struct {
	EntryID  string      `json:"entryId"`
	Message  string      `json:"message"`
	Status   MatchStatus `json:"status,omitempty"`
	Method   MatchMethod `json:"method,omitempty"`
	Kind     string      `json:"kind,omitempty"`
	Attempts int         `json:"attempts,omitempty"`
	Success  bool        `json:"success"`
}

// BatchRun summarizes one orchestration call. It is never persisted.
type BatchRun struct {
	StartedAt time.Time       `json:"startedAt"`
	ID        string          `json:"id"`
	Details   []RecordOutcome `json:"details"`
	Duration  time.Duration   `json:"duration"`
	Processed int             `json:"processed"`
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
	Chunks    int             `json:"chunks"`
	Cancelled bool            `json:"cancelled"`
}

// Record appends an outcome and updates the counters.
func (b *BatchRun) Record(outcome RecordOutcome) {
	b.Details = append(b.Details, outcome)
	b.Processed++
	if outcome.Success {
		b.Succeeded++
	} else {
		b.Failed++
	}
}

// SortDetails orders the per-record outcomes by entry ID.
func (b *BatchRun) SortDetails() {
	sort.SliceStable(b.Details, func(i, j int) bool {
		return b.Details[i].EntryID < b.Details[j].EntryID
	})
}

// Failures returns the outcomes of records that did not succeed.
func (b *BatchRun) Failures() []RecordOutcome {
	var failed []RecordOutcome
	for _, d := range b.Details {
		if !d.Success {
			failed = append(failed, d)
		}
	}
	return failed
}
