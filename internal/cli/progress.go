package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/Veraticus/factorflow/internal/model"
	"github.com/schollz/progressbar/v3"
)

// Progress draws a progress bar for a running batch. Start and Observe match
// the orchestrator's start and per-record callbacks.
type Progress struct {
	writer io.Writer
	bar    *progressbar.ProgressBar
	failed int
}

// NewProgress creates a progress display writing to w.
func NewProgress(w io.Writer) *Progress {
	return &Progress{writer: w}
}

// Start creates the bar once the number of records is known.
func (p *Progress) Start(total int) {
	p.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(p.writer),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan][bold]Resolving records...[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			if _, err := fmt.Fprintln(p.writer); err != nil {
				slog.Warn("Failed to write newline after progress bar", "error", err)
			}
		}),
	)
}

// Observe advances the bar by one record.
func (p *Progress) Observe(outcome model.RecordOutcome) {
	if !outcome.Success {
		p.failed++
	}
	if p.bar == nil {
		return
	}
	if p.failed > 0 {
		p.bar.Describe(fmt.Sprintf("[cyan][bold]Resolving records...[reset] [red]%d failed[reset]", p.failed))
	}
	if err := p.bar.Add(1); err != nil {
		slog.Warn("Failed to update progress bar", "error", err)
	}
}

// Finish completes the bar, for runs cut short by cancellation.
func (p *Progress) Finish() {
	if p.bar == nil || p.bar.IsFinished() {
		return
	}
	if err := p.bar.Exit(); err != nil {
		slog.Warn("Failed to close progress bar", "error", err)
	}
}
