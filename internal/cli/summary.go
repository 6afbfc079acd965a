package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Veraticus/factorflow/internal/model"
	"github.com/charmbracelet/lipgloss"
)

const maxMessageWidth = 60

// RenderBatchSummary renders the counters of a finished batch in a box.
func RenderBatchSummary(run *model.BatchRun) string {
	if run == nil {
		return ""
	}

	var title string
	switch {
	case run.Cancelled:
		title = WarningIcon + " Batch Cancelled"
	case run.Failed > 0:
		title = WarningIcon + " Batch Completed With Failures"
	default:
		title = SuccessIcon + " Batch Complete"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s Summary:\n", ChartIcon)
	fmt.Fprintf(&b, "  • Processed: %d\n", run.Processed)
	fmt.Fprintf(&b, "  • Succeeded: %s\n", SuccessStyle.Render(fmt.Sprint(run.Succeeded)))
	if run.Failed > 0 {
		fmt.Fprintf(&b, "  • Failed: %s\n", ErrorStyle.Render(fmt.Sprint(run.Failed)))
	} else {
		fmt.Fprintf(&b, "  • Failed: %d\n", run.Failed)
	}
	fmt.Fprintf(&b, "  • Chunks: %d\n", run.Chunks)
	fmt.Fprintf(&b, "  • Time taken: %s", run.Duration.Round(time.Millisecond))

	if methods := methodCounts(run); len(methods) > 0 {
		b.WriteString("\n\nResolved by:")
		for _, m := range methods {
			fmt.Fprintf(&b, "\n  • %s: %d", m.method, m.count)
		}
	}

	return RenderBox(title, b.String())
}

// RenderFailures renders one row per failed record: entry, status, kind and message.
func RenderFailures(failures []model.RecordOutcome) string {
	if len(failures) == 0 {
		return ""
	}

	sorted := append([]model.RecordOutcome(nil), failures...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].EntryID < sorted[j].EntryID })

	idWidth, kindWidth := len("Entry"), len("Kind")
	for _, f := range sorted {
		idWidth = max(idWidth, len(f.EntryID))
		kindWidth = max(kindWidth, len(f.Kind))
	}

	idStyle := TableCellStyle.Width(idWidth + 2)
	kindStyle := TableCellStyle.Width(kindWidth + 2)
	statusStyle := TableCellStyle.Width(len(model.StatusUnmatched) + 2)

	header := TableHeaderStyle.Render(lipgloss.JoinHorizontal(lipgloss.Top,
		idStyle.Render("Entry"), statusStyle.Render("Status"), kindStyle.Render("Kind"), "Message"))

	rows := []string{FormatError(fmt.Sprintf("%d failed records", len(sorted))), header}
	for _, f := range sorted {
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top,
			idStyle.Render(f.EntryID),
			statusStyle.Render(FormatStatus(f.Status)),
			kindStyle.Render(SubtleStyle.Render(f.Kind)),
			truncate(f.Message, maxMessageWidth)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

// RenderCandidates renders ranked match candidates, best first.
func RenderCandidates(candidates model.MatchCandidates) string {
	if len(candidates) == 0 {
		return FormatWarning("No candidates within the diagnostic threshold")
	}

	idWidth := len("Factor")
	for _, c := range candidates {
		idWidth = max(idWidth, len(c.Factor.ID))
	}
	idStyle := TableCellStyle.Width(idWidth + 2)
	scoreStyle := TableCellStyle.Width(8)
	unitStyle := TableCellStyle.Width(10)

	rows := []string{TableHeaderStyle.Render(lipgloss.JoinHorizontal(lipgloss.Top,
		idStyle.Render("Factor"), scoreStyle.Render("Score"), scoreStyle.Render("Raw"),
		unitStyle.Render("Unit"), "Category"))}
	for i := range candidates {
		c := &candidates[i]
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top,
			idStyle.Render(c.Factor.ID),
			scoreStyle.Render(fmt.Sprintf("%.3f", c.Score)),
			scoreStyle.Render(fmt.Sprintf("%.3f", c.RawScore)),
			unitStyle.Render(c.Factor.Unit),
			truncate(c.Factor.CategoryText(), maxMessageWidth)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

type methodCount struct {
	method model.MatchMethod
	count  int
}

func methodCounts(run *model.BatchRun) []methodCount {
	counts := make(map[model.MatchMethod]int)
	for _, d := range run.Details {
		if d.Success && d.Method != "" {
			counts[d.Method]++
		}
	}
	out := make([]methodCount, 0, len(counts))
	for m, n := range counts {
		out = append(out, methodCount{method: m, count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].method < out[j].method })
	return out
}

func truncate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-1]) + "…"
}
