// Package cli renders batch progress and summaries for the terminal.
package cli

import (
	"github.com/Veraticus/factorflow/internal/model"
	"github.com/charmbracelet/lipgloss"
)

// Palette. Green marks resolved records, amber unmatched ones, red failures.
var (
	PrimaryColor = lipgloss.Color("#3FA34D")
	SuccessColor = lipgloss.Color("#2E8B57")
	WarningColor = lipgloss.Color("#E0A526")
	ErrorColor   = lipgloss.Color("#D64545")
	InfoColor    = lipgloss.Color("#5B8DB8")
	SubtleColor  = lipgloss.Color("#7A7A7A")
	BorderColor  = lipgloss.Color("#3A4A3D")
)

var (
	TitleStyle   = lipgloss.NewStyle().Bold(true).Foreground(PrimaryColor).MarginBottom(1)
	SuccessStyle = lipgloss.NewStyle().Foreground(SuccessColor)
	WarningStyle = lipgloss.NewStyle().Foreground(WarningColor)
	ErrorStyle   = lipgloss.NewStyle().Foreground(ErrorColor)
	InfoStyle    = lipgloss.NewStyle().Foreground(InfoColor)
	SubtleStyle  = lipgloss.NewStyle().Foreground(SubtleColor)

	// BoxStyle frames batch and embedding summaries.
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(BorderColor).
			Padding(1, 2)

	// TableHeaderStyle underlines the header row of failure and candidate tables.
	TableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				BorderStyle(lipgloss.NormalBorder()).
				BorderBottom(true).
				BorderForeground(BorderColor)

	TableCellStyle = lipgloss.NewStyle().PaddingRight(2)
)

const (
	SuccessIcon = "✓"
	ErrorIcon   = "✗"
	WarningIcon = "⚠️"
	InfoIcon    = "ℹ️"
	LeafIcon    = "🌿"
	ChartIcon   = "📊"
)

// FormatSuccess formats a success message with icon.
func FormatSuccess(message string) string {
	return SuccessStyle.Render(SuccessIcon + " " + message)
}

// FormatError formats an error message with icon.
func FormatError(message string) string {
	return ErrorStyle.Render(ErrorIcon + " " + message)
}

// FormatWarning formats a warning message with icon.
func FormatWarning(message string) string {
	return WarningStyle.Render(WarningIcon + " " + message)
}

// FormatInfo formats an info message with icon.
func FormatInfo(message string) string {
	return InfoStyle.Render(InfoIcon + " " + message)
}

// FormatTitle formats a title with the leaf icon.
func FormatTitle(title string) string {
	return TitleStyle.Render(LeafIcon + " " + title)
}

// RenderBox renders content in a titled box.
func RenderBox(title, content string) string {
	boxTitle := TitleStyle.
		UnsetMargins().
		Render(title)

	return BoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, boxTitle, content))
}

// StatusStyle colors a record's match status: resolved statuses in the success
// color, unmatched as a warning, failed as an error.
func StatusStyle(status model.MatchStatus) lipgloss.Style {
	switch status {
	case model.StatusMatched, model.StatusFuzzyMatched:
		return SuccessStyle
	case model.StatusUnmatched:
		return WarningStyle
	case model.StatusFailed:
		return ErrorStyle
	default:
		return SubtleStyle
	}
}

// FormatStatus renders status in its color. An empty status means the record was left untouched.
func FormatStatus(status model.MatchStatus) string {
	if status == "" {
		return SubtleStyle.Render("untouched")
	}
	return StatusStyle(status).Render(string(status))
}
