// Package tui is the interactive chat view for `parley chat`.
//
// The view never owns transcript state. It renders snapshots published by
// the controller's transcript store and sends user input back through the
// controller.
package tui

import "github.com/charmbracelet/lipgloss"

// Color palette.
var (
	primaryColor   = lipgloss.Color("#7C3AED") // Purple
	successColor   = lipgloss.Color("#10B981") // Green
	warningColor   = lipgloss.Color("#F59E0B") // Amber
	errorColor     = lipgloss.Color("#EF4444") // Red
	mutedColor     = lipgloss.Color("#6B7280") // Gray
	highlightColor = lipgloss.Color("#3B82F6") // Blue
)

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	SessionStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	UserLabelStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(highlightColor)

	AssistantLabelStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(primaryColor)

	// CursorStyle marks text that is still being revealed.
	CursorStyle = lipgloss.NewStyle().
			Foreground(primaryColor).
			Blink(true)

	MutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(successColor)

	WarningStyle = lipgloss.NewStyle().
			Foreground(warningColor)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(errorColor)

	// CitationBoxStyle frames the sources panel.
	CitationBoxStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(mutedColor).
				Padding(0, 1)

	HelpStyle = lipgloss.NewStyle().
			Foreground(mutedColor)
)

// levelStyle picks the notification line style.
func levelStyle(level string) lipgloss.Style {
	switch level {
	case "error":
		return ErrorStyle
	case "warn":
		return WarningStyle
	case "info":
		return SuccessStyle
	default:
		return MutedStyle
	}
}
