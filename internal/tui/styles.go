// Package tui provides a live terminal dashboard for a supervised chain
// simulator.
//
// The TUI uses Bubble Tea for the application framework and Lipgloss for
// styling. It shows the simulator's lifecycle state, block production,
// control-plane latency and the most recent simulator output, and binds keys
// to generate blocks on demand.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-chainsim-supervisor/internal/supervisor"
)

// =============================================================================
// Color Palette
// =============================================================================

var (
	colorPrimary   = lipgloss.Color("#7C3AED") // Purple
	colorSecondary = lipgloss.Color("#06B6D4") // Cyan

	colorSuccess = lipgloss.Color("#10B981") // Green
	colorWarning = lipgloss.Color("#F59E0B") // Amber
	colorError   = lipgloss.Color("#EF4444") // Red
	colorInfo    = lipgloss.Color("#3B82F6") // Blue

	colorText      = lipgloss.Color("#E5E7EB")
	colorTextMuted = lipgloss.Color("#9CA3AF")
	colorTextDim   = lipgloss.Color("#6B7280")
	colorBorder    = lipgloss.Color("#374151")
)

// =============================================================================
// Base Styles
// =============================================================================

var (
	mutedStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted)

	dimStyle = lipgloss.NewStyle().
			Foreground(colorTextDim)

	titleStyle = lipgloss.NewStyle().
			Foreground(colorPrimary).
			Bold(true)

	statusOK = lipgloss.NewStyle().
			Foreground(colorSuccess).
			Bold(true)

	statusWarning = lipgloss.NewStyle().
			Foreground(colorWarning).
			Bold(true)

	statusError = lipgloss.NewStyle().
			Foreground(colorError).
			Bold(true)

	statusInfo = lipgloss.NewStyle().
			Foreground(colorInfo).
			Bold(true)
)

// =============================================================================
// Layout Styles
// =============================================================================

var (
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Background(colorPrimary).
			Bold(true).
			Padding(0, 1).
			MarginBottom(1)

	sectionHeaderStyle = lipgloss.NewStyle().
				Foreground(colorSecondary).
				Bold(true).
				BorderStyle(lipgloss.NormalBorder()).
				BorderBottom(true).
				BorderForeground(colorBorder)

	footerStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted).
			MarginTop(1)

	valueStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted).
			Width(18)
)

// =============================================================================
// Indicators
// =============================================================================

// StateStyle returns the style for a lifecycle state.
func StateStyle(s supervisor.State) lipgloss.Style {
	switch s {
	case supervisor.StateRunning:
		return statusOK
	case supervisor.StateLaunched, supervisor.StateReady:
		return statusWarning
	case supervisor.StateExited, supervisor.StateKilled:
		return statusError
	default:
		return statusInfo
	}
}

// StateLabel renders a state with a colored bullet.
func StateLabel(s supervisor.State) string {
	return StateStyle(s).Render("● " + s.String())
}

// LatencyStyle colors a control-plane round trip: under 100ms is good,
// under a second is slow, anything else is bad.
func LatencyStyle(ms int64) lipgloss.Style {
	switch {
	case ms < 100:
		return statusOK
	case ms < 1000:
		return statusWarning
	default:
		return statusError
	}
}

// RenderKeyValue renders a label-value pair.
func RenderKeyValue(label string, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Left,
		labelStyle.Render(label+":"),
		valueStyle.Render(value),
	)
}
