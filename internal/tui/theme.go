// Package tui renders daemon state for mypctl: a one-shot status table and
// the live watch view.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/maypaper/maypaper/internal/session"
)

var (
	ColorURL     = lipgloss.Color("#3b82f6")
	ColorPath    = lipgloss.Color("#22c55e")
	ColorNone    = lipgloss.Color("#6b7280")
	ColorPending = lipgloss.Color("#d97706")
)

var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorHealthy = lipgloss.Color("#22c55e")
	ColorDanger  = lipgloss.Color("#dc2626")
)

var (
	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
			Foreground(ColorDimmed)

	StyleError = lipgloss.NewStyle().
			Foreground(ColorDanger)
)

// KindColor returns the color for a reference kind.
func KindColor(k session.Kind) lipgloss.Color {
	switch k {
	case session.URL:
		return ColorURL
	case session.Path:
		return ColorPath
	default:
		return ColorNone
	}
}
