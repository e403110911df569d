// Package ui holds the terminal presentation: palette, formatting helpers,
// the live progress view and plain-text printers.
package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// ─── Palette ─────────────────────────────────────────────────────────────────

var (
	ColorPrimary   = lipgloss.AdaptiveColor{Light: "#0891b2", Dark: "#22d3ee"}
	ColorSecondary = lipgloss.AdaptiveColor{Light: "#7c3aed", Dark: "#a78bfa"}
	ColorCoral     = lipgloss.AdaptiveColor{Light: "#e11d48", Dark: "#fb7185"}
	ColorText      = lipgloss.AdaptiveColor{Light: "#1f2937", Dark: "#e5e7eb"}
	ColorTextDim   = lipgloss.AdaptiveColor{Light: "#4b5563", Dark: "#9ca3af"}
	ColorMuted     = lipgloss.AdaptiveColor{Light: "#9ca3af", Dark: "#6b7280"}
	ColorSuccess   = lipgloss.AdaptiveColor{Light: "#16a34a", Dark: "#4ade80"}
	ColorWarning   = lipgloss.AdaptiveColor{Light: "#ca8a04", Dark: "#facc15"}
	ColorError     = lipgloss.AdaptiveColor{Light: "#dc2626", Dark: "#f87171"}
)

// ─── Icons ───────────────────────────────────────────────────────────────────

const (
	IconBullet  = "•"
	IconCheck   = "✓"
	IconError   = "✗"
	IconWarning = "!"
	IconDiamond = "◆"
	IconChevron = "›"
	IconPipe    = "│"
	IconBlock   = "█"
	IconArchive = "▣"
)

// ─── Styles ──────────────────────────────────────────────────────────────────

// TitleStyle renders command headings.
func TitleStyle() lipgloss.Style {
	return lipgloss.NewStyle().Bold(true).Foreground(ColorPrimary)
}

// TagWarningStyle renders short inline warning tags.
func TagWarningStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Foreground(lipgloss.AdaptiveColor{Light: "#ffffff", Dark: "#1f2937"}).
		Background(ColorWarning).
		Bold(true)
}

// HintBarStyle renders the key-hint footer.
func HintBarStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(ColorMuted).Italic(true)
}

// SuccessStyle renders completion lines.
func SuccessStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(ColorSuccess).Bold(true)
}

// ErrorStyle renders failures.
func ErrorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(ColorError)
}

// ─── Drawing primitives ─────────────────────────────────────────────────────

// GradientBar renders a ████░░░░ bar whose fill color moves from green to red
// as pct grows.
func GradientBar(pct float64, width int) string {
	if width <= 0 {
		return ""
	}
	pct = max(0, min(pct, 100))
	filled := min(int(pct/100*float64(width)), width)

	barColor := ColorSuccess
	switch {
	case pct >= 90:
		barColor = ColorError
	case pct >= 75:
		barColor = ColorCoral
	case pct >= 50:
		barColor = ColorWarning
	}

	fStr := lipgloss.NewStyle().Foreground(barColor).Render(strings.Repeat(IconBlock, filled))
	eStr := lipgloss.NewStyle().Foreground(ColorMuted).Render(strings.Repeat("░", width-filled))
	return fStr + eStr
}
