package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/support-inbox/internal/theme"
)

// Layout manages the terminal frame: a header line, the content area and a
// status line.
type Layout struct {
	Width           int
	Height          int
	HeaderHeight    int
	StatusBarHeight int
}

// NewLayout creates a Layout with the given terminal dimensions.
// HeaderHeight and StatusBarHeight default to 1.
func NewLayout(width, height int) Layout {
	return Layout{
		Width:           width,
		Height:          height,
		HeaderHeight:    1,
		StatusBarHeight: 1,
	}
}

// ContentWidth returns the full available width.
func (l Layout) ContentWidth() int {
	return l.Width
}

// ContentHeight returns the height available for the main content area,
// accounting for the header and status bar.
func (l Layout) ContentHeight() int {
	return max(l.Height-l.HeaderHeight-l.StatusBarHeight, 0)
}

// RenderHeader renders the top bar with the title on the left and the
// mailbox sync summary on the right.
func (l Layout) RenderHeader(title string, syncStatus string) string {
	titleRendered := theme.HeaderStyle.Render(title)
	statusRendered := theme.HeaderStyle.Render(syncStatus)
	return l.fill(theme.HeaderStyle, titleRendered, statusRendered)
}

// RenderStatusBar renders the bottom bar. A warning replaces the key hints
// and is drawn in the warning style.
func (l Layout) RenderStatusBar(hints string, warning string) string {
	if warning != "" {
		return l.fill(theme.WarningBarStyle, theme.WarningBarStyle.Render(truncate(warning, l.Width-2)), "")
	}
	return l.fill(theme.StatusBarStyle, theme.StatusBarStyle.Render(hints), "")
}

// RenderWithFrame composes the full terminal view.
func (l Layout) RenderWithFrame(header, content, statusBar string) string {
	content = lipgloss.NewStyle().
		Height(l.ContentHeight()).
		MaxHeight(l.ContentHeight()).
		Render(content)
	return lipgloss.JoinVertical(lipgloss.Left, header, content, statusBar)
}

// fill pads the space between left and right with the bar's background.
func (l Layout) fill(style lipgloss.Style, left, right string) string {
	gap := max(l.Width-lipgloss.Width(left)-lipgloss.Width(right), 0)
	filler := lipgloss.NewStyle().
		Width(gap).
		Background(style.GetBackground()).
		Render("")
	return lipgloss.JoinHorizontal(lipgloss.Top, left, filler, right)
}

func truncate(s string, n int) string {
	if n <= 0 || lipgloss.Width(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) > n-1 {
		r = r[:n-1]
	}
	return strings.TrimSpace(string(r)) + "…"
}
