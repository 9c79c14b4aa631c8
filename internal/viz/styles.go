package viz

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/san-kum/dynbranch/internal/branch"
)

var (
	Panel       lipgloss.Style
	Title       lipgloss.Style
	Selected    lipgloss.Style
	Subtle      lipgloss.Style
	MetricValue lipgloss.Style
	MetricLabel lipgloss.Style
	KeyHint     lipgloss.Style
	HeaderStyle lipgloss.Style
	ErrorStyle  lipgloss.Style

	stableStyle   lipgloss.Style
	unstableStyle lipgloss.Style
	specialStyle  lipgloss.Style
)

func init() {
	applyTheme(CurrentTheme)
}

func applyTheme(t Theme) {
	Panel = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(t.Border).
		Padding(0, 1)

	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(t.Primary)

	Selected = lipgloss.NewStyle().
		Bold(true).
		Foreground(t.Secondary)

	Subtle = lipgloss.NewStyle().
		Foreground(t.Muted)

	MetricValue = lipgloss.NewStyle().
		Foreground(t.Primary).
		Bold(true)

	MetricLabel = lipgloss.NewStyle().
		Foreground(t.Muted).
		Width(14)

	KeyHint = lipgloss.NewStyle().
		Foreground(t.Muted).
		Italic(true)

	HeaderStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(t.Text).
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		BorderForeground(t.Border)

	ErrorStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(t.Unstable)

	stableStyle = lipgloss.NewStyle().Foreground(t.Stable)
	unstableStyle = lipgloss.NewStyle().Foreground(t.Unstable)
	specialStyle = lipgloss.NewStyle().Bold(true).Foreground(t.Special)
}

// StabilityStyle colours a point by its stability label.
func StabilityStyle(s branch.Stability) lipgloss.Style {
	switch {
	case s.IsBifurcation():
		return specialStyle
	case s == branch.Unstable:
		return unstableStyle
	case s == branch.Stable:
		return stableStyle
	default:
		return Subtle
	}
}

// Metric renders one "label value" line.
func Metric(label, value string) string {
	return MetricLabel.Render(label) + MetricValue.Render(value)
}

// SparklineChart renders values as a single line of block characters.
func SparklineChart(values []float64, width int) string {
	if len(values) == 0 || width <= 0 {
		return strings.Repeat("─", max(width, 0))
	}

	chars := []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}
	lo, hi := values[0], values[0]
	for _, v := range values {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	rng := hi - lo
	if rng == 0 {
		rng = 1
	}

	step := max(len(values)/width, 1)
	var b strings.Builder
	for i := 0; i < width && i*step < len(values); i++ {
		norm := (values[i*step] - lo) / rng
		idx := int(norm * float64(len(chars)-1))
		idx = min(max(idx, 0), len(chars)-1)
		b.WriteRune(chars[idx])
	}
	return b.String()
}

// Separator draws a muted divider of the given width.
func Separator(width int) string {
	if width < 8 {
		return Subtle.Render(strings.Repeat("─", max(width, 0)))
	}
	mid := width / 2
	return Subtle.Render(strings.Repeat("─", mid-2) + " ◆ " + strings.Repeat("─", width-mid-1))
}
