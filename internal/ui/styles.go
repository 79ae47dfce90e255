package ui

import "github.com/charmbracelet/lipgloss"

// Color palette. One cyan accent plus grays keeps the TUI readable on
// both light and dark terminals.
const (
	ColorAccent    = "51"  // bright cyan
	ColorAccentDim = "30"  // dimmed cyan for borders
	ColorWhite     = "255" // headers
	ColorGray      = "245" // labels
	ColorRed       = "196" // errors
)

// Styles holds the lipgloss styles for TUI rendering.
type Styles struct {
	Header lipgloss.Style
	Stage  lipgloss.Style
	Label  lipgloss.Style
	Error  lipgloss.Style
	Panel  lipgloss.Style
}

// DefaultStyles returns styled components for TUI mode.
func DefaultStyles() Styles {
	return Styles{
		Header: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorWhite)).Bold(true),
		Stage:  lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAccent)).Bold(true),
		Label:  lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGray)),
		Error:  lipgloss.NewStyle().Foreground(lipgloss.Color(ColorRed)),
		Panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(ColorAccentDim)).
			Padding(0, 1),
	}
}

// NoColorStyles returns unstyled components for NO_COLOR mode.
func NoColorStyles() Styles {
	plain := lipgloss.NewStyle()
	return Styles{
		Header: plain,
		Stage:  plain,
		Label:  plain,
		Error:  plain,
		Panel:  lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(0, 1),
	}
}

// GetStyles returns styles honoring the noColor flag and NO_COLOR.
func GetStyles(noColor bool) Styles {
	if noColor || DetectNoColor() {
		return NoColorStyles()
	}
	return DefaultStyles()
}
