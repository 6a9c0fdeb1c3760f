package styles

import "github.com/charmbracelet/lipgloss"

// Theme is the colour scheme every style in this package is built from.
type Theme struct {
	Primary   lipgloss.TerminalColor
	User      lipgloss.TerminalColor
	Reasoning lipgloss.TerminalColor
	Image     lipgloss.TerminalColor

	Text  lipgloss.TerminalColor
	Muted lipgloss.TerminalColor
	Hint  lipgloss.TerminalColor

	Success lipgloss.TerminalColor
	Warning lipgloss.TerminalColor
	Error   lipgloss.TerminalColor

	Border   lipgloss.TerminalColor
	Selected lipgloss.TerminalColor
}

var DarkTheme = Theme{
	Primary:   lipgloss.Color("#B39DDB"),
	User:      lipgloss.Color("#90CAF9"),
	Reasoning: lipgloss.Color("#80CBC4"),
	Image:     lipgloss.Color("#7C4DFF"),

	Text:  lipgloss.AdaptiveColor{Light: "#333333", Dark: "#E0E0E0"},
	Muted: lipgloss.Color("#888888"),
	Hint:  lipgloss.Color("#545454"),

	Success: lipgloss.Color("#A5D6A7"),
	Warning: lipgloss.Color("#FFCC80"),
	Error:   lipgloss.Color("#EF9A9A"),

	Border:   lipgloss.Color("#333333"),
	Selected: lipgloss.Color("#5C5C7A"),
}

// Palette is the active theme.
var Palette = DarkTheme
