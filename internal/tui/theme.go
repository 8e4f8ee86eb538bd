package tui

import "github.com/charmbracelet/lipgloss"

// Theme is the palette the App renders with. It is passed in explicitly so
// the host application can match its own look.
type Theme struct {
	Accent  lipgloss.Color
	Text    lipgloss.Color
	Muted   lipgloss.Color
	Border  lipgloss.Color
	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
}

// DefaultTheme is the light-terminal palette.
func DefaultTheme() Theme {
	return Theme{
		Accent:  lipgloss.Color("#5B8DEF"),
		Text:    lipgloss.Color("#EEEEEE"),
		Muted:   lipgloss.Color("#888888"),
		Border:  lipgloss.Color("#444444"),
		Success: lipgloss.Color("#4CAF50"),
		Warning: lipgloss.Color("#F5A623"),
		Error:   lipgloss.Color("#FF6B6B"),
	}
}

func (t Theme) header() lipgloss.Style {
	return lipgloss.NewStyle().Bold(true).Foreground(t.Error).MarginBottom(1)
}

func (t Theme) title() lipgloss.Style {
	return lipgloss.NewStyle().Bold(true).Foreground(t.Accent)
}

func (t Theme) muted() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Muted)
}

func (t Theme) panel() lipgloss.Style {
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(t.Border).
		Padding(0, 1)
}

func (t Theme) cell(focused bool) lipgloss.Style {
	border := t.Border
	if focused {
		border = t.Accent
	}
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(border).
		Bold(focused).
		Width(3).
		Align(lipgloss.Center)
}

func (t Theme) button(enabled bool) lipgloss.Style {
	style := lipgloss.NewStyle().Padding(0, 2).Bold(true)
	if enabled {
		return style.Foreground(t.Text).Background(t.Accent)
	}
	return style.Foreground(t.Muted).Background(t.Border)
}

func (t Theme) level(color lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(color)
}
