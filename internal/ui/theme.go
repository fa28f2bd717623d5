// Package ui holds the terminal styles shared by the watch view and the
// doctor report.
package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
)

type Theme struct {
	Name    string
	Accent  lipgloss.Style
	Dim     lipgloss.Style
	Text    lipgloss.Style
	Title   lipgloss.Style
	Error   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Border  lipgloss.Style
	// Current marks the source whose track is being published.
	Current lipgloss.Style
}

type palette struct {
	accent, dim, text, title, bad, good, warn, border, current lipgloss.Color
}

var palettes = map[string]palette{
	"rainbow": {
		accent: "#FF6FF7", dim: "#6C6F93", text: "#E6E6FA", title: "#8EEBFF",
		bad: "#FF5F56", good: "#5CFF5C", warn: "#FFD166", border: "#7C7CFF", current: "#FFA7C4",
	},
	"mono": {
		accent: "#FFFFFF", dim: "#666666", text: "#CCCCCC", title: "#FFFFFF",
		bad: "#FFFFFF", good: "#CCCCCC", warn: "#AAAAAA", border: "#888888", current: "#FFFFFF",
	},
	"green": {
		accent: "#00FF00", dim: "#005500", text: "#00CC00", title: "#00FF00",
		bad: "#00FF00", good: "#00FF00", warn: "#00CC00", border: "#008800", current: "#00FF00",
	},
}

// ThemeNames returns the available theme names.
func ThemeNames() []string {
	return []string{"rainbow", "mono", "green", "nocolor"}
}

// HasTheme reports whether name is a known theme.
func HasTheme(name string) bool {
	if name == "nocolor" {
		return true
	}
	_, ok := palettes[name]
	return ok
}

// NoColorEnv reports whether NO_COLOR is set.
func NoColorEnv() bool {
	_, ok := os.LookupEnv("NO_COLOR")
	return ok
}

// GetTheme returns a theme by name, falling back to rainbow. noColor
// overrides the selection.
func GetTheme(name string, noColor bool) Theme {
	if noColor || name == "nocolor" {
		return NoColor()
	}
	p, ok := palettes[name]
	if !ok {
		name, p = "rainbow", palettes["rainbow"]
	}
	fg := func(c lipgloss.Color) lipgloss.Style { return lipgloss.NewStyle().Foreground(c) }
	return Theme{
		Name:    name,
		Accent:  fg(p.accent).Bold(true),
		Dim:     fg(p.dim),
		Text:    fg(p.text),
		Title:   fg(p.title).Bold(true),
		Error:   fg(p.bad).Bold(true),
		Success: fg(p.good).Bold(true),
		Warning: fg(p.warn).Bold(true),
		Border:  fg(p.border),
		Current: fg(p.current).Bold(true).Underline(true),
	}
}

// NoColor uses only bold, underline and reverse.
func NoColor() Theme {
	reset := lipgloss.NewStyle()
	return Theme{
		Name:    "nocolor",
		Accent:  reset.Bold(true),
		Dim:     reset,
		Text:    reset,
		Title:   reset.Bold(true),
		Error:   reset.Bold(true),
		Success: reset.Bold(true),
		Warning: reset.Bold(true),
		Border:  reset,
		Current: reset.Reverse(true),
	}
}

// Check renders a doctor line: a pass/fail mark, the label and a detail.
func (t Theme) Check(ok bool, label, detail string) string {
	mark := t.Success.Render("ok  ")
	if !ok {
		mark = t.Error.Render("FAIL")
	}
	line := mark + " " + t.Text.Render(label)
	if detail != "" {
		line += " " + t.Dim.Render(detail)
	}
	return line
}
