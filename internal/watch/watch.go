// Package watch is a live terminal view of the presence pipeline.
package watch

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tunez/presence/internal/nowplaying"
	"github.com/tunez/presence/internal/presence"
	"github.com/tunez/presence/internal/ui"
)

const refreshInterval = 500 * time.Millisecond

// Snapshot is the pipeline state shown on each refresh.
type Snapshot struct {
	// Sources in priority order; the first one is published.
	Sources   []nowplaying.Entry
	Last      *presence.Status
	Published int
	Pending   int
	Dropped   uint64
	// PermitsUsed, Quota and Window describe the rate limit.
	PermitsUsed int
	Quota       int
	Window      time.Duration
	// Sinks lists the enabled publisher ids.
	Sinks []string
}

type tickMsg time.Time

// Model is the bubbletea model for the watch view.
type Model struct {
	snapshot func() Snapshot
	theme    ui.Theme
	snap     Snapshot
	width    int
}

// New creates a model that polls snapshot.
func New(snapshot func() Snapshot, theme ui.Theme) Model {
	return Model{snapshot: snapshot, theme: theme, snap: snapshot()}
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Init() tea.Cmd { return tick() }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.snap = m.snapshot()
		return m, tick()
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.theme.Title.Render("tunez-presence") + "\n\n")

	b.WriteString(m.theme.Accent.Render("Sources") + "\n")
	if len(m.snap.Sources) == 0 {
		b.WriteString(m.theme.Dim.Render("  nothing playing") + "\n")
	}
	for i, e := range m.snap.Sources {
		line := fmt.Sprintf("%s  %s", e.SourceID, e.Track.String())
		if i == 0 {
			b.WriteString("▶ " + m.theme.Current.Render(line) + "\n")
		} else {
			b.WriteString("  " + m.theme.Text.Render(line) + "\n")
		}
	}

	b.WriteString("\n" + m.theme.Accent.Render("Status") + "\n")
	if m.snap.Last == nil {
		b.WriteString(m.theme.Dim.Render("  cleared") + "\n")
	} else {
		b.WriteString("  " + m.theme.Text.Render(m.snap.Last.Text) + "\n")
		b.WriteString("  " + m.theme.Dim.Render(fmt.Sprintf("%d bytes, set %s", len(m.snap.Last.Text), m.snap.Last.At.Format(time.Kitchen))) + "\n")
	}

	if len(m.snap.Sinks) > 0 {
		b.WriteString("  " + m.theme.Dim.Render("→ "+strings.Join(m.snap.Sinks, ", ")) + "\n")
	}

	stats := fmt.Sprintf("published %d · pending %d · dropped %d · permits %d/%d",
		m.snap.Published, m.snap.Pending, m.snap.Dropped, m.snap.PermitsUsed, m.snap.Quota)
	if m.snap.Window > 0 {
		stats += " per " + m.snap.Window.String()
	}
	b.WriteString("\n" + m.theme.Dim.Render(stats) + "\n")
	b.WriteString(m.theme.Dim.Render("q to quit"))

	box := m.theme.Border.Border(lipgloss.RoundedBorder()).Padding(0, 1)
	if m.width > 4 {
		box = box.Width(m.width - 2)
	}
	return box.Render(b.String())
}
