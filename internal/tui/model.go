// Package tui is the live dashboard shown while a run is in flight.
package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"feedload/internal/stats"
	"feedload/internal/tui/live"
	"feedload/internal/tui/styles"
)

const tickInterval = 200 * time.Millisecond

type tickMsg time.Time

// DoneMsg tells the dashboard that the run has returned.
type DoneMsg struct{}

type Model struct {
	Title    string
	Live     live.Model
	Stopping bool
	Done     bool

	snapshot func() stats.Snapshot
	stop     func()
}

// NewModel polls snapshot every tick. stop is called once when the user quits;
// the dashboard stays up until DoneMsg so in-flight requests can drain.
func NewModel(title string, start time.Time, total time.Duration, snapshot func() stats.Snapshot, stop func()) Model {
	return Model{
		Title:    title,
		Live:     live.NewModel(start, total),
		snapshot: snapshot,
		stop:     stop,
	}
}

func (m Model) Init() tea.Cmd {
	return tickCmd()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if !m.Stopping {
				m.Stopping = true
				m.stop()
			}
			return m, nil
		}

	case tickMsg:
		if m.Done {
			return m, nil
		}
		var cmd tea.Cmd
		m.Live, cmd = m.Live.Update(m.snapshot())
		return m, tea.Batch(cmd, tickCmd())

	case DoneMsg:
		m.Done = true
		m.Live, _ = m.Live.Update(m.snapshot())
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.Live, cmd = m.Live.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	s := strings.Builder{}
	s.WriteString(styles.Title.Render("🚀 " + m.Title))
	s.WriteString("\n")
	s.WriteString(styles.Subtle.Render(fmt.Sprintf("Elapsed: %s / %s",
		m.Live.Elapsed(time.Now()).Round(time.Second), m.Live.Duration)))
	s.WriteString("\n\n")
	s.WriteString(m.Live.View())
	s.WriteString("\n")

	switch {
	case m.Done:
		s.WriteString(styles.Success.Render("Run finished."))
	case m.Stopping:
		s.WriteString(styles.Warn.Render(fmt.Sprintf("Stopping, waiting for %d in-flight requests...", m.Live.Stats.Inflight)))
	default:
		s.WriteString(styles.RenderKey("q", "stop the run"))
	}
	s.WriteString("\n")
	return s.String()
}

func tickCmd() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}
