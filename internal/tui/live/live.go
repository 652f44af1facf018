package live

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"feedload/internal/stats"
	"feedload/internal/tui/components"
	"feedload/internal/tui/styles"
)

// Model renders live counters of a run in flight.
type Model struct {
	Stats    stats.Snapshot
	Progress progress.Model

	RpsLine     components.Sparkline
	LatencyLine components.Sparkline

	StartTime  time.Time
	Duration   time.Duration
	LastUpdate time.Time
	LastReqs   uint64

	Width  int
	Height int
}

func NewModel(start time.Time, total time.Duration) Model {
	return Model{
		Progress:    progress.New(progress.WithDefaultGradient()),
		RpsLine:     components.NewSparkline(40, "Requests/s", styles.Active),
		LatencyLine: components.NewSparkline(40, "Latency P95 (ms)", styles.Warn),
		StartTime:   start,
		Duration:    total,
		LastUpdate:  start,
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

// Elapsed is the run time shown, capped at the schedule length.
func (m Model) Elapsed(now time.Time) time.Duration {
	return min(now.Sub(m.StartTime), m.Duration)
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case stats.Snapshot:
		now := time.Now()
		dt := max(now.Sub(m.LastUpdate).Seconds(), 0.01)

		m.RpsLine.Add(float64(msg.Requests-m.LastReqs) / dt)
		m.LatencyLine.Add(msg.P95Ms)

		m.Stats = msg
		m.LastReqs = msg.Requests
		m.LastUpdate = now

		pct := 1.0
		if m.Duration > 0 {
			pct = min(float64(now.Sub(m.StartTime))/float64(m.Duration), 1.0)
		}
		return m, m.Progress.SetPercent(pct)

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Progress.Width = msg.Width - 4

		half := max(msg.Width/2-6, 10)
		m.RpsLine.Width = half
		m.LatencyLine.Width = half
		return m, nil

	case progress.FrameMsg:
		prog, cmd := m.Progress.Update(msg)
		m.Progress = prog.(progress.Model)
		return m, cmd
	}

	return m, nil
}

func (m Model) View() string {
	s := strings.Builder{}

	reqs := m.Stats.Requests
	errRate := 0.0
	if reqs > 0 {
		errRate = float64(m.Stats.Fail) / float64(reqs)
	}

	col1 := fmt.Sprintf("REQ: %d\nINF: %d\nVUS: %d", reqs, m.Stats.Inflight, m.Stats.ActiveVUs)
	col2 := styles.Rate(errRate).Render(fmt.Sprintf("ERR: %.2f%%\nFAIL: %d", errRate*100, m.Stats.Fail))

	checks := styles.Subtle.Render("CHECKS: -")
	if reqs > 0 {
		checks = styles.Rate(1 - m.Stats.CheckPassRate).Render(fmt.Sprintf("CHECKS: %.1f%%", m.Stats.CheckPassRate*100))
	}
	col3 := fmt.Sprintf("%s\nKB: %d", checks, m.Stats.Bytes/1024)

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		styles.Box.Render(col1),
		styles.Box.Render(col2),
		styles.Box.Render(col3),
	))
	s.WriteString("\n\n")

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		styles.Box.Render(m.RpsLine.View()),
		styles.Box.Render(m.LatencyLine.View()),
	))
	s.WriteString("\n\n")

	latencies := fmt.Sprintf(
		"P50: %.2f ms  |  P90: %.2f ms  |  P95: %.2f ms  |  Max: %.2f ms",
		m.Stats.P50Ms, m.Stats.P90Ms, m.Stats.P95Ms, m.Stats.MaxMs,
	)
	box := styles.Box
	if m.Width > 4 {
		box = box.Width(m.Width - 4)
	}
	s.WriteString(box.Render(latencies))
	s.WriteString("\n\n")

	s.WriteString(m.Progress.View())
	return s.String()
}
