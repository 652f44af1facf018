package history

import (
	"bytes"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"feedload/internal/report"
	"feedload/internal/tui/styles"
)

// Model browses stored runs. Enter shows the full summary of the selected run.
type Model struct {
	Runs     []report.Artifact
	Table    table.Model
	Selected *report.Artifact

	Width  int
	Height int
}

func Columns() []table.Column {
	return []table.Column{
		{Title: "Started", Width: 20},
		{Title: "Run", Width: 8},
		{Title: "Region", Width: 10},
		{Title: "VUs", Width: 5},
		{Title: "Reqs", Width: 8},
		{Title: "Err %", Width: 7},
		{Title: "P95 ms", Width: 9},
		{Title: "Verdict", Width: 7},
	}
}

// Row is the table row of one run.
func Row(a report.Artifact) table.Row {
	verdict := "PASS"
	if !a.Summary.Passed {
		verdict = "FAIL"
	}
	runID := a.RunID
	if len(runID) > 8 {
		runID = runID[:8]
	}
	return table.Row{
		a.Started.Local().Format(time.DateTime),
		runID,
		a.Region,
		fmt.Sprintf("%d", a.VUs),
		fmt.Sprintf("%d", a.Summary.Count),
		fmt.Sprintf("%.2f", a.Summary.ErrorRate*100),
		fmt.Sprintf("%.1f", a.Summary.Latency.P95),
		verdict,
	}
}

func NewModel(runs []report.Artifact) Model {
	t := table.New(
		table.WithColumns(Columns()),
		table.WithFocused(true),
		table.WithHeight(min(max(len(runs), 1), 15)),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(styles.ColorBorder).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(styles.ColorPrimary).
		Bold(false)
	t.SetStyles(s)

	rows := make([]table.Row, len(runs))
	for i, a := range runs {
		rows[i] = Row(a)
	}
	t.SetRows(rows)

	return Model{
		Runs:  runs,
		Table: t,
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Table.SetWidth(msg.Width - 4)

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "esc", "backspace":
			m.Selected = nil
			return m, nil
		case "enter":
			if i := m.Table.Cursor(); i >= 0 && i < len(m.Runs) {
				m.Selected = &m.Runs[i]
			}
			return m, nil
		}
	}

	if m.Selected != nil {
		return m, nil
	}
	var cmd tea.Cmd
	m.Table, cmd = m.Table.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if len(m.Runs) == 0 {
		return styles.Subtle.Render("No runs recorded yet.") + "\n"
	}

	if m.Selected != nil {
		var buf bytes.Buffer
		report.Print(&buf, *m.Selected)
		return buf.String() + "\n" + styles.RenderKey("esc", "back") + "  " + styles.RenderKey("q", "quit") + "\n"
	}

	return styles.Box.Render(m.Table.View()) + "\n" +
		styles.RenderKey("enter", "details") + "  " + styles.RenderKey("q", "quit") + "\n"
}
