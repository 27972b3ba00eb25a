package history

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"loadtank/internal/storage"
	"loadtank/internal/tui/styles"
)

// Model lists journal runs, newest first. Enter selects a run.
type Model struct {
	Runs     []storage.Run
	Table    table.Model
	Selected *storage.Run

	Width  int
	Height int
}

func NewModel(runs []storage.Run) Model {
	columns := []table.Column{
		{Title: "Started", Width: 20},
		{Title: "Target", Width: 30},
		{Title: "Schedule", Width: 24},
		{Title: "Records", Width: 10},
		{Title: "P99 ms", Width: 8},
		{Title: "Result", Width: 14},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(min(max(len(runs), 1), 15)),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(styles.ColorPrimary).
		Bold(false)
	t.SetStyles(s)
	t.SetRows(Rows(runs))

	return Model{Runs: runs, Table: t}
}

// Rows renders runs as table rows.
func Rows(runs []storage.Run) []table.Row {
	rows := make([]table.Row, len(runs))
	for i, run := range runs {
		result := "running"
		if run.Result.Finished {
			result = fmt.Sprintf("%s (%d)", run.Result.Reason, run.Result.RC)
		}
		target := run.Config.Target
		if target == "" {
			target = run.Config.Generator
		}
		rows[i] = table.Row{
			run.Started.Local().Format(time.DateTime),
			target,
			strings.Join(run.Config.Schedule, " "),
			fmt.Sprintf("%d", run.Summary.Records),
			fmt.Sprintf("%.1f", run.Summary.P99LatencyMs),
			result,
		}
	}
	return rows
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Table.SetWidth(msg.Width - 4)

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "enter":
			if i := m.Table.Cursor(); i >= 0 && i < len(m.Runs) {
				run := m.Runs[i]
				m.Selected = &run
			}
			return m, tea.Quit
		}
	}

	m.Table, cmd = m.Table.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	return styles.Box.Render(m.Table.View()) + "\n" +
		styles.RenderKey("enter", "show") + "  " + styles.RenderKey("q", "quit") + "\n"
}
