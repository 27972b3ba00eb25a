package live

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"loadtank/internal/aggregator"
	"loadtank/internal/autostop"
	"loadtank/internal/core"
	"loadtank/internal/report"
	"loadtank/internal/stats"
	"loadtank/internal/tui/components"
	"loadtank/internal/tui/styles"
)

// Model shows a running test. It is fed core.Progress messages.
type Model struct {
	Live     stats.Snapshot
	HasLive  bool
	Window   *aggregator.WindowSnapshot
	Criteria []autostop.Status
	Counting map[string]bool
	Records  int64
	Elapsed  time.Duration

	Progress progress.Model
	critBar  progress.Model

	RpsLine     components.Sparkline
	LatencyLine components.Sparkline

	// Duration is the planned test length, 0 when unknown.
	Duration time.Duration

	Width  int
	Height int
}

func NewModel(planned time.Duration) Model {
	crit := progress.New(progress.WithSolidFill(string(styles.ColorWarning)), progress.WithoutPercentage())
	crit.Width = 20
	return Model{
		Progress:    progress.New(progress.WithDefaultGradient()),
		critBar:     crit,
		RpsLine:     components.NewSparkline(40, "RPS (window)", styles.Active),
		LatencyLine: components.NewSparkline(40, "Latency P90 (ms)", styles.Warn),
		Duration:    planned,
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case core.Progress:
		for i := range msg.Windows {
			w := msg.Windows[i]
			m.RpsLine.Add(float64(w.Overall.Count))
			m.LatencyLine.Add(float64(w.Overall.Quantile(90)) / 1000)
			m.Window = &w
		}
		if msg.Live != nil {
			m.Live = *msg.Live
			m.HasLive = true
		}
		m.Criteria = msg.Criteria
		m.Counting = make(map[string]bool, len(msg.Counting))
		for _, s := range msg.Counting {
			m.Counting[s.Criterion] = true
		}
		m.Records = msg.Records
		m.Elapsed = msg.Elapsed

		if m.Duration <= 0 {
			return m, nil
		}
		pct := min(float64(msg.Elapsed)/float64(m.Duration), 1.0)
		return m, m.Progress.SetPercent(pct)

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Progress.Width = msg.Width - 4

		half := max((msg.Width/2)-8, 10)
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

	s.WriteString(m.counters())
	s.WriteString("\n")

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		styles.Box.Render(m.RpsLine.View()),
		styles.Box.Render(m.LatencyLine.View()),
	))
	s.WriteString("\n")

	if m.Window != nil {
		s.WriteString(styles.Box.Render(windowLine(*m.Window)))
		s.WriteString("\n")
	}
	if len(m.Criteria) > 0 {
		s.WriteString(styles.Box.Render(m.autostop()))
		s.WriteString("\n")
	}

	elapsed := styles.Subtle.Render(fmt.Sprintf("Elapsed %s", m.Elapsed.Round(time.Second)))
	if m.Duration > 0 {
		elapsed = styles.Subtle.Render(fmt.Sprintf("Elapsed %s / %s", m.Elapsed.Round(time.Second), m.Duration))
		s.WriteString(m.Progress.View())
		s.WriteString("\n")
	}
	s.WriteString(elapsed)
	return s.String()
}

// counters renders the generator's live counters, or the record count when
// the generator keeps none.
func (m Model) counters() string {
	if !m.HasLive {
		return styles.Box.Render(fmt.Sprintf("RECORDS: %d", m.Records))
	}
	errRate := 0.0
	if m.Live.Shots > 0 {
		errRate = float64(m.Live.Fail) / float64(m.Live.Shots) * 100
	}

	col1 := fmt.Sprintf("SHOTS: %d\nACTIVE: %d", m.Live.Shots, m.Live.Active)
	col2 := fmt.Sprintf("ERR: %.2f%%\nFAIL: %d", errRate, m.Live.Fail)
	col3 := fmt.Sprintf(
		"LAG P99: %s\nLATE: %d",
		styles.Level(m.Live.LagP99Ms, 2, 10).Render(fmt.Sprintf("%.2f ms", m.Live.LagP99Ms)),
		m.Live.Late,
	)
	col4 := fmt.Sprintf("P50: %.1f ms  P90: %.1f ms\nP99: %.1f ms  Max: %d ms",
		m.Live.P50Ms, m.Live.P90Ms, m.Live.P99Ms, m.Live.MaxMs)

	return lipgloss.JoinHorizontal(lipgloss.Top,
		styles.Box.Render(col1),
		styles.Box.Render(styles.Level(errRate, 1, 5).Render(col2)),
		styles.Box.Render(col3),
		styles.Box.Render(col4),
	)
}

func windowLine(w aggregator.WindowSnapshot) string {
	b := w.Overall
	return fmt.Sprintf(
		"%s  RPS %d/%d  avg %.1f ms  p90 %.1f ms  p99 %.1f ms\nHTTP %s  NET %s",
		time.Unix(w.Timestamp, 0).Format(time.TimeOnly),
		b.Count, b.PlannedCount,
		b.AvgLatency/1000,
		float64(b.Quantile(90))/1000,
		float64(b.Quantile(99))/1000,
		report.Codes(b.ProtoCodes),
		report.Codes(b.NetCodes),
	)
}

func (m Model) autostop() string {
	rows := make([]string, 0, len(m.Criteria)+1)
	rows = append(rows, styles.Active.Render("Autostop"))
	for _, c := range m.Criteria {
		text := styles.Subtle.Render(c.Text)
		if m.Counting[c.Criterion] {
			text = styles.Warn.Render(c.Text)
		}
		rows = append(rows, m.critBar.ViewAs(c.Progress)+" "+text)
	}
	return strings.Join(rows, "\n")
}
