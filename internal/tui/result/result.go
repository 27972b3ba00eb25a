package result

import (
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"loadtank/internal/core"
	"loadtank/internal/stats"
	"loadtank/internal/tui/styles"
)

type Model struct {
	Result     core.Result
	Cumulative stats.Bucket

	Width  int
	Height int
}

func NewModel(res core.Result, cumulative stats.Bucket) Model {
	return Model{Result: res, Cumulative: cumulative}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
	}
	return m, nil
}

func (m Model) View() string {
	s := strings.Builder{}
	res := m.Result
	b := m.Cumulative

	status := styles.Success
	if res.RC != 0 {
		status = styles.Error
	}
	s.WriteString(styles.Title.Render("Test Complete"))
	s.WriteString("\n\n")
	s.WriteString(status.Render(fmt.Sprintf("%s, exit code %d", res.Reason, res.RC)))
	s.WriteString("\n")
	if v := res.Verdict; v != nil {
		s.WriteString(styles.Warn.Render(fmt.Sprintf("%s: %s", v.Criterion, v.Explanation)))
		s.WriteString("\n")
	}
	s.WriteString("\n")

	overview := fmt.Sprintf(
		"Duration: %s\nRecords:  %d\nWindows:  %d\nBytes in: %d",
		res.Duration.Round(time.Millisecond), res.Records, res.Windows, b.BytesIn,
	)
	latency := fmt.Sprintf(
		"Avg: %.2f ms\nP50: %.2f ms\nP90: %.2f ms\nP99: %.2f ms\nMax: %.2f ms",
		b.AvgLatency/1000,
		float64(b.Quantile(50))/1000,
		float64(b.Quantile(90))/1000,
		float64(b.Quantile(99))/1000,
		float64(b.MaxLatency)/1000,
	)
	s.WriteString(styles.Box.Render(styles.Active.Render("Overview") + "\n" + overview))
	s.WriteString(styles.Box.Render(styles.Active.Render("Response time") + "\n" + latency))
	s.WriteString("\n")
	if len(b.ProtoCodes) > 0 {
		s.WriteString(styles.Box.Render(styles.Active.Render("HTTP codes") + "\n" + codeLines(b.ProtoCodes)))
		s.WriteString("\n")
	}

	s.WriteString(styles.RenderKey("q", "quit"))
	return s.String()
}

func codeLines(codes map[int]int64) string {
	lines := make([]string, 0, len(codes))
	for _, code := range slices.Sorted(maps.Keys(codes)) {
		lines = append(lines, fmt.Sprintf("%d %-22s %d", code, http.StatusText(code), codes[code]))
	}
	return strings.Join(lines, "\n")
}
