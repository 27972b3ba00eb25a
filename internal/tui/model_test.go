package tui

import (
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loadtank/internal/aggregator"
	"loadtank/internal/autostop"
	"loadtank/internal/core"
	"loadtank/internal/stats"
)

func key(s string) tea.KeyMsg {
	if s == "ctrl+c" {
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func window(codes ...int) aggregator.WindowSnapshot {
	acc := stats.NewAccumulator()
	for _, c := range codes {
		acc.Add(stats.Sample{IntervalReal: 3000, ProtoCode: c})
	}
	b := acc.Bucket()
	return aggregator.WindowSnapshot{Timestamp: 1000, Overall: b, Cumulative: b}
}

func TestStopKeys(t *testing.T) {
	var interrupted, aborted int
	var m tea.Model = NewModel("http://localhost", time.Minute, func() { interrupted++ }, func() { aborted++ })

	m, _ = m.Update(key("q"))
	assert.Equal(t, 1, interrupted)
	assert.Contains(t, m.View(), "stopping")

	m, _ = m.Update(key("ctrl+c"))
	assert.Equal(t, 1, aborted)
	m, _ = m.Update(key("q"))
	assert.Equal(t, 1, interrupted)
	assert.Equal(t, 1, aborted)
}

func TestResultAfterDone(t *testing.T) {
	var m tea.Model = NewModel("http://localhost", time.Minute, func() {}, func() {})
	m, _ = m.Update(core.Progress{Elapsed: time.Second, Windows: []aggregator.WindowSnapshot{window(200, 404)}, Records: 2})
	assert.Contains(t, m.View(), "RPS 2/0")

	m, _ = m.Update(doneMsg{res: core.Result{
		RC:      autostop.RCHTTP,
		Reason:  core.Autostopped,
		Verdict: &autostop.Verdict{Criterion: "http(4xx, 1, 1s)", Explanation: "4xx codes"},
		Records: 2,
	}})
	view := m.View()
	assert.Contains(t, view, "Test Complete")
	assert.Contains(t, view, "autostop, exit code 22")
	assert.Contains(t, view, "Not Found")

	_, cmd := m.Update(key("q"))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestRunFailure(t *testing.T) {
	var m tea.Model = NewModel("", 0, func() {}, func() {})
	m, _ = m.Update(doneMsg{err: errors.New("no artifact")})
	assert.Contains(t, m.View(), "no artifact")
}
