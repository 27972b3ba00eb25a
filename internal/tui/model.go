// Package tui is the interactive front end of a run: a live dashboard while
// the test goes and a summary once it ends.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"loadtank/internal/core"
	"loadtank/internal/stats"
	"loadtank/internal/tui/live"
	"loadtank/internal/tui/result"
	"loadtank/internal/tui/styles"
)

type doneMsg struct {
	res core.Result
	err error
}

type Model struct {
	Header string

	live   live.Model
	result result.Model

	cumulative stats.Bucket
	finished   bool
	err        error
	stops      int

	// interrupt and abort are called on the first and second stop key.
	interrupt func()
	abort     func()
}

func NewModel(header string, planned time.Duration, interrupt, abort func()) Model {
	return Model{
		Header:    header,
		live:      live.NewModel(planned),
		interrupt: interrupt,
		abort:     abort,
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.finished {
				return m, tea.Quit
			}
			m.stops++
			switch m.stops {
			case 1:
				m.interrupt()
			case 2:
				m.abort()
			}
		}
		return m, nil

	case core.Progress:
		if n := len(msg.Windows); n > 0 {
			m.cumulative = msg.Windows[n-1].Cumulative
		}
		m.live, cmd = m.live.Update(msg)
		return m, cmd

	case doneMsg:
		m.finished = true
		m.err = msg.err
		m.result = result.NewModel(msg.res, m.cumulative)
		return m, nil

	case tea.WindowSizeMsg:
		m.result, _ = m.result.Update(msg)
	}

	m.live, cmd = m.live.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	s := strings.Builder{}
	s.WriteString(styles.Title.Render("loadtank " + m.Header))
	s.WriteString("\n\n")

	switch {
	case m.err != nil:
		s.WriteString(styles.Error.Render(fmt.Sprintf("test failed: %v", m.err)))
		s.WriteString("\n")
		s.WriteString(styles.RenderKey("q", "quit"))
	case m.finished:
		s.WriteString(m.result.View())
	default:
		s.WriteString(m.live.View())
		s.WriteString("\n\n")
		switch m.stops {
		case 0:
			s.WriteString(styles.RenderKey("q", "stop test"))
		case 1:
			s.WriteString(styles.Warn.Render("stopping... "))
			s.WriteString(styles.RenderKey("q", "abort"))
		default:
			s.WriteString(styles.Error.Render("aborting..."))
		}
	}
	s.WriteString("\n")
	return s.String()
}

// Run drives loop behind the dashboard. It returns once the test is over
// and the user has closed the summary.
func Run(ctx context.Context, loop *core.Loop, header string, planned time.Duration, opts ...tea.ProgramOption) (core.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	abort := make(chan struct{})
	closeAbort := func() { close(abort) }

	p := tea.NewProgram(NewModel(header, planned, cancel, closeAbort), append([]tea.ProgramOption{tea.WithAltScreen()}, opts...)...)
	loop.AddListener(core.ProgressFunc(func(pr core.Progress) { p.Send(pr) }))

	done := make(chan doneMsg, 1)
	go func() {
		res, err := loop.Run(ctx, abort)
		done <- doneMsg{res: res, err: err}
		p.Send(doneMsg{res: res, err: err})
	}()

	_, uiErr := p.Run()
	// The dashboard may close early; the test still shuts down in order.
	cancel()
	msg := <-done
	if msg.err != nil {
		return msg.res, msg.err
	}
	return msg.res, uiErr
}
