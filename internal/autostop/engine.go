package autostop

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"loadtank/internal/aggregator"
)

// DefaultReportFile is where the cause of an autostop is written.
const DefaultReportFile = "autostop_report.txt"

// Verdict is the outcome of a tripped criterion.
type Verdict struct {
	RC          int    `json:"rc"`
	Criterion   string `json:"criterion"`
	Explanation string `json:"explanation"`
	// Window is the timestamp of the cause window, 0 for wall clock criteria.
	Window int64 `json:"window"`
	// RPS is the load at the cause window: planned if known, else measured.
	RPS int64 `json:"rps"`
}

// Status is a criterion's live widget line.
type Status struct {
	Criterion string
	Text      string
	Progress  float64
}

type entry struct {
	text string
	c    Criterion
}

// Engine evaluates every configured criterion on each window. It is driven
// from a single goroutine.
type Engine struct {
	entries    []entry
	reportPath string
	log        *zap.Logger

	verdict  *Verdict
	counting []Status
}

// NewEngine parses the criterion definitions. Each definition may hold
// several criteria. ReportPath may be empty to skip the report file.
func NewEngine(defs []string, reportPath string, log *zap.Logger) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{reportPath: reportPath, log: log.With(zap.String("component", "autostop"))}
	for _, def := range defs {
		for _, text := range Split(def) {
			c, err := Parse(text)
			if err != nil {
				return nil, err
			}
			e.entries = append(e.entries, entry{text: text, c: c})
		}
	}
	return e, nil
}

// Add registers an already built criterion.
func (e *Engine) Add(text string, c Criterion) {
	e.entries = append(e.entries, entry{text: text, c: c})
}

// Len is the number of criteria.
func (e *Engine) Len() int { return len(e.entries) }

// Start restarts the clock of wall clock criteria.
func (e *Engine) Start(now time.Time) {
	for _, en := range e.entries {
		if s, ok := en.c.(interface{ Start(time.Time) }); ok {
			s.Start(now)
		}
	}
}

// SetInstances tells worker based criteria how many workers the run plans.
func (e *Engine) SetInstances(n int64) {
	for _, en := range e.entries {
		if s, ok := en.c.(interface{ SetInstances(int64) }); ok {
			s.SetInstances(n)
		}
	}
}

// OnWindow lets the engine listen to an aggregator directly.
func (e *Engine) OnWindow(w aggregator.WindowSnapshot) { e.Notify(w) }

// Notify feeds w to every criterion and reports whether the run must stop.
// After a trip the verdict is final and later windows are ignored.
func (e *Engine) Notify(w aggregator.WindowSnapshot) bool {
	if e.verdict != nil {
		return true
	}
	e.counting = e.counting[:0]
	var cause *entry
	for i := range e.entries {
		en := &e.entries[i]
		tripped := e.call(en, func() bool { return en.c.Notify(w) })
		if c, ok := en.c.(counter); ok && c.Counting() {
			text, progress := en.c.Widget()
			e.counting = append(e.counting, Status{Criterion: en.text, Text: text, Progress: progress})
		}
		if tripped && cause == nil {
			cause = en
		}
	}
	if cause != nil {
		e.trip(cause)
	}
	return e.verdict != nil
}

// Tick evaluates wall clock criteria.
func (e *Engine) Tick(now time.Time) bool {
	if e.verdict != nil {
		return true
	}
	for i := range e.entries {
		en := &e.entries[i]
		t, ok := en.c.(ticker)
		if !ok {
			continue
		}
		if e.call(en, func() bool { return t.Tick(now) }) {
			e.trip(en)
			return true
		}
	}
	return false
}

// call runs one criterion evaluation. A panicking criterion counts as not
// tripped and does not affect the others.
func (e *Engine) call(en *entry, f func() bool) (tripped bool) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("autostop criterion failed", zap.String("criterion", en.text), zap.Any("panic", r))
			tripped = false
		}
	}()
	return f()
}

func (e *Engine) trip(en *entry) {
	v := &Verdict{RC: en.c.RC(), Criterion: en.text}
	func() {
		defer func() {
			if r := recover(); r != nil {
				v.Explanation = fmt.Sprintf("%s (explanation failed: %v)", en.text, r)
			}
		}()
		v.Explanation = en.c.Explain()
	}()
	if w, ok := en.c.Cause(); ok {
		v.Window = w.Timestamp
		v.RPS = w.Overall.PlannedCount
		if v.RPS == 0 {
			v.RPS = w.Overall.Count
		}
	}
	e.verdict = v
	e.log.Warn("autostop criterion requested test stop",
		zap.String("criterion", en.text),
		zap.Int("rc", v.RC),
		zap.Int64("rps", v.RPS),
		zap.String("reason", v.Explanation))

	if e.reportPath == "" {
		return
	}
	report := strings.Join([]string{v.Criterion, v.Explanation}, "\n") + "\n"
	if err := os.WriteFile(e.reportPath, []byte(report), 0o644); err != nil {
		e.log.Warn("writing autostop report", zap.Error(err))
	}
}

// Verdict returns the stop decision, if any.
func (e *Engine) Verdict() (Verdict, bool) {
	if e.verdict == nil {
		return Verdict{}, false
	}
	return *e.verdict, true
}

// Counting lists the criteria that hit on the latest window without
// tripping yet.
func (e *Engine) Counting() []Status {
	return append([]Status(nil), e.counting...)
}

// Statuses returns the widget line of every criterion.
func (e *Engine) Statuses() []Status {
	out := make([]Status, 0, len(e.entries))
	for _, en := range e.entries {
		text, progress := en.c.Widget()
		out = append(out, Status{Criterion: en.text, Text: text, Progress: progress})
	}
	return out
}
