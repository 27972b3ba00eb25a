// Package cli is the headless front end: a one-line progress monitor and a
// plain-text summary, for CI and terminals without a TUI.
package cli

import (
	"fmt"
	"io"
	"maps"
	"net/http"
	"slices"
	"strings"
	"time"

	"loadtank/internal/core"
	"loadtank/internal/report"
	"loadtank/internal/stats"
)

const rule = "======================================================================"

// Header describes the test about to run.
type Header struct {
	Generator string
	Target    string
	Schedule  []string
	Instances int
	Artifact  string
	Autostop  []string
}

// Monitor prints progress reports as a single rewritten line and lists
// autostop criteria as they start counting.
type Monitor struct {
	out     io.Writer
	planned time.Duration

	cumulative stats.Bucket
	rps        int64
	plannedRPS int64
	counting   map[string]bool
}

// New returns a monitor writing to out. Planned is the expected test length,
// 0 if unknown.
func New(out io.Writer, planned time.Duration) *Monitor {
	return &Monitor{out: out, planned: planned, counting: map[string]bool{}}
}

func (m *Monitor) PrintHeader(h Header) {
	fmt.Fprintf(m.out, "\n🚀 STARTING LOADTANK TEST\n")
	fmt.Fprintln(m.out, rule)
	fmt.Fprintf(m.out, "Generator  : %s\n", h.Generator)
	if h.Target != "" {
		fmt.Fprintf(m.out, "Target     : %s\n", h.Target)
	}
	fmt.Fprintf(m.out, "Schedule   : %s\n", strings.Join(h.Schedule, " "))
	fmt.Fprintf(m.out, "Instances  : %d\n", h.Instances)
	fmt.Fprintf(m.out, "Artifact   : %s\n", h.Artifact)
	if m.planned > 0 {
		fmt.Fprintf(m.out, "Duration   : %s\n", m.planned)
	}
	for _, a := range h.Autostop {
		fmt.Fprintf(m.out, "Autostop   : %s\n", a)
	}
	fmt.Fprintf(m.out, "%s\n\n", rule)
}

func (m *Monitor) OnProgress(p core.Progress) {
	if n := len(p.Windows); n > 0 {
		last := p.Windows[n-1]
		m.cumulative = last.Cumulative
		m.rps = last.Overall.Count
		m.plannedRPS = last.Overall.PlannedCount
	}

	for _, s := range p.Counting {
		if !m.counting[s.Criterion] {
			fmt.Fprintf(m.out, "\n⚠️  autostop counting: %s", s.Text)
		}
	}
	m.counting = make(map[string]bool, len(p.Counting))
	for _, s := range p.Counting {
		m.counting[s.Criterion] = true
	}

	fmt.Fprintf(m.out, "\r%s", m.line(p))
	if p.Final {
		fmt.Fprintln(m.out)
	}
}

func (m *Monitor) line(p core.Progress) string {
	pct := 0.0
	if m.planned > 0 {
		pct = min(p.Elapsed.Seconds()/m.planned.Seconds(), 1.0)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %3.0f%% | %s | RPS: %d/%d | Records: %d",
		progressBar(pct, 20), pct*100,
		p.Elapsed.Round(time.Second),
		m.rps, m.plannedRPS,
		p.Records,
	)
	if live := p.Live; live != nil {
		fmt.Fprintf(&b, " | Active: %3d | OK: %d | Err: %d | P99: %.1fms",
			live.Active, live.Success, live.Fail, live.P99Ms)
	}
	return b.String()
}

func progressBar(pct float64, width int) string {
	filled := min(max(int(pct*float64(width)), 0), width)
	return "[" + strings.Repeat("█", filled) + strings.Repeat("-", width-filled) + "]"
}

// PrintSummary prints how the run ended and its cumulative statistics.
func (m *Monitor) PrintSummary(res core.Result) {
	b := m.cumulative

	fmt.Fprintf(m.out, "\n📊 LOAD TEST RESULTS\n")
	fmt.Fprintln(m.out, rule)
	fmt.Fprintf(m.out, "Result         : %s (exit code %d)\n", res.Reason, res.RC)
	if v := res.Verdict; v != nil {
		fmt.Fprintf(m.out, "Autostop       : %s\n", v.Criterion)
		fmt.Fprintf(m.out, "                 %s\n", v.Explanation)
	}
	fmt.Fprintf(m.out, "Total Duration : %s\n", res.Duration.Round(time.Millisecond))
	fmt.Fprintf(m.out, "Records        : %d\n", res.Records)
	fmt.Fprintf(m.out, "Windows        : %d\n", res.Windows)
	if res.Windows > 0 {
		fmt.Fprintf(m.out, "Average RPS    : %.2f\n", float64(b.Count)/float64(res.Windows))
	}
	fmt.Fprintf(m.out, "Bytes In / Out : %d / %d\n", b.BytesIn, b.BytesOut)

	if b.Count > 0 {
		fmt.Fprintf(m.out, "\n⏱️  RESPONSE TIMES (ms)\n")
		fmt.Fprintf(m.out, "   Avg : %.2f\n", b.AvgLatency/1000)
		for _, q := range []int{50, 90, 95, 99} {
			fmt.Fprintf(m.out, "   P%d : %.2f\n", q, float64(b.Quantile(q))/1000)
		}
		fmt.Fprintf(m.out, "   Max : %.2f\n", float64(b.MaxLatency)/1000)
	}

	if len(b.ProtoCodes) > 0 {
		fmt.Fprintf(m.out, "\n🌐 HTTP CODES\n")
		for _, code := range slices.Sorted(maps.Keys(b.ProtoCodes)) {
			fmt.Fprintf(m.out, "   %d x %d %s\n", b.ProtoCodes[code], code, http.StatusText(code))
		}
	}
	if failed := netFailures(b.NetCodes); failed != "" {
		fmt.Fprintf(m.out, "\n❌ NET ERRORS\n   %s\n", failed)
	}
	fmt.Fprintln(m.out, rule)
}

func netFailures(codes map[int]int64) string {
	failed := maps.Clone(codes)
	delete(failed, 0)
	return report.Codes(failed)
}
