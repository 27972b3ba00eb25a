package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"loadtank/internal/aggregator"
	"loadtank/internal/autostop"
	"loadtank/internal/core"
	"loadtank/internal/stats"
)

func window(codes ...int) aggregator.WindowSnapshot {
	acc := stats.NewAccumulator()
	for _, c := range codes {
		s := stats.Sample{IntervalReal: 2000, ProtoCode: c}
		if c == 0 {
			s.NetCode = 110
		}
		acc.Add(s)
	}
	b := acc.Bucket()
	b.PlannedCount = 10
	return aggregator.WindowSnapshot{Timestamp: 1000, Overall: b, Cumulative: b}
}

func TestProgressLine(t *testing.T) {
	var out bytes.Buffer
	m := New(&out, 10*time.Second)
	m.OnProgress(core.Progress{
		Elapsed: 5 * time.Second,
		Windows: []aggregator.WindowSnapshot{window(200, 200, 200)},
		Records: 3,
		Live:    &stats.Snapshot{Active: 2, Success: 3},
	})

	got := out.String()
	assert.True(t, strings.HasPrefix(got, "\r"))
	assert.Contains(t, got, " 50%")
	assert.Contains(t, got, "RPS: 3/10")
	assert.Contains(t, got, "Active:   2")
	assert.NotContains(t, got, "\n")
}

func TestCountingIsAnnouncedOnce(t *testing.T) {
	var out bytes.Buffer
	m := New(&out, 0)
	counting := []autostop.Status{{Criterion: "http(5xx, 3, 5s)", Text: "HTTP 5xx>3 for 1/5s"}}
	m.OnProgress(core.Progress{Counting: counting})
	m.OnProgress(core.Progress{Counting: counting})
	assert.Equal(t, 1, strings.Count(out.String(), "autostop counting"))

	m.OnProgress(core.Progress{})
	m.OnProgress(core.Progress{Counting: counting})
	assert.Equal(t, 2, strings.Count(out.String(), "autostop counting"))
}

func TestSummary(t *testing.T) {
	var out bytes.Buffer
	m := New(&out, 0)
	m.OnProgress(core.Progress{Windows: []aggregator.WindowSnapshot{window(200, 503, 0)}, Final: true})
	m.PrintSummary(core.Result{
		RC:       autostop.RCHTTP,
		Reason:   core.Autostopped,
		Duration: time.Second,
		Windows:  1,
		Records:  3,
		Verdict:  &autostop.Verdict{RC: autostop.RCHTTP, Criterion: "http(5xx, 1, 1s)", Explanation: "503 codes for 1s"},
	})

	got := out.String()
	assert.Contains(t, got, "autostop (exit code 22)")
	assert.Contains(t, got, "http(5xx, 1, 1s)")
	assert.Contains(t, got, "1 x 503 Service Unavailable")
	assert.Contains(t, got, "110:1")
}

func TestProgressBar(t *testing.T) {
	assert.Equal(t, "[----]", progressBar(0, 4))
	assert.Equal(t, "[██--]", progressBar(0.5, 4))
	assert.Equal(t, "[████]", progressBar(2, 4))
}
