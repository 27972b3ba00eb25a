package live

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"loadtank/internal/aggregator"
	"loadtank/internal/autostop"
	"loadtank/internal/core"
	"loadtank/internal/stats"
)

func TestProgressUpdatesView(t *testing.T) {
	m := NewModel(10 * time.Second)
	acc := stats.NewAccumulator()
	acc.Add(stats.Sample{IntervalReal: 4000, ProtoCode: 200})
	b := acc.Bucket()
	b.PlannedCount = 5

	m, _ = m.Update(core.Progress{
		Elapsed: 5 * time.Second,
		Windows: []aggregator.WindowSnapshot{{Timestamp: 1000, Overall: b, Cumulative: b}},
		Live:    &stats.Snapshot{Shots: 4, Fail: 1, Active: 3},
		Criteria: []autostop.Status{
			{Criterion: "time(1s, 5s)", Text: "Avg Time >1000ms for 2/5s", Progress: 0.4},
		},
		Counting: []autostop.Status{{Criterion: "time(1s, 5s)"}},
	})

	assert.True(t, m.HasLive)
	assert.True(t, m.Counting["time(1s, 5s)"])
	assert.InDelta(t, 1, m.RpsLine.Last(), 1e-9)
	assert.InDelta(t, 4, m.LatencyLine.Last(), 1e-9)

	view := m.View()
	assert.Contains(t, view, "SHOTS: 4")
	assert.Contains(t, view, "ERR: 25.00%")
	assert.Contains(t, view, "RPS 1/5")
	assert.Contains(t, view, "Avg Time >1000ms for 2/5s")
	assert.Contains(t, view, "Elapsed 5s / 10s")
}

func TestRecordsWithoutLiveCounters(t *testing.T) {
	m := NewModel(0)
	m, _ = m.Update(core.Progress{Records: 42, Elapsed: time.Second})
	assert.Contains(t, m.View(), "RECORDS: 42")
	assert.NotContains(t, m.View(), "/ ")
}
