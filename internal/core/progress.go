package core

import (
	"time"

	"loadtank/internal/aggregator"
	"loadtank/internal/autostop"
	"loadtank/internal/stats"
)

// Progress is published once per tick and once more after shutdown.
type Progress struct {
	Elapsed time.Duration
	// Windows are the snapshots emitted since the previous report.
	Windows []aggregator.WindowSnapshot
	// Counting lists criteria that hit on the latest window.
	Counting []autostop.Status
	Criteria []autostop.Status
	Records  int64

	// Live is set when the generator keeps counters.
	Live    *stats.Snapshot
	Final   bool
	Verdict *autostop.Verdict
}

// ProgressListener receives progress reports on the loop's goroutine and
// must not block it.
type ProgressListener interface {
	OnProgress(Progress)
}

type ProgressFunc func(Progress)

func (f ProgressFunc) OnProgress(p Progress) { f(p) }

func (l *Loop) publish(elapsed time.Duration, windows []aggregator.WindowSnapshot, final bool) {
	if len(l.listeners) == 0 {
		return
	}
	p := Progress{
		Elapsed:  elapsed,
		Windows:  windows,
		Counting: l.engine.Counting(),
		Criteria: l.engine.Statuses(),
		Records:  l.agg.Records(),
		Final:    final,
	}
	if ws, ok := l.gen.(WorkerStats); ok {
		s := ws.Stats()
		p.Live = &s
	}
	if v, ok := l.engine.Verdict(); ok {
		p.Verdict = &v
	}
	for _, pl := range l.listeners {
		pl.OnProgress(p)
	}
}
