package aggregator

import (
	"math"
	"sync/atomic"

	"loadtank/internal/schedule"
)

// SchedulePlanner reads planned load off a level list that starts at a given
// unix second.
type SchedulePlanner struct {
	Levels schedule.Levels
	// Workers, when set, reports the live worker count.
	Workers func() int64

	start atomic.Int64
}

// SetStart fixes the unix second the schedule started at.
func (p *SchedulePlanner) SetStart(unix int64) { p.start.Store(unix) }

func (p *SchedulePlanner) Planned(second int64) int64 {
	start := p.start.Load()
	if start == 0 {
		return 0
	}
	return int64(math.Round(p.Levels.At(second - start)))
}

func (p *SchedulePlanner) ActiveWorkers() int64 {
	if p.Workers == nil {
		return 0
	}
	return p.Workers()
}
