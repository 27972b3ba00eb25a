package stats

import (
	"sync/atomic"
)

// Counters holds live figures updated by generator workers.
type Counters struct {
	Shots   atomic.Int64
	Success atomic.Int64
	Fail    atomic.Int64
	BytesIn atomic.Int64
	Active  atomic.Int64
	// Late counts shots fired after their scheduled time.
	Late atomic.Int64

	// Latency histograms (microseconds)
	Response *SafeHistogram
	// Lag is the delay between the scheduled and the actual send time.
	Lag *SafeHistogram
}

func NewCounters() *Counters {
	return &Counters{
		Response: NewSafeHistogram(),
		Lag:      NewSafeHistogram(),
	}
}

// Observe records one finished shot.
func (c *Counters) Observe(s Sample, lagUs int64) {
	c.Shots.Add(1)
	if s.NetCode == 0 && s.ProtoCode > 0 && s.ProtoCode < 400 {
		c.Success.Add(1)
	} else {
		c.Fail.Add(1)
	}
	c.BytesIn.Add(s.SizeIn)
	if lagUs > 0 {
		c.Late.Add(1)
	}
	c.Response.RecordValue(s.IntervalReal)
	c.Lag.RecordValue(lagUs)
}

func (c *Counters) ErrorRate() float64 {
	shots := c.Shots.Load()
	if shots == 0 {
		return 0
	}
	return float64(c.Fail.Load()) / float64(shots) * 100
}

// P99Ms returns the 99th percentile response time in milliseconds
func (c *Counters) P99Ms() float64 {
	return float64(c.Response.ValueAtQuantile(99)) / 1000.0
}

// LagP99Ms returns the 99th percentile scheduling lag in milliseconds
func (c *Counters) LagP99Ms() float64 {
	return float64(c.Lag.ValueAtQuantile(99)) / 1000.0
}

// Snapshot is a point-in-time copy of the counters for display.
type Snapshot struct {
	Shots   int64
	Success int64
	Fail    int64
	BytesIn int64
	Active  int64
	Late    int64

	// Pre-calculated percentiles for the UI (cheap copy)
	P50Ms    float64
	P90Ms    float64
	P99Ms    float64
	MaxMs    int64
	LagP99Ms float64
}

func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Shots:    c.Shots.Load(),
		Success:  c.Success.Load(),
		Fail:     c.Fail.Load(),
		BytesIn:  c.BytesIn.Load(),
		Active:   c.Active.Load(),
		Late:     c.Late.Load(),
		P50Ms:    float64(c.Response.ValueAtQuantile(50)) / 1000.0,
		P90Ms:    float64(c.Response.ValueAtQuantile(90)) / 1000.0,
		P99Ms:    c.P99Ms(),
		MaxMs:    c.Response.Max() / 1000,
		LagP99Ms: c.LagP99Ms(),
	}
}
