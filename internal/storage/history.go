package storage

import (
	"time"

	"loadtank/internal/aggregator"
	"loadtank/internal/autostop"
)

// Run is one journal entry.
type Run struct {
	ID       string        `json:"id"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Config   RunConfig     `json:"config"`
	Result   RunResult     `json:"result"`
	Summary  RunSummary    `json:"summary"`
}

// RunConfig is the part of the configuration worth showing in history.
type RunConfig struct {
	Generator string   `json:"generator"`
	Target    string   `json:"target,omitempty"`
	Schedule  []string `json:"schedule"`
	Instances int      `json:"instances"`
	Ammo      string   `json:"ammo"`
	Autostop  []string `json:"autostop,omitempty"`
}

type RunResult struct {
	// Finished is false while the run is in progress or if it crashed.
	Finished bool              `json:"finished"`
	RC       int               `json:"rc"`
	Reason   string            `json:"reason"`
	Verdict  *autostop.Verdict `json:"verdict,omitempty"`
}

type RunSummary struct {
	Records      int64         `json:"records"`
	Windows      int           `json:"windows"`
	AvgLatencyMs float64       `json:"avg_latency_ms"`
	P99LatencyMs float64       `json:"p99_latency_ms"`
	MaxLatencyMs float64       `json:"max_latency_ms"`
	ProtoCodes   map[int]int64 `json:"proto_codes"`
	NetCodes     map[int]int64 `json:"net_codes"`
}

// Summarize fills s from the cumulative bucket of the last window.
func (s *RunSummary) Summarize(last aggregator.WindowSnapshot) {
	c := last.Cumulative
	s.AvgLatencyMs = c.AvgLatency / 1000
	s.P99LatencyMs = float64(c.Quantile(99)) / 1000
	s.MaxLatencyMs = float64(c.MaxLatency) / 1000
	s.ProtoCodes = c.ProtoCodes
	s.NetCodes = c.NetCodes
}
