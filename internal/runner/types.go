package runner

import (
	"context"
	"errors"
	"time"

	"loadtank/internal/schedule"
	"loadtank/internal/stats"
)

// ErrTerminationTimeout is returned by Terminate when the generator had to be
// killed after the grace period.
var ErrTerminationTimeout = errors.New("runner: generator did not stop in time")

// Gun fires one missile and measures it. Shoot never fails: transport
// problems are reported through the sample's net code.
type Gun interface {
	Shoot(ctx context.Context, payload []byte) stats.Sample
}

type Config struct {
	// Target is the base URL every request is sent to.
	Target  string
	Timeout time.Duration

	// Instances is the worker count. Zero means one worker.
	Instances int
	// Artifact is the schedule file to play.
	Artifact string
	// Levels is the planned load per second, used for the planned figures.
	Levels schedule.Levels

	// Phout, when set, also receives every record as a raw result line.
	Phout string
}

// errno-style net codes, 0 is success
const (
	netConnReset   = 104
	netTimeout     = 110
	netConnRefused = 111
	netUnknown     = 999
)
