package autostop

import (
	"fmt"
	"time"

	"loadtank/internal/aggregator"
	"loadtank/internal/schedule"
)

// timeLimit trips once the test has run longer than a fixed duration. It
// ignores window contents.
type timeLimit struct {
	limit   time.Duration
	start   time.Time
	now     func() time.Time
	elapsed time.Duration
}

func newTimeLimit(a *args) (Criterion, error) {
	if err := a.count(1, 1, "limit(<duration>)"); err != nil {
		return nil, err
	}
	d, err := schedule.ParseDuration(a.list[0])
	if err != nil || d <= 0 {
		return nil, &CriterionConfigError{Text: a.text, Reason: fmt.Sprintf("bad duration %q", a.list[0])}
	}
	return &timeLimit{limit: d, start: time.Now(), now: time.Now}, nil
}

// Start restarts the clock.
func (c *timeLimit) Start(now time.Time) { c.start = now }

func (c *timeLimit) Notify(aggregator.WindowSnapshot) bool {
	return c.Tick(c.now())
}

func (c *timeLimit) Tick(now time.Time) bool {
	c.elapsed = now.Sub(c.start)
	return c.elapsed > c.limit
}

func (c *timeLimit) RC() int { return RCTime }

func (c *timeLimit) Cause() (aggregator.WindowSnapshot, bool) {
	return aggregator.WindowSnapshot{}, false
}

func (c *timeLimit) Explain() string {
	return fmt.Sprintf("Test time elapsed. Limit: %s, actual time: %s", c.limit, c.elapsed.Round(time.Second))
}

func (c *timeLimit) Widget() (string, float64) {
	return fmt.Sprintf("Time limit: %s, actual time: %s", c.limit, c.elapsed.Round(time.Second)),
		ratio(c.elapsed.Seconds(), c.limit.Seconds())
}
