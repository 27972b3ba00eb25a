package autostop

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"

	"loadtank/internal/aggregator"
	"loadtank/internal/stats"
)

// streak counts consecutive hits and keeps the window that started them.
type streak struct {
	need  int
	count int
	cause aggregator.WindowSnapshot
	has   bool
}

func (s *streak) observe(hit bool, w aggregator.WindowSnapshot) bool {
	if !hit {
		s.count = 0
		return false
	}
	if s.count == 0 {
		s.cause, s.has = w, true
	}
	s.count++
	return s.count >= s.need
}

func (s *streak) Counting() bool { return s.count > 0 }

func (s *streak) Cause() (aggregator.WindowSnapshot, bool) { return s.cause, s.has }

func (s *streak) progress() float64 {
	return math.Min(1, float64(s.count)/float64(s.need))
}

func (s *streak) since() int64 { return s.cause.Timestamp }

func fmtMillis(us int64) string {
	return strconv.FormatFloat(float64(us)/1000, 'f', -1, 64) + "ms"
}

// avgTime trips when the average response time stays above a limit.
type avgTime struct {
	streak
	rt  int64
	tag string
}

func newAvgTime(a *args) (Criterion, error) {
	if err := a.count(2, 3, "time(<rt>, <seconds>[, <tag>])"); err != nil {
		return nil, err
	}
	return &avgTime{rt: a.micros(0), streak: streak{need: a.seconds(1)}, tag: a.opt(2)}, nil
}

func (c *avgTime) Notify(w aggregator.WindowSnapshot) bool {
	b := bucketFor(w, c.tag)
	return c.observe(b.Count > 0 && b.AvgLatency > float64(c.rt), w)
}

func (c *avgTime) RC() int { return RCTime }

func (c *avgTime) Explain() string {
	return fmt.Sprintf("Average response time higher than %s for %ds, since %d%s",
		fmtMillis(c.rt), c.count, c.since(), forTag(c.tag))
}

func (c *avgTime) Widget() (string, float64) {
	return fmt.Sprintf("Avg Time >%s for %d/%ds", fmtMillis(c.rt), c.count, c.need), c.progress()
}

// codes trips when responses matching a code mask stay at or above a level.
type codes struct {
	streak
	mask  codeMask
	level level
	tag   string
	net   bool
}

func newHTTPCodes(a *args) (Criterion, error) {
	if err := a.count(3, 4, "http(<mask>, <level>[%], <seconds>[, <tag>])"); err != nil {
		return nil, err
	}
	return &codes{mask: a.mask(0), level: a.level(1), streak: streak{need: a.seconds(2)}, tag: a.opt(3)}, nil
}

func newNetCodes(a *args) (Criterion, error) {
	if err := a.count(3, 4, "net(<mask>, <level>[%], <seconds>[, <tag>])"); err != nil {
		return nil, err
	}
	return &codes{mask: a.mask(0), level: a.level(1), streak: streak{need: a.seconds(2)}, tag: a.opt(3), net: true}, nil
}

func (c *codes) matched(b stats.Bucket) int64 {
	if c.net {
		// net code 0 is success
		return c.mask.count(b.NetCodes, true)
	}
	return c.mask.count(b.ProtoCodes, false)
}

func (c *codes) Notify(w aggregator.WindowSnapshot) bool {
	b := bucketFor(w, c.tag)
	value := float64(c.matched(b))
	if c.level.relative {
		value = percent(value, b.Count)
	}
	return c.observe(value >= c.level.value, w)
}

func percent(part float64, total int64) float64 {
	if total == 0 {
		return 0
	}
	return part / float64(total) * 100
}

func (c *codes) RC() int {
	if c.net {
		return RCNet
	}
	return RCHTTP
}

func (c *codes) kind() string {
	if c.net {
		return "net codes"
	}
	return "codes"
}

func (c *codes) Explain() string {
	return fmt.Sprintf("%s %s count higher than %s for %ds, since %d%s",
		c.mask.text, c.kind(), c.level, c.count, c.since(), forTag(c.tag))
}

func (c *codes) Widget() (string, float64) {
	name := "HTTP"
	if c.net {
		name = "Net"
	}
	return fmt.Sprintf("%s %s>%s for %d/%ds", name, c.mask.text, c.level, c.count, c.need), c.progress()
}

// quantile trips when a response time percentile stays above a limit.
type quantile struct {
	streak
	q   int
	rt  int64
	tag string
}

func newQuantile(a *args) (Criterion, error) {
	if err := a.count(3, 4, "quantile(<percentile>, <rt>, <seconds>[, <tag>])"); err != nil {
		return nil, err
	}
	q := a.number(0)
	if a.err == nil && (q != math.Trunc(q) || !slices.Contains(stats.QuantileLevels, int(q))) {
		a.fail("percentile %v is not one of %v", q, stats.QuantileLevels)
	}
	return &quantile{q: int(q), rt: a.micros(1), streak: streak{need: a.seconds(2)}, tag: a.opt(3)}, nil
}

func (c *quantile) Notify(w aggregator.WindowSnapshot) bool {
	b := bucketFor(w, c.tag)
	return c.observe(b.Count > 0 && b.Quantile(c.q) > c.rt, w)
}

func (c *quantile) RC() int { return RCTime }

func (c *quantile) Explain() string {
	return fmt.Sprintf("Percentile %d higher than %s for %ds, since %d%s",
		c.q, fmtMillis(c.rt), c.count, c.since(), forTag(c.tag))
}

func (c *quantile) Widget() (string, float64) {
	return fmt.Sprintf("%d%% >%s for %d/%ds", c.q, fmtMillis(c.rt), c.count, c.need), c.progress()
}

// usedInstances trips when busy workers stay at or above a level. A relative
// level is a share of the planned worker count.
type usedInstances struct {
	streak
	level level
	total int64
}

func newUsedInstances(a *args) (Criterion, error) {
	if err := a.count(2, 2, "instances(<level>[%], <seconds>)"); err != nil {
		return nil, err
	}
	return &usedInstances{level: a.level(0), streak: streak{need: a.seconds(1)}}, nil
}

// SetInstances sets the worker count relative levels refer to.
func (c *usedInstances) SetInstances(n int64) { c.total = n }

func (c *usedInstances) threshold() float64 {
	if c.level.relative {
		return float64(c.total) * c.level.value / 100
	}
	return c.level.value
}

func (c *usedInstances) Notify(w aggregator.WindowSnapshot) bool {
	if c.level.relative && c.total <= 0 {
		return c.observe(false, w)
	}
	return c.observe(float64(w.Overall.ActiveWorkers) >= c.threshold(), w)
}

func (c *usedInstances) RC() int { return RCInstances }

func (c *usedInstances) Explain() string {
	return fmt.Sprintf("Worker utilization higher than %s for %ds, since %d", c.level, c.count, c.since())
}

func (c *usedInstances) Widget() (string, float64) {
	return fmt.Sprintf("Instances >=%s for %d/%ds", c.level, c.count, c.need), c.progress()
}

// steadyCumulative trips when the cumulative percentiles stop moving.
type steadyCumulative struct {
	streak
	prev map[int]int64
}

func newSteadyCumulative(a *args) (Criterion, error) {
	if err := a.count(1, 1, "steady_cumulative(<seconds>)"); err != nil {
		return nil, err
	}
	return &steadyCumulative{streak: streak{need: a.seconds(0)}}, nil
}

func (c *steadyCumulative) Notify(w aggregator.WindowSnapshot) bool {
	cur := w.Cumulative.Quantiles
	hit := c.prev != nil && maps.Equal(c.prev, cur)
	c.prev = cur
	return c.observe(hit, w)
}

func (c *steadyCumulative) RC() int { return RCSteady }

func (c *steadyCumulative) Explain() string {
	return fmt.Sprintf("Cumulative percentiles are steady for %ds, since %d", c.count, c.since())
}

func (c *steadyCumulative) Widget() (string, float64) {
	return fmt.Sprintf("Steady for %d/%ds", c.count, c.need), c.progress()
}
