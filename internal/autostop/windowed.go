package autostop

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"loadtank/internal/aggregator"
)

// slider holds per-window values for the latest size windows.
type slider struct {
	size int
	vals []float64
	wins []aggregator.WindowSnapshot
}

func (s *slider) push(v float64, w aggregator.WindowSnapshot) {
	s.vals = append(s.vals, v)
	s.wins = append(s.wins, w)
	if len(s.vals) > s.size {
		s.vals = s.vals[1:]
		s.wins = s.wins[1:]
	}
}

func (s *slider) full() bool { return len(s.vals) >= s.size }

func (s *slider) sum() float64 {
	var total float64
	for _, v := range s.vals {
		total += v
	}
	return total
}

// Cause is the oldest window in the slider.
func (s *slider) Cause() (aggregator.WindowSnapshot, bool) {
	if len(s.wins) == 0 {
		return aggregator.WindowSnapshot{}, false
	}
	return s.wins[0], true
}

func (s *slider) since() int64 {
	w, _ := s.Cause()
	return w.Timestamp
}

func ratio(value, limit float64) float64 {
	if limit <= 0 {
		return 1
	}
	return math.Max(0, math.Min(1, value/limit))
}

// totalTime trips when too large a share of responses in the window was
// slower than a limit. The limit is only as precise as the histogram bins.
type totalTime struct {
	fails  slider
	totals slider
	rt     int64
	limit  float64
	share  float64
}

func newTotalTime(a *args) (Criterion, error) {
	if err := a.count(3, 3, "total_time(<rt>, <level>%, <window>)"); err != nil {
		return nil, err
	}
	c := &totalTime{rt: a.micros(0), limit: a.number(1) / 100}
	size := a.seconds(2)
	c.fails.size, c.totals.size = size, size
	return c, nil
}

func (c *totalTime) Notify(w aggregator.WindowSnapshot) bool {
	c.fails.push(float64(w.Overall.CountAbove(c.rt)), w)
	c.totals.push(float64(w.Overall.Count), w)
	c.share = 0
	if total := c.totals.sum(); total > 0 {
		c.share = c.fails.sum() / total
	}
	return c.fails.full() && c.share >= c.limit
}

func (c *totalTime) RC() int { return RCTotalTime }

func (c *totalTime) Cause() (aggregator.WindowSnapshot, bool) { return c.fails.Cause() }

func (c *totalTime) Explain() string {
	return fmt.Sprintf("%.2f%% responses times higher than %s for %ds since: %d",
		c.share*100, fmtMillis(c.rt), c.fails.size, c.fails.since())
}

func (c *totalTime) Widget() (string, float64) {
	return fmt.Sprintf("%.2f%% times >%s for %ds", c.share*100, fmtMillis(c.rt), c.fails.size), ratio(c.share, c.limit)
}

// codeWindow trips when responses matching (or, when negative, not matching)
// a code mask reach a level over a sliding window. Relative levels compare
// the mean share, absolute levels the total count.
type codeWindow struct {
	slider
	mask     codeMask
	level    level
	net      bool
	negative bool
	rc       int
	value    float64
}

func newCodeWindow(a *args, usage string, net, negative bool, rc int) (Criterion, error) {
	if err := a.count(3, 3, usage); err != nil {
		return nil, err
	}
	c := &codeWindow{mask: a.mask(0), level: a.level(1), net: net, negative: negative, rc: rc}
	c.size = a.seconds(2)
	return c, nil
}

func newTotalHTTP(a *args) (Criterion, error) {
	return newCodeWindow(a, "total_http(<mask>, <level>[%], <window>)", false, false, RCTotalHTTP)
}

func newTotalNet(a *args) (Criterion, error) {
	return newCodeWindow(a, "total_net(<mask>, <level>[%], <window>)", true, false, RCTotalNet)
}

func newNegativeHTTP(a *args) (Criterion, error) {
	return newCodeWindow(a, "negative_http(<mask>, <level>[%], <window>)", false, true, RCNegHTTP)
}

func newNegativeNet(a *args) (Criterion, error) {
	return newCodeWindow(a, "negative_net(<mask>, <level>[%], <window>)", true, true, RCNegNet)
}

func (c *codeWindow) Notify(w aggregator.WindowSnapshot) bool {
	b := w.Overall
	codes := b.ProtoCodes
	if c.net {
		codes = b.NetCodes
	}
	// a successful net code only counts against negative masks
	matched := float64(c.mask.count(codes, c.net && !c.negative))

	v := matched
	switch {
	case c.level.relative && b.Count == 0:
		v = 0
	case c.level.relative && c.negative:
		v = 100 - percent(matched, b.Count)
	case c.level.relative:
		v = percent(matched, b.Count)
	case c.negative:
		v = float64(b.Count) - matched
	}
	c.push(v, w)

	c.value = c.sum()
	if c.level.relative {
		c.value /= float64(len(c.vals))
	}
	return c.full() && c.value >= c.level.value
}

func (c *codeWindow) RC() int { return c.rc }

func (c *codeWindow) subject() string {
	s := c.mask.text + " codes"
	if c.net {
		s = c.mask.text + " net codes"
	}
	if c.negative {
		s = "Not " + s
	}
	return s
}

func (c *codeWindow) Explain() string {
	return fmt.Sprintf("%s count higher than %s for %ds, since %d", c.subject(), c.level, c.size, c.since())
}

func (c *codeWindow) Widget() (string, float64) {
	name := "HTTP"
	if c.net {
		name = "Net"
	}
	if c.negative {
		name += " not"
	}
	return fmt.Sprintf("%s %s>%s for %ds", name, c.mask.text, c.level, c.size), ratio(c.value, c.level.value)
}

// httpTrend trips on a credible downward trend in the number of responses
// matching a mask: the mean first difference over the window stays negative
// even after adding its standard error.
type httpTrend struct {
	mask     codeMask
	size     int
	tangents []float64
	wins     slider
	last     int64
	mean     float64
	stderr   float64
}

func newHTTPTrend(a *args) (Criterion, error) {
	if err := a.count(2, 2, "http_trend(<mask>, <window>)"); err != nil {
		return nil, err
	}
	c := &httpTrend{mask: a.mask(0), size: a.seconds(1), tangents: []float64{0}}
	c.wins.size = c.size
	return c, nil
}

func (c *httpTrend) Notify(w aggregator.WindowSnapshot) bool {
	matched := c.mask.count(w.Overall.ProtoCodes, false)
	c.tangents = append(c.tangents, float64(matched-c.last))
	c.last = matched
	if len(c.tangents) > c.size {
		c.tangents = c.tangents[1:]
	}
	c.wins.push(0, w)

	c.mean = stat.Mean(c.tangents, nil)
	c.stderr = 0
	if n := len(c.tangents); n > 1 {
		c.stderr = stat.StdErr(stat.StdDev(c.tangents, nil), float64(n))
	}
	return c.mean+c.stderr < 0
}

func (c *httpTrend) RC() int { return RCHTTPTrend }

func (c *httpTrend) Cause() (aggregator.WindowSnapshot, bool) { return c.wins.Cause() }

func (c *httpTrend) Explain() string {
	return fmt.Sprintf("Last trend for %s http codes is %.2f +/- %.2f for %ds, since %d",
		c.mask.text, c.mean, c.stderr, c.size, c.wins.since())
}

func (c *httpTrend) Widget() (string, float64) {
	text := fmt.Sprintf("HTTP(%s) trend is %.2f +/- %.2f < 0 for %ds", c.mask.text, c.mean, c.stderr, c.size)
	if c.mean+c.stderr < 0 {
		return text, 1
	}
	return text, 0
}
