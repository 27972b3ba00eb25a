package autostop

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loadtank/internal/aggregator"
	"loadtank/internal/stats"
)

func codesWindow(ts int64, proto map[int]int64) aggregator.WindowSnapshot {
	var n int64
	for _, v := range proto {
		n += v
	}
	return aggregator.WindowSnapshot{
		Timestamp: ts,
		Overall:   stats.Bucket{Count: n, ProtoCodes: proto, NetCodes: map[int]int64{0: n}},
	}
}

func netWindow(ts int64, net map[int]int64) aggregator.WindowSnapshot {
	var n int64
	for _, v := range net {
		n += v
	}
	return aggregator.WindowSnapshot{
		Timestamp: ts,
		Overall:   stats.Bucket{Count: n, NetCodes: net, ProtoCodes: map[int]int64{200: n}},
	}
}

func mustParse(t *testing.T, text string) Criterion {
	t.Helper()
	c, err := Parse(text)
	require.NoError(t, err)
	return c
}

// firstTrip feeds windows in order and returns the 1-based index of the first
// one that trips, or 0.
func firstTrip(c Criterion, wins []aggregator.WindowSnapshot) int {
	for i, w := range wins {
		if c.Notify(w) {
			return i + 1
		}
	}
	return 0
}

func TestParseErrors(t *testing.T) {
	for _, text := range []string{
		"bogus(1, 2)",
		"time(1s)",
		"time(abc, 5s)",
		"http(5xx, lots, 3s)",
		"quantile(42, 100ms, 5s)",
		"total_http(5xx, 10%)",
		"limit(0)",
		"http_trend(2xx, 0s)",
		"not a criterion",
	} {
		_, err := Parse(text)
		var ce *CriterionConfigError
		assert.True(t, errors.As(err, &ce), "%s: %v", text, err)
	}
}

func TestSplitAndEngineConfig(t *testing.T) {
	assert.Equal(t, []string{"time(1s, 5s)", "http(5xx, 10%, 3s)", "limit(10m)"},
		Split("time(1s, 5s) http(5xx, 10%, 3s)\nlimit(10m)"))

	e, err := NewEngine([]string{"time(1s, 5s) http(5xx, 10%, 3s)", "", "Limit(10m)"}, "", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, e.Len())

	_, err = NewEngine([]string{"time(1s, 5s) unknown(1)"}, "", nil)
	var ce *CriterionConfigError
	require.True(t, errors.As(err, &ce))
	assert.Contains(t, ce.Reason, "unknown")
}

func TestTotalHTTPTripsWhenWindowFills(t *testing.T) {
	c := mustParse(t, "total_http(5xx, 10%, 5s)")
	bad := map[int]int64{200: 8, 503: 2}
	for i := int64(0); i < 4; i++ {
		assert.False(t, c.Notify(codesWindow(100+i, bad)), "window %d", i)
	}
	assert.True(t, c.Notify(codesWindow(104, bad)))
	assert.Equal(t, RCTotalHTTP, c.RC())
	cause, ok := c.Cause()
	require.True(t, ok)
	assert.EqualValues(t, 100, cause.Timestamp)
	assert.Equal(t, "5xx codes count higher than 10% for 5s, since 100", c.Explain())
}

func TestTotalHTTPAbsoluteAndClean(t *testing.T) {
	c := mustParse(t, "total_http(404, 10, 3s)")
	wins := []aggregator.WindowSnapshot{
		codesWindow(1, map[int]int64{404: 3}),
		codesWindow(2, map[int]int64{404: 3}),
		codesWindow(3, map[int]int64{404: 3, 200: 100}),
		codesWindow(4, map[int]int64{404: 4}),
	}
	assert.Equal(t, 4, firstTrip(c, wins))

	clean := mustParse(t, "total_http(5xx, 1%, 2s)")
	var ws []aggregator.WindowSnapshot
	for i := int64(0); i < 10; i++ {
		ws = append(ws, codesWindow(i, map[int]int64{200: 50}), codesWindow(i, nil))
	}
	assert.Zero(t, firstTrip(clean, ws))
}

func TestConsecutiveHTTPResetsOnMiss(t *testing.T) {
	c := mustParse(t, "http(5xx, 10%, 3s)")
	bad := map[int]int64{200: 5, 500: 5}
	good := map[int]int64{200: 10}
	wins := []aggregator.WindowSnapshot{
		codesWindow(1, bad), codesWindow(2, bad), codesWindow(3, good),
		codesWindow(4, bad), codesWindow(5, bad), codesWindow(6, bad),
	}
	assert.Equal(t, 6, firstTrip(c, wins))
	assert.Equal(t, RCHTTP, c.RC())
	assert.Equal(t, "5xx codes count higher than 10% for 3s, since 4", c.Explain())
}

func TestHTTPTagged(t *testing.T) {
	c := mustParse(t, "http(4xx, 1, 1s, login)")
	w := codesWindow(1, map[int]int64{404: 10})
	assert.False(t, c.Notify(w))
	w.ByTag = map[string]stats.Bucket{"login": {Count: 1, ProtoCodes: map[int]int64{403: 1}}}
	assert.True(t, c.Notify(w))
	assert.True(t, strings.HasSuffix(c.Explain(), "for tag login"))
}

func TestNetCodesIgnoreSuccess(t *testing.T) {
	c := mustParse(t, "net(xx, 1, 1s)")
	assert.False(t, c.Notify(netWindow(1, map[int]int64{0: 100})))

	c = mustParse(t, "net(1xx, 50%, 1s)")
	assert.False(t, c.Notify(netWindow(1, map[int]int64{0: 60, 110: 40})))
	assert.True(t, c.Notify(netWindow(2, map[int]int64{0: 40, 110: 60})))
	assert.Equal(t, RCNet, c.RC())
}

func TestAvgTime(t *testing.T) {
	slow := aggregator.WindowSnapshot{Timestamp: 7, Overall: stats.Bucket{Count: 10, AvgLatency: 150000}}
	fast := aggregator.WindowSnapshot{Timestamp: 8, Overall: stats.Bucket{Count: 10, AvgLatency: 50000}}

	c := mustParse(t, "time(100ms, 2s)")
	assert.Equal(t, 4, firstTrip(c, []aggregator.WindowSnapshot{slow, fast, slow, slow}))
	assert.Equal(t, RCTime, c.RC())
	assert.Equal(t, "Average response time higher than 100ms for 2s, since 7", c.Explain())

	tagged := mustParse(t, "time(100ms, 1s, api)")
	assert.False(t, tagged.Notify(slow))
}

func TestQuantile(t *testing.T) {
	w := aggregator.WindowSnapshot{Timestamp: 3, Overall: stats.Bucket{Count: 5, Quantiles: map[int]int64{95: 600000, 50: 1000}}}
	c := mustParse(t, "quantile(95, 500ms, 2s)")
	assert.False(t, c.Notify(w))
	assert.True(t, c.Notify(w))
	assert.Equal(t, "Percentile 95 higher than 500ms for 2s, since 3", c.Explain())

	median := mustParse(t, "quantile(50, 500ms, 1s)")
	assert.False(t, median.Notify(w))
}

func TestSteadyCumulative(t *testing.T) {
	q := map[int]int64{50: 10, 99: 90}
	w := func(ts int64, quantiles map[int]int64) aggregator.WindowSnapshot {
		return aggregator.WindowSnapshot{Timestamp: ts, Cumulative: stats.Bucket{Quantiles: quantiles}}
	}
	c := mustParse(t, "steady_cumulative(2s)")
	assert.Equal(t, 4, firstTrip(c, []aggregator.WindowSnapshot{
		w(1, q), w(2, map[int]int64{50: 11, 99: 90}), w(3, map[int]int64{50: 11, 99: 90}), w(4, map[int]int64{50: 11, 99: 90}),
	}))
	assert.Equal(t, RCSteady, c.RC())
}

func TestTotalTime(t *testing.T) {
	slow := aggregator.WindowSnapshot{Timestamp: 9, Overall: stats.Bucket{
		Count:   10,
		Latency: []stats.Bin{{UpperUs: 100000, Count: 2}, {UpperUs: 500000, Count: 8}},
	}}
	c := mustParse(t, "total_time(300ms, 70%, 3s)")
	assert.Equal(t, 3, firstTrip(c, []aggregator.WindowSnapshot{slow, slow, slow}))
	assert.Equal(t, RCTotalTime, c.RC())
	assert.Equal(t, "80.00% responses times higher than 300ms for 3s since: 9", c.Explain())

	strict := mustParse(t, "total_time(300ms, 90%, 2s)")
	assert.Zero(t, firstTrip(strict, []aggregator.WindowSnapshot{slow, slow, slow, slow}))
}

func TestNegativeNet(t *testing.T) {
	c := mustParse(t, "negative_net(0, 50, 10s)")
	var wins []aggregator.WindowSnapshot
	for i := 0; i < 20; i++ {
		wins = append(wins, netWindow(int64(i), map[int]int64{0: 100}))
	}
	assert.Zero(t, firstTrip(c, wins))

	c = mustParse(t, "negative_net(0, 50, 10s)")
	wins = wins[:0]
	for i := 0; i < 5; i++ {
		wins = append(wins, netWindow(int64(i), map[int]int64{110: 4}))
	}
	for i := 5; i < 10; i++ {
		wins = append(wins, netWindow(int64(i), map[int]int64{110: 8}))
	}
	assert.Equal(t, 10, firstTrip(c, wins))
	assert.Equal(t, RCNegNet, c.RC())
	assert.True(t, strings.HasPrefix(c.Explain(), "Not 0 net codes count higher than 50"))
}

func TestNegativeHTTPRelative(t *testing.T) {
	c := mustParse(t, "negative_http(2xx, 30%, 2s)")
	wins := []aggregator.WindowSnapshot{
		codesWindow(1, map[int]int64{200: 60, 500: 40}),
		codesWindow(2, map[int]int64{200: 90, 500: 10}),
	}
	assert.Zero(t, firstTrip(c, wins))
	assert.True(t, c.Notify(codesWindow(3, map[int]int64{200: 40, 502: 60})))
	assert.Equal(t, RCNegHTTP, c.RC())
}

func countsWindows(counts ...int64) []aggregator.WindowSnapshot {
	var out []aggregator.WindowSnapshot
	for i, n := range counts {
		out = append(out, codesWindow(int64(i), map[int]int64{200: n}))
	}
	return out
}

func TestHTTPTrend(t *testing.T) {
	down := mustParse(t, "http_trend(2xx, 5s)")
	assert.Equal(t, 6, firstTrip(down, countsWindows(100, 90, 80, 70, 60, 50, 40)))
	assert.Equal(t, RCHTTPTrend, down.RC())
	assert.Contains(t, down.Explain(), "Last trend for 2xx http codes is -10.00 +/- 0.00 for 5s")

	uneven := mustParse(t, "http_trend(2xx, 4s)")
	assert.NotZero(t, firstTrip(uneven, countsWindows(1000, 999, 950, 949, 700, 690, 500, 499, 100)))

	flat := mustParse(t, "http_trend(2xx, 5s)")
	assert.Zero(t, firstTrip(flat, countsWindows(50, 50, 50, 50, 50, 50, 50, 50, 50, 50)))

	up := mustParse(t, "http_trend(2xx, 5s)")
	assert.Zero(t, firstTrip(up, countsWindows(10, 20, 21, 40, 41, 80, 81, 200, 201, 300)))
}

func TestTimeLimit(t *testing.T) {
	e, err := NewEngine([]string{"limit(10s)"}, "", nil)
	require.NoError(t, err)
	t0 := time.Unix(1000, 0)
	e.Start(t0)
	assert.False(t, e.Tick(t0.Add(5*time.Second)))
	assert.True(t, e.Tick(t0.Add(11*time.Second)))
	v, ok := e.Verdict()
	require.True(t, ok)
	assert.Equal(t, RCTime, v.RC)
	assert.Zero(t, v.Window)
	assert.Equal(t, "Test time elapsed. Limit: 10s, actual time: 11s", v.Explanation)
}

func workersWindow(ts, active int64) aggregator.WindowSnapshot {
	return aggregator.WindowSnapshot{Timestamp: ts, Overall: stats.Bucket{Count: 10, ActiveWorkers: active}}
}

func TestInstancesRelative(t *testing.T) {
	e, err := NewEngine([]string{"instances(80%, 2s)"}, "", nil)
	require.NoError(t, err)
	e.SetInstances(10)

	assert.False(t, e.Notify(workersWindow(1, 9)))
	assert.False(t, e.Notify(workersWindow(2, 5)))
	assert.False(t, e.Notify(workersWindow(3, 8)))
	assert.True(t, e.Notify(workersWindow(4, 10)))
	v, ok := e.Verdict()
	require.True(t, ok)
	assert.Equal(t, RCInstances, v.RC)
	assert.EqualValues(t, 3, v.Window)
	assert.Equal(t, "Worker utilization higher than 80% for 2s, since 3", v.Explanation)
}

func TestInstancesAbsolute(t *testing.T) {
	c := mustParse(t, "instances(4, 3s)")
	wins := []aggregator.WindowSnapshot{workersWindow(1, 4), workersWindow(2, 5), workersWindow(3, 3), workersWindow(4, 4)}
	assert.Zero(t, firstTrip(c, wins))
	assert.False(t, c.Notify(workersWindow(5, 6)))
	assert.True(t, c.Notify(workersWindow(6, 4)))
}

func TestInstancesRelativeWithoutWorkerCount(t *testing.T) {
	c := mustParse(t, "instances(50%, 1s)")
	assert.False(t, c.Notify(workersWindow(1, 100)))
	_, err := Parse("instances(50%)")
	var ce *CriterionConfigError
	assert.True(t, errors.As(err, &ce))
}

type panicky struct{}

func (panicky) Notify(aggregator.WindowSnapshot) bool { panic("boom") }
func (panicky) RC() int                               { return 99 }
func (panicky) Explain() string                       { return "" }
func (panicky) Widget() (string, float64)             { return "", 0 }
func (panicky) Cause() (aggregator.WindowSnapshot, bool) {
	return aggregator.WindowSnapshot{}, false
}

func TestEngineFirstCriterionWins(t *testing.T) {
	report := filepath.Join(t.TempDir(), DefaultReportFile)
	e, err := NewEngine(nil, report, nil)
	require.NoError(t, err)
	e.Add("boom", panicky{})
	e.Add("http(5xx, 1, 1s)", mustParse(t, "http(5xx, 1, 1s)"))
	e.Add("total_http(5xx, 1, 1s)", mustParse(t, "total_http(5xx, 1, 1s)"))
	e.Add("time(1ms, 3s)", mustParse(t, "time(1ms, 3s)"))

	w := codesWindow(42, map[int]int64{500: 7})
	w.Overall.AvgLatency = 5000
	w.Overall.PlannedCount = 10
	assert.True(t, e.Notify(w))

	v, ok := e.Verdict()
	require.True(t, ok)
	assert.Equal(t, RCHTTP, v.RC)
	assert.Equal(t, "http(5xx, 1, 1s)", v.Criterion)
	assert.EqualValues(t, 42, v.Window)
	assert.EqualValues(t, 10, v.RPS)

	counting := e.Counting()
	require.Len(t, counting, 2)
	assert.Equal(t, "HTTP 5xx>1 for 1/1s", counting[0].Text)
	assert.Equal(t, "Avg Time >1ms for 1/3s", counting[1].Text)
	assert.InDelta(t, 1.0/3, counting[1].Progress, 1e-9)

	data, err := os.ReadFile(report)
	require.NoError(t, err)
	assert.Equal(t, "http(5xx, 1, 1s)\n5xx codes count higher than 1 for 1s, since 42\n", string(data))

	assert.True(t, e.Notify(codesWindow(43, map[int]int64{200: 1})))
	again, _ := e.Verdict()
	assert.Equal(t, v, again)
}

func TestEngineSurvivesPanics(t *testing.T) {
	e, err := NewEngine([]string{"http(5xx, 1, 2s)"}, "", nil)
	require.NoError(t, err)
	e.Add("boom", panicky{})
	assert.False(t, e.Notify(codesWindow(1, map[int]int64{500: 1})))
	assert.True(t, e.Notify(codesWindow(2, map[int]int64{500: 1})))
	assert.Len(t, e.Statuses(), 2)
}
