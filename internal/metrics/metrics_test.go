package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loadtank/internal/aggregator"
	"loadtank/internal/autostop"
	"loadtank/internal/core"
	"loadtank/internal/stats"
)

func window(codes ...int) aggregator.WindowSnapshot {
	acc := stats.NewAccumulator()
	for _, c := range codes {
		acc.Add(stats.Sample{IntervalReal: 5000, ProtoCode: c})
	}
	b := acc.Bucket()
	b.PlannedCount = 10
	return aggregator.WindowSnapshot{Timestamp: 1000, Overall: b, Cumulative: b}
}

func TestOnWindow(t *testing.T) {
	e := New(nil)
	e.OnWindow(window(200, 200, 503))
	e.OnWindow(window(200))

	assert.InDelta(t, 3, testutil.ToFloat64(e.responses.WithLabelValues("200")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(e.responses.WithLabelValues("503")), 1e-9)
	assert.InDelta(t, 4, testutil.ToFloat64(e.netCodes.WithLabelValues("0")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(e.rps), 1e-9)
	assert.InDelta(t, 10, testutil.ToFloat64(e.planned), 1e-9)
	assert.InDelta(t, 2, testutil.ToFloat64(e.windows), 1e-9)
	assert.InDelta(t, 0.005, testutil.ToFloat64(e.avg), 1e-9)
	assert.Equal(t, len(stats.QuantileLevels), testutil.CollectAndCount(e.quantiles))
}

func TestOnProgress(t *testing.T) {
	e := New(nil)
	e.OnProgress(core.Progress{
		Criteria: []autostop.Status{{Criterion: "time(1s, 5s)", Text: "Avg Time >1000ms for 2/5s", Progress: 0.4}},
		Live:     &stats.Snapshot{Active: 7},
		Verdict:  &autostop.Verdict{RC: autostop.RCTime},
	})
	assert.InDelta(t, 0.4, testutil.ToFloat64(e.autostop.WithLabelValues("time(1s, 5s)")), 1e-9)
	assert.InDelta(t, 7, testutil.ToFloat64(e.workers), 1e-9)
	assert.InDelta(t, float64(autostop.RCTime), testutil.ToFloat64(e.stopped), 1e-9)
}

func TestHandler(t *testing.T) {
	e := New(nil)
	e.OnWindow(window(200))
	srv := httptest.NewServer(e.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `loadtank_responses_total{code="200"} 1`))
}
