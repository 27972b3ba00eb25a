package aggregator

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loadtank/internal/schedule"
	"loadtank/internal/stats"
)

func rec(ts float64, tag string, rt int64, proto int) Record {
	return Record{Time: ts, Tag: tag, Sample: stats.Sample{IntervalReal: rt, IntervalEvent: rt, ProtoCode: proto}}
}

func sumValues(m map[int]int64) int64 {
	var n int64
	for _, v := range m {
		n += v
	}
	return n
}

func TestParseRecord(t *testing.T) {
	r, err := ParseRecord("1700000000.123\tcase1#7\t2000\t100\t50\t1500\t350\t1800\t120\t4096\t0\t200\n")
	require.NoError(t, err)
	assert.InDelta(t, 1700000000.123, r.Time, 1e-6)
	assert.Equal(t, "case1#7", r.Tag)
	assert.Equal(t, "case1", r.Case())
	assert.Equal(t, stats.Sample{
		IntervalReal: 2000, Connect: 100, Send: 50, Latency: 1500, Receive: 350,
		IntervalEvent: 1800, SizeOut: 120, SizeIn: 4096, NetCode: 0, ProtoCode: 200,
	}, r.Sample)
	assert.EqualValues(t, 1700000000, r.Second())

	again, err := ParseRecord(FormatRecord(r))
	require.NoError(t, err)
	assert.Equal(t, r.Sample, again.Sample)
}

func TestParseRecordErrors(t *testing.T) {
	for _, line := range []string{
		"",
		"1.0\ttag\t1",
		"x\ttag\t1\t1\t1\t1\t1\t1\t1\t1\t0\t200",
		"1.0\ttag\t1\t1\t1\t1\t1\t1\t1\t1\t0\tok",
	} {
		_, err := ParseRecord(line)
		var pe *ParseError
		assert.True(t, errors.As(err, &pe), "line %q", line)
	}
}

func TestSecondUsesReceiveTime(t *testing.T) {
	assert.EqualValues(t, 11, rec(10.7, "", 400000, 200).Second())
	assert.EqualValues(t, 10, rec(10.7, "", 200000, 200).Second())
}

func TestCaseOf(t *testing.T) {
	assert.Equal(t, "a#b", CaseOf("a#b#3"))
	assert.Equal(t, "plain", CaseOf("plain"))
	assert.Equal(t, "", CaseOf("#1"))
}

func TestSingleSecondWindow(t *testing.T) {
	q := NewQueue()
	for i := 0; i < 37; i++ {
		q.Push(rec(100+float64(i)/100, "", 1000, 200+i%3))
	}
	a := New(q, Options{}, nil)
	early, err := a.Poll()
	require.NoError(t, err)
	assert.Empty(t, early)
	assert.Equal(t, Collecting, a.State())

	wins, err := a.Drain()
	require.NoError(t, err)
	require.Len(t, wins, 1)
	assert.EqualValues(t, 100, wins[0].Timestamp)
	assert.EqualValues(t, 37, wins[0].Overall.Count)
	assert.EqualValues(t, 37, sumValues(wins[0].Overall.ProtoCodes))
	assert.Equal(t, Draining, a.State())

	require.NoError(t, a.Close())
	_, err = a.Poll()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestWindowsCloseWhenLaterSecondAppears(t *testing.T) {
	q := NewQueue()
	a := New(q, Options{}, nil)
	var seen []int64
	a.AddListener(ListenerFunc(func(w WindowSnapshot) { seen = append(seen, w.Timestamp) }))

	q.Push(rec(10.1, "a", 1000, 200))
	q.Push(rec(10.2, "b#1", 1000, 200))
	q.Push(rec(11.5, "a", 1000, 200))
	wins, err := a.Poll()
	require.NoError(t, err)
	require.Len(t, wins, 1)
	assert.EqualValues(t, 10, wins[0].Timestamp)
	assert.EqualValues(t, 1, wins[0].ByTag["a"].Count)
	assert.EqualValues(t, 1, wins[0].ByTag["b"].Count)

	q.Push(rec(14.0, "a", 1000, 200))
	wins, err = a.Poll()
	require.NoError(t, err)
	require.Len(t, wins, 3)
	assert.EqualValues(t, 1, wins[0].Overall.Count)
	assert.EqualValues(t, 12, wins[1].Timestamp)
	assert.Zero(t, wins[1].Overall.Count)
	assert.EqualValues(t, 3, wins[2].Cumulative.Count)

	wins, err = a.Drain()
	require.NoError(t, err)
	require.Len(t, wins, 1)
	assert.EqualValues(t, 4, wins[0].Cumulative.Count)
	assert.Equal(t, []int64{10, 11, 12, 13, 14}, seen)
}

func TestLateRecordsAreClamped(t *testing.T) {
	q := NewQueue()
	a := New(q, Options{}, nil)
	q.Push(rec(20.0, "", 1000, 200))
	q.Push(rec(21.0, "", 1000, 200))
	_, err := a.Poll()
	require.NoError(t, err)

	q.Push(rec(19.5, "", 1000, 500))
	q.Push(rec(20.5, "", 1000, 500))
	wins, err := a.Drain()
	require.NoError(t, err)
	require.Len(t, wins, 1)
	assert.EqualValues(t, 21, wins[0].Timestamp)
	assert.EqualValues(t, 3, wins[0].Overall.Count)
	assert.EqualValues(t, 2, wins[0].Overall.ProtoCodes[500])
	assert.EqualValues(t, 2, a.Clamped())
	assert.EqualValues(t, 4, a.Records())
}

func TestSkewedTimestampSkipsHole(t *testing.T) {
	q := NewQueue()
	a := New(q, Options{}, nil)
	var seen []int64
	a.AddListener(ListenerFunc(func(w WindowSnapshot) { seen = append(seen, w.Timestamp) }))

	q.Push(rec(0, "", 10, 200))
	_, err := a.Poll()
	require.NoError(t, err)

	q.Push(rec(1e6, "", 10, 200))
	q.Push(rec(1e6+2, "", 10, 200))
	wins, err := a.Poll()
	require.NoError(t, err)
	require.Len(t, wins, 3)
	assert.Equal(t, []int64{0, 1e6, 1e6 + 1}, seen)
	assert.Zero(t, wins[2].Overall.Count)
	assert.EqualValues(t, 2, wins[2].Cumulative.Count)
	assert.EqualValues(t, 1e6-1, a.SkippedSeconds())

	wins, err = a.Drain()
	require.NoError(t, err)
	require.Len(t, wins, 1)
	assert.EqualValues(t, 1e6+2, wins[0].Timestamp)
}

func TestShortGapsAreFilled(t *testing.T) {
	q := NewQueue()
	a := New(q, Options{MaxGap: 3}, nil)
	q.Push(rec(10, "", 10, 200))
	q.Push(rec(13, "", 10, 200))
	q.Push(rec(20, "", 10, 200))
	wins, err := a.Drain()
	require.NoError(t, err)
	var secs []int64
	for _, w := range wins {
		secs = append(secs, w.Timestamp)
	}
	assert.Equal(t, []int64{10, 11, 12, 13, 20}, secs)
	assert.EqualValues(t, 6, a.SkippedSeconds())
}

func TestLagKeepsSecondsOpen(t *testing.T) {
	q := NewQueue()
	a := New(q, Options{Lag: 2}, nil)
	q.Push(rec(1, "", 10, 200))
	q.Push(rec(2, "", 10, 200))
	wins, err := a.Poll()
	require.NoError(t, err)
	assert.Empty(t, wins)

	q.Push(rec(1.5, "", 10, 200))
	q.Push(rec(3, "", 10, 200))
	wins, err = a.Poll()
	require.NoError(t, err)
	require.Len(t, wins, 1)
	assert.EqualValues(t, 2, wins[0].Overall.Count)
}

type fixedPlanner struct{}

func (fixedPlanner) Planned(second int64) int64 { return second * 10 }
func (fixedPlanner) ActiveWorkers() int64       { return 7 }

func TestPlannerFigures(t *testing.T) {
	q := NewQueue()
	q.Push(rec(5, "", 10, 200))
	wins, err := New(q, Options{Planner: fixedPlanner{}}, nil).Drain()
	require.NoError(t, err)
	require.Len(t, wins, 1)
	assert.EqualValues(t, 50, wins[0].Overall.PlannedCount)
	assert.EqualValues(t, 7, wins[0].Overall.ActiveWorkers)
}

func TestSchedulePlanner(t *testing.T) {
	p := &SchedulePlanner{Levels: schedule.Levels{{Value: 5, Seconds: 2}, {Value: 10.4, Seconds: 1}}}
	assert.Zero(t, p.Planned(1000))
	p.SetStart(1000)
	assert.EqualValues(t, 5, p.Planned(1001))
	assert.EqualValues(t, 10, p.Planned(1002))
	assert.Zero(t, p.Planned(1003))
	assert.Zero(t, p.ActiveWorkers())
}

func TestFileTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "phout.log")
	tail := NewFileTail(path, nil)
	defer tail.Close()

	recs, err := tail.Read()
	require.NoError(t, err)
	assert.Empty(t, recs)

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	line := FormatRecord(rec(1.25, "t", 10, 200))
	_, err = f.WriteString(line + "garbage\n" + line[:7])
	require.NoError(t, err)
	recs, err = tail.Read()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.EqualValues(t, 1, tail.Skipped())

	_, err = f.WriteString(line[7:])
	require.NoError(t, err)
	recs, err = tail.Read()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "t", recs[0].Tag)
}

func TestDrainFlushesUnterminatedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "phout.log")
	doc := FormatRecord(rec(1, "x", 10, 200)) + strings.TrimSuffix(FormatRecord(rec(2, "y", 10, 200)), "\n")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	a := New(NewFileTail(path, nil), Options{}, nil)
	defer a.Close()
	wins, err := a.Drain()
	require.NoError(t, err)
	require.Len(t, wins, 2)
	assert.EqualValues(t, 1, wins[1].ByTag["y"].Count)
	assert.EqualValues(t, 2, a.Records())
}

func TestFileTailChunked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "phout.log")
	var doc string
	for i := 0; i < 20; i++ {
		doc += FormatRecord(rec(float64(i), "x", 10, 200))
	}
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	tail := NewFileTail(path, nil)
	tail.Chunk = 64
	defer tail.Close()
	total := 0
	for i := 0; i < 100; i++ {
		recs, err := tail.Read()
		require.NoError(t, err)
		total += len(recs)
	}
	assert.Equal(t, 20, total)
}
