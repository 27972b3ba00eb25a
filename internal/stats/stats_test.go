package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample(rt int64, proto int) Sample {
	return Sample{IntervalReal: rt, Latency: rt / 2, SizeIn: 100, SizeOut: 10, ProtoCode: proto, IntervalEvent: rt}
}

func TestAccumulatorBucket(t *testing.T) {
	acc := NewAccumulator()
	acc.Add(sample(1500, 200))
	acc.Add(sample(2500, 200))
	acc.Add(sample(120000, 503))

	b := acc.Bucket()
	assert.EqualValues(t, 3, b.Count)
	assert.Equal(t, map[int]int64{200: 2, 503: 1}, b.ProtoCodes)
	assert.Equal(t, map[int]int64{0: 3}, b.NetCodes)
	assert.EqualValues(t, 1500, b.MinLatency)
	assert.EqualValues(t, 120000, b.MaxLatency)
	assert.EqualValues(t, 300, b.BytesIn)
	assert.InDelta(t, 41333.3, b.AvgLatency, 0.1)
	assert.InDelta(t, 1.0, b.SelfLoad, 1e-9)

	assert.Equal(t, []Bin{{UpperUs: 2000, Count: 1}, {UpperUs: 3000, Count: 1}, {UpperUs: 150000, Count: 1}}, b.Latency)
	assert.Len(t, b.Quantiles, len(QuantileLevels))
	assert.InDelta(t, 120000, b.Quantile(100), 120)
	assert.InDelta(t, 2500, b.Quantile(50), 3)
}

func TestAccumulatorEmpty(t *testing.T) {
	b := NewAccumulator().Bucket()
	assert.Zero(t, b.Count)
	assert.Empty(t, b.Latency)
	for _, q := range QuantileLevels {
		assert.Zero(t, b.Quantile(q))
	}
}

func TestAccumulatorMerge(t *testing.T) {
	a, b, all := NewAccumulator(), NewAccumulator(), NewAccumulator()
	for i := int64(1); i <= 100; i++ {
		s := sample(i*1000, 200+int(i%2))
		all.Add(s)
		if i%3 == 0 {
			a.Add(s)
		} else {
			b.Add(s)
		}
	}
	a.Merge(b)
	a.Merge(NewAccumulator())
	assert.Equal(t, all.Bucket(), a.Bucket())
}

func TestBucketSnapshotIsDetached(t *testing.T) {
	acc := NewAccumulator()
	acc.Add(sample(1000, 200))
	b := acc.Bucket()
	acc.Add(sample(1000, 200))
	assert.EqualValues(t, 1, b.ProtoCodes[200])
	assert.EqualValues(t, 2, acc.Bucket().ProtoCodes[200])
}

func TestCountAbove(t *testing.T) {
	acc := NewAccumulator()
	for _, rt := range []int64{500, 9000, 45000, 90000, 90000e3} {
		acc.Add(sample(rt, 200))
	}
	b := acc.Bucket()
	assert.EqualValues(t, 5, b.CountAbove(0))
	assert.EqualValues(t, 3, b.CountAbove(10000))
	assert.EqualValues(t, 1, b.CountAbove(100000))
	assert.EqualValues(t, 0, b.CountAbove(60000000))
}

func TestBinIndex(t *testing.T) {
	assert.Equal(t, 0, binIndex(0))
	assert.Equal(t, 1, binIndex(1000))
	require.Equal(t, len(BinEdges)-1, binIndex(1<<40))
}

func TestCounters(t *testing.T) {
	c := NewCounters()
	c.Observe(sample(1000, 200), 0)
	c.Observe(sample(1000, 500), 2000)
	c.Observe(Sample{IntervalReal: 10, NetCode: 111}, 0)

	assert.EqualValues(t, 3, c.Shots.Load())
	assert.EqualValues(t, 1, c.Success.Load())
	assert.EqualValues(t, 2, c.Fail.Load())
	assert.EqualValues(t, 1, c.Late.Load())
	assert.InDelta(t, 66.66, c.ErrorRate(), 0.01)
	assert.EqualValues(t, 3, c.Response.TotalCount())
}
