package stats

import (
	"sort"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// QuantileLevels are the percentiles every bucket reports.
var QuantileLevels = []int{50, 75, 80, 85, 90, 95, 98, 99, 100}

// BinEdges are the upper bounds, in microseconds, of the latency histogram
// bins. Values past the last edge land in the last bin.
var BinEdges = func() []int64 {
	ms := []int64{
		1, 2, 3, 4, 5, 6, 7, 8, 9,
		10, 20, 30, 40, 50, 60, 70, 80, 90,
		100, 150, 200, 250, 300, 350, 400, 450,
		500, 600, 650, 700, 750, 800, 850, 900, 950,
		1000, 1500, 2000, 2500, 3000, 3500, 4000, 4500,
		5000, 5500, 6000, 6500, 7000, 7500, 8000, 8500, 9000, 9500, 10000, 11000,
		12000, 13000, 14000, 15000, 20000, 25000, 30000, 35000, 40000, 45000, 50000,
		55000, 60000,
	}
	out := make([]int64, len(ms))
	for i, v := range ms {
		out[i] = v * 1000
	}
	return out
}()

// Sample is one shot's measurements. Times are microseconds, sizes bytes.
type Sample struct {
	IntervalReal  int64
	Connect       int64
	Send          int64
	Latency       int64
	Receive       int64
	IntervalEvent int64
	SizeOut       int64
	SizeIn        int64
	NetCode       int
	ProtoCode     int
}

// Bin is one non-empty latency histogram bin: Count samples below UpperUs.
type Bin struct {
	UpperUs int64 `json:"upper_us"`
	Count   int64 `json:"count"`
}

// Bucket is the finished statistics of a group of samples. Times are
// microseconds.
type Bucket struct {
	Count      int64         `json:"count"`
	ProtoCodes map[int]int64 `json:"proto_codes"`
	NetCodes   map[int]int64 `json:"net_codes"`
	Latency    []Bin         `json:"latency_hist"`
	Quantiles  map[int]int64 `json:"quantiles"`

	AvgLatency float64 `json:"avg_latency"`
	AvgConnect float64 `json:"avg_connect"`
	AvgSend    float64 `json:"avg_send"`
	AvgWait    float64 `json:"avg_wait"`
	AvgReceive float64 `json:"avg_receive"`
	MinLatency int64   `json:"min_latency"`
	MaxLatency int64   `json:"max_latency"`
	BytesOut   int64   `json:"bytes_out"`
	BytesIn    int64   `json:"bytes_in"`

	PlannedCount  int64   `json:"planned_count"`
	ActiveWorkers int64   `json:"active_workers"`
	SelfLoad      float64 `json:"self_load"`
}

// Quantile returns the value at level, which must be one of QuantileLevels.
func (b Bucket) Quantile(level int) int64 {
	return b.Quantiles[level]
}

// CountAbove is the number of samples in bins that reach past us. The
// boundary is only as precise as BinEdges.
func (b Bucket) CountAbove(us int64) int64 {
	var n int64
	for _, bin := range b.Latency {
		if bin.UpperUs > us {
			n += bin.Count
		}
	}
	return n
}

// Accumulator folds samples into a Bucket. It is not safe for concurrent use.
type Accumulator struct {
	hist  *hdrhistogram.Histogram
	bins  []int64
	count int64
	proto map[int]int64
	net   map[int]int64

	latency, connect, send, wait, receive int64
	bytesOut, bytesIn                     int64
	min, max                              int64
	accuracy                              float64
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{
		hist:  newHist(),
		bins:  make([]int64, len(BinEdges)),
		proto: map[int]int64{},
		net:   map[int]int64{},
	}
}

// Add records one sample.
func (a *Accumulator) Add(s Sample) {
	if a.count == 0 || s.IntervalReal < a.min {
		a.min = s.IntervalReal
	}
	if s.IntervalReal > a.max {
		a.max = s.IntervalReal
	}
	a.count++
	a.proto[s.ProtoCode]++
	a.net[s.NetCode]++
	_ = a.hist.RecordValue(clampUs(s.IntervalReal))
	a.bins[binIndex(s.IntervalReal)]++

	a.latency += s.IntervalReal
	a.connect += s.Connect
	a.send += s.Send
	a.wait += s.Latency
	a.receive += s.Receive
	a.bytesOut += s.SizeOut
	a.bytesIn += s.SizeIn
	a.accuracy += float64(s.IntervalEvent+1) / float64(s.IntervalReal+1)
}

func binIndex(us int64) int {
	i := sort.Search(len(BinEdges), func(i int) bool { return BinEdges[i] > us })
	if i == len(BinEdges) {
		i--
	}
	return i
}

// Merge adds everything recorded in other. The cost is bounded by the number
// of distinct codes and histogram buckets, not by the number of samples.
func (a *Accumulator) Merge(other *Accumulator) {
	if other.count == 0 {
		return
	}
	if a.count == 0 || other.min < a.min {
		a.min = other.min
	}
	if other.max > a.max {
		a.max = other.max
	}
	a.count += other.count
	for k, v := range other.proto {
		a.proto[k] += v
	}
	for k, v := range other.net {
		a.net[k] += v
	}
	a.hist.Merge(other.hist)
	for i, v := range other.bins {
		a.bins[i] += v
	}
	a.latency += other.latency
	a.connect += other.connect
	a.send += other.send
	a.wait += other.wait
	a.receive += other.receive
	a.bytesOut += other.bytesOut
	a.bytesIn += other.bytesIn
	a.accuracy += other.accuracy
}

// Count is the number of samples added so far.
func (a *Accumulator) Count() int64 { return a.count }

// Bucket snapshots the accumulator. The result shares no memory with it.
func (a *Accumulator) Bucket() Bucket {
	b := Bucket{
		Count:      a.count,
		ProtoCodes: make(map[int]int64, len(a.proto)),
		NetCodes:   make(map[int]int64, len(a.net)),
		Quantiles:  make(map[int]int64, len(QuantileLevels)),
		MinLatency: a.min,
		MaxLatency: a.max,
		BytesOut:   a.bytesOut,
		BytesIn:    a.bytesIn,
	}
	for k, v := range a.proto {
		b.ProtoCodes[k] = v
	}
	for k, v := range a.net {
		b.NetCodes[k] = v
	}
	for i, v := range a.bins {
		if v > 0 {
			b.Latency = append(b.Latency, Bin{UpperUs: BinEdges[i], Count: v})
		}
	}
	for _, q := range QuantileLevels {
		if a.count == 0 {
			b.Quantiles[q] = 0
			continue
		}
		b.Quantiles[q] = a.hist.ValueAtQuantile(float64(q))
	}
	if a.count > 0 {
		n := float64(a.count)
		b.AvgLatency = float64(a.latency) / n
		b.AvgConnect = float64(a.connect) / n
		b.AvgSend = float64(a.send) / n
		b.AvgWait = float64(a.wait) / n
		b.AvgReceive = float64(a.receive) / n
		b.SelfLoad = a.accuracy / n
	}
	return b
}
