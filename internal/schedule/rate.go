package schedule

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Level is a (load, seconds) pair: a rate or a worker count held for a number
// of seconds. Lists of levels describe a schedule for reporting.
type Level struct {
	Value   float64
	Seconds int64
}

// MarshalJSON encodes a level as a [value, seconds] pair.
func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{l.Value, float64(l.Seconds)})
}

// UnmarshalJSON accepts the [value, seconds] pair form.
func (l *Level) UnmarshalJSON(data []byte) error {
	var pair [2]float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	l.Value, l.Seconds = pair[0], int64(pair[1])
	return nil
}

// Levels is an ordered level list.
type Levels []Level

// At returns the load planned for the given second since the start of the
// run, or 0 past the end of the list.
func (ls Levels) At(second int64) float64 {
	if second < 0 {
		return 0
	}
	var acc int64
	for _, l := range ls {
		acc += l.Seconds
		if second < acc {
			return l.Value
		}
	}
	return 0
}

// segment is one closed-form piece of a rate plan. Timestamps are relative to
// the start of the segment.
type segment interface {
	length() int64
	duration() int64
	at(n int64) int64
	levels() Levels
}

type constSegment struct {
	rps float64
	dur int64
}

func (s constSegment) length() int64 {
	if s.rps <= 0 {
		return 0
	}
	return int64(s.rps * float64(s.dur) / 1000)
}

func (s constSegment) duration() int64 { return s.dur }

func (s constSegment) at(n int64) int64 {
	return int64(float64(n) * 1000 / s.rps)
}

func (s constSegment) levels() Levels {
	return Levels{{Value: s.rps, Seconds: s.dur / 1000}}
}

type lineSegment struct {
	from, to float64
	dur      int64
}

func (s lineSegment) seconds() float64 { return float64(s.dur) / 1000 }

func (s lineSegment) slope() float64 {
	if s.dur == 0 {
		return 0
	}
	return (s.to - s.from) / s.seconds()
}

func (s lineSegment) length() int64 {
	return int64((s.from + s.to) / 2 * s.seconds())
}

func (s lineSegment) duration() int64 { return s.dur }

// at solves from*t + slope/2*t^2 = n for the smallest positive t. The form
// 2n / (b + sqrt(b^2 + 4an)) is the usual root with the fraction rationalised;
// it stays finite when the slope is zero.
func (s lineSegment) at(n int64) int64 {
	if n == 0 {
		return 0
	}
	fn := float64(n)
	disc := s.from*s.from + 2*s.slope()*fn
	if disc < 0 {
		disc = 0
	}
	den := s.from + math.Sqrt(disc)
	if den <= 0 {
		return s.dur
	}
	return int64(2 * fn / den * 1000)
}

func (s lineSegment) rpsAt(t float64) float64 {
	return s.from + s.slope()*t
}

func (s lineSegment) levels() Levels {
	var out Levels
	for t := int64(0); t <= int64(s.seconds()); t++ {
		rps := math.Floor(s.rpsAt(float64(t)) + 0.5)
		if n := len(out); n > 0 && out[n-1].Value == rps {
			out[n-1].Seconds++
			continue
		}
		out = append(out, Level{Value: rps, Seconds: 1})
	}
	return out
}

// stairwaySegment holds n levels from rps upwards (or downwards) by inc, each
// for dur milliseconds. Shot counts come from the area under the steps, so
// Len and At need no per-level state.
type stairwaySegment struct {
	rps, inc float64
	n        int64
	dur      int64
}

func stairwaySegments(s Stairway) []segment {
	inc := math.Abs(s.Increment)
	if s.To < s.From {
		inc = -inc
	}
	steps := int64((s.To - s.From) / inc)
	segs := []segment{stairwaySegment{rps: s.From, inc: inc, n: steps + 1, dur: s.Duration}}
	last := s.From + float64(steps)*inc
	if (inc > 0 && last < s.To) || (inc < 0 && last > s.To) {
		segs = append(segs, constSegment{rps: s.To, dur: s.Duration})
	}
	return segs
}

func (s stairwaySegment) level(i int64) float64 { return s.rps + float64(i)*s.inc }

// before is the number of shots in the first i levels.
func (s stairwaySegment) before(i int64) int64 {
	fi := float64(i)
	area := (fi*s.rps + s.inc*fi*(fi-1)/2) * float64(s.dur) / 1000
	return int64(math.Floor(area + 1e-9))
}

func (s stairwaySegment) length() int64 { return s.before(s.n) }

func (s stairwaySegment) duration() int64 { return s.n * s.dur }

func (s stairwaySegment) at(n int64) int64 {
	i := int64(sort.Search(int(s.n), func(i int) bool { return s.before(int64(i)+1) > n }))
	return i*s.dur + int64(float64(n-s.before(i))*1000/s.level(i))
}

func (s stairwaySegment) levels() Levels {
	out := make(Levels, 0, s.n)
	for i := int64(0); i < s.n; i++ {
		out = append(out, Level{Value: s.level(i), Seconds: s.dur / 1000})
	}
	return out
}

// RatePlan is an open-loop schedule: a chain of closed-form segments. Len and
// Duration are precomputed; At costs a binary search over the segments.
type RatePlan struct {
	segs    []segment
	counts  []int64 // counts[i] = shots before segment i
	offsets []int64 // offsets[i] = ms before segment i
	total   int64
	dur     int64
	scheme  []string
}

// NewRatePlan builds a rate plan. Only const, line and step are allowed.
func NewRatePlan(steps []LoadStep) (*RatePlan, error) {
	p := &RatePlan{}
	for _, step := range steps {
		switch s := step.(type) {
		case Const:
			if s.Level < 0 {
				return nil, syntaxErr(s.String(), "negative rate")
			}
			p.add(constSegment{rps: s.Level, dur: s.Duration})
		case Line:
			if s.From < 0 || s.To < 0 {
				return nil, syntaxErr(s.String(), "negative rate")
			}
			p.add(lineSegment{from: s.From, to: s.To, dur: s.Duration})
		case Stairway:
			if s.From < 0 || s.To < 0 {
				return nil, syntaxErr(s.String(), "negative rate")
			}
			for _, seg := range stairwaySegments(s) {
				p.add(seg)
			}
		default:
			return nil, syntaxErr(step.String(), "not allowed in an rps schedule")
		}
		p.scheme = append(p.scheme, step.String())
	}
	return p, nil
}

func (p *RatePlan) add(seg segment) {
	p.segs = append(p.segs, seg)
	p.counts = append(p.counts, p.total)
	p.offsets = append(p.offsets, p.dur)
	p.total += seg.length()
	p.dur += seg.duration()
}

// Len is the number of shots in the plan.
func (p *RatePlan) Len() int64 { return p.total }

// Duration is the plan length in milliseconds.
func (p *RatePlan) Duration() int64 { return p.dur }

// At returns the timestamp in milliseconds of the n-th shot, 0 <= n < Len.
func (p *RatePlan) At(n int64) int64 {
	if n < 0 || n >= p.total {
		panic(fmt.Sprintf("schedule: shot %d out of range [0, %d)", n, p.total))
	}
	i := sort.Search(len(p.segs), func(i int) bool {
		return p.counts[i]+p.segs[i].length() > n
	})
	return p.offsets[i] + p.segs[i].at(n-p.counts[i])
}

// Levels lists the rps held for each second of the plan.
func (p *RatePlan) Levels() Levels {
	var out Levels
	for _, seg := range p.segs {
		out = append(out, seg.levels()...)
	}
	return out
}

// Scheme returns the canonical form of the steps the plan was built from.
func (p *RatePlan) Scheme() []string { return p.scheme }

// Iterator returns a cursor over all timestamps of the plan.
func (p *RatePlan) Iterator() Iterator {
	return &rateCursor{plan: p}
}

// Iterator yields timestamps lazily. ok is false once the plan is exhausted.
type Iterator interface {
	Next() (ts int64, ok bool)
}

type rateCursor struct {
	plan *RatePlan
	seg  int
	n    int64
}

func (c *rateCursor) Next() (int64, bool) {
	p := c.plan
	for c.seg < len(p.segs) && c.n >= p.segs[c.seg].length() {
		c.seg++
		c.n = 0
	}
	if c.seg >= len(p.segs) {
		return 0, false
	}
	ts := p.offsets[c.seg] + p.segs[c.seg].at(c.n)
	c.n++
	return ts, true
}
