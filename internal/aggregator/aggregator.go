package aggregator

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"loadtank/internal/stats"
)

// State is the aggregator lifecycle stage.
type State int

const (
	Idle State = iota
	Collecting
	Draining
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Collecting:
		return "collecting"
	case Draining:
		return "draining"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var ErrClosed = errors.New("aggregator: closed")

// WindowSnapshot is the finished statistics of one second of generator time.
// Listeners must not modify it.
type WindowSnapshot struct {
	Timestamp  int64                   `json:"ts"`
	Overall    stats.Bucket            `json:"overall"`
	ByTag      map[string]stats.Bucket `json:"tagged"`
	Cumulative stats.Bucket            `json:"cumulative"`
}

// Listener receives every emitted window in order.
type Listener interface {
	OnWindow(WindowSnapshot)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(WindowSnapshot)

func (f ListenerFunc) OnWindow(w WindowSnapshot) { f(w) }

// Planner supplies the generator side figures of a window.
type Planner interface {
	// Planned is the number of shots scheduled for the given unix second.
	Planned(second int64) int64
	ActiveWorkers() int64
}

// DefaultMaxGap is the longest run of empty seconds filled between two
// windows with records.
const DefaultMaxGap = 300

// Options tunes windowing.
type Options struct {
	// Lag is how many seconds behind the newest seen second a window stays
	// open. The default of 1 closes a second as soon as a later one appears.
	Lag int64
	// MaxGap caps the empty windows emitted for a hole in the timeline.
	// Longer holes are skipped, so one record with a skewed clock costs a
	// warning instead of millions of windows.
	MaxGap  int64
	Planner Planner
}

type window struct {
	overall *stats.Accumulator
	byTag   map[string]*stats.Accumulator
}

func newWindow() *window {
	return &window{overall: stats.NewAccumulator(), byTag: map[string]*stats.Accumulator{}}
}

func (w *window) add(r Record) {
	w.overall.Add(r.Sample)
	tag := r.Case()
	if tag == "" {
		return
	}
	acc, ok := w.byTag[tag]
	if !ok {
		acc = stats.NewAccumulator()
		w.byTag[tag] = acc
	}
	acc.Add(r.Sample)
}

// Aggregator folds raw records into per-second windows. It is driven from a
// single goroutine.
type Aggregator struct {
	src       Source
	opts      Options
	log       *zap.Logger
	listeners []Listener

	state      State
	open       map[int64]*window
	newest     int64
	emitted    int64
	hasEmitted bool
	cumulative *stats.Accumulator
	clamped    int64
	skipped    int64
	records    int64
	empty      *window
}

func New(src Source, opts Options, log *zap.Logger) *Aggregator {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Lag < 1 {
		opts.Lag = 1
	}
	if opts.MaxGap < 1 {
		opts.MaxGap = DefaultMaxGap
	}
	return &Aggregator{
		src:        src,
		opts:       opts,
		log:        log.With(zap.String("component", "aggregator")),
		open:       map[int64]*window{},
		newest:     math.MinInt64,
		cumulative: stats.NewAccumulator(),
		empty:      newWindow(),
	}
}

// AddListener registers l for all windows emitted from now on.
func (a *Aggregator) AddListener(l Listener) {
	a.listeners = append(a.listeners, l)
}

func (a *Aggregator) State() State { return a.state }

// Records is the number of records consumed so far.
func (a *Aggregator) Records() int64 { return a.records }

// Clamped is the number of late records moved into a later window.
func (a *Aggregator) Clamped() int64 { return a.clamped }

// SkippedSeconds is the number of empty seconds not emitted because they fell
// into a hole longer than MaxGap.
func (a *Aggregator) SkippedSeconds() int64 { return a.skipped }

// Poll consumes whatever the source has and emits the windows that became
// stable.
func (a *Aggregator) Poll() ([]WindowSnapshot, error) {
	switch a.state {
	case Closed:
		return nil, ErrClosed
	case Idle:
		a.state = Collecting
	}
	if _, err := a.consume(); err != nil {
		return nil, err
	}
	if a.state == Draining || len(a.open) == 0 {
		return nil, nil
	}
	return a.emitThrough(a.newest - a.opts.Lag), nil
}

// Drain reads the source until it is empty and flushes every open window,
// partial ones included.
func (a *Aggregator) Drain() ([]WindowSnapshot, error) {
	if a.state == Closed {
		return nil, ErrClosed
	}
	a.state = Draining
	for {
		n, err := a.consume()
		if err != nil {
			a.log.Warn("reading results while draining", zap.Error(err))
		}
		if n == 0 || err != nil {
			break
		}
	}
	if f, ok := a.src.(Flusher); ok {
		recs, err := f.Flush()
		if err != nil {
			a.log.Warn("flushing results while draining", zap.Error(err))
		}
		a.fold(recs)
	}
	if len(a.open) == 0 {
		return nil, nil
	}
	return a.emitThrough(a.newest), nil
}

// Close releases the source. Open windows are discarded.
func (a *Aggregator) Close() error {
	if a.state == Closed {
		return nil
	}
	a.state = Closed
	a.open = nil
	return a.src.Close()
}

func (a *Aggregator) consume() (int, error) {
	recs, err := a.src.Read()
	if err != nil {
		return 0, fmt.Errorf("aggregator: read results: %w", err)
	}
	a.fold(recs)
	return len(recs), nil
}

func (a *Aggregator) fold(recs []Record) {
	var clamped int64
	for _, r := range recs {
		sec := r.Second()
		if a.hasEmitted && sec <= a.emitted {
			sec = a.emitted + 1
			clamped++
		}
		w, ok := a.open[sec]
		if !ok {
			w = newWindow()
			a.open[sec] = w
		}
		w.add(r)
		if sec > a.newest {
			a.newest = sec
		}
	}
	a.records += int64(len(recs))
	if clamped > 0 {
		a.clamped += clamped
		a.log.Warn("late results moved to the earliest open second",
			zap.Int64("count", clamped), zap.Int64("second", a.emitted+1))
	}
}

// emitThrough emits every second up to and including last. Seconds without
// records between emitted ones produce empty windows, unless the hole is
// longer than MaxGap.
func (a *Aggregator) emitThrough(last int64) []WindowSnapshot {
	from := a.emitted + 1
	if !a.hasEmitted {
		from = a.oldestOpen()
	}
	var out []WindowSnapshot
	for sec := from; sec <= last; sec++ {
		w, ok := a.open[sec]
		if !ok {
			next := min(a.nextOpen(sec), last+1)
			if gap := next - sec; gap > a.opts.MaxGap {
				a.log.Warn("skipping a hole in result timestamps",
					zap.Int64("from", sec), zap.Int64("to", next-1), zap.Int64("seconds", gap))
				a.skipped += gap
				a.emitted, a.hasEmitted = next-1, true
				sec = next - 1
				continue
			}
			w = a.empty
		}
		delete(a.open, sec)
		snap := a.snapshot(sec, w)
		a.emitted, a.hasEmitted = sec, true
		out = append(out, snap)
		for _, l := range a.listeners {
			l.OnWindow(snap)
		}
	}
	return out
}

// nextOpen is the earliest open second after sec, or MaxInt64 if none.
func (a *Aggregator) nextOpen(sec int64) int64 {
	next := int64(math.MaxInt64)
	for s := range a.open {
		if s > sec && s < next {
			next = s
		}
	}
	return next
}

func (a *Aggregator) oldestOpen() int64 {
	secs := make([]int64, 0, len(a.open))
	for s := range a.open {
		secs = append(secs, s)
	}
	sort.Slice(secs, func(i, j int) bool { return secs[i] < secs[j] })
	return secs[0]
}

func (a *Aggregator) snapshot(sec int64, w *window) WindowSnapshot {
	a.cumulative.Merge(w.overall)
	snap := WindowSnapshot{
		Timestamp:  sec,
		Overall:    w.overall.Bucket(),
		ByTag:      make(map[string]stats.Bucket, len(w.byTag)),
		Cumulative: a.cumulative.Bucket(),
	}
	for tag, acc := range w.byTag {
		snap.ByTag[tag] = acc.Bucket()
	}
	if p := a.opts.Planner; p != nil {
		snap.Overall.PlannedCount = p.Planned(sec)
		snap.Overall.ActiveWorkers = p.ActiveWorkers()
	}
	return snap
}
