// Package core runs a test: it starts a generator, polls it and the
// aggregator on a ticker, feeds windows to the autostop engine and shuts
// everything down in order when the run ends.
package core

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"loadtank/internal/aggregator"
	"loadtank/internal/autostop"
	"loadtank/internal/runner"
	"loadtank/internal/stats"
)

// Exit codes set by the loop itself. Autostop criteria have their own.
const (
	ExitInterrupted        = 1
	ExitAborted            = 2
	ExitTerminationTimeout = 3
)

const (
	DefaultTick  = time.Second
	DefaultGrace = 10 * time.Second
)

// minTick is the shortest poll interval the loop accepts.
var minTick = 500 * time.Millisecond

// Generator produces load and reports results through its Source.
type Generator interface {
	Start(ctx context.Context) error
	IsFinished() (bool, int)
	Source() aggregator.Source
	Terminate(grace time.Duration) error
}

// WorkerStats is implemented by generators that keep live counters.
type WorkerStats interface {
	Stats() stats.Snapshot
}

type Reason int

const (
	Finished Reason = iota
	Autostopped
	Interrupted
	Aborted
)

func (r Reason) String() string {
	switch r {
	case Finished:
		return "finished"
	case Autostopped:
		return "autostop"
	case Interrupted:
		return "interrupted"
	case Aborted:
		return "aborted"
	}
	return "unknown"
}

type Options struct {
	Tick  time.Duration
	Grace time.Duration
	// Lag and Planner are passed to the aggregator.
	Lag     int
	Planner aggregator.Planner
}

// Result is how a run ended.
type Result struct {
	RC       int
	Reason   Reason
	Verdict  *autostop.Verdict
	Started  time.Time
	Duration time.Duration
	Windows  int
	Records  int64
}

type Loop struct {
	gen    Generator
	engine *autostop.Engine
	agg    *aggregator.Aggregator
	opts   Options
	log    *zap.Logger

	listeners []ProgressListener
	windows   int
}

// New wires gen's results into an aggregator. Engine may be nil.
func New(gen Generator, engine *autostop.Engine, opts Options, log *zap.Logger) *Loop {
	if log == nil {
		log = zap.NewNop()
	}
	if engine == nil {
		engine, _ = autostop.NewEngine(nil, "", log)
	}
	if opts.Tick == 0 {
		opts.Tick = DefaultTick
	}
	opts.Tick = max(opts.Tick, minTick)
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	return &Loop{
		gen:    gen,
		engine: engine,
		agg:    aggregator.New(gen.Source(), aggregator.Options{Lag: int64(opts.Lag), Planner: opts.Planner}, log),
		opts:   opts,
		log:    log.With(zap.String("component", "core")),
	}
}

// AddListener subscribes l to progress reports.
func (l *Loop) AddListener(pl ProgressListener) {
	l.listeners = append(l.listeners, pl)
}

// AddWindowListener subscribes wl to every emitted window.
func (l *Loop) AddWindowListener(wl aggregator.Listener) {
	l.agg.AddListener(wl)
}

// Run drives the test until the generator finishes, autostop trips or ctx
// is cancelled. Closing abort during shutdown gives up at once with
// ExitAborted. Run fails only if the generator cannot start.
func (l *Loop) Run(ctx context.Context, abort <-chan struct{}) (Result, error) {
	start := time.Now()
	if s, ok := l.opts.Planner.(interface{ SetStart(int64) }); ok {
		s.SetStart(start.Unix())
	}
	// Termination goes through Terminate so the grace period applies.
	if err := l.gen.Start(context.WithoutCancel(ctx)); err != nil {
		return Result{}, err
	}
	l.engine.Start(start)
	l.log.Info("test started", zap.Duration("tick", l.opts.Tick), zap.Int("criteria", l.engine.Len()))

	res := Result{Started: start}
	res.Reason, res.RC = l.poll(ctx, start)
	return l.shutdown(res, abort)
}

func (l *Loop) poll(ctx context.Context, start time.Time) (Reason, int) {
	ticker := time.NewTicker(l.opts.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			l.log.Info("interrupted, stopping test")
			return Interrupted, ExitInterrupted
		case now := <-ticker.C:
			if done, rc := l.gen.IsFinished(); done {
				l.log.Info("generator finished", zap.Int("rc", rc))
				return Finished, rc
			}
			windows, err := l.agg.Poll()
			if err != nil {
				l.log.Warn("reading results", zap.Error(err))
			}
			stop := l.judge(windows)
			if !stop {
				stop = l.engine.Tick(now)
			}
			l.publish(now.Sub(start), windows, false)
			if stop {
				v, _ := l.engine.Verdict()
				return Autostopped, v.RC
			}
		}
	}
}

// judge feeds windows to the engine until it trips.
func (l *Loop) judge(windows []aggregator.WindowSnapshot) bool {
	l.windows += len(windows)
	for _, w := range windows {
		if l.engine.Notify(w) {
			return true
		}
	}
	return false
}

func (l *Loop) shutdown(res Result, abort <-chan struct{}) (Result, error) {
	term := make(chan error, 1)
	go func() { term <- l.gen.Terminate(l.opts.Grace) }()

	select {
	case err := <-term:
		switch {
		case errors.Is(err, runner.ErrTerminationTimeout):
			l.log.Warn("generator was killed after grace period", zap.Duration("grace", l.opts.Grace))
			if res.RC == 0 {
				res.RC = ExitTerminationTimeout
			}
		case err != nil:
			l.log.Warn("terminating generator", zap.Error(err))
		}
	case <-abort:
		l.log.Warn("second interrupt, aborting")
		res.Reason, res.RC = Aborted, ExitAborted
		res.Duration = time.Since(res.Started)
		l.agg.Close()
		return res, nil
	}

	windows, err := l.agg.Drain()
	if err != nil {
		l.log.Warn("draining results", zap.Error(err))
	}
	_, tripped := l.engine.Verdict()
	if l.judge(windows) && !tripped && res.Reason == Finished {
		v, _ := l.engine.Verdict()
		res.Reason, res.RC = Autostopped, v.RC
	}
	if v, ok := l.engine.Verdict(); ok {
		res.Verdict = &v
	}
	if err := l.agg.Close(); err != nil {
		l.log.Warn("closing results source", zap.Error(err))
	}

	res.Duration = time.Since(res.Started)
	res.Windows = l.windows
	res.Records = l.agg.Records()
	l.publish(res.Duration, windows, true)
	l.log.Info("test finished",
		zap.Stringer("reason", res.Reason),
		zap.Int("rc", res.RC),
		zap.Int("windows", res.Windows),
		zap.Int64("records", res.Records),
		zap.Int64("clamped", l.agg.Clamped()))
	return res, nil
}
