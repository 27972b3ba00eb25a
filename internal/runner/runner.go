// Package runner holds the generators: an in-process worker pool that plays a
// schedule artifact through a Gun, and an external process that writes raw
// result lines to a file.
package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"loadtank/internal/aggregator"
	"loadtank/internal/stats"
	"loadtank/internal/stpd"
)

type Runner struct {
	Cfg      Config
	Counters *stats.Counters
	Planner  *aggregator.SchedulePlanner

	gun   Gun
	queue *aggregator.Queue
	log   *zap.Logger

	phoutMu sync.Mutex
	phout   *bufio.Writer

	cancel context.CancelFunc
	done   chan struct{}
	rc     int
}

func NewRunner(cfg Config, gun Gun, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Instances <= 0 {
		cfg.Instances = 1
	}
	r := &Runner{
		Cfg:      cfg,
		Counters: stats.NewCounters(),
		gun:      gun,
		queue:    aggregator.NewQueue(),
		log:      log.With(zap.String("component", "runner")),
		done:     make(chan struct{}),
	}
	r.Planner = &aggregator.SchedulePlanner{Levels: cfg.Levels, Workers: r.Counters.Active.Load}
	return r
}

// Start opens the artifact and starts the pool. It returns once the workers
// are running; IsFinished reports when they are done.
func (r *Runner) Start(ctx context.Context) error {
	f, err := os.Open(r.Cfg.Artifact)
	if err != nil {
		return fmt.Errorf("runner: open artifact: %w", err)
	}
	var phoutFile *os.File
	if r.Cfg.Phout != "" {
		if phoutFile, err = os.Create(r.Cfg.Phout); err != nil {
			f.Close()
			return fmt.Errorf("runner: create phout: %w", err)
		}
		r.phout = bufio.NewWriter(phoutFile)
	}

	ctx, r.cancel = context.WithCancel(ctx)
	start := time.Now()
	r.Planner.SetStart(start.Unix())

	g, gctx := errgroup.WithContext(ctx)
	tasks := make(chan stpd.Shot, r.Cfg.Instances*2)

	// 1. Feeder
	g.Go(func() error {
		defer close(tasks)
		rd := stpd.NewReader(f)
		for {
			shot, err := rd.Next()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("runner: read artifact: %w", err)
			}
			select {
			case tasks <- shot:
			case <-gctx.Done():
				return nil
			}
		}
	})

	// 2. Workers
	for i := 0; i < r.Cfg.Instances; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case shot, ok := <-tasks:
					if !ok {
						return nil
					}
					r.fire(gctx, start, shot)
				}
			}
		})
	}

	r.log.Info("generator started",
		zap.String("artifact", r.Cfg.Artifact),
		zap.String("target", r.Cfg.Target),
		zap.Int("instances", r.Cfg.Instances))

	go func() {
		err := g.Wait()
		f.Close()
		if phoutFile != nil {
			r.phoutMu.Lock()
			r.phout.Flush()
			r.phoutMu.Unlock()
			phoutFile.Close()
		}
		if err != nil {
			r.log.Error("generator failed", zap.Error(err))
			r.rc = 1
		}
		close(r.done)
	}()
	return nil
}

// fire waits for the shot's due time and sends it. A zero offset, which
// closed-loop schedules use after the initial ramp, fires at once and has
// no lag.
func (r *Runner) fire(ctx context.Context, start time.Time, shot stpd.Shot) {
	due := start.Add(time.Duration(shot.TS) * time.Millisecond)
	if wait := time.Until(due); wait > 0 {
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}

	sent := time.Now()
	var lag int64
	if shot.TS > 0 {
		lag = max(0, sent.Sub(due).Microseconds())
	}

	r.Counters.Active.Add(1)
	s := r.gun.Shoot(ctx, shot.Payload)
	r.Counters.Active.Add(-1)
	if ctx.Err() != nil {
		// cut short by termination, not by the target
		return
	}
	s.IntervalEvent = max(0, s.IntervalReal-lag)

	rec := aggregator.Record{Time: float64(sent.UnixMicro()) / 1e6, Tag: shot.Tag, Sample: s}
	r.queue.Push(rec)
	r.Counters.Observe(s, lag)
	if r.phout != nil {
		r.phoutMu.Lock()
		r.phout.WriteString(aggregator.FormatRecord(rec))
		r.phoutMu.Unlock()
	}
}

// IsFinished reports whether every shot was fired, and the exit code.
func (r *Runner) IsFinished() (bool, int) {
	select {
	case <-r.done:
		return true, r.rc
	default:
		return false, 0
	}
}

func (r *Runner) Source() aggregator.Source { return r.queue }

// Terminate stops the pool. In-flight shots are abandoned and not reported.
func (r *Runner) Terminate(grace time.Duration) error {
	if r.cancel == nil {
		return nil
	}
	r.cancel()
	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-r.done:
		return nil
	case <-t.C:
		return ErrTerminationTimeout
	}
}

// Stats returns a copy of the live counters.
func (r *Runner) Stats() stats.Snapshot { return r.Counters.Snapshot() }

func (r *Runner) GetInflight() int64 {
	return r.Counters.Active.Load()
}
