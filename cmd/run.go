package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapio"

	"loadtank/internal/aggregator"
	"loadtank/internal/autostop"
	"loadtank/internal/cli"
	"loadtank/internal/config"
	"loadtank/internal/core"
	"loadtank/internal/logging"
	"loadtank/internal/metrics"
	"loadtank/internal/report"
	"loadtank/internal/runner"
	"loadtank/internal/storage"
	"loadtank/internal/stpd"
	"loadtank/internal/tui"
)

// runTest runs one test end to end and returns its exit code.
func runTest(ctx context.Context, cfg config.Config) (int, error) {
	if err := os.MkdirAll(cfg.Artifacts, 0o755); err != nil {
		return 0, err
	}
	var logPaths []string
	if cfg.UI {
		logPaths = []string{filepath.Join(cfg.Artifacts, "loadtank.log")}
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat, logPaths...)
	if err != nil {
		return 0, err
	}
	defer log.Sync()

	entry, err := stpd.Prepare(cfg.Stepper, log)
	if err != nil {
		return 0, err
	}
	planned := time.Duration(entry.Info.Duration) * time.Millisecond

	run := storage.Run{ID: storage.NewID(), Started: time.Now().UTC(), Config: runConfig(cfg, entry)}
	log = log.With(zap.String("run", run.ID))

	childOut := &zapio.Writer{Log: log.Named("generator"), Level: zap.InfoLevel}
	defer childOut.Close()
	gen, planner, err := newGenerator(cfg, entry, run.ID, childOut, log)
	if err != nil {
		return 0, err
	}
	engine, err := autostop.NewEngine(cfg.Autostop, cfg.ReportPath(), log)
	if err != nil {
		return 0, err
	}
	engine.SetInstances(int64(entry.Info.Instances))
	loop := core.New(gen, engine, core.Options{
		Tick:    cfg.Tick,
		Grace:   cfg.Grace,
		Lag:     cfg.Lag,
		Planner: planner,
	}, log)

	collector := &report.Collector{}
	loop.AddWindowListener(collector)

	var csv *report.CSV
	if cfg.Out != "" {
		if csv, err = report.NewCSV(cfg.Out + ".csv"); err != nil {
			return 0, err
		}
		loop.AddWindowListener(csv)
	}

	if cfg.Metrics != "" {
		exp := metrics.New(log)
		loop.AddWindowListener(exp)
		loop.AddListener(exp)
		mctx, stop := context.WithCancel(context.Background())
		defer stop()
		go func() {
			if err := exp.Serve(mctx, cfg.Metrics); err != nil {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	journal := openJournal(cfg.Journal, log)
	if journal != nil {
		defer journal.Close()
		if err := journal.Save(run); err != nil {
			log.Warn("saving run to journal", zap.Error(err))
		}
		loop.AddWindowListener(journal.Recorder(run.ID))
	}

	var res core.Result
	if cfg.UI {
		// The dashboard reads ctrl+c as a key; SIGTERM still stops the test.
		uiCtx, stop := signal.NotifyContext(ctx, syscall.SIGTERM)
		res, err = tui.Run(uiCtx, loop, headerLine(cfg), planned)
		stop()
	} else {
		mon := cli.New(os.Stdout, planned)
		mon.PrintHeader(cli.Header{
			Generator: cfg.Generator,
			Target:    cfg.Target,
			Schedule:  run.Config.Schedule,
			Instances: entry.Info.Instances,
			Artifact:  entry.Path,
			Autostop:  cfg.Autostop,
		})
		loop.AddListener(mon)

		var abort <-chan struct{}
		var stop func()
		ctx, abort, stop = interrupts(ctx, log)
		res, err = loop.Run(ctx, abort)
		stop()
		if err == nil {
			mon.PrintSummary(res)
		}
	}
	if csv != nil {
		if cerr := csv.Close(); cerr != nil {
			log.Warn("writing csv report", zap.Error(cerr))
		}
	}
	if err != nil {
		return 0, err
	}

	last, _ := collector.Last()
	run.Duration = res.Duration
	run.Result = storage.RunResult{Finished: true, RC: res.RC, Reason: res.Reason.String(), Verdict: res.Verdict}
	run.Summary.Records = res.Records
	run.Summary.Windows = res.Windows
	run.Summary.Summarize(last)
	if journal != nil {
		if err := journal.Save(run); err != nil {
			log.Warn("saving run to journal", zap.Error(err))
		}
	}

	if cfg.Out != "" {
		err := report.ExportJSON(report.Summary{
			ID:         run.ID,
			Started:    run.Started,
			Duration:   res.Duration.String(),
			RC:         res.RC,
			Reason:     res.Reason.String(),
			Verdict:    res.Verdict,
			Records:    res.Records,
			Cumulative: last.Cumulative,
			Windows:    collector.Windows,
		}, cfg.Out+".json")
		if err != nil {
			log.Warn("writing json report", zap.Error(err))
		}
	}
	return res.RC, nil
}

func newGenerator(cfg config.Config, entry stpd.Entry, runID string, out *zapio.Writer, log *zap.Logger) (core.Generator, aggregator.Planner, error) {
	switch cfg.Generator {
	case config.GeneratorProcess:
		p := runner.NewProcess(runner.ProcessConfig{
			Path:      cfg.Process.Path,
			Args:      cfg.Process.Args,
			Artifact:  entry.Path,
			Phout:     cfg.PhoutPath(),
			Instances: entry.Info.Instances,
			RunID:     runID,
			Output:    out,
		}, log)
		return p, &aggregator.SchedulePlanner{Levels: entry.Info.Steps}, nil
	default:
		gun, err := runner.NewHTTPGun(cfg.Target, cfg.Timeout)
		if err != nil {
			return nil, nil, err
		}
		r := runner.NewRunner(runner.Config{
			Target:    cfg.Target,
			Timeout:   cfg.Timeout,
			Instances: entry.Info.Instances,
			Artifact:  entry.Path,
			Levels:    entry.Info.Steps,
			Phout:     cfg.PhoutPath(),
		}, gun, log)
		return r, r.Planner, nil
	}
}

// interrupts cancels the returned context on the first SIGINT or SIGTERM and
// closes abort on the second. Stop releases the signal handler.
func interrupts(parent context.Context, log *zap.Logger) (context.Context, <-chan struct{}, func()) {
	ctx, cancel := context.WithCancel(parent)
	abort := make(chan struct{})
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case sig := <-sigs:
			log.Info("signal received, stopping test, repeat to abort", zap.Stringer("signal", sig))
			cancel()
		case <-done:
			return
		}
		select {
		case <-sigs:
			close(abort)
		case <-done:
		}
	}()

	return ctx, abort, func() {
		signal.Stop(sigs)
		close(done)
		cancel()
	}
}

func openJournal(path string, log *zap.Logger) *storage.Store {
	if path == "" {
		return nil
	}
	s, err := storage.Open(path, log)
	if err != nil {
		log.Warn("journal unavailable, run will not be recorded", zap.String("path", path), zap.Error(err))
		return nil
	}
	return s
}

func runConfig(cfg config.Config, entry stpd.Entry) storage.RunConfig {
	rc := storage.RunConfig{
		Generator: cfg.Generator,
		Schedule:  cfg.Stepper.RPSSchedule,
		Instances: entry.Info.Instances,
		Ammo:      cfg.Stepper.Ammo.File,
		Autostop:  cfg.Autostop,
	}
	if len(rc.Schedule) == 0 {
		rc.Schedule = cfg.Stepper.InstancesSchedule
	}
	if rc.Ammo == "" {
		rc.Ammo = strings.Join(cfg.Stepper.Ammo.URIs, " ")
	}
	if cfg.Generator == config.GeneratorHTTP {
		rc.Target = cfg.Target
	} else {
		rc.Target = cfg.Process.Path
	}
	return rc
}

func headerLine(cfg config.Config) string {
	target := cfg.Target
	if cfg.Generator == config.GeneratorProcess {
		target = cfg.Process.Path
	}
	return fmt.Sprintf("%s | %s", target, strings.Join(slices.Concat(cfg.Stepper.RPSSchedule, cfg.Stepper.InstancesSchedule), " "))
}
