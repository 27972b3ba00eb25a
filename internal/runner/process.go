package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"loadtank/internal/aggregator"
)

type ProcessConfig struct {
	Path string
	// Args are templates, see ExpandArgs.
	Args []string
	Dir  string
	Env  []string

	Artifact  string
	Phout     string
	Instances int
	RunID     string

	// Output receives the child's stdout and stderr. Nil discards them.
	Output io.Writer
}

// Process runs an external generator that writes raw result lines to
// ProcessConfig.Phout.
type Process struct {
	cfg  ProcessConfig
	log  *zap.Logger
	tail *aggregator.FileTail

	cmd         *exec.Cmd
	cancel      context.CancelFunc
	done        chan struct{}
	rc          int
	terminating atomic.Bool
}

func NewProcess(cfg ProcessConfig, log *zap.Logger) *Process {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("component", "process"))
	return &Process{
		cfg:  cfg,
		log:  log,
		tail: aggregator.NewFileTail(cfg.Phout, log),
		done: make(chan struct{}),
	}
}

func (p *Process) Start(ctx context.Context) error {
	args, err := ExpandArgs(p.cfg.Args, ArgData{
		Artifact:  p.cfg.Artifact,
		Phout:     p.cfg.Phout,
		Instances: p.cfg.Instances,
		RunID:     p.cfg.RunID,
	})
	if err != nil {
		return err
	}
	// A stale result file from an earlier run would be read as ours.
	if err := os.Remove(p.cfg.Phout); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("runner: remove old phout: %w", err)
	}

	ctx, p.cancel = context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, p.cfg.Path, args...)
	cmd.Dir = p.cfg.Dir
	if len(p.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), p.cfg.Env...)
	}
	cmd.Stdout, cmd.Stderr = p.cfg.Output, p.cfg.Output
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	if err := cmd.Start(); err != nil {
		p.cancel()
		return fmt.Errorf("runner: start %s: %w", p.cfg.Path, err)
	}
	p.cmd = cmd
	p.log.Info("generator process started", zap.String("path", p.cfg.Path), zap.Strings("args", args), zap.Int("pid", cmd.Process.Pid))

	go func() {
		p.rc = p.exitCode(cmd.Wait())
		close(p.done)
	}()
	return nil
}

// exitCode classifies the Wait result. Dying from our own SIGTERM or SIGKILL
// is a clean stop.
func (p *Process) exitCode(err error) int {
	if err == nil || (p.terminating.Load() && errors.Is(err, context.Canceled)) {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			sig := status.Signal()
			if p.terminating.Load() && (sig == syscall.SIGTERM || sig == syscall.SIGKILL) {
				return 0
			}
			p.log.Warn("generator process killed", zap.String("signal", sig.String()))
			return 1
		}
		p.log.Warn("generator process failed", zap.Int("code", exitErr.ExitCode()))
		return exitErr.ExitCode()
	}
	p.log.Warn("generator process failed", zap.Error(err))
	return 1
}

func (p *Process) IsFinished() (bool, int) {
	select {
	case <-p.done:
		return true, p.rc
	default:
		return false, 0
	}
}

func (p *Process) Source() aggregator.Source { return p.tail }

// Terminate sends SIGTERM and waits up to grace before killing the process.
func (p *Process) Terminate(grace time.Duration) error {
	if p.cmd == nil {
		return nil
	}
	select {
	case <-p.done:
		return nil
	default:
	}
	p.terminating.Store(true)
	p.cancel()

	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-p.done:
		return nil
	case <-t.C:
	}
	p.log.Warn("generator process ignored SIGTERM, killing", zap.Duration("grace", grace))
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.log.Error("kill generator process", zap.Error(err))
	}
	<-p.done
	return ErrTerminationTimeout
}
