// Package process runs one command line under a resolved interpreter and
// owns the child for its whole life: it drains both output streams, waits
// for exit and enforces the time budget, killing the process group when
// the budget runs out.
package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/standardbeagle/climcp/internal/logging"
	"github.com/standardbeagle/climcp/internal/shell"
	"github.com/standardbeagle/climcp/pkg/events"
)

const (
	DefaultTimeout        = 30 * time.Second
	DefaultGracePeriod    = 2 * time.Second
	DefaultMaxOutputBytes = 10 << 20

	// minSettle bounds how long we wait for exit confirmation and for pipes
	// to reach EOF once the process has been killed or has exited.
	minSettle = 250 * time.Millisecond

	groupPollInterval = 20 * time.Millisecond
)

// Options configures a Supervisor. Zero values take the package defaults.
type Options struct {
	DefaultTimeout time.Duration
	GracePeriod    time.Duration
	MaxOutputBytes int
	WorkDir        string
	// Env is appended to the inherited environment.
	Env []string

	Bus    *events.EventBus
	Logger *zap.Logger
}

// Request is a single execution.
type Request struct {
	Shell   shell.Shell
	Command string
	// Timeout of zero or less uses Options.DefaultTimeout.
	Timeout time.Duration
	// InvocationID tags published events. Optional.
	InvocationID string
}

// Supervisor executes requests. It holds no per-request state and is safe
// for concurrent use.
type Supervisor struct {
	opts   Options
	logger *zap.Logger
}

func New(opts Options) *Supervisor {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultTimeout
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = DefaultMaxOutputBytes
	}
	return &Supervisor{opts: opts, logger: logging.OrNop(opts.Logger)}
}

// Execute runs req to completion and always returns a Result. Nonzero exit,
// timeout and spawn failure are all reported through Result.Status.
func (s *Supervisor) Execute(ctx context.Context, req Request) *Result {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.opts.DefaultTimeout
	}
	log := s.logger.With(
		zap.String("interpreter", req.Shell.Identifier()),
		zap.Duration("timeout", timeout))
	if req.InvocationID != "" {
		log = log.With(zap.String("invocation", req.InvocationID))
	}

	start := time.Now()
	stdout := newCappedBuffer(s.opts.MaxOutputBytes)
	stderr := newCappedBuffer(s.opts.MaxOutputBytes)

	argv := req.Shell.Argv(req.Command)
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = s.opts.WorkDir
	cmd.Env = append(os.Environ(), s.opts.Env...)
	setupProcessGroup(cmd)

	outR, outW, err := os.Pipe()
	if err != nil {
		return s.spawnFailed(req, start, err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		return s.spawnFailed(req, start, err)
	}
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		closeAll(outR, outW, errR, errW)
		log.Warn("failed to start interpreter", zap.Error(err))
		return s.spawnFailed(req, start, err)
	}
	// The child holds its own copies of the write ends.
	closeAll(outW, errW)

	pid := cmd.Process.Pid
	log = log.With(zap.Int("pid", pid))
	log.Debug("process started")
	s.publish(events.ProcessStarted, req, map[string]interface{}{
		"pid":         pid,
		"interpreter": req.Shell.Identifier(),
		"timeout_ms":  timeout.Milliseconds(),
	})

	var drains errgroup.Group
	drains.Go(func() error { return drain(stdout, outR) })
	drains.Go(func() error { return drain(stderr, errR) })
	drained := make(chan error, 1)
	go func() { drained <- drains.Wait() }()

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var (
		waitErr error
		stopped *TimeoutError
	)
	select {
	case waitErr = <-exited:
	case <-timer.C:
		stopped = &TimeoutError{Timeout: timeout}
		log.Info("command timed out, terminating process group")
		waitErr = s.terminate(cmd.Process, exited, stopped, log)
	case <-ctx.Done():
		stopped = &TimeoutError{Timeout: timeout, Cancelled: true}
		log.Info("invocation cancelled, terminating process group")
		waitErr = s.terminate(cmd.Process, exited, stopped, log)
	}

	s.collect(drained, outR, errR, log)

	res := &Result{
		Stdout:          stdout.Text(),
		Stderr:          stderr.Text(),
		Interpreter:     req.Shell.Identifier(),
		InterpreterPath: req.Shell.Path,
		DurationMs:      time.Since(start).Milliseconds(),
		Truncated:       stdout.Truncated() || stderr.Truncated(),
		PID:             pid,
	}

	if stopped != nil {
		res.Status = OutcomeTimeout
		if stopped.Cancelled {
			res.Status = OutcomeCancelled
		}
		res.Message = stopped.Error()
		res.Err = stopped
		s.publish(events.ProcessTimedOut, req, map[string]interface{}{
			"pid":        pid,
			"timeout_ms": timeout.Milliseconds(),
			"cancelled":  stopped.Cancelled,
			"forced":     stopped.Forced,
		})
	} else {
		exitResult(res, waitErr)
	}

	log.Debug("process finished",
		zap.String("status", string(res.Status)),
		zap.Int64("duration_ms", res.DurationMs),
		zap.Int("stdout_bytes", stdout.Len()),
		zap.Int("stderr_bytes", stderr.Len()))
	s.publish(events.ProcessExited, req, map[string]interface{}{
		"pid":         pid,
		"status":      string(res.Status),
		"returncode":  res.ReturnCode,
		"duration_ms": res.DurationMs,
	})
	return res
}

// terminate stops the process group: cooperative signal first, then an
// unconditional kill once the grace period runs out. The leader exiting early
// is not enough; any group member still alive at the end of the grace period
// is killed too. It returns the wait error when the exit was observed, and
// gives up on a process that survives SIGKILL rather than block the caller.
func (s *Supervisor) terminate(proc *os.Process, exited <-chan error, stop *TimeoutError, log *zap.Logger) error {
	grace := time.NewTimer(s.opts.GracePeriod)
	defer grace.Stop()

	if err := interruptGroup(proc); err != nil {
		log.Debug("interrupt failed, killing immediately", zap.Error(err))
		grace.Reset(0)
	}

	select {
	case err := <-exited:
		s.sweepGroup(proc, grace.C, stop, log)
		return err
	case <-grace.C:
	}

	stop.Forced = true
	log.Warn("process ignored interrupt, killing process group",
		zap.Duration("grace", s.opts.GracePeriod))
	killGroup(proc)

	settle := time.NewTimer(s.settle())
	defer settle.Stop()
	select {
	case err := <-exited:
		return err
	case <-settle.C:
		log.Error("process did not exit after kill, abandoning it")
		return nil
	}
}

// sweepGroup runs after the leader has been reaped. It waits for the rest of
// the group to leave until the grace period ends, then kills whatever is left.
func (s *Supervisor) sweepGroup(proc *os.Process, grace <-chan time.Time, stop *TimeoutError, log *zap.Logger) {
	tick := time.NewTicker(groupPollInterval)
	defer tick.Stop()

	for groupAlive(proc) {
		select {
		case <-grace:
			stop.Forced = true
			log.Warn("descendants ignored interrupt, killing process group",
				zap.Duration("grace", s.opts.GracePeriod))
			killGroup(proc)
			return
		case <-tick.C:
		}
	}
	releaseGroup(proc)
}

// collect waits for both drains to hit EOF. A descendant that escaped the
// kill can keep a write end open, so after the settle window the read ends
// are closed underneath the drains.
func (s *Supervisor) collect(drained <-chan error, outR, errR *os.File, log *zap.Logger) {
	settle := time.NewTimer(s.settle())
	defer settle.Stop()

	select {
	case err := <-drained:
		if err != nil {
			log.Debug("output drain ended with error", zap.Error(err))
		}
	case <-settle.C:
		log.Debug("output pipes still open after exit, closing them")
		closeAll(outR, errR)
		<-drained
	}
	closeAll(outR, errR)
}

func (s *Supervisor) settle() time.Duration {
	if s.opts.GracePeriod > minSettle {
		return s.opts.GracePeriod
	}
	return minSettle
}

func (s *Supervisor) spawnFailed(req Request, start time.Time, cause error) *Result {
	err := &SpawnError{Interpreter: req.Shell.Identifier(), Path: req.Shell.Path, Err: cause}
	return &Result{
		Message:         fmt.Sprintf("failed to start %s: %v", req.Shell.Identifier(), cause),
		Interpreter:     req.Shell.Identifier(),
		InterpreterPath: req.Shell.Path,
		Status:          OutcomeSpawnError,
		DurationMs:      time.Since(start).Milliseconds(),
		Err:             err,
	}
}

func (s *Supervisor) publish(t events.EventType, req Request, data map[string]interface{}) {
	s.opts.Bus.Publish(events.Event{Type: t, InvocationID: req.InvocationID, Data: data})
}

// exitResult fills status, code and message for a process that exited on its own.
func exitResult(res *Result, waitErr error) {
	if waitErr == nil {
		code := 0
		res.ReturnCode = &code
		res.Status = OutcomeSuccess
		res.Message = "success"
		return
	}

	res.Status = OutcomeCommandFailure
	var exitErr *exec.ExitError
	if !errors.As(waitErr, &exitErr) {
		res.Message = fmt.Sprintf("waiting for command failed: %v", waitErr)
		return
	}
	code := exitErr.ExitCode()
	if code < 0 || signalledExit(exitErr.ProcessState) {
		// Killed from outside; there is no exit code to report.
		res.Message = fmt.Sprintf("command terminated (%s)", exitErr.ProcessState)
		return
	}
	res.ReturnCode = &code
	res.Message = fmt.Sprintf("command exited with code %d", code)
}

func drain(dst io.Writer, src io.Reader) error {
	_, err := io.Copy(dst, src)
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close() // Second close after collect is expected
	}
}
