package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/michaelbrown/pyrunner/internal/rlimit"
)

// MemoryExceededMessage replaces stderr when a run breaches its memory limit.
const MemoryExceededMessage = "Memory limit exceeded"

// AutoPrinter rewrites source so its final bare expression is printed.
type AutoPrinter interface {
	Wrap(ctx context.Context, source string) string
}

// Executor runs requests as limited child processes. It keeps no state
// between calls; every Execute builds its own execution and any number
// may run at once.
type Executor struct {
	opts      Options
	autoPrint AutoPrinter
	sampler   *Sampler
	logger    *zap.Logger
}

// NewExecutor creates an executor. autoPrint may be nil, in which case
// Request.AutoPrint is ignored.
func NewExecutor(opts Options, autoPrint AutoPrinter, usage UsageReader, logger *zap.Logger) *Executor {
	return &Executor{
		opts:      opts,
		autoPrint: autoPrint,
		sampler:   &Sampler{Reader: usage, Interval: opts.SampleInterval, Kill: killProcess},
		logger:    logger.With(zap.String("component", "executor")),
	}
}

// Execute implements Sandbox.
func (x *Executor) Execute(ctx context.Context, req Request) (*Outcome, error) {
	e := &execution{
		x:      x,
		req:    req,
		stdout: newCappedBuffer(x.opts.MaxOutputBytes),
		stderr: newCappedBuffer(x.opts.MaxOutputBytes),
	}
	defer e.finalize()

	if err := e.prepare(ctx); err != nil {
		return nil, err
	}
	if err := e.spawn(ctx); err != nil {
		return nil, err
	}
	return e.supervise(ctx)
}

type state int

const (
	statePending state = iota
	stateSpawned
	stateCompleted
	stateTimedOut
	stateKilled
	stateFinalized
)

func (s state) String() string {
	switch s {
	case statePending:
		return "pending"
	case stateSpawned:
		return "spawned"
	case stateCompleted:
		return "completed"
	case stateTimedOut:
		return "timed_out"
	case stateKilled:
		return "killed"
	case stateFinalized:
		return "finalized"
	}
	return "unknown"
}

// execution is one run of one request. It exclusively owns the child.
type execution struct {
	x     *Executor
	req   Request
	state state

	dir        string // scratch directory, removed on finalize
	script     string
	interp     string
	cmd        *exec.Cmd
	stdout     *cappedBuffer
	stderr     *cappedBuffer
	started    time.Time
	stopSample context.CancelFunc
	readings   <-chan Reading

	reaped        bool
	addressCapped bool // the host let the address space limit apply

	once sync.Once
}

// prepare writes the script and resolves the interpreter.
func (e *execution) prepare(ctx context.Context) error {
	source := e.req.Source
	if e.req.AutoPrint && e.x.autoPrint != nil {
		source = e.x.autoPrint.Wrap(ctx, source)
	}

	dir, err := os.MkdirTemp(e.x.opts.ScratchDir, "pyrunner-*")
	if err != nil {
		return fmt.Errorf("creating scratch dir: %w", err)
	}
	e.dir = dir

	e.script = filepath.Join(dir, "main.py")
	if err := os.WriteFile(e.script, []byte(source), 0o600); err != nil {
		return fmt.Errorf("writing script: %w", err)
	}

	e.interp, err = exec.LookPath(e.x.opts.Interpreter)
	if err != nil {
		return fmt.Errorf("finding interpreter %s: %w", e.x.opts.Interpreter, err)
	}
	return nil
}

func (e *execution) spawn(ctx context.Context) error {
	limits := rlimit.Limits{
		MemoryMB:    e.req.MemoryLimitMB,
		CPUSeconds:  e.x.opts.CPUSeconds,
		OpenFiles:   e.x.opts.MaxOpenFiles,
		DisableCore: true,
	}
	cmd, err := rlimit.Command(limits, e.interp, "-u", e.script)
	if err != nil {
		return err
	}
	e.addressCapped = limits.MemoryMB > 0 && len(rlimit.Check(rlimit.Limits{MemoryMB: limits.MemoryMB})) == 0
	cmd.Dir = e.dir
	cmd.Env = childEnv(e.dir)
	cmd.Stdout = e.stdout
	cmd.Stderr = e.stderr
	// Bounds Wait when a grandchild keeps the output pipes open.
	cmd.WaitDelay = time.Second

	e.started = time.Now()
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting interpreter: %w", err)
	}
	e.cmd = cmd
	e.state = stateSpawned

	sctx, cancel := context.WithCancel(ctx)
	e.stopSample = cancel
	e.readings = e.x.sampler.Start(sctx, cmd.Process.Pid, uint64(e.req.MemoryLimitMB)<<20)
	return nil
}

// exitNotice reports that the child exited. When reaped is set the wait
// status is already collected and err is the result of cmd.Wait.
type exitNotice struct {
	reaped bool
	err    error
}

// supervise races the child's exit against the timeout and the caller.
// The sampler is stopped while the exited child is still unreaped, and the
// child is reaped only after its group has been killed.
func (e *execution) supervise(ctx context.Context) (*Outcome, error) {
	exited := make(chan exitNotice, 1)
	go func() { exited <- awaitExit(e.cmd) }()

	timer := time.NewTimer(e.req.Timeout)
	defer timer.Stop()

	select {
	case n := <-exited:
		elapsed := time.Since(e.started)
		e.state = stateCompleted
		reading, ok := e.stopSampling()
		return e.classify(e.reap(n), elapsed, reading, ok)

	case <-timer.C:
		e.state = stateTimedOut
		e.stopSampling()
		e.reap(e.terminate(exited))
		return &Outcome{
			Status:  StatusTimeout,
			Stderr:  fmt.Sprintf("Execution timed out after %d seconds", int(e.req.Timeout/time.Second)),
			Elapsed: e.req.Timeout,
		}, nil

	case <-ctx.Done():
		e.state = stateKilled
		e.stopSampling()
		_ = killGroup(e.cmd.Process.Pid)
		e.reap(<-exited)
		return nil, ctx.Err()
	}
}

// stopSampling cancels the sampler and collects its reading, if it
// produced one before being cancelled.
func (e *execution) stopSampling() (Reading, bool) {
	e.stopSample()
	r, ok := <-e.readings
	return r, ok
}

// terminate asks the group to exit, then kills it after the grace period,
// and waits for the child to exit either way.
func (e *execution) terminate(exited <-chan exitNotice) exitNotice {
	pid := e.cmd.Process.Pid
	if err := terminateGroup(pid); err != nil {
		e.x.logger.Warn("terminating process group", zap.Int("pgid", pid), zap.Error(err))
	}

	grace := time.NewTimer(e.x.opts.GracePeriod)
	defer grace.Stop()
	select {
	case n := <-exited:
		return n
	case <-grace.C:
	}

	if err := killGroup(pid); err != nil {
		e.x.logger.Warn("killing process group", zap.Int("pgid", pid), zap.Error(err))
	}
	return <-exited
}

// reap kills whatever is left of the child's group, then collects the
// child's exit status. It returns the result of cmd.Wait.
func (e *execution) reap(n exitNotice) error {
	if err := killGroup(e.cmd.Process.Pid); err != nil {
		e.x.logger.Warn("killing process group", zap.Int("pgid", e.cmd.Process.Pid), zap.Error(err))
	}
	if !n.reaped {
		n.err = e.cmd.Wait()
	}
	e.reaped = true
	return n.err
}

func (e *execution) classify(waitErr error, elapsed time.Duration, r Reading, haveReading bool) (*Outcome, error) {
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.Is(waitErr, exec.ErrWaitDelay) && !errors.As(waitErr, &exitErr) {
		return nil, fmt.Errorf("waiting for interpreter: %w", waitErr)
	}
	ps := e.cmd.ProcessState
	if ps == nil {
		return nil, errors.New("interpreter exited without a process state")
	}

	out := &Outcome{
		Stdout:    e.stdout.String(),
		Stderr:    e.stderr.String(),
		Elapsed:   elapsed,
		Truncated: e.stdout.Truncated() || e.stderr.Truncated(),
	}
	if haveReading {
		out.PeakMemoryMB = r.PeakMB()
	}

	switch {
	case ps.Success():
		out.Status = StatusSuccess
	case exceededMemory(killedBySIGKILL(ps.Sys()), haveReading && r.Killed, e.addressCapped, out.Stderr):
		out.Status = StatusMemoryExceeded
		out.Stderr = MemoryExceededMessage
	default:
		out.Status = StatusError
	}
	return out, nil
}

// exceededMemory decides the memory_exceeded status. A traceback ending in
// MemoryError only counts when the address space ceiling was in force,
// since that is how the interpreter dies when it hits the ceiling; a script
// raising MemoryError itself without the ceiling is an ordinary error.
func exceededMemory(sigkilled, samplerKilled, addressCapped bool, stderr string) bool {
	return sigkilled || samplerKilled || (addressCapped && endsInMemoryError(stderr))
}

// endsInMemoryError reports a traceback ending in MemoryError.
func endsInMemoryError(stderr string) bool {
	stderr = strings.TrimRight(stderr, "\n")
	last := stderr[strings.LastIndexByte(stderr, '\n')+1:]
	return strings.HasPrefix(last, "MemoryError")
}

// finalize runs exactly once per execution, on every path.
func (e *execution) finalize() {
	e.once.Do(func() {
		if e.stopSample != nil {
			e.stopSample()
		}
		if e.cmd != nil && e.cmd.Process != nil && !e.reaped {
			e.reap(exitNotice{})
		}
		if e.dir != "" {
			if err := os.RemoveAll(e.dir); err != nil {
				e.x.logger.Warn("removing scratch dir", zap.String("dir", e.dir), zap.Error(err))
			}
		}
		e.x.logger.Debug("execution finalized", zap.Stringer("last_state", e.state))
		e.state = stateFinalized
	})
}

// childEnv is the whole environment the child sees.
func childEnv(dir string) []string {
	path := os.Getenv("PATH")
	if path == "" {
		path = "/usr/local/bin:/usr/bin:/bin"
	}
	return []string{
		"PATH=" + path,
		"HOME=" + dir,
		"LANG=C.UTF-8",
		"PYTHONIOENCODING=utf-8",
		"PYTHONDONTWRITEBYTECODE=1",
		"MPLBACKEND=Agg",
		"MPLCONFIGDIR=" + dir,
	}
}
