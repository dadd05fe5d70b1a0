package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/michaelbrown/pyrunner/internal/autoprint"
	"github.com/michaelbrown/pyrunner/internal/pyast"
	"github.com/michaelbrown/pyrunner/internal/rlimit"
)

func TestMain(m *testing.M) {
	rlimit.Init()
	os.Exit(m.Run())
}

func requirePython(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("python3")
	if err != nil {
		t.Skip("python3 not on PATH")
	}
	return path
}

// newTestExecutor returns an executor writing into a fresh scratch dir.
func newTestExecutor(t *testing.T, usage UsageReader, mutate ...func(*Options)) (*Executor, string) {
	t.Helper()
	requirePython(t)

	if usage == nil {
		var err error
		usage, err = NewUsageReader()
		require.NoError(t, err)
	}
	opts := DefaultOptions()
	opts.ScratchDir = t.TempDir()
	for _, m := range mutate {
		m(&opts)
	}
	return NewExecutor(opts, nil, usage, zap.NewNop()), opts.ScratchDir
}

func request(source string) Request {
	return Request{Source: source, Timeout: 30 * time.Second, MemoryLimitMB: 512}
}

func assertScratchEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch files must not outlive the execution")
}

func TestExecuteSuccess(t *testing.T) {
	x, dir := newTestExecutor(t, nil)

	out, err := x.Execute(context.Background(), request(`print("hi")`))
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, out.Status)
	assert.Equal(t, "hi\n", out.Stdout)
	assert.Equal(t, "", out.Stderr)
	assert.Greater(t, out.Elapsed, time.Duration(0))
	assert.False(t, out.Truncated)
	assertScratchEmpty(t, dir)
}

func TestExecuteRuntimeError(t *testing.T) {
	x, dir := newTestExecutor(t, nil)

	out, err := x.Execute(context.Background(), request("print(1); raise ValueError(\"x\")"))
	require.NoError(t, err)
	assert.Equal(t, StatusError, out.Status)
	assert.Equal(t, "1\n", out.Stdout, "output before the crash is kept")
	assert.Contains(t, out.Stderr, "ValueError")
	assertScratchEmpty(t, dir)
}

func TestExecuteSyntaxErrorAtRuntime(t *testing.T) {
	x, _ := newTestExecutor(t, nil)

	out, err := x.Execute(context.Background(), request("def f(:\n"))
	require.NoError(t, err)
	assert.Equal(t, StatusError, out.Status)
	assert.Contains(t, out.Stderr, "SyntaxError")
}

func TestExecuteTimeout(t *testing.T) {
	x, dir := newTestExecutor(t, nil)
	req := request("while True: pass")
	req.Timeout = 2 * time.Second

	start := time.Now()
	out, err := x.Execute(context.Background(), req)
	wall := time.Since(start)
	require.NoError(t, err)

	assert.Equal(t, StatusTimeout, out.Status)
	assert.Equal(t, "", out.Stdout)
	assert.Equal(t, "Execution timed out after 2 seconds", out.Stderr)
	assert.Equal(t, 2*time.Second, out.Elapsed)
	assert.Nil(t, out.PeakMemoryMB)
	assert.Less(t, wall, 3*time.Second)
	assertScratchEmpty(t, dir)
}

func TestExecuteTimeoutIgnoringSIGTERM(t *testing.T) {
	x, dir := newTestExecutor(t, nil)
	req := request("import signal\nsignal.signal(signal.SIGTERM, signal.SIG_IGN)\nwhile True: pass")
	req.Timeout = time.Second

	start := time.Now()
	out, err := x.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StatusTimeout, out.Status)
	assert.Less(t, time.Since(start), 3*time.Second, "the group is killed after the grace period")
	assertScratchEmpty(t, dir)
}

func TestExecuteMemoryCeiling(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("address space limits are only enforced on linux")
	}
	limits := rlimit.Limits{MemoryMB: 64}
	if skipped := rlimit.Check(limits); len(skipped) > 0 {
		t.Skipf("host will not lower the limit: %v", skipped)
	}
	x, dir := newTestExecutor(t, nil)
	req := request("x = bytearray(1024 * 1024 * 1024)\nprint('unreachable')")
	req.MemoryLimitMB = 64
	req.Timeout = 60 * time.Second

	start := time.Now()
	out, err := x.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StatusMemoryExceeded, out.Status)
	assert.Equal(t, MemoryExceededMessage, out.Stderr)
	assert.Less(t, time.Since(start), 10*time.Second)
	assertScratchEmpty(t, dir)
}

// breachingUsage reports every process as over any limit.
type breachingUsage struct{}

func (breachingUsage) ResidentBytes(int) (uint64, error) { return 1 << 40, nil }

func TestExecuteSamplerKill(t *testing.T) {
	x, dir := newTestExecutor(t, breachingUsage{})

	out, err := x.Execute(context.Background(), request("import time\nprint('started', flush=True)\ntime.sleep(30)"))
	require.NoError(t, err)
	assert.Equal(t, StatusMemoryExceeded, out.Status)
	assert.Equal(t, MemoryExceededMessage, out.Stderr)
	require.NotNil(t, out.PeakMemoryMB)
	assert.Equal(t, float64(1<<20), *out.PeakMemoryMB)
	assertScratchEmpty(t, dir)
}

func TestExecuteAutoPrint(t *testing.T) {
	path := requirePython(t)
	usage, err := NewUsageReader()
	require.NoError(t, err)
	opts := DefaultOptions()
	opts.ScratchDir = t.TempDir()
	x := NewExecutor(opts, autoprint.New(pyast.NewInterpreter(path, 10*time.Second)), usage, zap.NewNop())

	req := request("2 + 3")
	req.AutoPrint = true
	out, err := x.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, out.Status)
	assert.Equal(t, "5\n", out.Stdout)

	req.AutoPrint = false
	out, err = x.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "", out.Stdout)

	req = request("None")
	req.AutoPrint = true
	out, err = x.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "", out.Stdout)
}

func TestExecuteLimitsInForce(t *testing.T) {
	x, _ := newTestExecutor(t, nil)

	out, err := x.Execute(context.Background(), request(
		"import resource\n"+
			"print(resource.getrlimit(resource.RLIMIT_NOFILE)[0])\n"+
			"print(resource.getrlimit(resource.RLIMIT_CORE)[0])\n"))
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, out.Status, out.Stderr)
	assert.Equal(t, "50\n0\n", out.Stdout)
}

func TestExecuteMinimalEnvironment(t *testing.T) {
	t.Setenv("PYRUNNER_TEST_SECRET", "leaked")
	x, _ := newTestExecutor(t, nil)

	out, err := x.Execute(context.Background(), request(
		"import os\nprint(os.environ.get('PYRUNNER_TEST_SECRET', 'absent'))\nprint(os.getpgrp() == os.getpid())"))
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, out.Status, out.Stderr)
	assert.Equal(t, "absent\nTrue\n", out.Stdout)
}

func TestExecuteTruncatesOutput(t *testing.T) {
	x, _ := newTestExecutor(t, nil, func(o *Options) { o.MaxOutputBytes = 10 })

	out, err := x.Execute(context.Background(), request(`print("x" * 100)`))
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, out.Status)
	assert.Equal(t, strings.Repeat("x", 10), out.Stdout)
	assert.True(t, out.Truncated)
}

func TestExecuteMissingInterpreter(t *testing.T) {
	x, dir := newTestExecutor(t, nil, func(o *Options) { o.Interpreter = "/nonexistent/python3" })

	out, err := x.Execute(context.Background(), request(`print("hi")`))
	require.Error(t, err)
	assert.Nil(t, out)
	assertScratchEmpty(t, dir)
}

func TestExecuteCallerCancels(t *testing.T) {
	x, dir := newTestExecutor(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	out, err := x.Execute(ctx, request("while True: pass"))
	assert.Nil(t, out)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assertScratchEmpty(t, dir)
}

func TestExecuteConcurrent(t *testing.T) {
	x, dir := newTestExecutor(t, nil)

	const n = 8
	outs := make([]*Outcome, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			src := fmt.Sprintf("import sys\nprint('out-%d')\nprint('err-%d', file=sys.stderr)\nsys.exit(%d)", i, i, i%2)
			out, err := x.Execute(context.Background(), request(src))
			outs[i] = out
			return err
		})
	}
	require.NoError(t, g.Wait())

	for i, out := range outs {
		assert.Equal(t, fmt.Sprintf("out-%d\n", i), out.Stdout)
		assert.Equal(t, fmt.Sprintf("err-%d\n", i), out.Stderr)
		if i%2 == 0 {
			assert.Equal(t, StatusSuccess, out.Status)
		} else {
			assert.Equal(t, StatusError, out.Status)
		}
	}
	assertScratchEmpty(t, dir)
}
