package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/cmdgate/cmdgate/pkg/types"
)

const (
	defaultMaxOutputBytes = 1 * 1024 * 1024 // per stream

	// waitDelay bounds how long Wait blocks on surviving descendants
	// after the tree kill fired.
	waitDelay = 5 * time.Second
)

// Local executes commands as child processes of the gate. It enforces the
// request timeout, captures both output streams in arrival order, and
// guarantees the whole process tree is terminated when the timeout fires
// or the caller cancels.
type Local struct {
	maxOutputBytes int64

	// resolve is swapped in tests to run portable shells.
	resolve func(shell, line string) (string, []string)
}

// NewLocal creates a local executor. maxOutputBytes caps each captured
// stream; zero or negative selects the default.
func NewLocal(maxOutputBytes int64) *Local {
	if maxOutputBytes <= 0 {
		maxOutputBytes = defaultMaxOutputBytes
	}
	return &Local{maxOutputBytes: maxOutputBytes, resolve: resolveInvocation}
}

// Run executes the request. Timeouts are reported as a result with
// TimedOut set and ExitCode -1; external cancellation is propagated as
// ctx.Err() after the process tree is cleaned up; a process that fails to
// start is reported as a result with an explanatory stderr, never as a
// panic or error.
func (l *Local) Run(ctx context.Context, req types.CommandRequest) (types.CommandResult, error) {
	start := time.Now()

	line := req.CommandLine()
	exe, args := l.resolve(req.Shell, line)
	slog.Info("executing command",
		"exe", exe,
		"command", line,
		"shell", types.NormalizeShell(req.Shell),
		"cwd", req.Cwd,
		"timeout_ms", req.TimeoutMs,
	)

	runCtx := ctx
	if req.TimeoutMs > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, exe, args...)
	cmd.Dir = req.Cwd
	cmd.Env = mergeEnv(os.Environ(), req.Env)
	cmd.SysProcAttr = sysProcAttr()

	stdout := newCaptureWriter(l.maxOutputBytes)
	stderr := newCaptureWriter(l.maxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	// Kill the whole tree, not just the direct child: descendants holding
	// the output pipes open would otherwise block Wait forever.
	cmd.Cancel = func() error { return killTree(cmd.Process.Pid) }
	cmd.WaitDelay = waitDelay

	if err := cmd.Start(); err != nil {
		res := types.CommandResult{
			Stderr:     fmt.Sprintf("failed to start %s: %v", exe, err),
			ExitCode:   -1,
			DurationMs: time.Since(start).Milliseconds(),
		}
		slog.Warn("command failed to start", "exe", exe, "err", err)
		return res, nil
	}
	pid := cmd.Process.Pid

	waitErr := cmd.Wait()
	durationMs := time.Since(start).Milliseconds()

	// External cancellation wins over the timer: confirm the tree is gone,
	// then propagate the cancellation instead of returning a result.
	if ctx.Err() != nil {
		l.reapTree(pid)
		slog.Info("command canceled", "pid", pid, "duration_ms", durationMs)
		return types.CommandResult{}, ctx.Err()
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		// Kill-then-report: cmd.Cancel already fired; this pass confirms.
		l.reapTree(pid)
		res := types.CommandResult{
			Stdout:     stdout.Text(),
			Stderr:     stderr.Text(),
			ExitCode:   -1,
			TimedOut:   true,
			DurationMs: durationMs,
		}
		l.logDone(pid, res, stdout, stderr)
		return res, nil
	}

	exitCode := 0
	if waitErr != nil {
		var ee *exec.ExitError
		if errors.As(waitErr, &ee) {
			exitCode = ee.ExitCode()
		} else {
			res := types.CommandResult{
				Stdout:     stdout.Text(),
				Stderr:     joinStderr(stderr.Text(), waitErr.Error()),
				ExitCode:   -1,
				DurationMs: durationMs,
			}
			l.logDone(pid, res, stdout, stderr)
			return res, nil
		}
	}

	res := types.CommandResult{
		Stdout:     stdout.Text(),
		Stderr:     stderr.Text(),
		ExitCode:   exitCode,
		DurationMs: durationMs,
	}
	l.logDone(pid, res, stdout, stderr)
	return res, nil
}

// reapTree terminates any survivors of the process tree. Failures are
// logged, never escalated: the result classification stands regardless.
func (l *Local) reapTree(pid int) {
	if err := killTree(pid); err != nil {
		slog.Warn("process tree kill failed", "pid", pid, "err", err)
	}
}

func (l *Local) logDone(pid int, res types.CommandResult, stdout, stderr *captureWriter) {
	slog.Info("command finished",
		"pid", pid,
		"exit_code", res.ExitCode,
		"timed_out", res.TimedOut,
		"duration_ms", res.DurationMs,
		"stdout_bytes", stdout.Total(),
		"stderr_bytes", stderr.Total(),
	)
}

// mergeEnv layers request variables over the inherited environment;
// request values shadow inherited ones of the same name.
func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	out := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		if k, _, ok := strings.Cut(kv, "="); ok {
			if _, shadowed := overrides[k]; shadowed {
				continue
			}
		}
		out = append(out, kv)
	}
	for k, v := range overrides {
		out = append(out, k+"="+v)
	}
	return out
}

func joinStderr(captured, extra string) string {
	if captured == "" {
		return extra
	}
	return captured + "\n" + extra
}

var _ Executor = (*Local)(nil)
