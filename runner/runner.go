// Package runner provides a bounded external process runner: it launches a
// program, captures stdout and stderr fully into memory, and enforces a
// wall-clock timeout by killing the process. A hung program can never
// block a caller past its timeout.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// preHookTimeout bounds each configured pre-hook command. Pre-hooks are
// best-effort cleanup steps and must not delay the main invocation.
const preHookTimeout = 5 * time.Second

// Result is the outcome of one process invocation. Success is true iff
// the process ran to completion with exit code zero; a timeout or launch
// failure forces Success=false and ExitCode=-1.
type Result struct {
	Success  bool   `json:"success"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
	Error    string `json:"error,omitempty"`
}

// Runner launches external programs under a timeout.
type Runner struct {
	log      *zap.SugaredLogger
	preHooks [][]string
}

type Option func(r *Runner)

func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) {
		r.log = l.Named("runner").Sugar()
	}
}

// WithPreHook adds a command to run before invocations that request
// pre-hooks. Used to work around external drivers that hold exclusive
// device locks, e.g. killing a capture daemon before a camera-control
// binary runs.
func WithPreHook(argv ...string) Option {
	return func(r *Runner) {
		r.preHooks = append(r.preHooks, argv)
	}
}

func New(opts ...Option) *Runner {
	r := &Runner{log: zap.NewNop().Sugar()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run executes the program with the given arguments under the timeout.
// A non-positive timeout means no timeout.
func (r *Runner) Run(ctx context.Context, timeout time.Duration, name string, args ...string) Result {
	return r.run(ctx, timeout, exec.Command(name, args...))
}

// RunShell executes a command line through the shell under the timeout.
func (r *Runner) RunShell(ctx context.Context, timeout time.Duration, command string) Result {
	return r.run(ctx, timeout, exec.Command("sh", "-c", command))
}

// RunPreHooks runs the configured pre-hook commands, ignoring their
// results. Callers invoke this before programs known to conflict with a
// resident driver process.
func (r *Runner) RunPreHooks(ctx context.Context) {
	for _, argv := range r.preHooks {
		res := r.run(ctx, preHookTimeout, exec.Command(argv[0], argv[1:]...))
		r.log.Debugw("ran pre-hook", "Command", argv, "ExitCode", res.ExitCode, "Error", res.Error)
	}
}

func (r *Runner) run(ctx context.Context, timeout time.Duration, cmd *exec.Cmd) Result {
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.log.Debugw("starting process", "Args", cmd.Args, "Timeout", timeout)
	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1, Error: err.Error()}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case err := <-done:
		res := Result{
			Stdout:   strings.ToValidUTF8(stdout.String(), "�"),
			Stderr:   strings.ToValidUTF8(stderr.String(), "�"),
			ExitCode: cmd.ProcessState.ExitCode(),
		}
		if err != nil {
			if _, ok := err.(*exec.ExitError); !ok {
				res.ExitCode = -1
				res.Error = err.Error()
				return res
			}
		}
		res.Success = res.ExitCode == 0
		return res
	case <-ctx.Done():
		cmd.Process.Kill()
		<-done
		return Result{ExitCode: -1, Error: ctx.Err().Error()}
	case <-timeoutCh:
		// Hard cutoff: kill, wait for exit, discard partial output.
		cmd.Process.Kill()
		<-done
		r.log.Debugw("process timed out", "Args", cmd.Args, "Timeout", timeout)
		return Result{
			ExitCode: -1,
			Error:    fmt.Sprintf("Command timed out after %gs", timeout.Seconds()),
		}
	}
}
