// Package shell provides allowlisted shell command execution with a
// bounded in-memory execution log. The allowlist gates on the first
// whitespace-delimited token of the command line and is checked before
// any process is launched.
package shell

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/benchd/benchd/runner"
)

// DefaultTimeout applies when a request carries no timeout.
const DefaultTimeout = 30 * time.Second

// historyLimit bounds the in-memory execution log; the oldest entries are
// evicted first.
const historyLimit = 100

// defaultAllowed is used when no allowlist file is configured.
var defaultAllowed = []string{
	"python3", "pip", "git", "curl", "ls", "cat", "head", "tail",
	"mkdir", "cp", "mv", "rm", "find", "grep", "which", "say",
	"docker", "docker-compose", "nvidia-smi",
}

// Allowlist is a set of permitted program names.
type Allowlist map[string]struct{}

// DefaultAllowlist returns the built-in permitted set.
func DefaultAllowlist() Allowlist {
	a := make(Allowlist, len(defaultAllowed))
	for _, name := range defaultAllowed {
		a[name] = struct{}{}
	}
	return a
}

// LoadAllowlist reads permitted program names from a file, one per line.
// Blank lines and lines starting with '#' are ignored.
func LoadAllowlist(path string) (Allowlist, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening allowlist: %w", err)
	}
	defer f.Close()

	a := Allowlist{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		a[line] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading allowlist: %w", err)
	}
	return a, nil
}

// Allows reports whether the command line's first token is permitted.
func (a Allowlist) Allows(command string) bool {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return false
	}
	_, ok := a[fields[0]]
	return ok
}

// Names returns the permitted program names, sorted.
func (a Allowlist) Names() []string {
	names := make([]string, 0, len(a))
	for name := range a {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ShellRunner is the subset of runner.Runner the executor needs.
type ShellRunner interface {
	RunShell(ctx context.Context, timeout time.Duration, command string) runner.Result
}

// LogEntry is one recorded execution.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Command   string `json:"command"`
	Success   bool   `json:"success"`
	ExitCode  int    `json:"exit_code"`
}

// Executor runs allowlisted shell commands and records each attempt,
// including rejected ones, in a bounded log.
type Executor struct {
	allow Allowlist
	run   ShellRunner
	log   *zap.SugaredLogger

	mu      sync.Mutex
	entries []LogEntry
}

type Option func(e *Executor)

func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) {
		e.log = l.Named("shell").Sugar()
	}
}

func NewExecutor(allow Allowlist, run ShellRunner, opts ...Option) *Executor {
	e := &Executor{
		allow: allow,
		run:   run,
		log:   zap.NewNop().Sugar(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Execute runs a command line through the shell if its first token is
// allowlisted. Rejected commands never reach the runner.
func (e *Executor) Execute(ctx context.Context, command string, timeout time.Duration) runner.Result {
	if !e.allow.Allows(command) {
		token := ""
		if fields := strings.Fields(command); len(fields) > 0 {
			token = fields[0]
		}
		res := runner.Result{
			ExitCode: -1,
			Error:    fmt.Sprintf("Command not allowed: %s", token),
		}
		e.record(command, res)
		return res
	}

	res := e.run.RunShell(ctx, timeout, command)
	e.record(command, res)
	return res
}

func (e *Executor) record(command string, res runner.Result) {
	e.log.Infow("command executed", "Command", command, "Success", res.Success, "ExitCode", res.ExitCode)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = append(e.entries, LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
		Success:   res.Success,
		ExitCode:  res.ExitCode,
	})
	if len(e.entries) > historyLimit {
		e.entries = e.entries[len(e.entries)-historyLimit:]
	}
}

// Log returns the most recent entries, up to limit, oldest first.
func (e *Executor) Log(limit int) []LogEntry {
	e.mu.Lock()
	defer e.mu.Unlock()

	if limit <= 0 || limit > len(e.entries) {
		limit = len(e.entries)
	}
	out := make([]LogEntry, limit)
	copy(out, e.entries[len(e.entries)-limit:])
	return out
}
