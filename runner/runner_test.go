package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCapturesStdoutAndStderr(t *testing.T) {
	r := New()
	res := r.Run(context.Background(), 10*time.Second, "sh", "-c", "printf foo; printf bar 1>&2")
	assert.True(t, res.Success)
	assert.Equal(t, "foo", res.Stdout)
	assert.Equal(t, "bar", res.Stderr)
	assert.Equal(t, 0, res.ExitCode)
	assert.Empty(t, res.Error)
}

func TestRunNonZeroExit(t *testing.T) {
	r := New()
	res := r.Run(context.Background(), 10*time.Second, "sh", "-c", "printf partial; exit 3")
	assert.False(t, res.Success)
	assert.Equal(t, 3, res.ExitCode)
	// Output produced before the failure is still captured.
	assert.Equal(t, "partial", res.Stdout)
	assert.Empty(t, res.Error)
}

func TestRunTimeout(t *testing.T) {
	r := New()

	start := time.Now()
	res := r.Run(context.Background(), 100*time.Millisecond, "sleep", "10")
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 5*time.Second, "timed-out process must not block the caller")
	assert.False(t, res.Success)
	assert.Equal(t, -1, res.ExitCode)
	assert.Equal(t, "Command timed out after 0.1s", res.Error)
	assert.Empty(t, res.Stdout)
	assert.Empty(t, res.Stderr)
}

func TestRunLaunchFailure(t *testing.T) {
	r := New()
	res := r.Run(context.Background(), 10*time.Second, "/nonexistent/binary/path")
	assert.False(t, res.Success)
	assert.Equal(t, -1, res.ExitCode)
	assert.NotEmpty(t, res.Error)
}

func TestRunShell(t *testing.T) {
	r := New()
	res := r.RunShell(context.Background(), 10*time.Second, "echo hello")
	assert.True(t, res.Success)
	assert.Equal(t, "hello\n", res.Stdout)
}

func TestRunContextCancellation(t *testing.T) {
	r := New()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	res := r.Run(ctx, 10*time.Second, "sleep", "10")
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.False(t, res.Success)
	assert.Equal(t, -1, res.ExitCode)
}

func TestRunPreHooks(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "hook-ran")
	r := New(WithPreHook("touch", marker))

	r.RunPreHooks(context.Background())

	_, err := os.Stat(marker)
	require.NoError(t, err, "pre-hook command did not run")
}

func TestRunPreHooksFailureIsIgnored(t *testing.T) {
	r := New(WithPreHook("/nonexistent/hook"))
	// Must not panic or block; hook failures are best-effort.
	r.RunPreHooks(context.Background())

	res := r.Run(context.Background(), 10*time.Second, "echo", "still works")
	assert.True(t, res.Success)
}

func TestRunInvalidUTF8Replaced(t *testing.T) {
	r := New()
	res := r.Run(context.Background(), 10*time.Second, "sh", "-c", `printf '\377\376ok'`)
	assert.True(t, res.Success)
	assert.Contains(t, res.Stdout, "ok")
	// The raw bytes are not valid UTF-8; the decoded string must be.
	assert.True(t, utf8.ValidString(res.Stdout))
}
