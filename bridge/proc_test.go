package bridge

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benchd/benchd/dispatch"
)

// startCat launches cat as the dispatcher process: every request line
// comes back verbatim as its own response line, FIFO.
func startCat(t *testing.T) *Proc {
	t.Helper()
	p, err := StartProc("cat", nil)
	require.NoError(t, err)
	t.Cleanup(func() { p.Stop() })
	return p
}

func responseID(t *testing.T, line []byte) string {
	t.Helper()
	var envelope struct {
		ID json.RawMessage `json:"id"`
	}
	require.NoError(t, json.Unmarshal(line, &envelope))
	return string(envelope.ID)
}

func TestProcCallRoundTrip(t *testing.T) {
	p := startCat(t)

	resp, err := p.Call(context.Background(), "echo", dispatch.Params{"msg": "hi"}, json.RawMessage("1"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"method":"echo","params":{"msg":"hi"},"id":1}`, string(resp))
}

func TestProcCallSequential(t *testing.T) {
	p := startCat(t)

	for i := 1; i <= 5; i++ {
		id, _ := json.Marshal(i)
		resp, err := p.Call(context.Background(), "echo", nil, id)
		require.NoError(t, err)
		assert.Equal(t, string(id), responseID(t, resp))
	}
}

func TestProcCallTimeoutDoesNotShiftResponses(t *testing.T) {
	// The child answers each request half a second after reading it, so
	// a short-deadline call abandons its response in flight.
	p, err := StartProc("sh", []string{"-c",
		`while read line; do sleep 0.5; printf '%s\n' "$line"; done`})
	require.NoError(t, err)
	t.Cleanup(func() { p.Stop() })

	shortCtx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = p.Call(shortCtx, "echo", nil, json.RawMessage("1"))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The next call must get its own response, not the abandoned one.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := p.Call(ctx, "echo", nil, json.RawMessage("2"))
	require.NoError(t, err)
	assert.Equal(t, "2", responseID(t, resp))
}

func TestProcStop(t *testing.T) {
	p, err := StartProc("cat", nil)
	require.NoError(t, err)

	resp, err := p.Call(context.Background(), "echo", nil, json.RawMessage("1"))
	require.NoError(t, err)
	assert.Equal(t, "1", responseID(t, resp))

	// cat exits cleanly at stdin EOF.
	require.NoError(t, p.Stop())
}

func TestProcStopKillsUnresponsiveChild(t *testing.T) {
	p, err := StartProc("sh", []string{"-c", "exec sleep 60"})
	require.NoError(t, err)

	err = p.Stop()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not exit")
}

func TestProcCallAfterChildExit(t *testing.T) {
	p, err := StartProc("sh", []string{"-c", "exit 0"})
	require.NoError(t, err)
	t.Cleanup(func() { p.Stop() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = p.Call(ctx, "echo", nil, json.RawMessage("1"))
	require.Error(t, err)
}
