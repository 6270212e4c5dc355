package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/benchd/benchd/dispatch"
)

func testDispatcher() *dispatch.Dispatcher {
	d := dispatch.New()
	d.Register("echo", func(ctx context.Context, params dispatch.Params) (any, error) {
		return map[string]any{"msg": params.String("msg", "")}, nil
	})
	d.Register("fail", func(ctx context.Context, params dispatch.Params) (any, error) {
		return nil, errors.New("it broke")
	})
	return d
}

// startServer runs a server on an ephemeral port and returns its bound
// address once it answers healthz.
func startServer(t *testing.T) string {
	t.Helper()
	s := NewServer(testDispatcher(), WithListenAddr("127.0.0.1:0"))
	go func() {
		if err := s.Run(); err != nil {
			t.Errorf("server exited: %s", err)
		}
	}()
	t.Cleanup(func() { s.Stop() })

	require.Eventually(t, func() bool {
		addr := s.Addr()
		if addr == "" {
			return false
		}
		resp, err := http.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 10*time.Millisecond)

	return s.Addr()
}

func TestClientCall(t *testing.T) {
	addr := startServer(t)

	client := NewClient(zap.NewNop().Sugar(), "http://"+addr)
	resp, err := client.Call(context.Background(), "echo", dispatch.Params{"msg": "hi"})
	require.NoError(t, err)
	require.Nil(t, resp.Err)

	result, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	assert.JSONEq(t, `{"msg":"hi"}`, string(result))
}

func TestClientCallHandlerError(t *testing.T) {
	addr := startServer(t)

	client := NewClient(zap.NewNop().Sugar(), "http://"+addr)
	resp, err := client.Call(context.Background(), "fail", nil)
	require.NoError(t, err)
	require.NotNil(t, resp.Err)
	assert.Equal(t, dispatch.CodeAppError, resp.Err.Code)
	assert.Equal(t, "it broke", resp.Err.Message)
}

func TestRPCParseErrorIsHTTP200(t *testing.T) {
	addr := startServer(t)

	resp, err := http.Post("http://"+addr+"/rpc", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var out dispatch.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotNil(t, out.Err)
	assert.Equal(t, dispatch.CodeParseError, out.Err.Code)
}

func TestWebSocketFIFO(t *testing.T) {
	addr := startServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+addr+"/rpc", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	for i := 0; i < 3; i++ {
		msg := fmt.Sprintf(`{"method":"echo","params":{"msg":"m%d"},"id":%d}`, i, i)
		require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(msg)))
	}

	// Responses come back in request order.
	for i := 0; i < 3; i++ {
		_, payload, err := conn.Read(ctx)
		require.NoError(t, err)
		assert.JSONEq(t, fmt.Sprintf(`{"result":{"msg":"m%d"},"id":%d}`, i, i), string(payload))
	}
}

func TestHealthz(t *testing.T) {
	addr := startServer(t)

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]bool
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.True(t, out["ok"])
}
