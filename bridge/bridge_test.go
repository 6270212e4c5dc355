package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benchd/benchd/dispatch"
)

type published struct {
	topic   string
	payload []byte
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []published
}

func (f *fakePublisher) Publish(topic string, payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, published{topic: topic, payload: payload})
}

func (f *fakePublisher) all() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published{}, f.messages...)
}

func newTestBridge(t *testing.T) *Bridge {
	t.Helper()
	d := dispatch.New()
	d.Register("ptz_control", func(ctx context.Context, params dispatch.Params) (any, error) {
		return map[string]any{
			"success": true,
			"command": params.String("command", ""),
			"value":   params.String("value", ""),
		}, nil
	})
	d.Register("get_camera_status", func(ctx context.Context, params dispatch.Params) (any, error) {
		return map[string]any{"success": true}, nil
	})
	return New(Config{}, &Local{Dispatcher: d})
}

func TestHandleMessageRoundTrip(t *testing.T) {
	b := newTestBridge(t)
	pub := &fakePublisher{}

	b.HandleMessage(context.Background(), "camera/camera1/ptz/command",
		[]byte(`{"command":"zoom","value":"min","id":42}`), pub)

	msgs := pub.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, "camera/camera1/ptz/response", msgs[0].topic)
	assert.JSONEq(t, `{"result":{"success":true,"command":"zoom","value":"min"},"id":42}`, string(msgs[0].payload))
}

func TestHandleMessageStatusRequestLeaf(t *testing.T) {
	b := newTestBridge(t)
	pub := &fakePublisher{}

	b.HandleMessage(context.Background(), "camera/camera1/status/request", []byte(`{"id":"q-1"}`), pub)

	msgs := pub.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, "camera/camera1/status/response", msgs[0].topic)
	assert.JSONEq(t, `{"result":{"success":true},"id":"q-1"}`, string(msgs[0].payload))
}

func TestHandleMessageEmptyPayload(t *testing.T) {
	b := newTestBridge(t)
	pub := &fakePublisher{}

	b.HandleMessage(context.Background(), "camera/camera1/status/request", nil, pub)

	msgs := pub.all()
	require.Len(t, msgs, 1)
	// No inbound id, so none is synthesized.
	var resp map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(msgs[0].payload, &resp))
	assert.NotContains(t, resp, "id")
	assert.Contains(t, resp, "result")
}

func TestHandleMessageBadPayloadIsolation(t *testing.T) {
	b := newTestBridge(t)
	pub := &fakePublisher{}

	b.HandleMessage(context.Background(), "camera/camera1/ptz/command", []byte(`{not json`), pub)

	msgs := pub.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, "camera/camera1/ptz/response", msgs[0].topic)
	assert.JSONEq(t, `{"error":{"code":-32700,"message":"Parse error"}}`, string(msgs[0].payload))

	// A following good message is unaffected.
	b.HandleMessage(context.Background(), "camera/camera1/ptz/command",
		[]byte(`{"command":"pan","value":"10","id":1}`), pub)
	msgs = pub.all()
	require.Len(t, msgs, 2)
	assert.JSONEq(t, `{"result":{"success":true,"command":"pan","value":"10"},"id":1}`, string(msgs[1].payload))
}

func TestHandleMessageUnknownCategory(t *testing.T) {
	b := newTestBridge(t)
	pub := &fakePublisher{}

	b.HandleMessage(context.Background(), "camera/camera1/focus/command", []byte(`{"id":9}`), pub)

	msgs := pub.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, "camera/camera1/focus/response", msgs[0].topic)
	assert.JSONEq(t, `{"error":{"code":-1,"message":"Unknown category: focus"},"id":9}`, string(msgs[0].payload))
}

func TestHandleMessageIgnoresNonCommandTopics(t *testing.T) {
	b := newTestBridge(t)
	pub := &fakePublisher{}

	b.HandleMessage(context.Background(), "camera/camera1/ptz/response", []byte(`{"id":1}`), pub)
	b.HandleMessage(context.Background(), "short/topic", []byte(`{}`), pub)

	assert.Empty(t, pub.all())
}

func TestHandleMessagePreservesStringAndNumberIDs(t *testing.T) {
	b := newTestBridge(t)
	pub := &fakePublisher{}

	b.HandleMessage(context.Background(), "camera/camera1/ptz/command", []byte(`{"command":"pan","value":"1","id":"abc"}`), pub)
	b.HandleMessage(context.Background(), "camera/camera1/ptz/command", []byte(`{"command":"pan","value":"1","id":1679000000123}`), pub)

	msgs := pub.all()
	require.Len(t, msgs, 2)

	var first, second map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(msgs[0].payload, &first))
	require.NoError(t, json.Unmarshal(msgs[1].payload, &second))
	assert.Equal(t, `"abc"`, string(first["id"]))
	assert.Equal(t, `1679000000123`, string(second["id"]))
}

func TestHandleMessageIDNotPassedAsParam(t *testing.T) {
	var gotParams dispatch.Params
	d := dispatch.New()
	d.Register("ptz_control", func(ctx context.Context, params dispatch.Params) (any, error) {
		gotParams = params
		return map[string]any{"success": true}, nil
	})
	b := New(Config{}, &Local{Dispatcher: d})

	b.HandleMessage(context.Background(), "camera/camera1/ptz/command",
		[]byte(`{"command":"pan","value":"1","id":5}`), &fakePublisher{})

	assert.NotContains(t, gotParams, "id")
	assert.Equal(t, "pan", gotParams.String("command", ""))
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}
	cfg.setDefaults()
	assert.Equal(t, "camera", cfg.Namespace)
	assert.Equal(t, "camera1", cfg.EntityID)
	assert.Equal(t, DefaultMaxInFlight, cfg.MaxInFlight)
	assert.Equal(t, "ptz_control", cfg.Methods["ptz"])
	assert.Equal(t, "take_screenshot", cfg.Methods["screenshot"])
	assert.Equal(t, "get_camera_status", cfg.Methods["status"])
}
