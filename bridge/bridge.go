package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/benchd/benchd/dispatch"
)

// DefaultMaxInFlight bounds concurrent message handling when the config
// does not say otherwise.
const DefaultMaxInFlight = 4

// callTimeout bounds one proxied dispatch, covering the slowest
// legitimate operation (a capture under its own 10s process timeout).
const callTimeout = 60 * time.Second

// Caller dispatches one synthesized request and returns the raw response
// line. Implemented in-process by Local and out-of-process by Proc.
type Caller interface {
	Call(ctx context.Context, method string, params dispatch.Params, id json.RawMessage) ([]byte, error)
}

// Local dispatches against an in-process dispatcher.
type Local struct {
	Dispatcher *dispatch.Dispatcher
}

func (l *Local) Call(ctx context.Context, method string, params dispatch.Params, id json.RawMessage) ([]byte, error) {
	line, err := json.Marshal(dispatch.Request{Method: method, Params: params, ID: id})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	return l.Dispatcher.Handle(ctx, line), nil
}

// Publisher publishes one outbound message. Satisfied by the MQTT client
// adapter; tests substitute a recorder.
type Publisher interface {
	Publish(topic string, payload []byte)
}

// Config configures the bridge's bus connection and topic space.
type Config struct {
	// BrokerURL is the MQTT broker, e.g. "tcp://localhost:1883".
	BrokerURL string
	// Namespace is the leading topic segment. Defaults to "camera".
	Namespace string
	// EntityID is the second topic segment. Defaults to "camera1".
	EntityID string
	// MaxInFlight bounds concurrent message handling.
	MaxInFlight int
	// Methods maps topic categories to dispatcher method names. Defaults
	// to the camera control table.
	Methods map[string]string
}

func (c *Config) setDefaults() {
	if c.Namespace == "" {
		c.Namespace = "camera"
	}
	if c.EntityID == "" {
		c.EntityID = "camera1"
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = DefaultMaxInFlight
	}
	if len(c.Methods) == 0 {
		c.Methods = map[string]string{
			"ptz":        "ptz_control",
			"screenshot": "take_screenshot",
			"status":     "get_camera_status",
		}
	}
}

// Bridge subscribes to command topics and republishes dispatcher
// responses on the matching response topics.
type Bridge struct {
	log    *zap.SugaredLogger
	cfg    Config
	caller Caller

	sem chan struct{}
	wg  sync.WaitGroup
}

type Option func(b *Bridge)

func WithLogger(l *zap.Logger) Option {
	return func(b *Bridge) {
		b.log = l.Named("bridge").Sugar()
	}
}

func New(cfg Config, caller Caller, opts ...Option) *Bridge {
	cfg.setDefaults()
	b := &Bridge{
		log:    zap.NewNop().Sugar(),
		cfg:    cfg,
		caller: caller,
		sem:    make(chan struct{}, cfg.MaxInFlight),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Run connects to the broker, subscribes to the command topics, and
// blocks until ctx is done. In-flight handlers are drained before
// returning.
func (b *Bridge) Run(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(b.cfg.BrokerURL).
		SetClientID(fmt.Sprintf("benchd-bridge-%s-%s", b.cfg.EntityID, uuid.NewString()[:8])).
		SetOnConnectHandler(func(mqtt.Client) {
			b.log.Infof("connected to MQTT broker at %s", b.cfg.BrokerURL)
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			b.log.Warnf("disconnected from MQTT broker: %s", err)
		})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connecting to MQTT broker: %w", token.Error())
	}
	defer client.Disconnect(250)

	pub := &mqttPublisher{log: b.log, client: client}
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		topic := msg.Topic()
		payload := append([]byte{}, msg.Payload()...)

		// Blocking here applies back-pressure to the client's router
		// during bursts, keeping process spawning bounded.
		b.sem <- struct{}{}
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			defer func() { <-b.sem }()
			b.HandleMessage(ctx, topic, payload, pub)
		}()
	}

	for category := range b.cfg.Methods {
		for _, leaf := range []string{"command", "request"} {
			topic := fmt.Sprintf("%s/%s/%s/%s", b.cfg.Namespace, b.cfg.EntityID, category, leaf)
			if token := client.Subscribe(topic, 0, handler); token.Wait() && token.Error() != nil {
				return fmt.Errorf("subscribing to %s: %w", topic, token.Error())
			}
			b.log.Infof("subscribed to %s", topic)
		}
	}

	<-ctx.Done()
	b.wg.Wait()
	return nil
}

// HandleMessage translates one inbound message into a dispatcher request
// and publishes the response. Every failure is caught per-message and
// reported on the response topic as far as possible; nothing here can
// take down the subscription loop.
func (b *Bridge) HandleMessage(ctx context.Context, topic string, payload []byte, pub Publisher) {
	parts := strings.Split(topic, "/")
	if len(parts) < 4 {
		b.log.Debugf("ignoring message on unexpected topic %q", topic)
		return
	}
	leaf := parts[len(parts)-1]
	if leaf != "command" && leaf != "request" {
		b.log.Debugf("ignoring message on non-command topic %q", topic)
		return
	}
	category := parts[len(parts)-2]
	responseTopic := fmt.Sprintf("%s/response", strings.Join(parts[:len(parts)-1], "/"))

	defer func() {
		if r := recover(); r != nil {
			b.log.Errorf("handling message on %s panicked: %v", topic, r)
			pub.Publish(responseTopic, errorLine(dispatch.CodeAppError, fmt.Sprint(r), nil))
		}
	}()

	params := dispatch.Params{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &params); err != nil {
			b.log.Debugf("unparsable payload on %s: %s", topic, err)
			pub.Publish(responseTopic, errorLine(dispatch.CodeParseError, "Parse error", nil))
			return
		}
	}

	// The id is correlation data for the caller, not a param.
	var envelope struct {
		ID json.RawMessage `json:"id"`
	}
	json.Unmarshal(payload, &envelope)
	delete(params, "id")

	method, ok := b.cfg.Methods[category]
	if !ok {
		pub.Publish(responseTopic, errorLine(dispatch.CodeAppError, fmt.Sprintf("Unknown category: %s", category), envelope.ID))
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	b.log.Debugw("dispatching bus message", "Topic", topic, "Method", method)
	resp, err := b.caller.Call(callCtx, method, params, envelope.ID)
	if err != nil {
		b.log.Errorf("dispatch for %s failed: %s", topic, err)
		pub.Publish(responseTopic, errorLine(dispatch.CodeAppError, err.Error(), envelope.ID))
		return
	}
	pub.Publish(responseTopic, resp)
}

func errorLine(code int, message string, id json.RawMessage) []byte {
	b, _ := json.Marshal(dispatch.Response{
		Err: &dispatch.Error{Code: code, Message: message},
		ID:  id,
	})
	return b
}

type mqttPublisher struct {
	log    *zap.SugaredLogger
	client mqtt.Client
}

func (p *mqttPublisher) Publish(topic string, payload []byte) {
	token := p.client.Publish(topic, 0, false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		p.log.Errorf("publishing to %s: %s", topic, err)
	}
}
