package dispatch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"go.uber.org/zap"
)

// maxLineBytes bounds the size of a single request line.
const maxLineBytes = 1024 * 1024

// Handler handles one request. The returned value is wrapped as the
// response result; a returned error becomes an error response with
// CodeAppError.
type Handler func(ctx context.Context, params Params) (any, error)

// Dispatcher routes requests to handlers by method name. One Dispatcher
// instance owns its handler table and is safe for concurrent calls to
// Handle, provided the handlers themselves are.
type Dispatcher struct {
	log      *zap.SugaredLogger
	handlers map[string]Handler
}

type Option func(d *Dispatcher)

func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) {
		d.log = l.Named("dispatcher").Sugar()
	}
}

func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		log:      zap.NewNop().Sugar(),
		handlers: map[string]Handler{},
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Register adds a handler for a method name, replacing any existing one.
func (d *Dispatcher) Register(method string, h Handler) {
	d.handlers[method] = h
}

// RegisterAll adds every handler in the table.
func (d *Dispatcher) RegisterAll(handlers map[string]Handler) {
	for method, h := range handlers {
		d.handlers[method] = h
	}
}

// Methods returns the registered method names, sorted.
func (d *Dispatcher) Methods() []string {
	methods := make([]string, 0, len(d.handlers))
	for m := range d.handlers {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}

// Handle processes one request line and returns exactly one response line,
// without the trailing newline. It never returns nil: all failures,
// including handler panics, are encoded as error responses.
func (d *Dispatcher) Handle(ctx context.Context, line []byte) []byte {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		d.log.Debugf("unparsable request line: %s", err)
		return encode(Response{Err: &Error{Code: CodeParseError, Message: "Parse error"}})
	}

	resp := d.call(ctx, &req)
	resp.ID = req.ID
	return encode(resp)
}

func (d *Dispatcher) call(ctx context.Context, req *Request) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Errorf("handler for %q panicked: %v", req.Method, r)
			resp = Response{Err: &Error{Code: CodeAppError, Message: fmt.Sprint(r)}}
		}
	}()

	h, ok := d.handlers[req.Method]
	if !ok {
		return Response{Err: &Error{Code: CodeAppError, Message: fmt.Sprintf("Unknown method: %s", req.Method)}}
	}

	result, err := h(ctx, req.Params)
	if err != nil {
		return Response{Err: &Error{Code: CodeAppError, Message: err.Error()}}
	}
	return Response{Result: result}
}

func encode(resp Response) []byte {
	b, err := json.Marshal(resp)
	if err != nil {
		// Only reachable with an unmarshalable handler result. The 1:1
		// request/response contract still holds: report it as an error.
		b, _ = json.Marshal(Response{
			Err: &Error{Code: CodeAppError, Message: fmt.Sprintf("encoding response: %s", err)},
			ID:  resp.ID,
		})
	}
	return b
}

// ServeLines reads request lines from r until EOF, processing them
// strictly in order and writing one response line per request to w.
// Handler failures never end the loop; it returns only on EOF, a read
// error, a write error, or ctx cancellation.
func (d *Dispatcher) ServeLines(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := bytes.TrimSpace(scanner.Bytes())
		resp := d.Handle(ctx, line)
		if _, err := w.Write(append(resp, '\n')); err != nil {
			return fmt.Errorf("writing response: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading requests: %w", err)
	}
	return nil
}
