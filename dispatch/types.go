package dispatch

import (
	"encoding/json"
	"strconv"
	"time"
)

// Well-known error codes.
const (
	// CodeParseError is returned when an inbound line is not valid JSON.
	CodeParseError = -32700
	// CodeAppError is the generic application error code used for unknown
	// methods, bad parameters, and handler failures.
	CodeAppError = -1
)

// Request is a single inbound request. ID is kept as raw JSON so that
// numeric and string ids round-trip byte-identically.
type Request struct {
	Method string          `json:"method"`
	Params Params          `json:"params,omitempty"`
	ID     json.RawMessage `json:"id,omitempty"`
}

// Error is the error object of a failed response.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Response is a single outbound response. Exactly one of Result and Err is
// set. ID is only emitted when the originating request carried one.
type Response struct {
	Result any             `json:"result,omitempty"`
	Err    *Error          `json:"error,omitempty"`
	ID     json.RawMessage `json:"id,omitempty"`
}

// Params is the params mapping of a request.
type Params map[string]any

// String returns the named param as a string, or def if it is absent or
// not a string.
func (p Params) String(key, def string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return def
}

// Int returns the named param as an int. JSON numbers decode as float64;
// numeric strings are also accepted.
func (p Params) Int(key string, def int) int {
	switch v := p[key].(type) {
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// Seconds returns the named param interpreted as a duration in seconds.
func (p Params) Seconds(key string, def time.Duration) time.Duration {
	switch v := p[key].(type) {
	case float64:
		return time.Duration(v * float64(time.Second))
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return def
}
