// Package envelope defines the call envelope exchanged between the executor
// and the worker runtime.
//
// Message is the single "envelope" for every exchange. It gets serialized by
// the codec layer and wrapped in a protocol frame for transmission over the
// channel:
//
//   - On request:  Target is set, Payload contains the serialized CallArgs.
//   - On response: Status is "ok" with Payload carrying the serialized value,
//     or "error" with ErrorKind/ErrorMessage naming a taxonomy entry.
//
// Arguments and results are restricted to values that round-trip through the
// channel's serialization: booleans, integers, floats, strings and byte
// buffers. Live object references never cross the boundary.
package envelope

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Response status values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Message carries the data for a single request or response.
type Message struct {
	ID           string // Correlation ID (uuid); a response must echo the request's ID
	Target       string // Call target name; "Object.method" for stateful targets
	Status       string // "" on requests; "ok" or "error" on responses
	ErrorKind    string // Taxonomy wire identifier, present iff Status == "error"
	ErrorMessage string // Human-readable failure message, present iff Status == "error"
	Payload      []byte // Serialized CallArgs (request) or result value (response)
}

// CallArgs holds the positional and named arguments of one call.
type CallArgs struct {
	Args   []any          `json:"args"`
	Kwargs map[string]any `json:"kwargs,omitempty"`
}

// CheckValue verifies that v is allowed to cross the channel. Only primitives
// survive serialization unchanged; anything else is a programming error at
// the call site.
func CheckValue(v any) error {
	switch v.(type) {
	case nil, bool, string, []byte,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		return nil
	}
	return fmt.Errorf("envelope: unsupported value type %T", v)
}

// EncodeArgs validates and serializes call arguments into a request payload.
func EncodeArgs(args []any, kwargs map[string]any) ([]byte, error) {
	wrapped := &CallArgs{}
	if len(args) > 0 {
		wrapped.Args = make([]any, len(args))
	}
	for i, a := range args {
		if err := CheckValue(a); err != nil {
			return nil, fmt.Errorf("arg %d: %w", i, err)
		}
		wrapped.Args[i] = wrapValue(a)
	}
	if len(kwargs) > 0 {
		wrapped.Kwargs = make(map[string]any, len(kwargs))
	}
	for k, v := range kwargs {
		if err := CheckValue(v); err != nil {
			return nil, fmt.Errorf("kwarg %q: %w", k, err)
		}
		wrapped.Kwargs[k] = wrapValue(v)
	}
	return json.Marshal(wrapped)
}

// DecodeArgs deserializes a request payload. Numbers are normalized with
// NormalizeNumber so integral arguments arrive as int64, not float64.
func DecodeArgs(payload []byte) (*CallArgs, error) {
	if len(payload) == 0 {
		return &CallArgs{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	ca := &CallArgs{}
	if err := dec.Decode(ca); err != nil {
		return nil, err
	}
	for i, a := range ca.Args {
		ca.Args[i] = unwrapValue(a)
	}
	for k, v := range ca.Kwargs {
		ca.Kwargs[k] = unwrapValue(v)
	}
	return ca, nil
}

// EncodeValue serializes a call result into a response payload.
func EncodeValue(v any) ([]byte, error) {
	if err := CheckValue(v); err != nil {
		return nil, err
	}
	return json.Marshal(wrapValue(v))
}

// DecodeValue deserializes a response payload. A fixed-width integer produced
// by the worker decodes to the same integer on the executor side.
func DecodeValue(payload []byte) (any, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return unwrapValue(v), nil
}

// bytesTag wraps a byte buffer for the JSON payload. A bare []byte would
// arrive as a base64 string on the far side; the tag lets the decoder
// restore the original type. Callers can never collide with it: CheckValue
// rejects maps and structs, so a one-key object in value position is always
// a tagged buffer.
type bytesTag struct {
	Bytes []byte `json:"$bytes"`
}

func wrapValue(v any) any {
	if b, ok := v.([]byte); ok && b != nil {
		return bytesTag{Bytes: b}
	}
	return v
}

func unwrapValue(v any) any {
	if m, ok := v.(map[string]any); ok && len(m) == 1 {
		if s, ok := m["$bytes"].(string); ok {
			if b, err := base64.StdEncoding.DecodeString(s); err == nil {
				return b
			}
		}
	}
	return NormalizeNumber(v)
}

// NormalizeNumber converts json.Number into int64 when the value is integral
// and float64 otherwise. Other values pass through untouched.
func NormalizeNumber(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}
