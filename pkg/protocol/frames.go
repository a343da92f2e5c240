// Package protocol defines the wire format of the agent push channel.
// Frames are JSON objects of the form {"type": ..., "data": ...}.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ProbeMessage is the liveness probe the console sends every heartbeat.
// The server treats it as an opaque non-JSON frame and ignores it.
const ProbeMessage = "ping"

// ErrMalformedFrame is returned for payloads that are not a JSON object
// carrying a non-empty "type".
var ErrMalformedFrame = errors.New("malformed push frame")

// PushFrame is pushed from server to client without a preceding request.
type PushFrame struct {
	Type string          `json:"type"`           // event kind
	Data json.RawMessage `json:"data,omitempty"` // kind-specific payload
}

// Raw re-encodes the frame. Used for generic rendering of unknown kinds.
func (f PushFrame) Raw() []byte {
	data, err := json.Marshal(f)
	if err != nil {
		return nil
	}
	return data
}

// NewFrame builds a frame from a kind and an arbitrary payload.
func NewFrame(kind string, data interface{}) (PushFrame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return PushFrame{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return PushFrame{Type: kind, Data: raw}, nil
}

// ParseFrame decodes raw bytes from the push channel.
// Anything that is not a JSON object with a type is ErrMalformedFrame.
func ParseFrame(data []byte) (PushFrame, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return PushFrame{}, ErrMalformedFrame
	}

	var f PushFrame
	if err := json.Unmarshal(trimmed, &f); err != nil {
		return PushFrame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if f.Type == "" {
		return PushFrame{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	return f, nil
}
