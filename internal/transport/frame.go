// Package transport adapts push transports (websocket, MQTT) to the sync
// engine. Inbound frames are converted to classify.PushEvent here and
// nowhere else.
package transport

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ganot/desksync/internal/domain/classify"
	"github.com/ganot/desksync/internal/domain/scope"
)

// Control frame types sent by the client.
const (
	FrameJoin  = "join"
	FrameLeave = "leave"
)

// ErrInvalidFrame indicates an undecodable frame.
var ErrInvalidFrame = errors.New("invalid frame")

// Frame is the wire envelope in both directions. Server pushes carry a
// tag in Type and the event body in Payload; client control frames carry
// a scope key.
type Frame struct {
	Type    string          `json:"type"`
	Scope   string          `json:"scope,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ParseFrame decodes and validates a frame.
func ParseFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if f.Type == "" {
		return Frame{}, fmt.Errorf("%w: missing type", ErrInvalidFrame)
	}
	return f, nil
}

// ControlFrame encodes a join or leave command.
func ControlFrame(typ string, s scope.Scope) ([]byte, error) {
	return json.Marshal(Frame{Type: typ, Scope: s.String()})
}

// IsControl reports whether f is a join or leave command.
func (f Frame) IsControl() bool {
	return f.Type == FrameJoin || f.Type == FrameLeave
}

// PushEvent converts a server push into the engine's event type. Numbers
// in the payload are kept as json.Number.
func (f Frame) PushEvent(receivedAt time.Time) (classify.PushEvent, error) {
	payload := map[string]any{}
	if len(f.Payload) > 0 && !bytes.Equal(f.Payload, []byte("null")) {
		dec := json.NewDecoder(bytes.NewReader(f.Payload))
		dec.UseNumber()
		if err := dec.Decode(&payload); err != nil {
			return classify.PushEvent{}, fmt.Errorf("%w: payload: %v", ErrInvalidFrame, err)
		}
	}
	return classify.PushEvent{Type: f.Type, Payload: payload, ReceivedAt: receivedAt}, nil
}
