package bus

import (
	"encoding/json"
	"time"

	"github.com/nextlevelbuilder/opsconsole/pkg/protocol"
)

// Event is a push frame as seen by subscribers. Immutable once received.
type Event struct {
	Kind       string
	Payload    json.RawMessage
	ReceivedAt time.Time
}

// FromFrame converts a parsed frame into an Event stamped with receivedAt.
func FromFrame(f protocol.PushFrame, receivedAt time.Time) Event {
	return Event{Kind: f.Type, Payload: f.Data, ReceivedAt: receivedAt}
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v interface{}) error {
	if len(e.Payload) == 0 {
		return json.Unmarshal([]byte("null"), v)
	}
	return json.Unmarshal(e.Payload, v)
}

// Frame returns the wire form of the event.
func (e Event) Frame() protocol.PushFrame {
	return protocol.PushFrame{Type: e.Kind, Data: e.Payload}
}
