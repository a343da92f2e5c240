package bus

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/nextlevelbuilder/opsconsole/pkg/protocol"
)

// Handler consumes a dispatched event. A returned error is logged and
// never stops delivery to the remaining subscribers.
type Handler func(Event) error

type subscriber struct {
	id      string
	handler Handler
}

// Dispatcher fans push events out to subscribers in registration order.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers []subscriber
	now         func() time.Time
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{now: time.Now}
}

// Subscribe registers handler under id and returns its unsubscribe func.
// Re-subscribing an existing id replaces the handler in place, keeping
// its position in the delivery order.
func (d *Dispatcher) Subscribe(id string, handler Handler) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := range d.subscribers {
		if d.subscribers[i].id == id {
			d.subscribers[i].handler = handler
			return func() { d.Unsubscribe(id) }
		}
	}
	d.subscribers = append(d.subscribers, subscriber{id: id, handler: handler})
	return func() { d.Unsubscribe(id) }
}

// Unsubscribe removes a subscriber. Unknown ids are ignored.
func (d *Dispatcher) Unsubscribe(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := range d.subscribers {
		if d.subscribers[i].id == id {
			d.subscribers = append(d.subscribers[:i:i], d.subscribers[i+1:]...)
			return
		}
	}
}

// Len returns the number of registered subscribers.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers)
}

// HandleFrame stamps a parsed frame and dispatches it.
func (d *Dispatcher) HandleFrame(f protocol.PushFrame) {
	d.Dispatch(FromFrame(f, d.now()))
}

// Dispatch delivers evt to every subscriber synchronously. Subscribers
// registered or removed by a handler take effect from the next event.
func (d *Dispatcher) Dispatch(evt Event) {
	d.mu.RLock()
	subs := make([]subscriber, len(d.subscribers))
	copy(subs, d.subscribers)
	d.mu.RUnlock()

	for _, s := range subs {
		if err := deliver(s, evt); err != nil {
			slog.Warn("dispatch: subscriber failed", "subscriber", s.id, "kind", evt.Kind, "error", err)
		}
	}
}

// deliver calls one handler and converts a panic into an error.
func deliver(s subscriber, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Debug("dispatch: recovered panic", "subscriber", s.id, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.handler(evt)
}
