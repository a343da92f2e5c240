package transport

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/nextlevelbuilder/opsconsole/pkg/protocol"
)

// Status is the connection status of a push source.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

// State is a snapshot of a push source's connection.
// RetryAttempt counts consecutive failures and resets on connect.
type State struct {
	Status       Status    `json:"status"`
	RetryAttempt int       `json:"retry_attempt"`
	LastError    string    `json:"last_error,omitempty"`
	Since        time.Time `json:"since"`
}

// Source is a push channel: the websocket client or the redis relay.
type Source interface {
	Connect(ctx context.Context) error
	OnFrame(handler func(protocol.PushFrame))
	OnStateChange(handler func(State))
	State() State
	Close() error
}

// Tracker owns a State and notifies listeners on every transition.
// Listeners run synchronously on the caller's goroutine, outside the lock.
type Tracker struct {
	mu        sync.Mutex
	state     State
	listeners []func(State)
	now       func() time.Time
}

func NewTracker() *Tracker {
	t := &Tracker{now: time.Now}
	t.state = State{Status: StatusDisconnected, Since: t.now()}
	return t
}

// OnChange registers a listener.
func (t *Tracker) OnChange(fn func(State)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// Snapshot returns the current state.
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Connecting marks a dial in progress. RetryAttempt is kept.
func (t *Tracker) Connecting() State {
	return t.update(func(s *State) {
		s.Status = StatusConnecting
	})
}

// Connected marks an open connection and resets the retry counter.
func (t *Tracker) Connected() State {
	return t.update(func(s *State) {
		s.Status = StatusConnected
		s.RetryAttempt = 0
		s.LastError = ""
	})
}

// Failed marks a lost or refused connection and counts the attempt.
func (t *Tracker) Failed(err error) State {
	return t.update(func(s *State) {
		s.Status = StatusDisconnected
		s.RetryAttempt++
		if err != nil {
			s.LastError = err.Error()
		}
	})
}

// Stopped marks a deliberate shutdown. The retry counter is left as is.
func (t *Tracker) Stopped() State {
	return t.update(func(s *State) {
		s.Status = StatusDisconnected
	})
}

func (t *Tracker) update(fn func(*State)) State {
	t.mu.Lock()
	prev := t.state.Status
	fn(&t.state)
	if t.state.Status != prev {
		t.state.Since = t.now()
	}
	snap := t.state
	listeners := slices.Clone(t.listeners)
	t.mu.Unlock()

	slog.Debug("ws: state", "status", snap.Status, "retry_attempt", snap.RetryAttempt)
	for _, fn := range listeners {
		fn(snap)
	}
	return snap
}

// DefaultQueueSize is the number of parsed frames buffered for delivery.
const DefaultQueueSize = 256

// Fanout decouples the read loop from frame consumers: frames are queued
// and handed to every handler from a single goroutine, in arrival order.
type Fanout struct {
	queue chan protocol.PushFrame

	mu       sync.RWMutex
	handlers []func(protocol.PushFrame)
}

func NewFanout(size int) *Fanout {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Fanout{queue: make(chan protocol.PushFrame, size)}
}

// Add registers a frame handler.
func (f *Fanout) Add(fn func(protocol.PushFrame)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, fn)
}

// Push queues a frame without blocking. It reports false when the queue
// is full and the frame was dropped.
func (f *Fanout) Push(frame protocol.PushFrame) bool {
	select {
	case f.queue <- frame:
		return true
	default:
		slog.Warn("ws: delivery queue full, dropping frame", "type", frame.Type)
		return false
	}
}

// Run delivers queued frames until ctx is done.
func (f *Fanout) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-f.queue:
			f.mu.RLock()
			handlers := slices.Clone(f.handlers)
			f.mu.RUnlock()
			for _, fn := range handlers {
				fn(frame)
			}
		}
	}
}
