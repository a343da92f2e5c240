// Package activity keeps the bounded, newest-first feed of recent agent
// activity shown by the console. Nothing here is persisted: a fresh
// session starts empty and reconnects do not replay missed history.
package activity

import (
	"sync"
	"time"

	"github.com/nextlevelbuilder/opsconsole/internal/bus"
	"github.com/nextlevelbuilder/opsconsole/pkg/protocol"
)

// DefaultCapacity is the number of entries retained.
const DefaultCapacity = 50

// Entry is one rendered line of the feed. SequenceID is assigned locally
// and only identifies the entry; it says nothing about server ordering.
type Entry struct {
	SequenceID uint64    `json:"sequence_id"`
	Kind       string    `json:"kind"`
	Summary    string    `json:"summary"`
	ObservedAt time.Time `json:"observed_at"`
}

// Log is a fixed-capacity buffer. entries[0] is the most recent.
// All methods are safe for concurrent use.
type Log struct {
	mu       sync.Mutex
	entries  []Entry
	capacity int
	nextSeq  uint64
	now      func() time.Time
}

// NewLog creates a log holding at most capacity entries.
// capacity <= 0 selects DefaultCapacity.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		entries:  make([]Entry, 0, capacity),
		capacity: capacity,
		now:      time.Now,
	}
}

// Append inserts a new entry at the head and evicts from the tail.
func (l *Log) Append(kind, summary string) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextSeq++
	e := Entry{
		SequenceID: l.nextSeq,
		Kind:       kind,
		Summary:    summary,
		ObservedAt: l.now(),
	}

	if len(l.entries) < l.capacity {
		l.entries = append(l.entries, Entry{})
	}
	// Shift right by one; the oldest entry falls off when full.
	copy(l.entries[1:], l.entries[:len(l.entries)-1])
	l.entries[0] = e
	return e
}

// Record satisfies approvals.Recorder.
func (l *Log) Record(kind, summary string) {
	l.Append(kind, summary)
}

// AppendEvent summarizes evt and appends it.
func (l *Log) AppendEvent(evt bus.Event) Entry {
	return l.Append(evt.Kind, bus.Summarize(evt))
}

// Handler returns the dispatcher subscriber for the feed. Approval
// resolutions are skipped here: the approvals manager records them once
// per applied transition, so repeated pushes never duplicate entries.
func (l *Log) Handler() bus.Handler {
	return func(evt bus.Event) error {
		if evt.Kind == protocol.EventApprovalResolved {
			return nil
		}
		l.AppendEvent(evt)
		return nil
	}
}

// List returns a snapshot, newest first. The slice is a copy.
func (l *Log) List() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the current number of entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Capacity returns the configured bound.
func (l *Log) Capacity() int { return l.capacity }
