// Package approvals tracks the agent's human-approval requests on the
// console side.
//
// The server owns every transition. The manager only asks for one
// (Resolve) and folds in what it hears back from three writers: command
// responses, approval_resolved pushes, and reconciliation snapshots. All
// three go through the same merge rule, so arrival order does not matter.
package approvals

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nextlevelbuilder/opsconsole/internal/bus"
	"github.com/nextlevelbuilder/opsconsole/pkg/protocol"
)

const (
	// DefaultNearExpiry is the remaining time under which a pending
	// request is flagged as about to expire.
	DefaultNearExpiry = 120 * time.Second

	// DefaultResolveTimeout bounds one decision sent to the server.
	DefaultResolveTimeout = 15 * time.Second
)

// Commander sends an operator decision and returns the server's record.
type Commander interface {
	ResolveApproval(ctx context.Context, id int64, action Action) (Request, error)
}

// Recorder receives one line per applied resolution (the activity feed).
type Recorder interface {
	Record(kind, summary string)
}

// Config tunes a Manager. Zero values select defaults.
type Config struct {
	NearExpiry time.Duration
	Timeout    time.Duration // per decision; independent of the callers' contexts
	Now        func() time.Time
}

type source string

const (
	sourceCommand  source = "command"
	sourcePush     source = "push"
	sourceSnapshot source = "snapshot"
)

// Manager owns the collection of approval requests, keyed by id.
type Manager struct {
	commander Commander
	recorder  Recorder

	mu             sync.Mutex
	requests       map[int64]Request
	pendingActions map[int64]pendingAction // decisions sent, awaiting the server
	calls          uint64
	hooks          []func(Request)
	removeHooks    []func(Request)
	nearExpiry     time.Duration
	timeout        time.Duration
	now            func() time.Time
	closed         bool

	inflight singleflight.Group
}

// NewManager creates a manager. recorder may be nil.
func NewManager(commander Commander, recorder Recorder, cfg Config) *Manager {
	if cfg.NearExpiry <= 0 {
		cfg.NearExpiry = DefaultNearExpiry
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultResolveTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		commander:      commander,
		recorder:       recorder,
		requests:       make(map[int64]Request),
		pendingActions: make(map[int64]pendingAction),
		nearExpiry:     cfg.NearExpiry,
		timeout:        cfg.Timeout,
		now:            cfg.Now,
	}
}

// pendingAction marks a decision on the wire. key names its shared call;
// each new call gets a fresh key so a late caller never joins a call that
// already finished.
type pendingAction struct {
	action Action
	key    string
}

// OnChange registers a refresh hook, called after a request is added or
// its visible state changes.
func (m *Manager) OnChange(hook func(Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook)
}

// OnRemove registers a hook called with the last known record of each
// request an authoritative snapshot no longer lists.
func (m *Manager) OnRemove(hook func(Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeHooks = append(m.removeHooks, hook)
}

// SetNearExpiry changes the warning threshold.
func (m *Manager) SetNearExpiry(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	m.nearExpiry = d
	m.mu.Unlock()
}

// Close tears the manager down. Results that arrive later are discarded.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.hooks = nil
	m.removeHooks = nil
	m.mu.Unlock()
}

// Get returns a copy of the request with the given id.
func (m *Manager) Get(id int64) (Request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return Request{}, false
	}
	return r.clone(), true
}

// InFlight returns the decision awaiting the server for id, if any.
func (m *Manager) InFlight(id int64) (Action, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pendingActions[id]
	return p.action, ok
}

// ListPending returns pending requests, newest first.
func (m *Manager) ListPending() []Request {
	out := m.filter(func(r Request) bool { return r.Status == StatusPending })
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// ListResolved returns terminal requests, most recently resolved first.
func (m *Manager) ListResolved() []Request {
	out := m.filter(func(r Request) bool { return r.Status.IsTerminal() })
	sort.Slice(out, func(i, j int) bool {
		ti, tj := resolvedOrCreated(out[i]), resolvedOrCreated(out[j])
		if ti.Equal(tj) {
			return out[i].ID > out[j].ID
		}
		return ti.After(tj)
	})
	return out
}

// NearExpiry returns pending requests with less than the configured
// threshold left, soonest deadline first.
func (m *Manager) NearExpiry() []Request {
	m.mu.Lock()
	now, threshold := m.now(), m.nearExpiry
	m.mu.Unlock()

	out := m.filter(func(r Request) bool { return r.IsNearExpiry(now, threshold) })
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out
}

// Overdue returns pending requests past their deadline whose expiry the
// server has not confirmed yet.
func (m *Manager) Overdue() []Request {
	now := m.clock()
	return m.filter(func(r Request) bool { return r.IsOverdue(now) })
}

func (m *Manager) clock() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now()
}

func (m *Manager) filter(keep func(Request) bool) []Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Request, 0, len(m.requests))
	for _, r := range m.requests {
		if keep(r) {
			out = append(out, r.clone())
		}
	}
	return out
}

func resolvedOrCreated(r Request) time.Time {
	if r.ResolvedAt != nil {
		return *r.ResolvedAt
	}
	return r.CreatedAt
}

// Resolve sends the operator's decision and commits only what the server
// confirms. On failure the request stays pending and the error is
// returned so the caller can retry. Concurrent calls for the same id and
// action share one request to the server.
//
// The shared request runs detached from every caller's ctx, bounded by
// the configured timeout. A caller whose ctx ends stops waiting; the
// decision already on the wire is still committed when it returns.
//
// The returned Request is the server's view, which may differ from the
// requested action when another session resolved it first.
func (m *Manager) Resolve(ctx context.Context, id int64, action Action) (Request, error) {
	if !action.Valid() {
		return Request{}, fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Request{}, ErrClosed
	}
	cur, ok := m.requests[id]
	if !ok {
		m.mu.Unlock()
		return Request{}, fmt.Errorf("%w: #%d", ErrNotFound, id)
	}
	if cur.Status.IsTerminal() {
		m.mu.Unlock()
		return cur.clone(), fmt.Errorf("%w: #%d is %s", ErrAlreadyResolved, id, cur.Status)
	}
	pa, busy := m.pendingActions[id]
	if busy && pa.action != action {
		m.mu.Unlock()
		return cur.clone(), fmt.Errorf("%w: #%d (%s)", ErrActionInFlight, id, pa.action)
	}
	if !busy {
		m.calls++
		pa = pendingAction{action: action, key: strconv.FormatInt(id, 10) + "/" + strconv.FormatUint(m.calls, 10)}
		m.pendingActions[id] = pa
	}
	// Joined under the lock so the call cannot finish and clear the
	// marker between the check above and the join.
	ch := m.inflight.DoChan(pa.key, func() (interface{}, error) {
		return m.send(context.WithoutCancel(ctx), id, pa)
	})
	m.mu.Unlock()

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		slog.Debug("approvals: stopped waiting for resolve", "id", id, "action", action, "error", ctx.Err())
		return cur.clone(), fmt.Errorf("resolve approval #%d: %w", id, ctx.Err())
	}
	if res.Err != nil {
		slog.Warn("approvals: resolve failed", "id", id, "action", action, "error", res.Err)
		return cur.clone(), fmt.Errorf("resolve approval #%d: %w", id, res.Err)
	}

	result := res.Val.(Request)
	if res.Shared {
		slog.Debug("approvals: resolve deduplicated", "id", id, "action", action)
	}
	if result.Status != action.Status() {
		slog.Info("approvals: server resolved differently",
			"id", id, "requested", action.Status(), "actual", result.Status)
	}
	return result.clone(), nil
}

// send performs one shared decision. The in-flight marker is cleared only
// after the server's answer is committed.
func (m *Manager) send(ctx context.Context, id int64, pa pendingAction) (Request, error) {
	defer func() {
		m.mu.Lock()
		if cur, ok := m.pendingActions[id]; ok && cur.key == pa.key {
			delete(m.pendingActions, id)
		}
		m.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	resp, err := m.commander.ResolveApproval(ctx, id, pa.action)
	if err != nil {
		return Request{}, err
	}
	if resp.ID == 0 {
		resp.ID = id
	}
	stored, _ := m.apply([]Request{resp}, sourceCommand)
	if len(stored) == 0 {
		return resp, nil
	}
	return stored[0], nil
}

// HandleEvent is the dispatcher subscriber. Pushed resolutions are
// authoritative for the request they name.
func (m *Manager) HandleEvent(evt bus.Event) error {
	if evt.Kind != protocol.EventApprovalResolved {
		return nil
	}

	var head struct {
		ID *int64 `json:"id"`
	}
	if err := evt.Decode(&head); err != nil {
		return fmt.Errorf("decode approval_resolved: %w", err)
	}
	if head.ID == nil {
		return fmt.Errorf("approval_resolved without id")
	}

	// Overlay the pushed fields on what we already know; pushes may carry
	// the full record or only {id, status}.
	base, _ := m.Get(*head.ID)
	base.ID = *head.ID
	prevContext := base.FullContext
	base.FullContext = nil
	if err := json.Unmarshal(evt.Payload, &base); err != nil {
		return fmt.Errorf("decode approval_resolved #%d: %w", *head.ID, err)
	}
	if base.FullContext == nil {
		base.FullContext = prevContext
	}
	if !base.Status.Valid() {
		return fmt.Errorf("approval_resolved #%d: unknown status %q", base.ID, base.Status)
	}

	m.apply([]Request{base}, sourcePush)
	return nil
}

// ApplySnapshot folds in an authoritative listing of all approvals.
// Every record goes through the merge rule; ids absent from the listing
// are dropped and reported to the OnRemove hooks. The whole listing is
// applied under one lock.
func (m *Manager) ApplySnapshot(list []Request) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	seen := make(map[int64]struct{}, len(list))
	for _, r := range list {
		seen[r.ID] = struct{}{}
	}
	var notes []notification
	for id, r := range m.requests {
		if _, ok := seen[id]; !ok {
			delete(m.requests, id)
			notes = append(notes, notification{req: r.clone(), removed: true})
		}
	}
	sort.Slice(notes, func(i, j int) bool { return notes[i].req.ID < notes[j].req.ID })
	_, merged := m.applyLocked(list, sourceSnapshot)
	notes = append(notes, merged...)
	hooks, removeHooks := slices.Clone(m.hooks), slices.Clone(m.removeHooks)
	m.mu.Unlock()

	m.notify(notes, hooks, removeHooks)
}

type notification struct {
	req      Request
	record   bool
	callHook bool
	removed  bool
}

// apply merges records atomically, then notifies outside the lock.
// It returns the stored value for each input, in order.
func (m *Manager) apply(in []Request, src source) ([]Request, bool) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		slog.Debug("approvals: update after close discarded", "source", src)
		return nil, false
	}
	stored, notes := m.applyLocked(in, src)
	hooks, removeHooks := slices.Clone(m.hooks), slices.Clone(m.removeHooks)
	m.mu.Unlock()

	m.notify(notes, hooks, removeHooks)
	return stored, true
}

func (m *Manager) applyLocked(in []Request, src source) ([]Request, []notification) {
	stored := make([]Request, 0, len(in))
	var notes []notification
	for _, r := range in {
		if err := r.Validate(); err != nil {
			slog.Warn("approvals: invalid record", "source", src, "error", err)
		}

		cur, exists := m.requests[r.ID]
		var curPtr *Request
		if exists {
			curPtr = &cur
		}
		next, taken := merge(curPtr, r.clone())
		if !taken {
			slog.Debug("approvals: stale update discarded",
				"id", r.ID, "source", src, "have", cur.Status, "got", r.Status)
			stored = append(stored, cur.clone())
			continue
		}
		m.requests[r.ID] = next
		stored = append(stored, next.clone())

		changed := !exists || !sameState(cur, next)
		transition := next.Status.IsTerminal() &&
			((exists && cur.Status != next.Status) || (!exists && src == sourcePush))
		if changed || transition {
			notes = append(notes, notification{req: next.clone(), record: transition, callHook: changed})
		}
	}
	return stored, notes
}

func (m *Manager) notify(notes []notification, hooks, removeHooks []func(Request)) {
	for _, n := range notes {
		if n.removed {
			for _, h := range removeHooks {
				h(n.req)
			}
			continue
		}
		if n.record && m.recorder != nil {
			m.recorder.Record(protocol.EventApprovalResolved, fmt.Sprintf("Approval #%d %s", n.req.ID, n.req.Status))
		}
		if n.callHook {
			for _, h := range hooks {
				h(n.req)
			}
		}
	}
}
