package console

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/opsconsole/internal/api"
	"github.com/nextlevelbuilder/opsconsole/internal/approvals"
	"github.com/nextlevelbuilder/opsconsole/internal/bus"
	"github.com/nextlevelbuilder/opsconsole/internal/config"
	"github.com/nextlevelbuilder/opsconsole/internal/relay"
	"github.com/nextlevelbuilder/opsconsole/internal/transport"
	"github.com/nextlevelbuilder/opsconsole/pkg/protocol"
)

// backend fakes the agent runtime: REST endpoints plus /ws/agent.
type backend struct {
	*httptest.Server
	mu       sync.Mutex
	list     []approvals.Request
	conns    chan *websocket.Conn
	authz    atomic.Value
	resolves atomic.Int32
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	b := &backend{conns: make(chan *websocket.Conn, 4)}
	upgrader := websocket.Upgrader{}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/agent", func(w http.ResponseWriter, r *http.Request) {
		b.authz.Store(r.Header.Get("Authorization"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.conns <- conn
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	mux.HandleFunc("/api/agent/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, api.AgentStatus{Status: protocol.AgentStatusIdle})
	})
	mux.HandleFunc("/api/stats/today", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, api.TodayStats{EmailsProcessed: 3})
	})
	mux.HandleFunc("/api/logs", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, api.PaginatedLogs{Items: []api.ActionLog{}, Page: 1, PerPage: 5})
	})
	mux.HandleFunc("/api/approvals", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		writeJSON(w, b.list)
	})
	mux.HandleFunc("/api/approvals/42/approve", func(w http.ResponseWriter, r *http.Request) {
		b.resolves.Add(1)
		b.mu.Lock()
		defer b.mu.Unlock()
		now := time.Now().UTC()
		b.list[0].Status = approvals.StatusApproved
		b.list[0].ResolvedAt = &now
		writeJSON(w, b.list[0])
	})

	b.Server = httptest.NewServer(mux)
	t.Cleanup(b.Close)
	return b
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func push(t *testing.T, conn *websocket.Conn, kind string, data interface{}) {
	t.Helper()
	frame, err := protocol.NewFrame(kind, data)
	require.NoError(t, err)
	raw, err := json.Marshal(frame)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))
}

func newTestConsole(t *testing.T, b *backend) *Console {
	t.Helper()
	cfg := config.Default()
	cfg.API.BaseURL = b.URL
	cfg.API.RPS = 0
	cfg.Push.Backoff = "fixed"
	cfg.Push.BackoffBase = "10ms"
	cfg.Reconcile.Interval = "1h"

	client, err := api.NewClient(api.Config{BaseURL: b.URL, Token: "tok"})
	require.NoError(t, err)
	c, err := New(cfg, client, "tok")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestConsole_EndToEnd(t *testing.T) {
	created := time.Now().UTC().Add(-time.Minute)
	b := newBackend(t)
	b.list = []approvals.Request{{
		ID: 42, RunID: 7, ActionDescription: "Send email to client@example.com",
		Status: approvals.StatusPending, CreatedAt: created, ExpiresAt: created.Add(5 * time.Minute),
	}}

	c := newTestConsole(t, b)
	require.NoError(t, c.Start(context.Background()))

	var conn *websocket.Conn
	select {
	case conn = <-b.conns:
	case <-time.After(3 * time.Second):
		t.Fatal("console never connected")
	}
	assert.Equal(t, "Bearer tok", b.authz.Load())

	// Initial and on-connect reconciliation load the pending approval.
	require.Eventually(t, func() bool { return len(c.Approvals().ListPending()) == 1 }, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return c.Snapshot().Stats != nil }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, transport.StatusConnected, c.State().Status)

	push(t, conn, protocol.EventToolCall, protocol.ToolPayload{Tool: "read_gmail"})
	push(t, conn, protocol.EventAgentStatus, protocol.StatusPayload{RunID: 7, Status: protocol.AgentStatusWaitingForApproval})
	require.Eventually(t, func() bool {
		st := c.Snapshot().Status
		return st != nil && st.Status == protocol.AgentStatusWaitingForApproval
	}, 3*time.Second, 10*time.Millisecond)

	got, err := c.Resolve(context.Background(), 42, approvals.ActionApprove)
	require.NoError(t, err)
	assert.Equal(t, approvals.StatusApproved, got.Status)

	// The server echoes the resolution over the push channel; it is not
	// recorded a second time.
	push(t, conn, protocol.EventApprovalResolved, map[string]interface{}{"id": 42, "status": "approved"})
	push(t, conn, protocol.EventToolResult, protocol.ToolPayload{Tool: "send_email"})

	require.Eventually(t, func() bool { return c.Activity().Len() == 4 }, 3*time.Second, 10*time.Millisecond)
	entries := c.Activity().List()
	assert.Equal(t, "Tool finished: send_email", entries[0].Summary)
	assert.Equal(t, "Approval #42 approved", entries[1].Summary)
	assert.Equal(t, "Tool called: read_gmail", entries[3].Summary)
	assert.EqualValues(t, 1, b.resolves.Load())
	assert.Empty(t, c.Approvals().ListPending())

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, transport.StatusDisconnected, c.State().Status)
	assert.False(t, c.Poller().IsRunning())
	assert.ErrorIs(t, c.Start(context.Background()), transport.ErrClosed)
}

func TestConsole_ApplyConfigAndSubscribe(t *testing.T) {
	b := newBackend(t)
	c := newTestConsole(t, b)

	cfg := config.Default()
	cfg.Reconcile.Interval = "2m"
	cfg.Approvals.NearExpiry = "30s"
	c.ApplyConfig(cfg)
	assert.Equal(t, 2*time.Minute, c.Poller().Interval())

	var seen []string
	unsubscribe := c.Subscribe("watch", func(evt bus.Event) error {
		seen = append(seen, evt.Kind)
		return nil
	})
	c.Dispatcher().HandleFrame(protocol.PushFrame{Type: protocol.EventToolCall, Data: json.RawMessage(`{"tool":"x"}`)})
	unsubscribe()
	c.Dispatcher().HandleFrame(protocol.PushFrame{Type: protocol.EventToolCall, Data: json.RawMessage(`{"tool":"y"}`)})

	assert.Equal(t, []string{protocol.EventToolCall}, seen)
	assert.Equal(t, 2, c.Activity().Len(), "built-in subscribers stay registered")
	assert.Equal(t, 3, c.Dispatcher().Len())
	assert.NotEmpty(t, c.SessionID())
}

func TestConsole_RelaySelectedByConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Relay.RedisURL = "redis://127.0.0.1:6379/0"
	client, err := api.NewClient(api.Config{BaseURL: cfg.API.BaseURL})
	require.NoError(t, err)

	c, err := New(cfg, client, "")
	require.NoError(t, err)
	_, ok := c.Source().(*relay.Source)
	assert.True(t, ok)

	cfg.Relay.RedisURL = ""
	c, err = New(cfg, client, "")
	require.NoError(t, err)
	_, ok = c.Source().(*transport.Client)
	assert.True(t, ok)
}
