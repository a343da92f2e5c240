package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/opsconsole/internal/approvals"
	"github.com/nextlevelbuilder/opsconsole/pkg/protocol"
)

func newTestAPI(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{BaseURL: srv.URL, Token: "secret"})
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)

	_, err = NewClient(Config{BaseURL: "ftp://example.com"})
	assert.Error(t, err)

	c, err := NewClient(Config{BaseURL: "https://agent.example.com/"})
	require.NoError(t, err)
	assert.Equal(t, "wss://agent.example.com/ws/agent", c.PushURL())

	c, err = NewClient(Config{BaseURL: "http://localhost:8000"})
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8000/ws/agent", c.PushURL())
}

func TestAgentStatus_SendsHeaders(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/agent/status", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_, err := uuid.Parse(r.Header.Get("X-Request-ID"))
		assert.NoError(t, err)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status": "running",
			"run_id": 12,
			"last_run": map[string]interface{}{
				"id": 12, "triggered_by": "schedule", "triggered_at": "2026-03-01T08:00:00Z", "status": "running",
			},
		})
	})
	c := newTestAPI(t, mux)

	st, err := c.AgentStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, protocol.AgentStatusRunning, st.Status)
	require.NotNil(t, st.RunID)
	assert.EqualValues(t, 12, *st.RunID)
	require.NotNil(t, st.LastRun)
	assert.Equal(t, "schedule", st.LastRun.TriggeredBy)
}

func TestLogs_QueryAndCache(t *testing.T) {
	var detailHits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/logs", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "1", q.Get("page"))
		assert.Equal(t, "5", q.Get("per_page"))
		assert.Equal(t, "send_gmail", q.Get("tool"))
		assert.Equal(t, "2026-03-01", q.Get("date_from"))
		assert.Empty(t, q.Get("status"))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"items": []map[string]interface{}{
				{"id": 3, "run_id": 1, "tool_used": "send_gmail", "requires_approval": true, "timestamp": "2026-03-01T09:00:00Z"},
			},
			"total": 11, "page": 1, "per_page": 5,
		})
	})
	mux.HandleFunc("GET /api/logs/{id}", func(w http.ResponseWriter, r *http.Request) {
		detailHits.Add(1)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id": 4, "run_id": 1, "tool_used": "read_gmail", "requires_approval": false, "timestamp": "2026-03-01T09:01:00Z",
		})
	})
	c := newTestAPI(t, mux)
	ctx := context.Background()

	page, err := c.Logs(ctx, LogQuery{
		Page: 1, PerPage: 5, Tool: "send_gmail",
		DateFrom: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, 3, page.Pages())

	// Served from the listing without a detail request.
	entry, err := c.Log(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "send_gmail", entry.ToolUsed)
	assert.Zero(t, detailHits.Load())

	for i := 0; i < 2; i++ {
		entry, err = c.Log(ctx, 4)
		require.NoError(t, err)
		assert.Equal(t, "read_gmail", entry.ToolUsed)
	}
	assert.EqualValues(t, 1, detailHits.Load())
}

func TestResolveApproval(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/approvals/{id}/{action}", func(w http.ResponseWriter, r *http.Request) {
		switch r.PathValue("id") {
		case "42":
			status := map[string]string{"approve": "approved", "reject": "rejected"}[r.PathValue("action")]
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"id": 42, "run_id": 7, "action_description": "Send email", "full_context": map[string]interface{}{},
				"status": status, "created_at": "2026-03-01T12:00:00Z", "expires_at": "2026-03-01T12:05:00Z",
				"resolved_at": "2026-03-01T12:01:00Z",
			})
		case "43":
			writeJSON(w, http.StatusConflict, map[string]string{"detail": "Approval 43 already resolved."})
		default:
			writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Approval not found."})
		}
	})
	c := newTestAPI(t, mux)
	ctx := context.Background()

	got, err := c.Approve(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, approvals.StatusApproved, got.Status)
	require.NotNil(t, got.ResolvedAt)

	got, err = c.Reject(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, approvals.StatusRejected, got.Status)

	_, err = c.Approve(ctx, 43)
	var he *HTTPError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, http.StatusConflict, he.StatusCode)
	assert.Equal(t, "Approval 43 already resolved.", he.Detail())
	assert.Equal(t, protocol.ErrCodeAlreadyResolved, ErrorCode(err))

	_, err = c.Reject(ctx, 99)
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "POST /api/approvals/99/reject: 404")

	_, err = c.ResolveApproval(ctx, 42, approvals.Action("defer"))
	assert.ErrorIs(t, err, approvals.ErrInvalidAction)
}

func TestApprovals_StatusFilter(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/approvals", func(w http.ResponseWriter, r *http.Request) {
		status := r.URL.Query().Get("status")
		if status == "" {
			writeJSON(w, http.StatusOK, []map[string]interface{}{{"id": 1, "status": "pending"}, {"id": 2, "status": "expired"}})
			return
		}
		writeJSON(w, http.StatusOK, []map[string]interface{}{{"id": 1, "status": status}})
	})
	c := newTestAPI(t, mux)

	all, err := c.Approvals(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pending, err := c.Approvals(context.Background(), approvals.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, approvals.StatusPending, pending[0].Status)
}

func TestUpdateAgentConfig(t *testing.T) {
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /api/agent/config", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		body, _ := io.ReadAll(r.Body)
		var got map[string]interface{}
		assert.NoError(t, json.Unmarshal(body, &got))
		assert.Equal(t, "0 9 * * 1-5", got["schedule"])
		_, hasPrompt := got["system_prompt"]
		assert.False(t, hasPrompt)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"enabled_tools": map[string]bool{"read_gmail": true}, "schedule": got["schedule"], "approval_rules": map[string]bool{},
		})
	})
	c := newTestAPI(t, mux)
	ctx := context.Background()

	bad := "every day"
	_, err := c.UpdateAgentConfig(ctx, AgentConfigUpdate{Schedule: &bad})
	assert.Error(t, err)

	_, err = c.UpdateAgentConfig(ctx, AgentConfigUpdate{})
	assert.Error(t, err)
	assert.Zero(t, hits.Load())

	good := "0 9 * * 1-5"
	cfg, err := c.UpdateAgentConfig(ctx, AgentConfigUpdate{Schedule: &good})
	require.NoError(t, err)
	assert.Equal(t, good, cfg.Schedule)
	assert.True(t, cfg.EnabledTools["read_gmail"])
}

func TestRunAgent_OmitsEmptyInput(t *testing.T) {
	var bodies []string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/agent/run", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		writeJSON(w, http.StatusOK, map[string]string{"message": "Agent job queued."})
	})
	c := newTestAPI(t, mux)

	msg, err := c.RunAgent(context.Background(), "  ")
	require.NoError(t, err)
	assert.Equal(t, "Agent job queued.", msg.Message)

	_, err = c.RunAgent(context.Background(), "check inbox")
	require.NoError(t, err)
	assert.Equal(t, []string{"{}", `{"input":"check inbox"}`}, bodies)
}

func TestIntegrations(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/integrations/{platform}", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Credentials map[string]string `json:"credentials"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "tok", body.Credentials["api_key"])
		writeJSON(w, http.StatusOK, map[string]interface{}{"id": 5, "platform": r.PathValue("platform"), "status": "connected"})
	})
	mux.HandleFunc("POST /api/integrations/{platform}/test", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": false, "message": "invalid token"})
	})
	mux.HandleFunc("DELETE /api/integrations/{platform}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": r.PathValue("platform") + " disconnected."})
	})
	c := newTestAPI(t, mux)
	ctx := context.Background()

	in, err := c.SaveCredentials(ctx, "notion", map[string]string{"api_key": "tok"})
	require.NoError(t, err)
	assert.Equal(t, "connected", in.Status)

	res, err := c.TestConnection(ctx, "notion")
	require.NoError(t, err)
	assert.False(t, res.Success)

	msg, err := c.Disconnect(ctx, "notion")
	require.NoError(t, err)
	assert.Equal(t, "notion disconnected.", msg.Message)

	_, err = c.Disconnect(ctx, "../etc")
	assert.Error(t, err)
	_, err = c.SaveCredentials(ctx, "notion", nil)
	assert.Error(t, err)
}

func TestRegisterWebhook_ErrorDetail(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/integrations/telegram/register-webhook", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Telegram not connected."})
	})
	c := newTestAPI(t, mux)

	_, err := c.RegisterWebhook(context.Background())
	var he *HTTPError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, "Telegram not connected.", he.Detail())
	assert.Equal(t, protocol.ErrCodeInvalidRequest, he.Code())
	assert.False(t, he.Temporary())
}

func TestErrorCode_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c, err := NewClient(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.TodayStats(context.Background())
	require.Error(t, err)
	assert.Equal(t, protocol.ErrCodeUnavailable, ErrorCode(err))
}

func TestRouteOf(t *testing.T) {
	cases := map[string]string{
		"/api/agent/status":                           "/api/agent/status",
		"/api/logs/17":                                "/api/logs/{id}",
		"/api/approvals/42/approve":                   "/api/approvals/{id}/approve",
		"/api/integrations/notion/test":               "/api/integrations/{platform}/test",
		"/api/integrations/telegram/register-webhook": "/api/integrations/{platform}/register-webhook",
	}
	for in, want := range cases {
		assert.Equal(t, want, routeOf(in), in)
	}
}

func TestNextRun(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC) // Monday
	next, err := NextRun("0 9 * * *", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC), next)

	_, err = NextRun("bogus", now)
	assert.Error(t, err)
}
