package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

// AgentStatus fetches the agent's current run state.
func (c *Client) AgentStatus(ctx context.Context) (AgentStatus, error) {
	var out AgentStatus
	err := c.do(ctx, http.MethodGet, "/api/agent/status", nil, nil, &out)
	return out, err
}

// AgentConfig fetches the agent configuration.
func (c *Client) AgentConfig(ctx context.Context) (AgentConfig, error) {
	var out AgentConfig
	err := c.do(ctx, http.MethodGet, "/api/agent/config", nil, nil, &out)
	return out, err
}

// UpdateAgentConfig applies a partial update and returns the stored
// configuration. The schedule is validated locally before sending.
func (c *Client) UpdateAgentConfig(ctx context.Context, upd AgentConfigUpdate) (AgentConfig, error) {
	if upd.Empty() {
		return AgentConfig{}, fmt.Errorf("update agent config: nothing to change")
	}
	if upd.Schedule != nil {
		if err := ValidateSchedule(*upd.Schedule); err != nil {
			return AgentConfig{}, err
		}
	}
	var out AgentConfig
	err := c.do(ctx, http.MethodPut, "/api/agent/config", nil, upd, &out)
	return out, err
}

// RunAgent queues a manual run, optionally with a free-form input.
func (c *Client) RunAgent(ctx context.Context, input string) (Message, error) {
	body := map[string]string{}
	if input = strings.TrimSpace(input); input != "" {
		body["input"] = input
	}
	var out Message
	err := c.do(ctx, http.MethodPost, "/api/agent/run", nil, body, &out)
	return out, err
}

// ValidateSchedule checks a cron expression.
func ValidateSchedule(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return fmt.Errorf("schedule requires a cron expression")
	}
	gx := gronx.New()
	if !gx.IsValid(expr) {
		return fmt.Errorf("invalid cron expression: %s", expr)
	}
	return nil
}

// NextRun returns the first tick of expr strictly after now.
func NextRun(expr string, now time.Time) (time.Time, error) {
	if err := ValidateSchedule(expr); err != nil {
		return time.Time{}, err
	}
	return gronx.NextTickAfter(expr, now, false)
}
