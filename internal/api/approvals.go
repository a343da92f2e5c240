package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/nextlevelbuilder/opsconsole/internal/approvals"
)

// Approvals lists approval requests, newest first. An empty status
// lists all of them.
func (c *Client) Approvals(ctx context.Context, status approvals.Status) ([]approvals.Request, error) {
	var q url.Values
	if status != "" {
		q = url.Values{"status": {string(status)}}
	}
	var out []approvals.Request
	err := c.do(ctx, http.MethodGet, "/api/approvals", q, nil, &out)
	return out, err
}

// Approve resolves a pending request as approved.
func (c *Client) Approve(ctx context.Context, id int64) (approvals.Request, error) {
	return c.ResolveApproval(ctx, id, approvals.ActionApprove)
}

// Reject resolves a pending request as rejected.
func (c *Client) Reject(ctx context.Context, id int64) (approvals.Request, error) {
	return c.ResolveApproval(ctx, id, approvals.ActionReject)
}

// ResolveApproval sends a decision and returns the server's record,
// which reflects whatever the server actually stored.
func (c *Client) ResolveApproval(ctx context.Context, id int64, action approvals.Action) (approvals.Request, error) {
	if !action.Valid() {
		return approvals.Request{}, fmt.Errorf("%w: %q", approvals.ErrInvalidAction, action)
	}
	var out approvals.Request
	path := "/api/approvals/" + strconv.FormatInt(id, 10) + "/" + string(action)
	err := c.do(ctx, http.MethodPost, path, nil, nil, &out)
	return out, err
}
