package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

const dateLayout = "2006-01-02"

// Values encodes the query. Zero fields are omitted.
func (q LogQuery) Values() url.Values {
	v := url.Values{}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.PerPage > 0 {
		v.Set("per_page", strconv.Itoa(q.PerPage))
	}
	if q.Tool != "" {
		v.Set("tool", q.Tool)
	}
	if q.Status != "" {
		v.Set("status", q.Status)
	}
	if !q.DateFrom.IsZero() {
		v.Set("date_from", q.DateFrom.Format(dateLayout))
	}
	if !q.DateTo.IsZero() {
		v.Set("date_to", q.DateTo.Format(dateLayout))
	}
	return v
}

// Logs fetches one page of the action log, newest first.
func (c *Client) Logs(ctx context.Context, q LogQuery) (PaginatedLogs, error) {
	var out PaginatedLogs
	if err := c.do(ctx, http.MethodGet, "/api/logs", q.Values(), nil, &out); err != nil {
		return PaginatedLogs{}, err
	}
	for _, item := range out.Items {
		c.logs.Add(item.ID, item)
	}
	return out, nil
}

// Log fetches a single entry. Entries are immutable, so repeat lookups
// are served from the cache.
func (c *Client) Log(ctx context.Context, id int64) (ActionLog, error) {
	if cached, ok := c.logs.Get(id); ok {
		return cached, nil
	}
	var out ActionLog
	if err := c.do(ctx, http.MethodGet, "/api/logs/"+strconv.FormatInt(id, 10), nil, nil, &out); err != nil {
		return ActionLog{}, err
	}
	c.logs.Add(id, out)
	return out, nil
}
