package api

import (
	"context"
	"net/http"
)

// TodayStats fetches the dashboard counters.
func (c *Client) TodayStats(ctx context.Context) (TodayStats, error) {
	var out TodayStats
	err := c.do(ctx, http.MethodGet, "/api/stats/today", nil, nil, &out)
	return out, err
}
