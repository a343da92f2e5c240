// Package api is the HTTP client for the agent runtime's REST surface.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout      = 15 * time.Second
	defaultLogCacheSize = 256
	maxErrorBody        = 4 * 1024
	tracerName          = "github.com/nextlevelbuilder/opsconsole/internal/api"
)

// Config configures a Client.
type Config struct {
	BaseURL      string  // e.g. http://localhost:8000
	Token        string  // bearer token, optional
	Timeout      time.Duration
	RPS          float64 // client-side request rate; <= 0 disables the limiter
	Burst        int
	LogCacheSize int
	HTTPClient   *http.Client
}

// Client talks JSON to the agent runtime. Safe for concurrent use.
type Client struct {
	base    *url.URL
	token   string
	http    *http.Client
	limiter *rate.Limiter
	logs    *lru.Cache[int64, ActionLog]
	tracer  trace.Tracer
}

// NewClient validates cfg and creates a client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("api base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("api base URL must be http or https, got %q", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	size := cfg.LogCacheSize
	if size <= 0 {
		size = defaultLogCacheSize
	}
	cache, err := lru.New[int64, ActionLog](size)
	if err != nil {
		return nil, fmt.Errorf("log cache: %w", err)
	}

	var limiter *rate.Limiter
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 5
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}

	return &Client{
		base:    base,
		token:   cfg.Token,
		http:    httpClient,
		limiter: limiter,
		logs:    cache,
		tracer:  otel.Tracer(tracerName),
	}, nil
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string { return c.base.String() }

// PushURL derives the websocket push endpoint from the base URL.
func (c *Client) PushURL() string {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/agent"
	return u.String()
}

// do sends one request. body, when non-nil, is JSON-encoded; out, when
// non-nil, receives the decoded response.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	ctx, span := c.tracer.Start(ctx, method+" "+routeOf(path),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", path),
		),
	)
	defer span.End()

	err := c.send(ctx, span, method, path, query, body, out)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return err
}

func (c *Client) send(ctx context.Context, span trace.Span, method, path string, query url.Values, body, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s %s: rate limit: %w", method, path, err)
		}
	}

	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s %s: encode body: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	span.SetAttributes(attribute.String("http.request.id", requestID))

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		slog.Debug("api: request failed", "method", method, "path", path, "error", err)
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	slog.Debug("api: request", "method", method, "path", path, "status", resp.StatusCode,
		"request_id", requestID, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &HTTPError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(data)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

// routeOf replaces numeric and platform path segments with placeholders
// so span names stay low-cardinality.
func routeOf(path string) string {
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if p == "" {
			continue
		}
		if _, err := strconv.ParseInt(p, 10, 64); err == nil {
			parts[i] = "{id}"
			continue
		}
		if i == 3 && len(parts) > 2 && parts[2] == "integrations" {
			parts[i] = "{platform}"
		}
	}
	return strings.Join(parts, "/")
}
