// Package transport maintains the console's live push channel to the
// agent runtime and reconnects it for as long as the console runs.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/opsconsole/pkg/protocol"
)

const (
	// DefaultHeartbeat is the probe period. A connection that produced
	// nothing (message or pong) for a whole period is treated as stale.
	DefaultHeartbeat = 25 * time.Second

	writeWait      = 10 * time.Second
	maxMessageSize = 512 * 1024
)

var (
	// ErrClosed is returned by Connect after Close.
	ErrClosed = errors.New("transport closed")

	// ErrAlreadyConnected is returned by a second Connect.
	ErrAlreadyConnected = errors.New("transport already started")

	errStale = errors.New("connection stale: no traffic during heartbeat cycle")
)

// Config configures a Client.
type Config struct {
	URL       string      // ws:// or wss:// endpoint, e.g. wss://host/ws/agent
	Header    http.Header // sent on every dial (authorization)
	Heartbeat time.Duration
	Backoff   Backoff
	QueueSize int
	Dialer    *websocket.Dialer
}

// Client is a self-healing websocket push connection.
type Client struct {
	cfg     Config
	dialer  *websocket.Dialer
	tracker *Tracker
	fanout  *Fanout

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}

	connMu sync.Mutex
	conn   *websocket.Conn

	closeOnce sync.Once
}

// NewClient creates a client. Nothing is dialed until Connect.
func NewClient(cfg Config) *Client {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	if cfg.Backoff.Policy == "" {
		cfg.Backoff = DefaultBackoff()
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 15 * time.Second,
		}
	}
	return &Client{
		cfg:     cfg,
		dialer:  dialer,
		tracker: NewTracker(),
		fanout:  NewFanout(cfg.QueueSize),
	}
}

// OnFrame registers a consumer of parsed frames. Consumers are called
// from one delivery goroutine, never from the read loop.
func (c *Client) OnFrame(handler func(protocol.PushFrame)) {
	c.fanout.Add(handler)
}

// OnStateChange registers a consumer of connection state transitions.
func (c *Client) OnStateChange(handler func(State)) {
	c.tracker.OnChange(handler)
}

// State returns the current connection state.
func (c *Client) State() State {
	return c.tracker.Snapshot()
}

// Connect starts the background connection loop and returns at once.
// The first dial happens asynchronously; watch OnStateChange for progress.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.started {
		return ErrAlreadyConnected
	}
	c.started = true

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	go c.fanout.Run(runCtx)
	go c.run(runCtx)
	return nil
}

// Close stops reconnecting, closes the socket and waits for the loop to
// exit. Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		cancel, done := c.cancel, c.done
		c.mu.Unlock()

		if cancel == nil {
			return
		}
		cancel()
		c.closeConn()
		<-done
		c.tracker.Stopped()
		slog.Info("ws: closed", "url", c.cfg.URL)
	})
	return nil
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)

	for {
		if ctx.Err() != nil {
			return
		}

		c.tracker.Connecting()
		conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if resp != nil {
				err = fmt.Errorf("dial: %w (status %d)", err, resp.StatusCode)
			}
			slog.Warn("ws: dial failed", "url", c.cfg.URL, "error", err)
			if !c.waitReconnect(ctx, c.tracker.Failed(err)) {
				return
			}
			continue
		}

		c.connMu.Lock()
		c.conn = conn
		c.connMu.Unlock()

		slog.Info("ws: connected", "url", c.cfg.URL)
		c.tracker.Connected()

		err = c.serve(ctx, conn)
		c.closeConn()

		if ctx.Err() != nil {
			return
		}
		slog.Warn("ws: disconnected", "error", err)
		if !c.waitReconnect(ctx, c.tracker.Failed(err)) {
			return
		}
	}
}

func (c *Client) waitReconnect(ctx context.Context, st State) bool {
	wait := c.cfg.Backoff.Delay(st.RetryAttempt)
	slog.Info("ws: reconnecting", "attempt", st.RetryAttempt, "wait", wait)

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Client) closeConn() {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// serve runs the heartbeat and the read loop for one connection and
// returns the reason it ended.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	start := time.Now()
	var seen atomic.Int64 // time since start of the last inbound traffic
	touch := func() { seen.Store(int64(time.Since(start))) }

	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		touch()
		return nil
	})

	var stale atomic.Bool
	hbDone := make(chan struct{})
	defer close(hbDone)
	go c.heartbeat(ctx, conn, start, &seen, &stale, hbDone)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if stale.Load() {
				return errStale
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}
		touch()

		frame, err := protocol.ParseFrame(data)
		if err != nil {
			if string(data) != "pong" {
				slog.Debug("ws: discarding malformed frame", "error", err, "len", len(data))
			}
			continue
		}
		c.fanout.Push(frame)
	}
}

// heartbeat probes the server every period. If nothing arrived since the
// previous tick the connection is closed, which unblocks the read loop.
func (c *Client) heartbeat(ctx context.Context, conn *websocket.Conn, start time.Time, seen *atomic.Int64, stale *atomic.Bool, done <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.Heartbeat)
	defer ticker.Stop()

	cycleStart := time.Duration(0)
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			conn.Close()
			return
		case <-ticker.C:
			if time.Duration(seen.Load()) < cycleStart {
				slog.Warn("ws: connection stale, closing", "heartbeat", c.cfg.Heartbeat)
				stale.Store(true)
				conn.Close()
				return
			}
			cycleStart = time.Since(start)

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.TextMessage, []byte(protocol.ProbeMessage))
			if err == nil {
				err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			}
			if err != nil {
				slog.Debug("ws: probe failed", "error", err)
				conn.Close()
				return
			}
		}
	}
}
