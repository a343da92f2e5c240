// Package relay reads push frames straight from the backend's redis
// pub/sub channel, for consoles running next to the agent runtime.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nextlevelbuilder/opsconsole/internal/transport"
	"github.com/nextlevelbuilder/opsconsole/pkg/protocol"
)

const (
	DefaultChannel   = "toora:ws"
	DefaultStatusKey = "toora:agent_status"
)

var errStale = errors.New("relay: no traffic within heartbeat window")

// Config configures a relay Source.
type Config struct {
	URL       string // redis://host:port/db
	Channel   string
	StatusKey string // last published agent status; empty disables seeding
	Heartbeat time.Duration
	Backoff   transport.Backoff
	QueueSize int
}

// Source implements transport.Source over redis pub/sub. Connection
// states, retry counting and backoff match the websocket client.
type Source struct {
	cfg     Config
	opts    *redis.Options
	tracker *transport.Tracker
	fanout  *transport.Fanout

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}

	subMu sync.Mutex
	sub   *redis.PubSub

	closeOnce sync.Once
}

var _ transport.Source = (*Source)(nil)

// New parses the redis URL; nothing is dialed until Connect.
func New(cfg Config) (*Source, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("relay: parse url: %w", err)
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = transport.DefaultHeartbeat
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = transport.DefaultBackoff()
	}
	return &Source{
		cfg:     cfg,
		opts:    opts,
		tracker: transport.NewTracker(),
		fanout:  transport.NewFanout(cfg.QueueSize),
	}, nil
}

func (s *Source) OnFrame(handler func(protocol.PushFrame)) { s.fanout.Add(handler) }

func (s *Source) OnStateChange(handler func(transport.State)) { s.tracker.OnChange(handler) }

func (s *Source) State() transport.State { return s.tracker.Snapshot() }

// Connect starts the subscribe loop and returns at once.
func (s *Source) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return transport.ErrClosed
	}
	if s.started {
		return transport.ErrAlreadyConnected
	}
	s.started = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.fanout.Run(runCtx)
	go s.run(runCtx)
	return nil
}

// Close unsubscribes and waits for the loop. Safe to call more than once.
func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		cancel, done := s.cancel, s.done
		s.mu.Unlock()

		if cancel == nil {
			return
		}
		cancel()
		s.closeSub()
		<-done
		s.tracker.Stopped()
		slog.Info("relay: closed", "channel", s.cfg.Channel)
	})
	return nil
}

func (s *Source) run(ctx context.Context) {
	defer close(s.done)

	for {
		if ctx.Err() != nil {
			return
		}

		s.tracker.Connecting()
		rdb := redis.NewClient(s.opts)
		err := s.session(ctx, rdb)
		s.closeSub()
		rdb.Close()

		if ctx.Err() != nil {
			return
		}
		slog.Warn("relay: disconnected", "addr", s.opts.Addr, "error", err)

		st := s.tracker.Failed(err)
		wait := s.cfg.Backoff.Delay(st.RetryAttempt)
		slog.Info("relay: reconnecting", "attempt", st.RetryAttempt, "wait", wait)
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// session subscribes, seeds the last known status and reads until the
// subscription fails or goes quiet for two heartbeat windows.
func (s *Source) session(ctx context.Context, rdb *redis.Client) error {
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping: %w", err)
	}

	sub := rdb.Subscribe(ctx, s.cfg.Channel)
	s.subMu.Lock()
	s.sub = sub
	s.subMu.Unlock()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.cfg.Channel, err)
	}

	slog.Info("relay: subscribed", "addr", s.opts.Addr, "channel", s.cfg.Channel)
	s.tracker.Connected()
	s.seedStatus(ctx, rdb)

	probed := false
	for {
		msg, err := sub.ReceiveTimeout(ctx, s.cfg.Heartbeat)
		if err != nil {
			if !isTimeout(err) || ctx.Err() != nil {
				return err
			}
			if probed {
				return errStale
			}
			if err := sub.Ping(ctx); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
			probed = true
			continue
		}
		probed = false

		if m, ok := msg.(*redis.Message); ok {
			s.deliver([]byte(m.Payload))
		}
	}
}

// seedStatus replays the stored status as an agent_status frame so the
// console does not wait for the next publish.
func (s *Source) seedStatus(ctx context.Context, rdb *redis.Client) {
	if s.cfg.StatusKey == "" {
		return
	}
	raw, err := rdb.Get(ctx, s.cfg.StatusKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Debug("relay: status seed failed", "key", s.cfg.StatusKey, "error", err)
		}
		return
	}
	frame, ok := statusFrame(raw)
	if !ok {
		slog.Debug("relay: ignoring stored status", "key", s.cfg.StatusKey)
		return
	}
	s.fanout.Push(frame)
}

func (s *Source) deliver(payload []byte) {
	frame, err := protocol.ParseFrame(payload)
	if err != nil {
		slog.Debug("relay: dropping malformed frame", "error", err)
		return
	}
	s.fanout.Push(frame)
}

func (s *Source) closeSub() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.sub != nil {
		s.sub.Close()
		s.sub = nil
	}
}

// statusFrame wraps the stored {"run_id","status"} document.
func statusFrame(raw []byte) (protocol.PushFrame, bool) {
	var p protocol.StatusPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.Status == "" {
		return protocol.PushFrame{}, false
	}
	frame, err := protocol.NewFrame(protocol.EventAgentStatus, p)
	if err != nil {
		return protocol.PushFrame{}, false
	}
	return frame, true
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
