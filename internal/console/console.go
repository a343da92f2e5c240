// Package console wires the push source, dispatcher, activity feed,
// approvals manager and reconciliation poller into one session.
package console

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/opsconsole/internal/activity"
	"github.com/nextlevelbuilder/opsconsole/internal/api"
	"github.com/nextlevelbuilder/opsconsole/internal/approvals"
	"github.com/nextlevelbuilder/opsconsole/internal/bus"
	"github.com/nextlevelbuilder/opsconsole/internal/config"
	"github.com/nextlevelbuilder/opsconsole/internal/reconcile"
	"github.com/nextlevelbuilder/opsconsole/internal/relay"
	"github.com/nextlevelbuilder/opsconsole/internal/transport"
)

// Subscriber ids on the dispatcher, in delivery order.
const (
	SubscriberActivity  = "activity"
	SubscriberApprovals = "approvals"
	SubscriberStatus    = "status"
)

// Option customizes New.
type Option func(*Console)

// WithSource replaces the push source selected from config.
func WithSource(src transport.Source) Option {
	return func(c *Console) { c.source = src }
}

// Console is one operator session. Nothing is connected until Start.
type Console struct {
	session    string
	client     *api.Client
	source     transport.Source
	dispatcher *bus.Dispatcher
	activity   *activity.Log
	approvals  *approvals.Manager
	store      *reconcile.Store
	poller     *reconcile.Poller

	mu      sync.Mutex
	started bool
	closed  bool
}

// New builds a session from cfg. token authorizes the push channel.
func New(cfg *config.Config, client *api.Client, token string, opts ...Option) (*Console, error) {
	c := &Console{
		session:    uuid.NewString(),
		client:     client,
		dispatcher: bus.NewDispatcher(),
		activity:   activity.NewLog(cfg.Activity.Capacity),
		store:      reconcile.NewStore(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.approvals = approvals.NewManager(client, c.activity, approvals.Config{NearExpiry: cfg.NearExpiry(), Timeout: cfg.APITimeout()})
	c.poller = reconcile.NewPoller(client, c.store, c.approvals, reconcile.Config{
		Interval:     cfg.PollInterval(),
		FetchTimeout: cfg.FetchTimeout(),
	})

	c.dispatcher.Subscribe(SubscriberActivity, c.activity.Handler())
	c.dispatcher.Subscribe(SubscriberApprovals, c.approvals.HandleEvent)
	c.dispatcher.Subscribe(SubscriberStatus, c.store.HandleEvent)

	if c.source == nil {
		src, err := newSource(cfg, token)
		if err != nil {
			return nil, err
		}
		c.source = src
	}
	c.source.OnFrame(c.dispatcher.HandleFrame)
	c.source.OnStateChange(c.onState)

	return c, nil
}

// newSource picks the redis relay when configured, else the websocket.
func newSource(cfg *config.Config, token string) (transport.Source, error) {
	policy, err := transport.ParseBackoffPolicy(cfg.Push.Backoff)
	if err != nil {
		return nil, err
	}
	backoff := transport.Backoff{Policy: policy, Base: cfg.BackoffBase(), Max: cfg.BackoffMax()}

	if cfg.Relay.RedisURL != "" {
		return relay.New(relay.Config{
			URL:       cfg.Relay.RedisURL,
			Channel:   cfg.Relay.Channel,
			StatusKey: cfg.Relay.StatusKey,
			Heartbeat: cfg.HeartbeatInterval(),
			Backoff:   backoff,
			QueueSize: cfg.Push.QueueSize,
		})
	}

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return transport.NewClient(transport.Config{
		URL:       cfg.PushURL(),
		Header:    header,
		Heartbeat: cfg.HeartbeatInterval(),
		Backoff:   backoff,
		QueueSize: cfg.Push.QueueSize,
	}), nil
}

// onState reconciles right after every (re)connect: pushes sent while
// disconnected are gone for good.
func (c *Console) onState(st transport.State) {
	slog.Debug("console: push state", "status", st.Status, "attempt", st.RetryAttempt, "error", st.LastError)
	if st.Status == transport.StatusConnected {
		c.poller.Trigger()
	}
}

// Start connects the push source and starts the poller.
func (c *Console) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return transport.ErrClosed
	}
	if c.started {
		return nil
	}
	if err := c.source.Connect(ctx); err != nil {
		return fmt.Errorf("connect push source: %w", err)
	}
	c.poller.Start(ctx)
	c.started = true
	slog.Info("console: started", "session", c.session)
	return nil
}

// Close stops the source and the poller; later updates are discarded.
func (c *Console) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.source.Close()
	c.poller.Stop()
	c.approvals.Close()
	slog.Info("console: closed", "session", c.session)
	return err
}

// ApplyConfig applies the settings that can change while running.
func (c *Console) ApplyConfig(cfg *config.Config) {
	c.poller.SetInterval(cfg.PollInterval())
	c.approvals.SetNearExpiry(cfg.NearExpiry())
}

// Subscribe adds a dispatcher subscriber after the built-in ones.
func (c *Console) Subscribe(id string, h bus.Handler) func() {
	return c.dispatcher.Subscribe(id, h)
}

// Resolve approves or rejects an approval through the manager.
func (c *Console) Resolve(ctx context.Context, id int64, action approvals.Action) (approvals.Request, error) {
	return c.approvals.Resolve(ctx, id, action)
}

func (c *Console) SessionID() string { return c.session }
func (c *Console) Client() *api.Client { return c.client }
func (c *Console) Source() transport.Source { return c.source }
func (c *Console) Activity() *activity.Log { return c.activity }
func (c *Console) Approvals() *approvals.Manager { return c.approvals }
func (c *Console) Store() *reconcile.Store { return c.store }
func (c *Console) Poller() *reconcile.Poller { return c.poller }
func (c *Console) Dispatcher() *bus.Dispatcher { return c.dispatcher }
func (c *Console) State() transport.State { return c.source.State() }
func (c *Console) Snapshot() reconcile.Snapshot { return c.store.Snapshot() }
