// Package reconcile periodically re-fetches the authoritative state the
// push channel may have missed (dropped frames, reconnect gaps) and
// folds it into the console's view.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/opsconsole/internal/api"
	"github.com/nextlevelbuilder/opsconsole/internal/approvals"
)

const (
	// DefaultInterval is the period between scheduled polls.
	DefaultInterval = 15 * time.Second

	// RecentLogsPerPage is the size of the "recent activity" log page.
	RecentLogsPerPage = 5

	defaultFetchTimeout = 10 * time.Second
)

// ErrStopped is returned by PollOnce when results were discarded
// because the poller stopped while fetching.
var ErrStopped = errors.New("poller stopped")

// Fetcher reads the authoritative state. *api.Client satisfies it.
type Fetcher interface {
	AgentStatus(ctx context.Context) (api.AgentStatus, error)
	TodayStats(ctx context.Context) (api.TodayStats, error)
	Logs(ctx context.Context, q api.LogQuery) (api.PaginatedLogs, error)
	Approvals(ctx context.Context, status approvals.Status) ([]approvals.Request, error)
}

// ApprovalSink receives the full approval listing. *approvals.Manager
// satisfies it.
type ApprovalSink interface {
	ApplySnapshot(list []approvals.Request)
}

// Config tunes a Poller. Zero values select defaults.
type Config struct {
	Interval     time.Duration
	FetchTimeout time.Duration
	Now          func() time.Time
}

// Poller runs reconciliation on a timer and on demand.
type Poller struct {
	fetcher Fetcher
	store   *Store
	sink    ApprovalSink
	timeout time.Duration
	now     func() time.Time

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	interval time.Duration
	epoch    uint64 // bumped by Stop; fetches from an older epoch are discarded

	trigger chan struct{}
	reset   chan struct{}

	pollMu sync.Mutex // one reconciliation at a time
}

// NewPoller creates a poller writing into store and sink. sink may be nil.
func NewPoller(fetcher Fetcher, store *Store, sink ApprovalSink, cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Poller{
		fetcher:  fetcher,
		store:    store,
		sink:     sink,
		timeout:  cfg.FetchTimeout,
		now:      cfg.Now,
		interval: cfg.Interval,
		trigger:  make(chan struct{}, 1),
		reset:    make(chan struct{}, 1),
	}
}

// Start polls once immediately, then on every interval and Trigger.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	p.done = make(chan struct{})

	go p.loop(ctx, p.done)
	slog.Info("reconcile: poller started", "interval", p.interval)
}

// Stop halts the loop and waits for it. An in-flight poll finishes but
// its results are discarded.
func (p *Poller) Stop() {
	p.mu.Lock()
	p.epoch++
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.cancel()
	p.running = false
	done := p.done
	p.mu.Unlock()

	<-done
	slog.Info("reconcile: poller stopped")
}

// IsRunning returns whether the loop is active.
func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Trigger requests an immediate poll. Requests coalesce while one is pending.
func (p *Poller) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// SetInterval changes the scheduled period; the timer restarts from now.
func (p *Poller) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	p.mu.Lock()
	changed := p.interval != d
	p.interval = d
	p.mu.Unlock()

	if changed {
		slog.Info("reconcile: interval changed", "interval", d)
		select {
		case p.reset <- struct{}{}:
		default:
		}
	}
}

// Interval returns the current scheduled period.
func (p *Poller) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	p.runOnce(ctx)

	timer := time.NewTimer(p.Interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			p.runOnce(ctx)
		case <-p.trigger:
			p.runOnce(ctx)
		case <-p.reset:
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(p.Interval())
	}
}

func (p *Poller) runOnce(ctx context.Context) {
	if err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
		slog.Debug("reconcile: poll incomplete", "error", err)
	}
}

// PollOnce fetches status, today's counters, the recent log page and all
// approvals concurrently. Each successful fetch replaces its slot; a
// failed fetch leaves the previous value in place and is reported in the
// returned error.
func (p *Poller) PollOnce(ctx context.Context) error {
	p.pollMu.Lock()
	defer p.pollMu.Unlock()

	p.mu.Lock()
	epoch := p.epoch
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	startedAt := p.now()

	var (
		status  api.AgentStatus
		stats   api.TodayStats
		logs    api.PaginatedLogs
		list    []approvals.Request
		errMu   sync.Mutex
		failed  []error
		success = map[string]bool{}
	)
	record := func(name string, err error) error {
		errMu.Lock()
		defer errMu.Unlock()
		if err != nil {
			slog.Warn("reconcile: fetch failed", "resource", name, "error", err)
			failed = append(failed, fmt.Errorf("%s: %w", name, err))
			return nil
		}
		success[name] = true
		return nil
	}

	// Fetches are independent: one failure must not cancel the others,
	// so the group carries no derived context.
	var g errgroup.Group
	g.Go(func() error {
		var err error
		status, err = p.fetcher.AgentStatus(ctx)
		return record("status", err)
	})
	g.Go(func() error {
		var err error
		stats, err = p.fetcher.TodayStats(ctx)
		return record("stats", err)
	})
	g.Go(func() error {
		var err error
		logs, err = p.fetcher.Logs(ctx, api.LogQuery{Page: 1, PerPage: RecentLogsPerPage})
		return record("logs", err)
	})
	g.Go(func() error {
		var err error
		list, err = p.fetcher.Approvals(ctx, "")
		return record("approvals", err)
	})
	_ = g.Wait()

	p.mu.Lock()
	stale := p.epoch != epoch
	p.mu.Unlock()
	if stale {
		slog.Debug("reconcile: discarding results after stop")
		return ErrStopped
	}

	if success["status"] {
		p.store.SetStatus(status, startedAt, SourcePoll)
	}
	if success["stats"] {
		p.store.SetStats(stats, startedAt)
	}
	if success["logs"] {
		p.store.SetRecentLogs(logs, startedAt)
	}
	if success["approvals"] && p.sink != nil {
		p.sink.ApplySnapshot(list)
	}

	return errors.Join(failed...)
}
