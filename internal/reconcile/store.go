package reconcile

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/nextlevelbuilder/opsconsole/internal/api"
	"github.com/nextlevelbuilder/opsconsole/internal/bus"
	"github.com/nextlevelbuilder/opsconsole/pkg/protocol"
)

// Source tells where a snapshot slot was last written from.
type Source string

const (
	SourcePoll Source = "poll"
	SourcePush Source = "push"
)

// Snapshot is the console's latest authoritative view. Each slot is
// replaced as a whole; nil means never fetched.
type Snapshot struct {
	Status       *api.AgentStatus
	StatusAt     time.Time
	StatusSource Source

	Stats   *api.TodayStats
	StatsAt time.Time

	RecentLogs *api.PaginatedLogs
	LogsAt     time.Time
}

// Store holds the Snapshot. Every write carries the time its data was
// observed; a write older than what the slot already holds is dropped,
// so a slow poll cannot overwrite a newer push.
type Store struct {
	mu    sync.Mutex
	snap  Snapshot
	hooks []func(Snapshot)
	now   func() time.Time
}

func NewStore() *Store {
	return &Store{now: time.Now}
}

// OnChange registers a hook called after every applied write.
func (s *Store) OnChange(fn func(Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// Snapshot returns a copy of the current view.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked()
}

func (s *Store) copyLocked() Snapshot {
	out := s.snap
	if s.snap.Status != nil {
		st := *s.snap.Status
		out.Status = &st
	}
	if s.snap.Stats != nil {
		st := *s.snap.Stats
		out.Stats = &st
	}
	if s.snap.RecentLogs != nil {
		logs := *s.snap.RecentLogs
		logs.Items = append([]api.ActionLog(nil), s.snap.RecentLogs.Items...)
		out.RecentLogs = &logs
	}
	return out
}

// SetStatus replaces the agent status observed at at.
func (s *Store) SetStatus(st api.AgentStatus, at time.Time, src Source) bool {
	return s.write(func(snap *Snapshot) bool {
		if at.Before(snap.StatusAt) {
			return false
		}
		snap.Status, snap.StatusAt, snap.StatusSource = &st, at, src
		return true
	})
}

// SetStats replaces today's counters observed at at.
func (s *Store) SetStats(st api.TodayStats, at time.Time) bool {
	return s.write(func(snap *Snapshot) bool {
		if at.Before(snap.StatsAt) {
			return false
		}
		snap.Stats, snap.StatsAt = &st, at
		return true
	})
}

// SetRecentLogs replaces the most recent log page observed at at.
func (s *Store) SetRecentLogs(page api.PaginatedLogs, at time.Time) bool {
	return s.write(func(snap *Snapshot) bool {
		if at.Before(snap.LogsAt) {
			return false
		}
		snap.RecentLogs, snap.LogsAt = &page, at
		return true
	})
}

func (s *Store) write(fn func(*Snapshot) bool) bool {
	s.mu.Lock()
	if !fn(&s.snap) {
		s.mu.Unlock()
		return false
	}
	snap := s.copyLocked()
	hooks := slices.Clone(s.hooks)
	s.mu.Unlock()

	for _, h := range hooks {
		h(snap)
	}
	return true
}

// HandleEvent is the dispatcher subscriber for agent_status pushes. The
// pushed run state replaces the status slot; the last completed run is
// kept from the previous snapshot since pushes do not carry it.
func (s *Store) HandleEvent(evt bus.Event) error {
	if evt.Kind != protocol.EventAgentStatus {
		return nil
	}
	var p protocol.StatusPayload
	if err := evt.Decode(&p); err != nil {
		return fmt.Errorf("decode agent_status: %w", err)
	}
	if p.Status == "" {
		return fmt.Errorf("agent_status without status")
	}

	at := evt.ReceivedAt
	if at.IsZero() {
		at = s.now()
	}

	st := api.AgentStatus{Status: p.Status}
	if p.RunID != 0 {
		runID := p.RunID
		st.RunID = &runID
	}
	s.write(func(snap *Snapshot) bool {
		if at.Before(snap.StatusAt) {
			return false
		}
		if snap.Status != nil {
			st.LastRun = snap.Status.LastRun
		}
		snap.Status, snap.StatusAt, snap.StatusSource = &st, at, SourcePush
		return true
	})
	return nil
}
