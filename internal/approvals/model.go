package approvals

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of an approval request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusExpired
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusPending || s.IsTerminal()
}

// Action is an operator decision on a pending request.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	return a == ActionApprove || a == ActionReject
}

// Status returns the terminal status the action asks for.
func (a Action) Status() Status {
	if a == ActionApprove {
		return StatusApproved
	}
	return StatusRejected
}

// Request mirrors the server's approval record. The client only observes
// it and asks for transitions; the server decides.
type Request struct {
	ID                int64                  `json:"id" yaml:"id"`
	RunID             int64                  `json:"run_id" yaml:"run_id"`
	ActionDescription string                 `json:"action_description" yaml:"action_description"`
	FullContext       map[string]interface{} `json:"full_context" yaml:"full_context"`
	TelegramMessageID *int64                 `json:"telegram_message_id,omitempty" yaml:"telegram_message_id,omitempty"`
	Status            Status                 `json:"status" yaml:"status"`
	CreatedAt         time.Time              `json:"created_at" yaml:"created_at"`
	ExpiresAt         time.Time              `json:"expires_at" yaml:"expires_at"`
	ResolvedAt        *time.Time             `json:"resolved_at,omitempty" yaml:"resolved_at,omitempty"`
}

// TimeRemaining is ExpiresAt - now. Negative once the deadline passed.
func (r Request) TimeRemaining(now time.Time) time.Duration {
	return r.ExpiresAt.Sub(now)
}

// IsNearExpiry is a display hint: still pending with less than threshold
// left. It never changes Status.
func (r Request) IsNearExpiry(now time.Time, threshold time.Duration) bool {
	return r.Status == StatusPending && !r.ExpiresAt.IsZero() && r.TimeRemaining(now) < threshold
}

// IsOverdue reports a pending request whose deadline has passed but whose
// expiry the server has not confirmed yet.
func (r Request) IsOverdue(now time.Time) bool {
	return r.Status == StatusPending && !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Validate checks the invariants the server guarantees.
func (r Request) Validate() error {
	if !r.Status.Valid() {
		return fmt.Errorf("approval #%d: unknown status %q", r.ID, r.Status)
	}
	if !r.CreatedAt.IsZero() && !r.ExpiresAt.IsZero() && !r.ExpiresAt.After(r.CreatedAt) {
		return fmt.Errorf("approval #%d: expires_at %s not after created_at %s",
			r.ID, r.ExpiresAt.Format(time.RFC3339), r.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

// clone copies r deeply enough that callers cannot mutate stored state.
func (r Request) clone() Request {
	out := r
	if r.FullContext != nil {
		out.FullContext = make(map[string]interface{}, len(r.FullContext))
		for k, v := range r.FullContext {
			out.FullContext[k] = v
		}
	}
	if r.ResolvedAt != nil {
		t := *r.ResolvedAt
		out.ResolvedAt = &t
	}
	if r.TelegramMessageID != nil {
		id := *r.TelegramMessageID
		out.TelegramMessageID = &id
	}
	return out
}
