package api

import "time"

// AgentRun is one execution of the agent.
type AgentRun struct {
	ID          int64      `json:"id" yaml:"id"`
	TriggeredBy string     `json:"triggered_by" yaml:"triggered_by"`
	TriggeredAt time.Time  `json:"triggered_at" yaml:"triggered_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	Status      string     `json:"status" yaml:"status"`
	Summary     *string    `json:"summary,omitempty" yaml:"summary,omitempty"`
}

// AgentStatus is the agent's current run state.
type AgentStatus struct {
	Status  string    `json:"status" yaml:"status"` // running | idle | waiting_for_approval
	RunID   *int64    `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	LastRun *AgentRun `json:"last_run,omitempty" yaml:"last_run,omitempty"`
}

// AgentConfig is the agent's server-side configuration.
type AgentConfig struct {
	EnabledTools  map[string]bool `json:"enabled_tools" yaml:"enabled_tools"`
	Schedule      string          `json:"schedule" yaml:"schedule"` // cron expression
	SystemPrompt  *string         `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	Memory        *string         `json:"memory,omitempty" yaml:"memory,omitempty"`
	ApprovalRules map[string]bool `json:"approval_rules" yaml:"approval_rules"`
}

// AgentConfigUpdate is a partial update; nil fields are left unchanged.
type AgentConfigUpdate struct {
	EnabledTools  map[string]bool `json:"enabled_tools,omitempty"`
	Schedule      *string         `json:"schedule,omitempty"`
	SystemPrompt  *string         `json:"system_prompt,omitempty"`
	Memory        *string         `json:"memory,omitempty"`
	ApprovalRules map[string]bool `json:"approval_rules,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u AgentConfigUpdate) Empty() bool {
	return u.EnabledTools == nil && u.Schedule == nil && u.SystemPrompt == nil &&
		u.Memory == nil && u.ApprovalRules == nil
}

// ActionLog is one recorded tool invocation. Entries never change once written.
type ActionLog struct {
	ID               int64                  `json:"id" yaml:"id"`
	RunID            int64                  `json:"run_id" yaml:"run_id"`
	ToolUsed         string                 `json:"tool_used" yaml:"tool_used"`
	InputData        map[string]interface{} `json:"input_data,omitempty" yaml:"input_data,omitempty"`
	OutputData       map[string]interface{} `json:"output_data,omitempty" yaml:"output_data,omitempty"`
	RequiresApproval bool                   `json:"requires_approval" yaml:"requires_approval"`
	ApprovalStatus   *string                `json:"approval_status,omitempty" yaml:"approval_status,omitempty"`
	Timestamp        time.Time              `json:"timestamp" yaml:"timestamp"`
}

// PaginatedLogs is one page of the action log.
type PaginatedLogs struct {
	Items   []ActionLog `json:"items" yaml:"items"`
	Total   int         `json:"total" yaml:"total"`
	Page    int         `json:"page" yaml:"page"`
	PerPage int         `json:"per_page" yaml:"per_page"`
}

// Pages returns the number of pages at the current page size.
func (p PaginatedLogs) Pages() int {
	if p.PerPage <= 0 {
		return 0
	}
	return (p.Total + p.PerPage - 1) / p.PerPage
}

// LogQuery filters the action log. Zero values are omitted.
type LogQuery struct {
	Page     int
	PerPage  int
	Tool     string
	Status   string
	DateFrom time.Time
	DateTo   time.Time
}

// TodayStats are the dashboard counters for the current UTC day.
type TodayStats struct {
	EmailsProcessed  int        `json:"emails_processed" yaml:"emails_processed"`
	TasksCreated     int        `json:"tasks_created" yaml:"tasks_created"`
	ApprovalsPending int        `json:"approvals_pending" yaml:"approvals_pending"`
	LastRunAt        *time.Time `json:"last_run_at,omitempty" yaml:"last_run_at,omitempty"`
}

// Integration is a third-party platform connection.
type Integration struct {
	ID          int64      `json:"id" yaml:"id"`
	Platform    string     `json:"platform" yaml:"platform"`
	Status      string     `json:"status" yaml:"status"`
	ConnectedAt *time.Time `json:"connected_at,omitempty" yaml:"connected_at,omitempty"`
}

// TestResult is the outcome of a connection test.
type TestResult struct {
	Success bool   `json:"success" yaml:"success"`
	Message string `json:"message" yaml:"message"`
}

// Message is the generic {"message": ...} acknowledgement.
type Message struct {
	Message string `json:"message" yaml:"message"`
}
