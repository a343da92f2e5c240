package protocol

// Push event kinds (PushFrame.Type).
const (
	EventToolCall         = "tool_call"
	EventToolResult       = "tool_result"
	EventAgentStatus      = "agent_status"
	EventApprovalResolved = "approval_resolved"
)

// Agent run states carried by EventAgentStatus and the status endpoint.
const (
	AgentStatusRunning            = "running"
	AgentStatusIdle               = "idle"
	AgentStatusWaitingForApproval = "waiting_for_approval"
)

// ToolPayload is the data of tool_call and tool_result events.
type ToolPayload struct {
	Tool  string                 `json:"tool"`
	RunID int64                  `json:"run_id,omitempty"`
	Input map[string]interface{} `json:"input,omitempty"`
}

// StatusPayload is the data of agent_status events.
type StatusPayload struct {
	RunID  int64  `json:"run_id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}
