package bus

import (
	"fmt"

	"github.com/nextlevelbuilder/opsconsole/pkg/protocol"
)

// maxRawSummary bounds the generic rendering of unrecognized events.
const maxRawSummary = 100

// Summarize renders a one-line, human-readable description of evt.
// Unknown kinds fall back to a bounded dump of the raw frame.
func Summarize(evt Event) string {
	switch evt.Kind {
	case protocol.EventToolCall:
		return "Tool called: " + toolName(evt)
	case protocol.EventToolResult:
		return "Tool finished: " + toolName(evt)
	case protocol.EventAgentStatus:
		var p struct {
			Status string `json:"status"`
		}
		if evt.Decode(&p) != nil || p.Status == "" {
			p.Status = "unknown"
		}
		return "Agent status → " + p.Status
	case protocol.EventApprovalResolved:
		var p struct {
			ID     *int64 `json:"id"`
			Status string `json:"status"`
		}
		if evt.Decode(&p) != nil || p.ID == nil || p.Status == "" {
			return rawSummary(evt)
		}
		return fmt.Sprintf("Approval #%d %s", *p.ID, p.Status)
	default:
		return rawSummary(evt)
	}
}

func toolName(evt Event) string {
	var p protocol.ToolPayload
	if evt.Decode(&p) != nil || p.Tool == "" {
		return "unknown"
	}
	return p.Tool
}

func rawSummary(evt Event) string {
	return TruncateRunes(string(evt.Frame().Raw()), maxRawSummary)
}

// TruncateRunes cuts s to at most n runes without splitting a character.
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
