package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"gopkg.in/yaml.v3"

	"github.com/nextlevelbuilder/opsconsole/internal/approvals"
	"github.com/nextlevelbuilder/opsconsole/internal/transport"
	"github.com/nextlevelbuilder/opsconsole/pkg/protocol"
)

var (
	styleHeader  = lipgloss.NewStyle().Bold(true)
	styleMuted   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	styleOK      = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	styleWarn    = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	styleError   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	styleRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
)

// descriptionWidth bounds free-text columns in tables.
const descriptionWidth = 48

// printOutput writes v as JSON or YAML when -o asks for it, otherwise
// calls table. table receives a tabwriter flushed on return.
func printOutput(v interface{}, table func(w io.Writer)) {
	if err := writeOutput(os.Stdout, outputFormat, v, table); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func writeOutput(out io.Writer, format string, v interface{}, table func(w io.Writer)) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case "", "table":
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		table(tw)
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q (want table, json or yaml)", format)
	}
}

// truncate cuts s to width terminal cells.
func truncate(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	return runewidth.Truncate(s, width, "…")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return formatTime(*t)
}

// formatRemaining renders time left, or how long ago the deadline passed.
func formatRemaining(d time.Duration) string {
	d = d.Round(time.Second)
	if d < 0 {
		return "overdue " + (-d).String()
	}
	return d.String()
}

func agentStatusStyle(status string) lipgloss.Style {
	switch status {
	case protocol.AgentStatusRunning:
		return styleRunning
	case protocol.AgentStatusWaitingForApproval:
		return styleWarn
	case protocol.AgentStatusIdle:
		return styleOK
	default:
		return styleError
	}
}

func approvalStatusStyle(s approvals.Status) lipgloss.Style {
	switch s {
	case approvals.StatusApproved:
		return styleOK
	case approvals.StatusRejected:
		return styleError
	case approvals.StatusExpired:
		return styleMuted
	default:
		return styleWarn
	}
}

func connectionStyle(s transport.Status) lipgloss.Style {
	switch s {
	case transport.StatusConnected:
		return styleOK
	case transport.StatusConnecting:
		return styleWarn
	default:
		return styleError
	}
}

// approvalRow renders one approval for tables and pickers. Near-expiry
// and overdue pending requests are flagged.
func approvalRow(r approvals.Request, now time.Time, nearExpiry time.Duration) []string {
	remaining := "-"
	if r.Status == approvals.StatusPending && !r.ExpiresAt.IsZero() {
		remaining = formatRemaining(r.TimeRemaining(now))
		switch {
		case r.IsOverdue(now):
			remaining = styleError.Render(remaining)
		case r.IsNearExpiry(now, nearExpiry):
			remaining = styleWarn.Render(remaining)
		}
	}
	return []string{
		fmt.Sprintf("#%d", r.ID),
		approvalStatusStyle(r.Status).Render(string(r.Status)),
		truncate(r.ActionDescription, descriptionWidth),
		formatTime(r.CreatedAt),
		remaining,
	}
}

func writeRow(w io.Writer, cols ...string) {
	fmt.Fprintln(w, strings.Join(cols, "\t"))
}
