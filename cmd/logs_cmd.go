package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/opsconsole/internal/api"
)

func logsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Browse the agent's action log",
	}
	cmd.AddCommand(logsListCmd())
	cmd.AddCommand(logsShowCmd())
	return cmd
}

func logsListCmd() *cobra.Command {
	var (
		q        api.LogQuery
		from, to string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List action log entries, newest first",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			var err error
			if q.DateFrom, err = parseDate(from); err != nil {
				fatal(err)
			}
			if q.DateTo, err = parseDate(to); err != nil {
				fatal(err)
			}

			client, flush := clientCommand(cmd)
			defer flush()

			page, err := client.Logs(cmd.Context(), q)
			if err != nil {
				fatal(err)
			}
			printOutput(page, func(w io.Writer) {
				if len(page.Items) == 0 {
					fmt.Fprintln(w, "No log entries.")
					return
				}
				writeRow(w, styleHeader.Render("ID"), "RUN", "TOOL", "APPROVAL", "TIME")
				for _, l := range page.Items {
					approval := "-"
					if l.ApprovalStatus != nil {
						approval = *l.ApprovalStatus
					} else if l.RequiresApproval {
						approval = "required"
					}
					writeRow(w, strconv.FormatInt(l.ID, 10), "#"+strconv.FormatInt(l.RunID, 10), l.ToolUsed, approval, formatTime(l.Timestamp))
				}
				fmt.Fprintln(w, styleMuted.Render(fmt.Sprintf("page %d of %d (%d entries)", page.Page, page.Pages(), page.Total)))
			})
		},
	}
	cmd.Flags().IntVar(&q.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&q.PerPage, "per-page", 20, "entries per page")
	cmd.Flags().StringVar(&q.Tool, "tool", "", "only this tool")
	cmd.Flags().StringVar(&q.Status, "status", "", "approval status filter")
	cmd.Flags().StringVar(&from, "from", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "end date (YYYY-MM-DD)")
	return cmd
}

func logsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one log entry with its input and output",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				fatal(fmt.Errorf("invalid log id %q", args[0]))
			}
			client, flush := clientCommand(cmd)
			defer flush()

			l, err := client.Log(cmd.Context(), id)
			if err != nil {
				fatal(err)
			}
			printOutput(l, func(w io.Writer) {
				fmt.Fprintf(w, "ID:\t%d\n", l.ID)
				fmt.Fprintf(w, "Run:\t#%d\n", l.RunID)
				fmt.Fprintf(w, "Tool:\t%s\n", l.ToolUsed)
				fmt.Fprintf(w, "Time:\t%s\n", formatTime(l.Timestamp))
				if l.RequiresApproval {
					status := "pending"
					if l.ApprovalStatus != nil {
						status = *l.ApprovalStatus
					}
					fmt.Fprintf(w, "Approval:\t%s\n", status)
				}
				writeFields(w, "Input", l.InputData)
				writeFields(w, "Output", l.OutputData)
			})
		},
	}
}

func writeFields(w io.Writer, title string, m map[string]interface{}) {
	if len(m) == 0 {
		return
	}
	fmt.Fprintf(w, "%s:\t\n", title)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, _ := json.Marshal(m[k])
		fmt.Fprintf(w, "  %s:\t%s\n", k, truncate(string(v), 2*descriptionWidth))
	}
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD)", s)
	}
	return t, nil
}
