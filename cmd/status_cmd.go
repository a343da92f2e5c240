package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the agent's current run state",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			client, flush := clientCommand(cmd)
			defer flush()

			st, err := client.AgentStatus(cmd.Context())
			if err != nil {
				fatal(err)
			}
			printOutput(st, func(w io.Writer) {
				fmt.Fprintf(w, "Status:\t%s\n", agentStatusStyle(st.Status).Render(st.Status))
				if st.RunID != nil {
					fmt.Fprintf(w, "Run:\t#%d\n", *st.RunID)
				}
				if r := st.LastRun; r != nil {
					fmt.Fprintf(w, "Last run:\t#%d %s (%s)\n", r.ID, r.Status, r.TriggeredBy)
					fmt.Fprintf(w, "  started:\t%s\n", formatTime(r.TriggeredAt))
					fmt.Fprintf(w, "  finished:\t%s\n", formatTimePtr(r.CompletedAt))
					if r.Summary != nil {
						fmt.Fprintf(w, "  summary:\t%s\n", truncate(*r.Summary, 2*descriptionWidth))
					}
				}
			})
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show today's counters",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			client, flush := clientCommand(cmd)
			defer flush()

			s, err := client.TodayStats(cmd.Context())
			if err != nil {
				fatal(err)
			}
			printOutput(s, func(w io.Writer) {
				fmt.Fprintf(w, "Emails processed:\t%d\n", s.EmailsProcessed)
				fmt.Fprintf(w, "Tasks created:\t%d\n", s.TasksCreated)
				fmt.Fprintf(w, "Approvals pending:\t%d\n", s.ApprovalsPending)
				fmt.Fprintf(w, "Last run:\t%s\n", formatTimePtr(s.LastRunAt))
			})
		},
	}
}

func runCmd() *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Queue a manual agent run",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			client, flush := clientCommand(cmd)
			defer flush()

			msg, err := client.RunAgent(cmd.Context(), message)
			if err != nil {
				fatal(err)
			}
			printOutput(msg, func(w io.Writer) {
				fmt.Fprintln(w, msg.Message)
			})
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "instruction passed to the run")
	return cmd
}
