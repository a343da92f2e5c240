package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/opsconsole/internal/api"
	"github.com/nextlevelbuilder/opsconsole/internal/approvals"
	"github.com/nextlevelbuilder/opsconsole/internal/config"
)

func approvalsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "approvals",
		Aliases: []string{"approval"},
		Short:   "List and resolve approval requests",
	}
	cmd.AddCommand(approvalsListCmd())
	cmd.AddCommand(approvalsResolveCmd(approvals.ActionApprove))
	cmd.AddCommand(approvalsResolveCmd(approvals.ActionReject))
	return cmd
}

func approvalsListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List approval requests",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			flush := setupTelemetry(cmd.Context(), cfg)
			defer flush()
			client, _ := newClient(cfg)

			st := approvals.Status(status)
			if st != "" && !st.Valid() {
				fatal(fmt.Errorf("unknown status %q (want pending, approved, rejected or expired)", status))
			}
			list, err := client.Approvals(cmd.Context(), st)
			if err != nil {
				fatal(err)
			}

			now, near := time.Now(), cfg.NearExpiry()
			printOutput(list, func(w io.Writer) {
				if len(list) == 0 {
					fmt.Fprintln(w, "No approvals.")
					return
				}
				writeRow(w, styleHeader.Render("ID"), "STATUS", "ACTION", "CREATED", "REMAINING")
				for _, r := range list {
					writeRow(w, approvalRow(r, now, near)...)
				}
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter: pending, approved, rejected or expired")
	return cmd
}

func approvalsResolveCmd(action approvals.Action) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   string(action) + " [id]",
		Short: fmt.Sprintf("%s a pending request (interactive picker without id)", capitalize(string(action))),
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			flush := setupTelemetry(cmd.Context(), cfg)
			defer flush()
			client, _ := newClient(cfg)

			mgr, err := loadApprovals(cmd.Context(), client, cfg)
			if err != nil {
				fatal(err)
			}
			defer mgr.Close()

			var id int64
			if len(args) == 1 {
				id, err = strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					fatal(fmt.Errorf("invalid approval id %q", args[0]))
				}
			} else {
				id, err = pickApproval(mgr, action)
				if err != nil {
					fatal(err)
				}
			}

			req, ok := mgr.Get(id)
			if ok && !yes && req.Status == approvals.StatusPending {
				confirmed, err := promptConfirm(fmt.Sprintf("%s #%d: %s?", capitalize(string(action)), id, req.ActionDescription), false)
				if err != nil {
					fatal(err)
				}
				if !confirmed {
					fmt.Println("Cancelled.")
					return
				}
			}

			got, err := mgr.Resolve(cmd.Context(), id, action)
			if err != nil {
				fatal(err)
			}
			printOutput(got, func(w io.Writer) {
				line := fmt.Sprintf("Approval #%d %s", got.ID, approvalStatusStyle(got.Status).Render(string(got.Status)))
				if got.Status != action.Status() {
					line += styleMuted.Render(" (resolved by another session)")
				}
				fmt.Fprintln(w, line)
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation")
	return cmd
}

// loadApprovals seeds a manager with the server's listing so resolve
// checks (unknown id, already resolved) happen before any request.
func loadApprovals(ctx context.Context, client *api.Client, cfg *config.Config) (*approvals.Manager, error) {
	list, err := client.Approvals(ctx, "")
	if err != nil {
		return nil, err
	}
	mgr := approvals.NewManager(client, nil, approvals.Config{NearExpiry: cfg.NearExpiry()})
	mgr.ApplySnapshot(list)
	return mgr, nil
}

func pickApproval(mgr *approvals.Manager, action approvals.Action) (int64, error) {
	pending := mgr.ListPending()
	if len(pending) == 0 {
		return 0, fmt.Errorf("no pending approvals")
	}
	now := time.Now()
	opts := make([]SelectOption[int64], len(pending))
	for i, r := range pending {
		label := fmt.Sprintf("#%d  %s  (%s left)", r.ID, truncate(r.ActionDescription, descriptionWidth), formatRemaining(r.TimeRemaining(now)))
		opts[i] = SelectOption[int64]{Label: label, Value: r.ID}
	}
	return promptSelect("Approval to "+string(action), opts, 0)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
