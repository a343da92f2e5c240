package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/opsconsole/internal/api"
)

func agentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Agent configuration",
	}
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change the agent's configuration",
	}
	configCmd.AddCommand(agentConfigShowCmd())
	configCmd.AddCommand(agentConfigSetCmd())
	cmd.AddCommand(configCmd)
	return cmd
}

func agentConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the agent configuration",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			client, flush := clientCommand(cmd)
			defer flush()

			cfg, err := client.AgentConfig(cmd.Context())
			if err != nil {
				fatal(err)
			}
			printAgentConfig(cfg)
		},
	}
}

func agentConfigSetCmd() *cobra.Command {
	var (
		schedule, systemPrompt, memory string
		enable, disable                []string
		requireApproval, noApproval    []string
		interactive                    bool
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change schedule, prompt, memory, tools or approval rules",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			client, flush := clientCommand(cmd)
			defer flush()
			ctx := cmd.Context()

			var upd api.AgentConfigUpdate
			flags := cmd.Flags()
			if flags.Changed("schedule") {
				upd.Schedule = &schedule
			}
			if flags.Changed("system-prompt") {
				upd.SystemPrompt = &systemPrompt
			}
			if flags.Changed("memory") {
				upd.Memory = &memory
			}

			needCurrent := interactive || len(enable)+len(disable)+len(requireApproval)+len(noApproval) > 0
			if needCurrent {
				cur, err := client.AgentConfig(ctx)
				if err != nil {
					fatal(err)
				}
				tools := toggle(cur.EnabledTools, enable, disable)
				if interactive {
					if tools, err = pickTools(tools); err != nil {
						fatal(err)
					}
				}
				if !sameFlags(tools, cur.EnabledTools) {
					upd.EnabledTools = tools
				}
				if rules := toggle(cur.ApprovalRules, requireApproval, noApproval); !sameFlags(rules, cur.ApprovalRules) {
					upd.ApprovalRules = rules
				}
			}

			if upd.Empty() {
				fmt.Println("Nothing to change.")
				return
			}
			cfg, err := client.UpdateAgentConfig(ctx, upd)
			if err != nil {
				fatal(err)
			}
			printAgentConfig(cfg)
		},
	}
	cmd.Flags().StringVar(&schedule, "schedule", "", "cron expression, e.g. \"0 9 * * 1-5\"")
	cmd.Flags().StringVar(&systemPrompt, "system-prompt", "", "replace the system prompt")
	cmd.Flags().StringVar(&memory, "memory", "", "replace the agent memory")
	cmd.Flags().StringSliceVar(&enable, "enable-tool", nil, "enable tools")
	cmd.Flags().StringSliceVar(&disable, "disable-tool", nil, "disable tools")
	cmd.Flags().StringSliceVar(&requireApproval, "require-approval", nil, "tools that need operator approval")
	cmd.Flags().StringSliceVar(&noApproval, "no-approval", nil, "tools that no longer need approval")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "pick enabled tools interactively")
	return cmd
}

func printAgentConfig(cfg api.AgentConfig) {
	printOutput(cfg, func(w io.Writer) {
		fmt.Fprintf(w, "Schedule:\t%s\n", cfg.Schedule)
		if next, err := api.NextRun(cfg.Schedule, time.Now()); err == nil {
			fmt.Fprintf(w, "Next run:\t%s\n", formatTime(next))
		}
		fmt.Fprintf(w, "Tools:\t%s\n", flagList(cfg.EnabledTools))
		fmt.Fprintf(w, "Needs approval:\t%s\n", flagList(cfg.ApprovalRules))
		if cfg.SystemPrompt != nil {
			fmt.Fprintf(w, "System prompt:\t%s\n", truncate(*cfg.SystemPrompt, 2*descriptionWidth))
		}
		if cfg.Memory != nil {
			fmt.Fprintf(w, "Memory:\t%s\n", truncate(*cfg.Memory, 2*descriptionWidth))
		}
	})
}

// toggle returns a copy of m with on set true and off set false.
func toggle(m map[string]bool, on, off []string) map[string]bool {
	out := make(map[string]bool, len(m)+len(on))
	for k, v := range m {
		out[k] = v
	}
	for _, k := range on {
		out[k] = true
	}
	for _, k := range off {
		out[k] = false
	}
	return out
}

func sameFlags(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

func sortedNames(m map[string]bool) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func flagList(m map[string]bool) string {
	var on []string
	for _, k := range sortedNames(m) {
		if m[k] {
			on = append(on, k)
		}
	}
	if len(on) == 0 {
		return "-"
	}
	return strings.Join(on, ", ")
}

func pickTools(tools map[string]bool) (map[string]bool, error) {
	names := sortedNames(tools)
	opts := make([]SelectOption[string], len(names))
	var selected []string
	for i, n := range names {
		opts[i] = SelectOption[string]{Label: n, Value: n}
		if tools[n] {
			selected = append(selected, n)
		}
	}
	picked, err := promptMultiSelect("Enabled tools", "space to toggle, enter to save", opts, selected)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = false
	}
	for _, n := range picked {
		out[n] = true
	}
	return out, nil
}
