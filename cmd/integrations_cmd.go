package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

func integrationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "integrations",
		Aliases: []string{"integration"},
		Short:   "Manage third-party platform connections",
	}
	cmd.AddCommand(integrationsListCmd())
	cmd.AddCommand(integrationsSaveCmd())
	cmd.AddCommand(integrationsTestCmd())
	cmd.AddCommand(integrationsDisconnectCmd())
	cmd.AddCommand(integrationsWebhookCmd())
	return cmd
}

func integrationsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List connected platforms",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			client, flush := clientCommand(cmd)
			defer flush()

			list, err := client.ListIntegrations(cmd.Context())
			if err != nil {
				fatal(err)
			}
			printOutput(list, func(w io.Writer) {
				if len(list) == 0 {
					fmt.Fprintln(w, "No integrations.")
					return
				}
				writeRow(w, styleHeader.Render("PLATFORM"), "STATUS", "CONNECTED")
				for _, in := range list {
					style := styleMuted
					if in.Status == "connected" {
						style = styleOK
					}
					writeRow(w, in.Platform, style.Render(in.Status), formatTimePtr(in.ConnectedAt))
				}
			})
		},
	}
}

func integrationsSaveCmd() *cobra.Command {
	var fields []string
	cmd := &cobra.Command{
		Use:   "save <platform> [key=value ...]",
		Short: "Store credentials for a platform (prompts for hidden values)",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			creds, err := parseCredentials(args[1:])
			if err != nil {
				fatal(err)
			}
			// Fields named with --secret are asked for without echo.
			for _, name := range fields {
				v, err := promptPassword(name, "value for "+args[0])
				if err != nil {
					fatal(err)
				}
				creds[name] = v
			}
			if len(creds) == 0 {
				fatal(fmt.Errorf("no credentials given (use key=value or --secret name)"))
			}

			client, flush := clientCommand(cmd)
			defer flush()

			in, err := client.SaveCredentials(cmd.Context(), args[0], creds)
			if err != nil {
				fatal(err)
			}
			printOutput(in, func(w io.Writer) {
				fmt.Fprintf(w, "%s: %s\n", in.Platform, in.Status)
			})
		},
	}
	cmd.Flags().StringSliceVar(&fields, "secret", nil, "credential fields to prompt for")
	return cmd
}

func integrationsTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test <platform>",
		Short: "Test a platform connection",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			client, flush := clientCommand(cmd)
			defer flush()

			res, err := client.TestConnection(cmd.Context(), args[0])
			if err != nil {
				fatal(err)
			}
			printOutput(res, func(w io.Writer) {
				if res.Success {
					fmt.Fprintln(w, styleOK.Render("OK")+" "+res.Message)
				} else {
					fmt.Fprintln(w, styleError.Render("FAILED")+" "+res.Message)
				}
			})
		},
	}
}

func integrationsDisconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect <platform>",
		Short: "Remove a platform connection",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			client, flush := clientCommand(cmd)
			defer flush()

			msg, err := client.Disconnect(cmd.Context(), args[0])
			if err != nil {
				fatal(err)
			}
			printOutput(msg, func(w io.Writer) { fmt.Fprintln(w, msg.Message) })
		},
	}
}

func integrationsWebhookCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "webhook",
		Short: "Register the Telegram webhook with the backend",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			client, flush := clientCommand(cmd)
			defer flush()

			msg, err := client.RegisterWebhook(cmd.Context())
			if err != nil {
				fatal(err)
			}
			printOutput(msg, func(w io.Writer) { fmt.Fprintln(w, msg.Message) })
		},
	}
}

func parseCredentials(pairs []string) (map[string]string, error) {
	creds := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid credential %q (want key=value)", p)
		}
		creds[k] = v
	}
	return creds, nil
}
