package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/opsconsole/internal/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and check the console configuration",
	}
	cmd.AddCommand(configShowCmd())
	cmd.AddCommand(configPathCmd())
	cmd.AddCommand(configValidateCmd())
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration (secrets redacted)",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			printOutput(redactConfig(cfg), func(w io.Writer) {
				data, _ := json.MarshalIndent(redactConfig(cfg), "", "  ")
				fmt.Fprintln(w, string(data))
			})
		},
	}
}

func configPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the config file and environment overrides",
		Run: func(cmd *cobra.Command, args []string) {
			cfgPath := resolveConfigPath()
			if _, err := config.Load(cfgPath); err != nil {
				fmt.Fprintf(os.Stderr, "Invalid config: %s\n", err)
				os.Exit(1)
			}
			fmt.Printf("Config at %s is valid.\n", cfgPath)
		},
	}
}

// redactConfig returns a JSON-safe copy with secrets masked.
func redactConfig(cfg *config.Config) map[string]interface{} {
	data, _ := json.Marshal(cfg)
	var raw map[string]interface{}
	_ = json.Unmarshal(data, &raw)
	redactMap(raw)
	return raw
}

func redactMap(m map[string]interface{}) {
	for k, v := range m {
		switch k {
		case "token":
			if s, ok := v.(string); ok {
				m[k] = maskSecret(s)
			}
		case "headers":
			// Exporter headers usually carry auth.
			if sub, ok := v.(map[string]interface{}); ok {
				for hk, hv := range sub {
					if s, ok := hv.(string); ok {
						sub[hk] = maskSecret(s)
					}
				}
			}
		case "redisUrl":
			if s, ok := v.(string); ok {
				m[k] = redactURL(s)
			}
		default:
			if sub, ok := v.(map[string]interface{}); ok {
				redactMap(sub)
			}
		}
	}
}

func maskSecret(s string) string {
	switch {
	case len(s) > 8:
		return s[:4] + "****" + s[len(s)-4:]
	case s != "":
		return "****"
	default:
		return ""
	}
}

// redactURL hides the password in a URL's userinfo.
func redactURL(s string) string {
	u, err := url.Parse(s)
	if err != nil {
		return "****"
	}
	return u.Redacted()
}
