package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/opsconsole/internal/api"
	"github.com/nextlevelbuilder/opsconsole/internal/config"
)

func loginCmd() *cobra.Command {
	var baseURL, token string
	var skipCheck bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save the backend URL and store the API token in the OS keychain",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			path := resolveConfigPath()
			cfg, err := config.Load(path)
			if err != nil {
				fatal(err)
			}

			if baseURL == "" {
				if baseURL, err = promptString("Backend URL", "REST base of the agent runtime", cfg.API.BaseURL); err != nil {
					fatal(err)
				}
			}
			if token == "" {
				if token, err = promptPassword("API token", "stored in the OS keychain, never in the config file"); err != nil {
					fatal(err)
				}
			}

			cfg.API.BaseURL = baseURL
			if err := cfg.Validate(); err != nil {
				fatal(err)
			}

			if !skipCheck {
				if err := checkLogin(cmd.Context(), cfg, token); err != nil {
					fatal(fmt.Errorf("login check failed: %w", err))
				}
			}

			if err := config.StoreToken(cfg.Account(), token); err != nil {
				fatal(err)
			}
			// The token stays out of the file even if one was configured.
			cfg.API.Token = ""
			if err := config.Save(path, cfg); err != nil {
				fatal(err)
			}
			fmt.Printf("Logged in to %s (config: %s)\n", cfg.API.BaseURL, path)
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "", "backend base URL")
	cmd.Flags().StringVar(&token, "token", "", "API token (prompted when omitted)")
	cmd.Flags().BoolVar(&skipCheck, "no-check", false, "do not verify the token against the backend")
	return cmd
}

func checkLogin(ctx context.Context, cfg *config.Config, token string) error {
	client, err := api.NewClient(api.Config{BaseURL: cfg.API.BaseURL, Token: token, Timeout: cfg.APITimeout()})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err = client.AgentStatus(ctx)
	return err
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored API token",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			if err := config.DeleteToken(cfg.Account()); err != nil {
				fatal(err)
			}
			fmt.Printf("Logged out of %s\n", cfg.API.BaseURL)
		},
	}
}
