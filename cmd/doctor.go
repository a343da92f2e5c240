package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/opsconsole/internal/api"
	"github.com/nextlevelbuilder/opsconsole/internal/config"
	"github.com/nextlevelbuilder/opsconsole/internal/console"
	"github.com/nextlevelbuilder/opsconsole/internal/transport"
)

// doctorPushTimeout bounds the push channel check.
const doctorPushTimeout = 8 * time.Second

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, credentials and backend connectivity",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor(cmd.Context())
		},
	}
}

func runDoctor(ctx context.Context) {
	fmt.Println("opsconsole doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Credentials:")
	token, err := cfg.ResolveToken()
	switch {
	case err != nil:
		fmt.Printf("    %-12s keychain error: %s\n", "Token:", err)
	case token == "":
		fmt.Printf("    %-12s (not configured, run: opsconsole login)\n", "Token:")
	case cfg.API.Token != "":
		fmt.Printf("    %-12s %s (config/env)\n", "Token:", maskSecret(token))
	default:
		fmt.Printf("    %-12s %s (keychain %s)\n", "Token:", maskSecret(token), cfg.Account())
	}

	fmt.Println()
	fmt.Println("  Backend:")
	client, err := api.NewClient(api.Config{BaseURL: cfg.API.BaseURL, Token: token, Timeout: cfg.APITimeout()})
	if err != nil {
		fmt.Printf("    %-12s %s\n", "API:", err)
		return
	}
	checkAPI(ctx, client)
	checkPush(ctx, cfg, client, token)

	fmt.Println()
	fmt.Println("  Telemetry:")
	if cfg.Telemetry.Enabled {
		proto := cfg.Telemetry.Protocol
		if proto == "" {
			proto = "grpc"
		}
		fmt.Printf("    %-12s %s (%s)\n", "OTLP:", cfg.Telemetry.Endpoint, proto)
	} else {
		fmt.Printf("    %-12s disabled\n", "OTLP:")
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkAPI(ctx context.Context, client *api.Client) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	start := time.Now()
	st, err := client.AgentStatus(ctx)
	if err != nil {
		fmt.Printf("    %-12s %s [%s]\n", "API:", client.BaseURL(), errCode(err))
		fmt.Printf("    %-12s %s\n", "", err)
		return
	}
	fmt.Printf("    %-12s %s (OK, agent %s, %s)\n", "API:", client.BaseURL(), st.Status, time.Since(start).Round(time.Millisecond))
}

// checkPush opens the configured push source and waits for it to connect.
func checkPush(ctx context.Context, cfg *config.Config, client *api.Client, token string) {
	name, target := "Push:", cfg.PushURL()
	if cfg.Relay.RedisURL != "" {
		name, target = "Relay:", redactURL(cfg.Relay.RedisURL)
	}

	c, err := console.New(cfg, client, token)
	if err != nil {
		fmt.Printf("    %-12s %s\n", name, err)
		return
	}
	connected := make(chan struct{}, 1)
	c.Source().OnStateChange(func(st transport.State) {
		if st.Status == transport.StatusConnected {
			select {
			case connected <- struct{}{}:
			default:
			}
		}
	})
	if err := c.Source().Connect(ctx); err != nil {
		fmt.Printf("    %-12s %s\n", name, err)
		return
	}
	defer c.Source().Close()

	select {
	case <-connected:
		fmt.Printf("    %-12s %s (OK)\n", name, target)
	case <-time.After(doctorPushTimeout):
		st := c.Source().State()
		fmt.Printf("    %-12s %s (%s after %d attempts: %s)\n", name, target, st.Status, st.RetryAttempt, st.LastError)
	case <-ctx.Done():
	}
}
