package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/opsconsole/internal/api"
	"github.com/nextlevelbuilder/opsconsole/internal/approvals"
	"github.com/nextlevelbuilder/opsconsole/internal/config"
	"github.com/nextlevelbuilder/opsconsole/internal/tracing/otelexport"
	"github.com/nextlevelbuilder/opsconsole/pkg/protocol"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

var (
	cfgFile      string
	verbose      bool
	outputFormat string
)

// Execute runs the root command until it returns or SIGINT/SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "opsconsole",
		Short:        "Operator console for the email agent runtime",
		Version:      Version,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(verbose)
		},
	}

	cmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default $OPSCONSOLE_CONFIG or ~/.opsconsole/config.json5)")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format: table, json or yaml")

	cmd.AddCommand(watchCmd())
	cmd.AddCommand(statusCmd())
	cmd.AddCommand(statsCmd())
	cmd.AddCommand(runCmd())
	cmd.AddCommand(approvalsCmd())
	cmd.AddCommand(logsCmd())
	cmd.AddCommand(agentCmd())
	cmd.AddCommand(integrationsCmd())
	cmd.AddCommand(loginCmd())
	cmd.AddCommand(logoutCmd())
	cmd.AddCommand(configCmd())
	cmd.AddCommand(doctorCmd())
	return cmd
}

func setupLogging(debug bool) {
	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultPath()
}

func loadConfig() *config.Config {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %s\n", err)
		os.Exit(1)
	}
	return cfg
}

// newClient builds the REST client and returns the resolved token, which
// also authorizes the push channel.
func newClient(cfg *config.Config) (*api.Client, string) {
	token, err := cfg.ResolveToken()
	if err != nil {
		slog.Warn("keychain unavailable, continuing without token", "error", err)
	}
	client, err := api.NewClient(api.Config{
		BaseURL: cfg.API.BaseURL,
		Token:   token,
		Timeout: cfg.APITimeout(),
		RPS:     cfg.API.RPS,
		Burst:   cfg.API.Burst,
	})
	if err != nil {
		fatal(err)
	}
	return client, token
}

// setupTelemetry installs the OTLP exporter when enabled and returns its
// flush func.
func setupTelemetry(ctx context.Context, cfg *config.Config) func() {
	if !cfg.Telemetry.Enabled {
		slog.Debug("otel: export not enabled (set telemetry.enabled + telemetry.endpoint)")
		return func() {}
	}
	exp, err := otelexport.New(ctx, otelexport.Config{
		Endpoint:    cfg.Telemetry.Endpoint,
		Protocol:    cfg.Telemetry.Protocol,
		Insecure:    cfg.Telemetry.Insecure,
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     Version,
		Headers:     cfg.Telemetry.Headers,
	})
	if err != nil {
		slog.Warn("failed to create OTel exporter", "error", err)
		return func() {}
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := exp.Shutdown(ctx); err != nil {
			slog.Warn("otel: shutdown", "error", err)
		}
	}
}

// clientCommand loads config, telemetry and the client for one-shot commands.
func clientCommand(cmd *cobra.Command) (*api.Client, func()) {
	cfg := loadConfig()
	flush := setupTelemetry(cmd.Context(), cfg)
	client, _ := newClient(cfg)
	return client, flush
}

// errCode names the failure class shown next to an error.
func errCode(err error) string {
	var httpErr *api.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code()
	}
	if code := approvals.Code(err); code != protocol.ErrCodeInternal {
		return code
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return protocol.ErrCodeUnavailable
	}
	return protocol.ErrCodeInternal
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error [%s]: %s\n", errCode(err), err)
	os.Exit(1)
}
