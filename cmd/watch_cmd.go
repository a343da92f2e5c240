package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/opsconsole/internal/approvals"
	"github.com/nextlevelbuilder/opsconsole/internal/bus"
	"github.com/nextlevelbuilder/opsconsole/internal/config"
	"github.com/nextlevelbuilder/opsconsole/internal/console"
	"github.com/nextlevelbuilder/opsconsole/internal/filter"
	"github.com/nextlevelbuilder/opsconsole/internal/transport"
)

// expiryCheckInterval is how often pending approvals are re-checked for
// the near-expiry warning.
const expiryCheckInterval = 10 * time.Second

func watchCmd() *cobra.Command {
	var (
		filterExpr string
		noReload   bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow agent activity, status and approvals live",
		Long: `Connects to the push channel (websocket, or the redis relay when
relay.redisUrl is set), reconciles against the REST API every
reconcile.interval and prints events as they arrive.

--filter takes a CEL expression over kind, data and received_at:
  opsconsole watch --filter 'kind == "tool_call" && data.tool == "send_email"'`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			ctx := cmd.Context()
			cfg := loadConfig()
			flush := setupTelemetry(ctx, cfg)
			defer flush()
			client, token := newClient(cfg)

			f, err := filter.Compile(filterExpr)
			if err != nil {
				fatal(err)
			}

			c, err := console.New(cfg, client, token)
			if err != nil {
				fatal(err)
			}

			p := &watchPrinter{out: os.Stdout, warned: map[int64]bool{}}
			c.Subscribe("watch", func(evt bus.Event) error {
				ok, err := f.Match(evt)
				if err != nil {
					slog.Debug("watch: filter error", "kind", evt.Kind, "error", err)
					return nil
				}
				if ok {
					p.event(evt)
				}
				return nil
			})
			c.Source().OnStateChange(p.state)
			c.Approvals().OnChange(p.approval)
			c.Approvals().OnRemove(p.withdrawn)

			if !noReload {
				w, err := config.NewWatcher(resolveConfigPath())
				if err != nil {
					slog.Warn("watch: config reload unavailable", "error", err)
				} else {
					w.OnChange(c.ApplyConfig)
					if err := w.Start(); err != nil {
						slog.Warn("watch: config reload unavailable", "error", err)
					} else {
						defer w.Stop()
					}
				}
			}

			if err := c.Start(ctx); err != nil {
				fatal(err)
			}
			defer c.Close()

			p.line(styleMuted.Render(fmt.Sprintf("session %s · %s · ctrl-c to quit", c.SessionID(), cfg.PushURL())))

			ticker := time.NewTicker(expiryCheckInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					p.expiring(c.Approvals().NearExpiry())
				}
			}
		},
	}
	cmd.Flags().StringVarP(&filterExpr, "filter", "f", "", "CEL expression selecting events to print")
	cmd.Flags().BoolVar(&noReload, "no-reload", false, "ignore config file changes")
	return cmd
}

// watchPrinter serializes output from the delivery, state and approval
// goroutines.
type watchPrinter struct {
	mu     sync.Mutex
	out    io.Writer
	warned map[int64]bool
}

func (p *watchPrinter) line(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, s)
}

func (p *watchPrinter) stamp(t time.Time) string {
	return styleMuted.Render(t.Local().Format("15:04:05"))
}

func (p *watchPrinter) event(evt bus.Event) {
	p.line(p.stamp(evt.ReceivedAt) + " " + truncate(bus.Summarize(evt), 2*descriptionWidth))
}

func (p *watchPrinter) state(st transport.State) {
	msg := connectionStyle(st.Status).Render(string(st.Status))
	if st.RetryAttempt > 0 {
		msg += fmt.Sprintf(" (attempt %d)", st.RetryAttempt)
	}
	if st.LastError != "" && st.Status != transport.StatusConnected {
		msg += styleMuted.Render(" " + truncate(st.LastError, descriptionWidth))
	}
	p.line(p.stamp(st.Since) + " push " + msg)
}

func (p *watchPrinter) approval(r approvals.Request) {
	if r.Status != approvals.StatusPending {
		return
	}
	p.line(p.stamp(time.Now()) + " " + styleWarn.Render(fmt.Sprintf("approval #%d pending", r.ID)) +
		": " + truncate(r.ActionDescription, descriptionWidth) +
		styleMuted.Render(fmt.Sprintf(" (opsconsole approvals approve %d)", r.ID)))
}

// withdrawn notes an approval the server no longer lists.
func (p *watchPrinter) withdrawn(r approvals.Request) {
	p.mu.Lock()
	delete(p.warned, r.ID)
	p.mu.Unlock()
	p.line(p.stamp(time.Now()) + " " + styleMuted.Render(fmt.Sprintf("approval #%d no longer listed", r.ID)))
}

// expiring warns once per approval that enters the near-expiry window.
func (p *watchPrinter) expiring(list []approvals.Request) {
	now := time.Now()
	for _, r := range list {
		p.mu.Lock()
		seen := p.warned[r.ID]
		p.warned[r.ID] = true
		p.mu.Unlock()
		if seen {
			continue
		}
		p.line(p.stamp(now) + " " + styleError.Render(fmt.Sprintf("approval #%d expires in %s", r.ID, formatRemaining(r.TimeRemaining(now)))))
	}
}
