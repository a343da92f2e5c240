// Package config loads the console's JSON5 configuration file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/titanous/json5"
)

// Environment overrides.
const (
	EnvConfigPath = "OPSCONSOLE_CONFIG"
	EnvAPIURL     = "OPSCONSOLE_API_URL"
	EnvWSURL      = "OPSCONSOLE_WS_URL"
	EnvToken      = "OPSCONSOLE_TOKEN"
	EnvRedisURL   = "OPSCONSOLE_REDIS_URL"
)

// Defaults.
const (
	DefaultAPIURL           = "http://localhost:8000"
	DefaultHeartbeat        = 25 * time.Second
	DefaultBackoffBase      = 3 * time.Second
	DefaultBackoffMax       = 30 * time.Second
	DefaultPollInterval     = 15 * time.Second
	DefaultFetchTimeout     = 10 * time.Second
	DefaultNearExpiry       = 120 * time.Second
	DefaultAPITimeout       = 15 * time.Second
	DefaultActivityCapacity = 50
	DefaultRelayChannel     = "toora:ws"
	DefaultRelayStatusKey   = "toora:agent_status"
	DefaultTelemetryService = "opsconsole"
	defaultConfigDir        = ".opsconsole"
	defaultConfigFile       = "config.json5"
)

// Config is the root configuration. Durations are strings ("25s").
type Config struct {
	API       APIConfig       `json:"api"`
	Push      PushConfig      `json:"push"`
	Reconcile ReconcileConfig `json:"reconcile"`
	Approvals ApprovalsConfig `json:"approvals"`
	Activity  ActivityConfig  `json:"activity"`
	Relay     RelayConfig     `json:"relay"`
	Telemetry TelemetryConfig `json:"telemetry"`
}

// APIConfig points at the agent runtime's REST surface.
type APIConfig struct {
	BaseURL string  `json:"baseUrl"`
	Token   string  `json:"token,omitempty"` // prefer the keyring (opsconsole login)
	Timeout string  `json:"timeout,omitempty"`
	RPS     float64 `json:"rps,omitempty"`
	Burst   int     `json:"burst,omitempty"`
}

// PushConfig tunes the websocket push channel.
type PushConfig struct {
	URL         string `json:"url,omitempty"` // default: derived from api.baseUrl + /ws/agent
	Heartbeat   string `json:"heartbeat,omitempty"`
	Backoff     string `json:"backoff,omitempty"` // "exponential" (default) or "fixed"
	BackoffBase string `json:"backoffBase,omitempty"`
	BackoffMax  string `json:"backoffMax,omitempty"`
	QueueSize   int    `json:"queueSize,omitempty"`
}

// ReconcileConfig tunes the poller.
type ReconcileConfig struct {
	Interval     string `json:"interval,omitempty"`
	FetchTimeout string `json:"fetchTimeout,omitempty"`
}

// ApprovalsConfig tunes approval display hints.
type ApprovalsConfig struct {
	NearExpiry string `json:"nearExpiry,omitempty"`
}

// ActivityConfig sizes the activity feed.
type ActivityConfig struct {
	Capacity int `json:"capacity,omitempty"`
}

// RelayConfig selects the in-cluster redis relay instead of the websocket.
type RelayConfig struct {
	RedisURL  string `json:"redisUrl,omitempty"`
	Channel   string `json:"channel,omitempty"`
	StatusKey string `json:"statusKey,omitempty"`
}

// TelemetryConfig enables OTLP trace export for API calls.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`
	Protocol    string            `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`
	ServiceName string            `json:"serviceName,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: DefaultAPIURL,
			Timeout: DefaultAPITimeout.String(),
			RPS:     10,
			Burst:   10,
		},
		Push: PushConfig{
			Heartbeat:   DefaultHeartbeat.String(),
			Backoff:     "exponential",
			BackoffBase: DefaultBackoffBase.String(),
			BackoffMax:  DefaultBackoffMax.String(),
			QueueSize:   256,
		},
		Reconcile: ReconcileConfig{
			Interval:     DefaultPollInterval.String(),
			FetchTimeout: DefaultFetchTimeout.String(),
		},
		Approvals: ApprovalsConfig{NearExpiry: DefaultNearExpiry.String()},
		Activity:  ActivityConfig{Capacity: DefaultActivityCapacity},
		Relay: RelayConfig{
			Channel:   DefaultRelayChannel,
			StatusKey: DefaultRelayStatusKey,
		},
		Telemetry: TelemetryConfig{ServiceName: DefaultTelemetryService},
	}
}

// DefaultPath is $OPSCONSOLE_CONFIG or ~/.opsconsole/config.json5.
func DefaultPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultConfigFile
	}
	return filepath.Join(home, defaultConfigDir, defaultConfigFile)
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg as indented JSON (a JSON5 subset), creating the directory.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return os.Rename(tmp, path)
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvAPIURL); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv(EnvWSURL); v != "" {
		c.Push.URL = v
	}
	if v := os.Getenv(EnvToken); v != "" {
		c.API.Token = v
	}
	if v := os.Getenv(EnvRedisURL); v != "" {
		c.Relay.RedisURL = v
	}
}

// Validate checks URLs, durations and enums.
func (c *Config) Validate() error {
	var errs []error

	if err := checkURL("api.baseUrl", c.API.BaseURL, "http", "https"); err != nil {
		errs = append(errs, err)
	}
	if c.Push.URL != "" {
		if err := checkURL("push.url", c.Push.URL, "ws", "wss"); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Relay.RedisURL != "" {
		if err := checkURL("relay.redisUrl", c.Relay.RedisURL, "redis", "rediss"); err != nil {
			errs = append(errs, err)
		}
	}

	durations := map[string]string{
		"api.timeout":            c.API.Timeout,
		"push.heartbeat":         c.Push.Heartbeat,
		"push.backoffBase":       c.Push.BackoffBase,
		"push.backoffMax":        c.Push.BackoffMax,
		"reconcile.interval":     c.Reconcile.Interval,
		"reconcile.fetchTimeout": c.Reconcile.FetchTimeout,
		"approvals.nearExpiry":   c.Approvals.NearExpiry,
	}
	for _, key := range slices.Sorted(maps.Keys(durations)) {
		if err := checkDuration(key, durations[key]); err != nil {
			errs = append(errs, err)
		}
	}

	switch c.Push.Backoff {
	case "", "fixed", "exponential":
	default:
		errs = append(errs, fmt.Errorf("push.backoff: want fixed or exponential, got %q", c.Push.Backoff))
	}
	switch c.Telemetry.Protocol {
	case "", "grpc", "http":
	default:
		errs = append(errs, fmt.Errorf("telemetry.protocol: want grpc or http, got %q", c.Telemetry.Protocol))
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		errs = append(errs, fmt.Errorf("telemetry.endpoint is required when telemetry is enabled"))
	}
	if c.API.RPS < 0 {
		errs = append(errs, fmt.Errorf("api.rps must not be negative"))
	}
	if c.Activity.Capacity < 0 {
		errs = append(errs, fmt.Errorf("activity.capacity must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func checkURL(key, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s: want %s URL, got %q", key, strings.Join(schemes, "/"), raw)
}

func checkDuration(key, raw string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s: must be positive, got %s", key, raw)
	}
	return nil
}

// duration parses raw, falling back to def when empty or invalid.
func duration(raw string, def time.Duration) time.Duration {
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// APITimeout is the per-request HTTP timeout.
func (c *Config) APITimeout() time.Duration { return duration(c.API.Timeout, DefaultAPITimeout) }

// HeartbeatInterval is the push channel probe period.
func (c *Config) HeartbeatInterval() time.Duration {
	return duration(c.Push.Heartbeat, DefaultHeartbeat)
}

// BackoffBase is the first reconnect delay.
func (c *Config) BackoffBase() time.Duration { return duration(c.Push.BackoffBase, DefaultBackoffBase) }

// BackoffMax caps the exponential reconnect delay.
func (c *Config) BackoffMax() time.Duration { return duration(c.Push.BackoffMax, DefaultBackoffMax) }

// PollInterval is the reconciliation period.
func (c *Config) PollInterval() time.Duration {
	return duration(c.Reconcile.Interval, DefaultPollInterval)
}

// FetchTimeout bounds one reconciliation round.
func (c *Config) FetchTimeout() time.Duration {
	return duration(c.Reconcile.FetchTimeout, DefaultFetchTimeout)
}

// NearExpiry is the remaining time under which approvals are flagged.
func (c *Config) NearExpiry() time.Duration {
	return duration(c.Approvals.NearExpiry, DefaultNearExpiry)
}

// PushURL is push.url, or the websocket endpoint derived from api.baseUrl.
func (c *Config) PushURL() string {
	if c.Push.URL != "" {
		return c.Push.URL
	}
	u, err := url.Parse(strings.TrimRight(c.API.BaseURL, "/"))
	if err != nil {
		return ""
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path += "/ws/agent"
	return u.String()
}

// Account is the keyring account the API token is stored under.
func (c *Config) Account() string {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Host == "" {
		return c.API.BaseURL
	}
	return u.Host
}
