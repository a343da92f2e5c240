package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvConfigPath, EnvAPIURL, EnvWSURL, EnvToken, EnvRedisURL} {
		t.Setenv(k, "")
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json5"))
	require.NoError(t, err)

	assert.Equal(t, DefaultAPIURL, cfg.API.BaseURL)
	assert.Equal(t, DefaultHeartbeat, cfg.HeartbeatInterval())
	assert.Equal(t, DefaultPollInterval, cfg.PollInterval())
	assert.Equal(t, DefaultNearExpiry, cfg.NearExpiry())
	assert.Equal(t, "exponential", cfg.Push.Backoff)
	assert.Equal(t, "ws://localhost:8000/ws/agent", cfg.PushURL())
}

func TestLoad_JSON5(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.json5")
	require.NoError(t, os.WriteFile(path, []byte(`{
		// agent runtime
		api: { baseUrl: "https://agent.example.com/", rps: 2.5 },
		push: { heartbeat: "10s", backoff: "fixed", },
		reconcile: { interval: "1m" },
		approvals: { nearExpiry: "90s" },
	}`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2.5, cfg.API.RPS)
	assert.Equal(t, 10, cfg.API.Burst, "unset keys keep defaults")
	assert.Equal(t, 10*time.Second, cfg.HeartbeatInterval())
	assert.Equal(t, "fixed", cfg.Push.Backoff)
	assert.Equal(t, time.Minute, cfg.PollInterval())
	assert.Equal(t, 90*time.Second, cfg.NearExpiry())
	assert.Equal(t, "wss://agent.example.com/ws/agent", cfg.PushURL())
	assert.Equal(t, "agent.example.com", cfg.Account())
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvAPIURL, "http://10.0.0.5:9000")
	t.Setenv(EnvWSURL, "ws://10.0.0.5:9001/ws/agent")
	t.Setenv(EnvToken, "env-token")
	t.Setenv(EnvRedisURL, "redis://cache:6379/0")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json5"))
	require.NoError(t, err)

	assert.Equal(t, "http://10.0.0.5:9000", cfg.API.BaseURL)
	assert.Equal(t, "ws://10.0.0.5:9001/ws/agent", cfg.PushURL())
	assert.Equal(t, "redis://cache:6379/0", cfg.Relay.RedisURL)
	assert.Equal(t, "10.0.0.5:9000", cfg.Account())

	tok, err := cfg.ResolveToken()
	require.NoError(t, err)
	assert.Equal(t, "env-token", tok)
}

func TestLoad_ParseError(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.json5")
	require.NoError(t, os.WriteFile(path, []byte(`{api: `), 0o600))

	_, err := Load(path)
	assert.ErrorContains(t, err, "parse")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"ok", func(*Config) {}, ""},
		{"bad scheme", func(c *Config) { c.API.BaseURL = "ftp://x" }, "api.baseUrl"},
		{"push not ws", func(c *Config) { c.Push.URL = "http://x/ws" }, "push.url"},
		{"redis scheme", func(c *Config) { c.Relay.RedisURL = "tcp://cache:6379" }, "relay.redisUrl"},
		{"bad duration", func(c *Config) { c.Reconcile.Interval = "soon" }, "reconcile.interval"},
		{"negative duration", func(c *Config) { c.Push.Heartbeat = "-1s" }, "push.heartbeat"},
		{"backoff", func(c *Config) { c.Push.Backoff = "linear" }, "push.backoff"},
		{"telemetry endpoint", func(c *Config) { c.Telemetry.Enabled = true }, "telemetry.endpoint"},
		{"telemetry protocol", func(c *Config) { c.Telemetry.Protocol = "udp" }, "telemetry.protocol"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.json5")
	cfg := Default()
	cfg.API.BaseURL = "https://agent.example.com"
	cfg.Reconcile.Interval = "30s"
	require.NoError(t, Save(path, cfg))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestTokenKeyring(t *testing.T) {
	keyring.MockInit()
	clearEnv(t)

	cfg := Default()
	tok, err := cfg.ResolveToken()
	require.NoError(t, err)
	assert.Empty(t, tok)

	require.NoError(t, StoreToken(cfg.Account(), "secret-token"))
	tok, err = cfg.ResolveToken()
	require.NoError(t, err)
	assert.Equal(t, "secret-token", tok)

	require.NoError(t, DeleteToken(cfg.Account()))
	require.NoError(t, DeleteToken(cfg.Account()), "deleting twice is fine")
	_, err = LoadToken(cfg.Account())
	assert.ErrorIs(t, err, ErrNoToken)

	assert.Error(t, StoreToken("", "x"))
	assert.Error(t, StoreToken("host", ""))
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.json5")
	require.NoError(t, os.WriteFile(path, []byte(`{reconcile: {interval: "15s"}}`), 0o600))

	w, err := NewWatcher(path)
	require.NoError(t, err)
	w.debounce = 20 * time.Millisecond

	var got atomic.Value
	w.OnChange(func(cfg *Config) { got.Store(cfg.PollInterval()) })
	require.NoError(t, w.Start())
	defer w.Stop()

	// A broken file is ignored.
	require.NoError(t, os.WriteFile(path, []byte(`{reconcile: `), 0o600))
	time.Sleep(100 * time.Millisecond)
	assert.Nil(t, got.Load())

	cfg := Default()
	cfg.Reconcile.Interval = "45s"
	require.NoError(t, Save(path, cfg))

	require.Eventually(t, func() bool {
		v, _ := got.Load().(time.Duration)
		return v == 45*time.Second
	}, 3*time.Second, 10*time.Millisecond)

	w.Stop()
	w.Stop()
}
