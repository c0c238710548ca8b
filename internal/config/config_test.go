package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/agentsync/internal/timeline"
)

func isolate(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HOME", dir)
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 50, cfg.Timeline.PageSize)
	assert.Equal(t, "retain", cfg.Timeline.StreamPolicy)
	assert.Equal(t, 5*time.Minute, cfg.Realtime.IdleTimeout)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"relative base url", func(c *Config) { c.Server.BaseURL = "/api" }},
		{"http realtime url", func(c *Config) { c.Realtime.URL = "http://example.com/ws" }},
		{"backoff max below base", func(c *Config) { c.Realtime.BackoffMax = time.Millisecond }},
		{"zero backoff base", func(c *Config) { c.Realtime.BackoffBase = 0 }},
		{"negative idle", func(c *Config) { c.Realtime.IdleTimeout = -time.Second }},
		{"bad stream policy", func(c *Config) { c.Timeline.StreamPolicy = "drop" }},
		{"max events below page", func(c *Config) { c.Timeline.MaxEvents = 10 }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestRealtimeURL(t *testing.T) {
	cfg := DefaultConfig()
	assert.Empty(t, cfg.RealtimeURL())

	cfg.Server.BaseURL = "https://api.example.com/v1?x=1"
	assert.Equal(t, "wss://api.example.com/ws/agents/", cfg.RealtimeURL())

	cfg.Server.BaseURL = "http://localhost:8080"
	assert.Equal(t, "ws://localhost:8080/ws/agents/", cfg.RealtimeURL())

	cfg.Realtime.URL = "wss://push.example.com/socket"
	assert.Equal(t, "wss://push.example.com/socket", cfg.RealtimeURL())
}

func TestSettingsConverters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.BaseURL = "https://api.example.com"
	cfg.Server.Token = "tok"
	cfg.Timeline.StreamPolicy = "refresh"
	cfg.Lifecycle.ResumeInterval = 3 * time.Second
	cfg.Logging.Format = "json"

	rt := cfg.RealtimeSettings()
	assert.Equal(t, "wss://api.example.com/ws/agents/", rt.URL)
	assert.Equal(t, "tok", rt.Token)
	assert.Equal(t, cfg.Realtime.HeartbeatInterval, rt.HeartbeatInterval)

	tl := cfg.TimelineSettings()
	assert.Equal(t, timeline.StreamPolicyRefresh, tl.StreamPolicy)
	require.NoError(t, tl.Validate())

	assert.Equal(t, 3*time.Second, cfg.LifecycleSettings().ResumeInterval)
	assert.Equal(t, "json", cfg.LoggingSettings().Format)
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	isolate(t)

	loader := NewLoader()
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Empty(t, loader.ConfigFileUsed())
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadFromFile(t *testing.T) {
	isolate(t)
	path := writeConfig(t, `
server:
  base_url: https://api.example.com
  token: from-file
realtime:
  idle_timeout: 90s
  backoff_max: 10s
timeline:
  page_size: 20
  stream_policy: refresh
logging:
  level: debug
  file: ~/agentsync.log
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com", cfg.Server.BaseURL)
	assert.Equal(t, "from-file", cfg.Server.Token)
	assert.Equal(t, 90*time.Second, cfg.Realtime.IdleTimeout)
	assert.Equal(t, 10*time.Second, cfg.Realtime.BackoffMax)
	assert.Equal(t, time.Second, cfg.Realtime.BackoffBase)
	assert.Equal(t, 20, cfg.Timeline.PageSize)
	assert.Equal(t, "refresh", cfg.Timeline.StreamPolicy)
	assert.Equal(t, "debug", cfg.Logging.Level)
	home, _ := os.UserHomeDir()
	assert.Equal(t, filepath.Join(home, "agentsync.log"), cfg.Logging.File)
}

func TestLoadSearchesConfigDir(t *testing.T) {
	isolate(t)
	dir := ConfigDir()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("timeline:\n  page_size: 30\n"), 0o600))

	loader := NewLoader()
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Timeline.PageSize)
	assert.Equal(t, filepath.Join(dir, "config.yaml"), loader.ConfigFileUsed())
}

func TestLoadMissingExplicitFile(t *testing.T) {
	isolate(t)
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadInvalidFails(t *testing.T) {
	isolate(t)
	path := writeConfig(t, "timeline:\n  stream_policy: drop\n")
	_, err := LoadFromFile(path)
	assert.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	isolate(t)
	path := writeConfig(t, "server:\n  token: from-file\nrealtime:\n  idle_timeout: 90s\n")
	t.Setenv("AGENTSYNC_SERVER_TOKEN", "from-env")
	t.Setenv("AGENTSYNC_REALTIME_IDLE_TIMEOUT", "2m")
	t.Setenv("AGENTSYNC_TIMELINE_PAGE_SIZE", "25")

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Server.Token)
	assert.Equal(t, 2*time.Minute, cfg.Realtime.IdleTimeout)
	assert.Equal(t, 25, cfg.Timeline.PageSize)
}

func TestFlagsOverrideEnv(t *testing.T) {
	isolate(t)
	t.Setenv("AGENTSYNC_SERVER_BASE_URL", "https://env.example.com")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("server", "", "")
	flags.String("log-level", "", "")
	require.NoError(t, flags.Parse([]string{"--server", "https://flag.example.com"}))

	loader := NewLoader()
	loader.BindFlag("server.base_url", flags.Lookup("server"))
	loader.BindFlag("logging.level", flags.Lookup("log-level"))
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "https://flag.example.com", cfg.Server.BaseURL)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestAllSettingsIncludesKeys(t *testing.T) {
	isolate(t)
	loader := NewLoader()
	_, err := loader.Load()
	require.NoError(t, err)

	settings := loader.AllSettings()
	require.Contains(t, settings, "timeline")
	assert.Contains(t, settings["timeline"], "page_size")
}
