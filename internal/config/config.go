// Package config handles agentsync configuration loading and validation.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tOgg1/agentsync/internal/lifecycle"
	"github.com/tOgg1/agentsync/internal/logging"
	"github.com/tOgg1/agentsync/internal/realtime"
	"github.com/tOgg1/agentsync/internal/timeline"
)

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Realtime  RealtimeConfig  `yaml:"realtime" mapstructure:"realtime"`
	Timeline  TimelineConfig  `yaml:"timeline" mapstructure:"timeline"`
	Lifecycle LifecycleConfig `yaml:"lifecycle" mapstructure:"lifecycle"`
	Logging   LoggingConfig   `yaml:"logging" mapstructure:"logging"`
}

// ServerConfig locates the backend.
type ServerConfig struct {
	// BaseURL is the HTTP API root, e.g. https://api.example.com/v1.
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`

	// Token is the bearer token sent on every request.
	Token string `yaml:"token" mapstructure:"token"`

	// Timeout bounds each HTTP request.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// RealtimeConfig tunes the push channel.
type RealtimeConfig struct {
	// URL overrides the websocket endpoint derived from server.base_url.
	URL string `yaml:"url" mapstructure:"url"`

	BackoffBase       time.Duration `yaml:"backoff_base" mapstructure:"backoff_base"`
	BackoffMax        time.Duration `yaml:"backoff_max" mapstructure:"backoff_max"`
	BackoffJitter     time.Duration `yaml:"backoff_jitter" mapstructure:"backoff_jitter"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" mapstructure:"heartbeat_interval"`
	PongTimeout       time.Duration `yaml:"pong_timeout" mapstructure:"pong_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	DialTimeout       time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`

	// ReadLimit caps inbound frame size in bytes.
	ReadLimit int64 `yaml:"read_limit" mapstructure:"read_limit"`

	// ResyncInterval is how often history is pulled while connected.
	// Zero disables periodic resync.
	ResyncInterval time.Duration `yaml:"resync_interval" mapstructure:"resync_interval"`
}

// TimelineConfig tunes the timeline store.
type TimelineConfig struct {
	PageSize          int           `yaml:"page_size" mapstructure:"page_size"`
	MaxEvents         int           `yaml:"max_events" mapstructure:"max_events"`
	RefreshThrottle   time.Duration `yaml:"refresh_throttle" mapstructure:"refresh_throttle"`
	MatchWindow       time.Duration `yaml:"match_window" mapstructure:"match_window"`
	StreamPolicy      string        `yaml:"stream_policy" mapstructure:"stream_policy"`
	CollapseThreshold int           `yaml:"collapse_threshold" mapstructure:"collapse_threshold"`
}

// LifecycleConfig tunes resume throttling.
type LifecycleConfig struct {
	ResumeInterval time.Duration `yaml:"resume_interval" mapstructure:"resume_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console).
	Format string `yaml:"format" mapstructure:"format"`

	// File is an optional log file path. Empty logs to stderr.
	File string `yaml:"file" mapstructure:"file"`

	// EnableCaller adds caller information to logs.
	EnableCaller bool `yaml:"enable_caller" mapstructure:"enable_caller"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	rt := realtime.DefaultConfig()
	tl := timeline.DefaultConfig()
	lc := lifecycle.DefaultConfig()

	return &Config{
		Server: ServerConfig{
			Timeout: 15 * time.Second,
		},
		Realtime: RealtimeConfig{
			BackoffBase:       rt.BackoffBase,
			BackoffMax:        rt.BackoffMax,
			BackoffJitter:     rt.BackoffJitter,
			HeartbeatInterval: rt.HeartbeatInterval,
			PongTimeout:       rt.PongTimeout,
			IdleTimeout:       rt.IdleTimeout,
			DialTimeout:       rt.DialTimeout,
			WriteTimeout:      rt.WriteTimeout,
			ReadLimit:         1 << 20,
			ResyncInterval:    time.Minute,
		},
		Timeline: TimelineConfig{
			PageSize:          tl.PageSize,
			MaxEvents:         tl.MaxEvents,
			RefreshThrottle:   tl.RefreshThrottle,
			MatchWindow:       tl.MatchWindow,
			StreamPolicy:      string(tl.StreamPolicy),
			CollapseThreshold: tl.CollapseThreshold,
		},
		Lifecycle: LifecycleConfig{
			ResumeInterval: lc.ResumeInterval,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.BaseURL != "" {
		if err := validateURL("server.base_url", c.Server.BaseURL, "http", "https"); err != nil {
			return err
		}
	}
	if c.Realtime.URL != "" {
		if err := validateURL("realtime.url", c.Realtime.URL, "ws", "wss"); err != nil {
			return err
		}
	}
	if c.Server.Timeout < 0 {
		return fmt.Errorf("server.timeout must not be negative")
	}

	if c.Realtime.BackoffBase <= 0 {
		return fmt.Errorf("realtime.backoff_base must be positive")
	}
	if c.Realtime.BackoffMax < c.Realtime.BackoffBase {
		return fmt.Errorf("realtime.backoff_max must be at least realtime.backoff_base")
	}
	for key, d := range map[string]time.Duration{
		"realtime.backoff_jitter":     c.Realtime.BackoffJitter,
		"realtime.heartbeat_interval": c.Realtime.HeartbeatInterval,
		"realtime.pong_timeout":       c.Realtime.PongTimeout,
		"realtime.idle_timeout":       c.Realtime.IdleTimeout,
		"realtime.resync_interval":    c.Realtime.ResyncInterval,
		"lifecycle.resume_interval":   c.Lifecycle.ResumeInterval,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", key)
		}
	}
	if c.Realtime.ReadLimit < 0 {
		return fmt.Errorf("realtime.read_limit must not be negative")
	}

	if err := c.TimelineSettings().Validate(); err != nil {
		return fmt.Errorf("timeline: %w", err)
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console")
	}
	return nil
}

func validateURL(key, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	for _, scheme := range schemes {
		if u.Scheme == scheme && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s must be an absolute %s URL", key, strings.Join(schemes, " or "))
}

// RealtimeURL returns the websocket endpoint. Without an explicit URL it
// is derived from the server base URL's origin with path /ws/agents/.
func (c *Config) RealtimeURL() string {
	if c.Realtime.URL != "" {
		return c.Realtime.URL
	}
	u, err := url.Parse(c.Server.BaseURL)
	if err != nil || u.Host == "" {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws/agents/"
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// RealtimeSettings converts to the connection manager configuration.
func (c *Config) RealtimeSettings() realtime.Config {
	return realtime.Config{
		URL:               c.RealtimeURL(),
		Token:             c.Server.Token,
		BackoffBase:       c.Realtime.BackoffBase,
		BackoffMax:        c.Realtime.BackoffMax,
		BackoffJitter:     c.Realtime.BackoffJitter,
		HeartbeatInterval: c.Realtime.HeartbeatInterval,
		PongTimeout:       c.Realtime.PongTimeout,
		IdleTimeout:       c.Realtime.IdleTimeout,
		DialTimeout:       c.Realtime.DialTimeout,
		WriteTimeout:      c.Realtime.WriteTimeout,
	}
}

// TimelineSettings converts to the timeline store configuration.
func (c *Config) TimelineSettings() timeline.Config {
	return timeline.Config{
		PageSize:          c.Timeline.PageSize,
		MaxEvents:         c.Timeline.MaxEvents,
		RefreshThrottle:   c.Timeline.RefreshThrottle,
		MatchWindow:       c.Timeline.MatchWindow,
		StreamPolicy:      timeline.StreamPolicy(c.Timeline.StreamPolicy),
		CollapseThreshold: c.Timeline.CollapseThreshold,
	}
}

// LifecycleSettings converts to the lifecycle coordinator configuration.
func (c *Config) LifecycleSettings() lifecycle.Config {
	return lifecycle.Config{ResumeInterval: c.Lifecycle.ResumeInterval}
}

// LoggingSettings converts to the logging configuration. The caller owns
// the output when a log file is configured.
func (c *Config) LoggingSettings() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.Logging.Level
	cfg.Format = c.Logging.Format
	cfg.EnableCaller = c.Logging.EnableCaller
	return cfg
}

// ConfigDir returns the directory holding config.yaml and context.yaml.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "agentsync")
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".config", "agentsync")
}
