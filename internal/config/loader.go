package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. AGENTSYNC_SERVER_TOKEN.
const EnvPrefix = "AGENTSYNC"

// Loader handles configuration loading with Viper.
type Loader struct {
	v          *viper.Viper
	configFile string
	flags      map[string]*pflag.Flag
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v:     viper.New(),
		flags: make(map[string]*pflag.Flag),
	}
}

// SetConfigFile sets an explicit config file path.
func (l *Loader) SetConfigFile(path string) {
	l.configFile = path
}

// BindFlag makes a CLI flag override key when the flag was set.
func (l *Loader) BindFlag(key string, flag *pflag.Flag) {
	if flag != nil {
		l.flags[key] = flag
	}
}

// Load loads configuration with proper precedence:
// defaults < config file < env vars < CLI flags
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if err := l.setupViper(cfg); err != nil {
		return nil, err
	}

	if err := l.loadConfigFile(); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Logging.File = expandTilde(cfg.Logging.File)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// expandTilde expands ~ to the user's home directory.
func expandTilde(path string) string {
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

func (l *Loader) setupViper(cfg *Config) error {
	v := l.v

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		v.AddConfigPath(filepath.Join(xdgConfig, "agentsync"))
	}
	if homeDir, _ := os.UserHomeDir(); homeDir != "" {
		v.AddConfigPath(filepath.Join(homeDir, ".config", "agentsync"))
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v, cfg)

	// Unmarshal only sees env values for keys viper knows about, so bind
	// every defaulted key explicitly.
	for _, key := range v.AllKeys() {
		envVar := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envVar); err != nil {
			return fmt.Errorf("bind %s: %w", envVar, err)
		}
	}

	for key, flag := range l.flags {
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag --%s: %w", flag.Name, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("server.base_url", cfg.Server.BaseURL)
	v.SetDefault("server.token", cfg.Server.Token)
	v.SetDefault("server.timeout", cfg.Server.Timeout)

	v.SetDefault("realtime.url", cfg.Realtime.URL)
	v.SetDefault("realtime.backoff_base", cfg.Realtime.BackoffBase)
	v.SetDefault("realtime.backoff_max", cfg.Realtime.BackoffMax)
	v.SetDefault("realtime.backoff_jitter", cfg.Realtime.BackoffJitter)
	v.SetDefault("realtime.heartbeat_interval", cfg.Realtime.HeartbeatInterval)
	v.SetDefault("realtime.pong_timeout", cfg.Realtime.PongTimeout)
	v.SetDefault("realtime.idle_timeout", cfg.Realtime.IdleTimeout)
	v.SetDefault("realtime.dial_timeout", cfg.Realtime.DialTimeout)
	v.SetDefault("realtime.write_timeout", cfg.Realtime.WriteTimeout)
	v.SetDefault("realtime.read_limit", cfg.Realtime.ReadLimit)
	v.SetDefault("realtime.resync_interval", cfg.Realtime.ResyncInterval)

	v.SetDefault("timeline.page_size", cfg.Timeline.PageSize)
	v.SetDefault("timeline.max_events", cfg.Timeline.MaxEvents)
	v.SetDefault("timeline.refresh_throttle", cfg.Timeline.RefreshThrottle)
	v.SetDefault("timeline.match_window", cfg.Timeline.MatchWindow)
	v.SetDefault("timeline.stream_policy", cfg.Timeline.StreamPolicy)
	v.SetDefault("timeline.collapse_threshold", cfg.Timeline.CollapseThreshold)

	v.SetDefault("lifecycle.resume_interval", cfg.Lifecycle.ResumeInterval)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.enable_caller", cfg.Logging.EnableCaller)
}

// loadConfigFile reads the config file. A missing file is only an error
// when it was set explicitly.
func (l *Loader) loadConfigFile() error {
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	}
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) && l.configFile == "" {
			return nil
		}
		return err
	}
	return nil
}

// ConfigFileUsed returns the config file that was loaded.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// AllSettings returns the merged settings as a nested map.
func (l *Loader) AllSettings() map[string]any {
	return l.v.AllSettings()
}

// LoadFromFile loads configuration from a specific file.
func LoadFromFile(path string) (*Config, error) {
	loader := NewLoader()
	loader.SetConfigFile(path)
	return loader.Load()
}
