// Package cli implements the agentsync command line.
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tOgg1/agentsync/internal/config"
	"github.com/tOgg1/agentsync/internal/logging"
)

var (
	cfgFile    string
	jsonOutput bool
	noColor    bool

	appConfig *config.Config
	loader    *config.Loader
	logFile   *os.File
)

// Execute runs the root command.
func Execute(version string) error {
	return newRootCmd(version).Execute()
}

func newRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "agentsync",
		Short:         "Follow and talk to agents from the terminal",
		Long:          "agentsync keeps a local copy of an agent's timeline in sync with the server over HTTP and a realtime websocket.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			closeLogFile()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default $XDG_CONFIG_HOME/agentsync/config.yaml)")
	flags.String("server", "", "API base URL")
	flags.String("token", "", "bearer token")
	flags.String("log-level", "", "log level (trace, debug, info, warn, error, off)")
	flags.BoolVar(&jsonOutput, "json", false, "output JSON")
	flags.BoolVar(&noColor, "no-color", false, "disable styled output")

	cmd.AddCommand(
		newTailCmd(),
		newSendCmd(),
		newHistoryCmd(),
		newUseCmd(),
		newConfigCmd(),
		newVersionCmd(version),
	)
	return cmd
}

func initConfig(cmd *cobra.Command) error {
	loader = config.NewLoader()
	if cfgFile != "" {
		loader.SetConfigFile(cfgFile)
	}
	flags := cmd.Root().PersistentFlags()
	loader.BindFlag("server.base_url", flags.Lookup("server"))
	loader.BindFlag("server.token", flags.Lookup("token"))
	loader.BindFlag("logging.level", flags.Lookup("log-level"))

	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	appConfig = cfg

	logCfg := cfg.LoggingSettings()
	logCfg.NoColor = noColor || !isTerminal(os.Stderr)
	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		logFile = f
		logCfg.Output = f
		logCfg.NoColor = true
	} else if !flags.Changed("log-level") && os.Getenv(config.EnvPrefix+"_LOGGING_LEVEL") == "" {
		// Stderr is shared with user-facing output; stay quiet unless asked.
		logCfg.Level = zerolog.LevelWarnValue
	}
	logging.Init(logCfg)
	logging.Logger.Debug().Str("config", loader.ConfigFileUsed()).Msg("configuration loaded")
	return nil
}

func closeLogFile() {
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}

// GetConfig returns the configuration loaded for the running command.
func GetConfig() *config.Config {
	if appConfig == nil {
		return config.DefaultConfig()
	}
	return appConfig
}

// IsJSONOutput reports whether --json was given.
func IsJSONOutput() bool {
	return jsonOutput
}

// WriteOutput writes v as indented JSON when --json is set, otherwise
// calls human.
func WriteOutput(out io.Writer, v any, human func(io.Writer) error) error {
	if !IsJSONOutput() {
		return human(out)
	}
	data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

// PreflightError is a user-facing error with a remedy.
type PreflightError struct {
	Message  string
	Hint     string
	NextStep string
}

func (e *PreflightError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Hint != "" {
		b.WriteString("\n  hint: ")
		b.WriteString(e.Hint)
	}
	if e.NextStep != "" {
		b.WriteString("\n  try:  ")
		b.WriteString(e.NextStep)
	}
	return b.String()
}

func requireServer(cfg *config.Config) error {
	if strings.TrimSpace(cfg.Server.BaseURL) != "" {
		return nil
	}
	return &PreflightError{
		Message:  "no server configured",
		Hint:     "set server.base_url in the config file or AGENTSYNC_SERVER_BASE_URL",
		NextStep: "agentsync --server https://api.example.com/v1 tail",
	}
}
