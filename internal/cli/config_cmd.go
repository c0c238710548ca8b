package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/tOgg1/agentsync/internal/logging"
)

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		Long:  "Show the configuration after defaults, the config file, AGENTSYNC_* variables and flags are applied. Secrets are redacted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := logging.RedactMap(loader.AllSettings())
			return WriteOutput(cmd.OutOrStdout(), settings, func(out io.Writer) error {
				if used := loader.ConfigFileUsed(); used != "" {
					fmt.Fprintf(out, "# %s\n", used)
				}
				return writeTable(out, nil, flattenSettings("", settings))
			})
		},
	}
}

// flattenSettings turns nested settings into sorted key/value rows.
func flattenSettings(prefix string, settings map[string]any) [][]string {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var rows [][]string
	for _, k := range keys {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := settings[k].(map[string]any); ok {
			rows = append(rows, flattenSettings(key, nested)...)
			continue
		}
		rows = append(rows, []string{key, fmt.Sprint(settings[k])})
	}
	return rows
}
