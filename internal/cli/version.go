package cli

import (
	"fmt"
	"io"
	goruntime "runtime"

	"github.com/spf13/cobra"
)

type versionInfo struct {
	Version string `json:"version"`
	Go      string `json:"go"`
	OS      string `json:"os"`
	Arch    string `json:"arch"`
}

func newVersionCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := versionInfo{
				Version: version,
				Go:      goruntime.Version(),
				OS:      goruntime.GOOS,
				Arch:    goruntime.GOARCH,
			}
			return WriteOutput(cmd.OutOrStdout(), info, func(out io.Writer) error {
				_, err := fmt.Fprintf(out, "agentsync %s (%s %s/%s)\n", info.Version, info.Go, info.OS, info.Arch)
				return err
			})
		},
	}
}
