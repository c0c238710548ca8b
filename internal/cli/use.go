package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tOgg1/agentsync/internal/config"
)

func newUseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "use [AGENT_ID]",
		Short: "Select the default agent",
		Long:  "Select the agent used when --agent is omitted. Without an argument, prints the current selection.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runUse,
	}
	cmd.Flags().String("name", "", "display name to remember for the agent")
	cmd.Flags().Bool("clear", false, "forget the selected agent")
	return cmd
}

func runUse(cmd *cobra.Command, args []string) error {
	store := config.NewContextStore(contextStorePath)
	clear, _ := cmd.Flags().GetBool("clear")
	if clear {
		if err := store.Clear(); err != nil {
			return err
		}
		return WriteOutput(cmd.OutOrStdout(), &config.Context{}, func(out io.Writer) error {
			_, err := fmt.Fprintln(out, "agent selection cleared")
			return err
		})
	}

	ctx, err := store.Load()
	if err != nil {
		return err
	}
	if len(args) == 1 {
		id := strings.TrimSpace(args[0])
		if id == "" {
			return &PreflightError{Message: "agent ID is empty", NextStep: "agentsync use AGENT_ID"}
		}
		name, _ := cmd.Flags().GetString("name")
		ctx.SetAgent(id, strings.TrimSpace(name))
		if err := store.Save(ctx); err != nil {
			return err
		}
	}

	err = WriteOutput(cmd.OutOrStdout(), ctx, func(out io.Writer) error {
		_, err := fmt.Fprintln(out, ctx.String())
		return err
	})
	if err != nil {
		return err
	}
	if len(args) == 1 {
		PrintNextSteps(cmd.OutOrStdout(), HintContext{Action: "use", AgentID: ctx.AgentID})
	}
	return nil
}
