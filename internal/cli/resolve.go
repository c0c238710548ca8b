package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/tOgg1/agentsync/internal/config"
)

// contextStorePath is overridden in tests.
var contextStorePath = ""

func addAgentFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("agent", "a", "", "agent ID (defaults to the agent chosen with 'agentsync use')")
}

// resolveAgent returns --agent, falling back to the stored context.
func resolveAgent(cmd *cobra.Command) (string, error) {
	agent, _ := cmd.Flags().GetString("agent")
	if agent = strings.TrimSpace(agent); agent != "" {
		return agent, nil
	}

	ctx, err := config.NewContextStore(contextStorePath).Load()
	if err != nil {
		return "", err
	}
	if ctx.HasAgent() {
		return ctx.AgentID, nil
	}
	return "", &PreflightError{
		Message:  "no agent selected",
		Hint:     "pass --agent or select a default agent",
		NextStep: "agentsync use AGENT_ID",
	}
}
