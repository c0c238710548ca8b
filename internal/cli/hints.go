package cli

import (
	"fmt"
	"io"
)

// HintContext describes the command that just succeeded.
type HintContext struct {
	// Action is the command that ran (e.g. "send", "use").
	Action string

	// AgentID is the agent involved, if any.
	AgentID string
}

// PrintNextSteps prints follow-up commands. Does nothing with --json.
func PrintNextSteps(out io.Writer, ctx HintContext) {
	if IsJSONOutput() {
		return
	}
	hints := generateHints(ctx)
	if len(hints) == 0 {
		return
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Next steps:")
	for _, hint := range hints {
		fmt.Fprintf(out, "  %s\n", hint)
	}
}

func generateHints(ctx HintContext) []string {
	switch ctx.Action {
	case "send":
		return []string{
			fmt.Sprintf("agentsync tail --agent %s    # watch the reply arrive", ctx.AgentID),
		}
	case "use":
		return []string{
			"agentsync history    # recent timeline",
			"agentsync tail       # follow live",
		}
	default:
		return nil
	}
}
