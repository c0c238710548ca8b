package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tOgg1/agentsync/internal/models"
	"github.com/tOgg1/agentsync/internal/timeline"
)

func newSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send [TEXT]",
		Short: "Send a message to an agent",
		Long:  "Send a message to an agent. Reads the message from stdin when TEXT is omitted or '-'.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSend,
	}
	addAgentFlag(cmd)
	return cmd
}

type sendResult struct {
	AgentID string                `json:"agent_id"`
	Message *models.TimelineEvent `json:"message,omitempty"`
}

func runSend(cmd *cobra.Command, args []string) error {
	agentID, err := resolveAgent(cmd)
	if err != nil {
		return err
	}
	body, err := readBody(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}

	rt, err := newRuntime(GetConfig())
	if err != nil {
		return err
	}
	defer rt.close()

	ctx := cmd.Context()
	if err := rt.store.Initialize(ctx, agentID); err != nil {
		return fmt.Errorf("load timeline for %s: %w", agentID, err)
	}
	if err := rt.store.SendMessage(ctx, body, nil); err != nil {
		if errors.Is(err, timeline.ErrEmptyMessage) {
			return &PreflightError{Message: "message is empty", NextStep: "agentsync send \"hello\""}
		}
		return fmt.Errorf("send to %s: %w", agentID, err)
	}

	result := sendResult{AgentID: agentID, Message: lastOutgoing(rt.store.State())}
	err = WriteOutput(cmd.OutOrStdout(), result, func(out io.Writer) error {
		st := outputStyles()
		if result.Message != nil {
			_, err := fmt.Fprintln(out, formatEvent(*result.Message, st))
			return err
		}
		_, err := fmt.Fprintf(out, "sent to %s\n", agentID)
		return err
	})
	if err != nil {
		return err
	}
	PrintNextSteps(cmd.OutOrStdout(), HintContext{Action: "send", AgentID: agentID})
	return nil
}

func readBody(in io.Reader, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	if f, ok := in.(*os.File); ok && isTerminal(f) {
		return "", &PreflightError{
			Message:  "no message given",
			Hint:     "pass the text as an argument or pipe it on stdin",
			NextStep: "echo hello | agentsync send",
		}
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}

func lastOutgoing(state timeline.State) *models.TimelineEvent {
	for i := len(state.Events) - 1; i >= 0; i-- {
		ev := state.Events[i]
		if ev.Kind == models.EventKindMessage && !ev.Message.IsOutbound {
			return &ev
		}
	}
	return nil
}
