package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tOgg1/agentsync/internal/models"
	"github.com/tOgg1/agentsync/internal/timeline"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "history",
		Aliases: []string{"log"},
		Short:   "Print an agent's recent timeline",
		Args:    cobra.NoArgs,
		RunE:    runHistory,
	}
	addAgentFlag(cmd)
	cmd.Flags().IntP("pages", "n", 1, "number of pages to load, newest first")
	return cmd
}

type historyResult struct {
	AgentID      string                 `json:"agent_id"`
	Events       []models.TimelineEvent `json:"events"`
	HasMoreOlder bool                   `json:"has_more_older"`
	OldestCursor string                 `json:"oldest_cursor,omitempty"`
}

func runHistory(cmd *cobra.Command, args []string) error {
	agentID, err := resolveAgent(cmd)
	if err != nil {
		return err
	}
	pages, _ := cmd.Flags().GetInt("pages")
	if pages < 1 {
		return &PreflightError{Message: "--pages must be at least 1"}
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
	for i := 1; i < pages && rt.store.State().HasMoreOlder; i++ {
		if err := rt.store.LoadOlder(ctx); err != nil {
			return fmt.Errorf("load older page: %w", err)
		}
	}

	state := rt.store.State()
	result := historyResult{
		AgentID:      agentID,
		Events:       state.Events,
		HasMoreOlder: state.HasMoreOlder,
		OldestCursor: state.OldestCursor,
	}
	return WriteOutput(cmd.OutOrStdout(), result, func(out io.Writer) error {
		return writeHistory(out, state, outputStyles())
	})
}

func writeHistory(out io.Writer, state timeline.State, st styles) error {
	if len(state.Events) == 0 {
		_, err := fmt.Fprintln(out, "no events")
		return err
	}
	rows := make([][]string, 0, len(state.Events))
	for _, ev := range state.Events {
		from := sender(ev)
		if ev.Kind != models.EventKindMessage {
			from = ""
		}
		rows = append(rows, []string{
			st.render(st.Muted, formatTimestamp(eventTime(ev))),
			string(ev.Kind),
			from,
			truncateText(summarize(ev), previewWidth),
		})
	}
	headers := []string{"TIME", "KIND", "FROM", "SUMMARY"}
	for i, h := range headers {
		headers[i] = st.render(st.Header, h)
	}
	if err := writeTable(out, headers, rows); err != nil {
		return err
	}
	if state.HasMoreOlder {
		_, err := fmt.Fprintln(out, st.render(st.Muted, "(older events available, raise --pages)"))
		return err
	}
	return nil
}
