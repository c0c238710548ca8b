package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tOgg1/agentsync/internal/events"
	"github.com/tOgg1/agentsync/internal/lifecycle"
	"github.com/tOgg1/agentsync/internal/logging"
	"github.com/tOgg1/agentsync/internal/realtime"
	"github.com/tOgg1/agentsync/internal/session"
	"github.com/tOgg1/agentsync/internal/timeline"
)

func newTailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "tail",
		Aliases: []string{"follow"},
		Short:   "Follow an agent's timeline live",
		Long: `Load the latest page of an agent's timeline, then print events as they
arrive over the realtime connection.

SIGUSR1 suspends the connection as if the window were hidden; SIGUSR2
resumes it. Interrupt to exit.`,
		Args: cobra.NoArgs,
		RunE: runTail,
	}
	addAgentFlag(cmd)
	cmd.Flags().Bool("status", true, "print connection status changes to stderr")
	return cmd
}

func runTail(cmd *cobra.Command, args []string) error {
	agentID, err := resolveAgent(cmd)
	if err != nil {
		return err
	}
	showStatus, _ := cmd.Flags().GetBool("status")

	rt, err := newRuntime(GetConfig())
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st := outputStyles()
	printer := newTimelinePrinter(cmd.OutOrStdout(), st)
	unwatch, err := session.Watch([]events.Publisher{rt.publisher}, "cli-tail",
		tailHandler(rt.store, printer, cmd.ErrOrStderr(), st, showStatus))
	if err != nil {
		return err
	}
	defer unwatch()

	sess := rt.connect()
	defer sess.Close()

	if err := sess.Open(ctx, agentID); err != nil {
		return fmt.Errorf("open timeline for %s: %w", agentID, err)
	}
	printer.render(rt.store.State())

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigs)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-sigs:
			applyVisibilitySignal(sess.Lifecycle(), sig)
		}
	}
}

func tailHandler(store *timeline.Store, printer *timelinePrinter, errOut io.Writer, st styles, showStatus bool) events.Handler {
	return func(n *events.Notification) {
		switch n.Type {
		case events.TypeTimelineChanged:
			printer.render(store.State())
		case events.TypeConnectionChanged:
			snapshot, ok := n.Payload.(realtime.Snapshot)
			if !ok || !showStatus {
				return
			}
			fmt.Fprintln(errOut, formatConnection(snapshot, st))
		}
	}
}

func applyVisibilitySignal(coord *lifecycle.Coordinator, sig os.Signal) {
	switch sig {
	case syscall.SIGUSR1:
		logging.Logger.Info().Msg("suspending on SIGUSR1")
		coord.Visibility(false)
	case syscall.SIGUSR2:
		logging.Logger.Info().Msg("resuming on SIGUSR2")
		coord.Visibility(true)
	}
}
