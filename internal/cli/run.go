package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/inflight/internal/app"
	"github.com/roach88/inflight/internal/publish"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Resume pending transactions and follow the push stream",
		Long: `Open the local database, connect to the server, resume every persisted
transaction and apply pushed updates until interrupted.

Each entity change is printed as it happens (one JSON object per line
with --format json).

Example:
  inflight run --db ./inflight.db
  inflight run --config ./inflight.cue --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(rootOpts, cmd)
		},
	}
	return cmd
}

func runEngine(opts *RootOptions, cmd *cobra.Command) error {
	a, logger, err := opts.openApp(cmd)
	if err != nil {
		return err
	}
	defer closeApp(a, logger)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	events, unsubscribe := a.Events.Subscribe(256)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		printEvents(cmd.OutOrStdout(), opts.Format, events)
	}()

	if opts.Format != "json" {
		fmt.Fprintln(cmd.OutOrStdout(), "Listening for updates. Press Ctrl-C to stop.")
	}

	err = a.Run(ctx)
	unsubscribe()
	<-printed

	switch {
	case errors.Is(err, app.ErrUpdatesClosed):
		return WrapExitError(ExitFailure, "connection lost", err)
	case err != nil:
		return WrapExitError(ExitFailure, "run failed", err)
	}

	logger.Info("stopped gracefully")
	return nil
}

// printEvents writes every event until the channel closes.
func printEvents(w io.Writer, format string, events <-chan publish.Event) {
	enc := json.NewEncoder(w)
	for ev := range events {
		if format == "json" {
			_ = enc.Encode(ev)
			continue
		}
		if ev.Context.TxID != "" {
			fmt.Fprintf(w, "%-7s %s (%s, tx %s)\n", ev.Change, ev.Ref, ev.Context.Origin, ev.Context.TxID)
		} else {
			fmt.Fprintf(w, "%-7s %s (%s)\n", ev.Change, ev.Ref, ev.Context.Origin)
		}
	}
}
