package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/inflight/internal/app"
	"github.com/roach88/inflight/internal/config"
	"github.com/roach88/inflight/internal/queue"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose  bool
	Format   string // "json" | "text"
	Config   string
	Database string
	UserID   int64

	// Dial connects the realtime transport.
	Dial app.Dialer

	// IDGenerator and Now override transaction ids and the wall clock
	// (for testing). Nil means the production defaults.
	IDGenerator queue.IDGenerator
	Now         func() time.Time
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command. dial connects the realtime
// transport for every command that talks to the server.
func NewRootCommand(dial app.Dialer) *cobra.Command {
	opts := &RootOptions{Dial: dial}

	cmd := &cobra.Command{
		Use:   "inflight",
		Short: "inflight - optimistic chat transactions",
		Long: `Apply chat mutations locally first, confirm them with the server,
and keep unconfirmed work durable across restarts.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "path to CUE config file")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.PersistentFlags().Int64Var(&opts.UserID, "user", 0, "acting user id (overrides config)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewPendingCommand(opts))
	cmd.AddCommand(NewClearCommand(opts))
	cmd.AddCommand(NewSendCommand(opts))
	cmd.AddCommand(NewEditCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewReactCommand(opts))
	cmd.AddCommand(NewUnreactCommand(opts))
	cmd.AddCommand(NewCreateChatCommand(opts))
	cmd.AddCommand(NewMessagesCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// loadConfig reads --config (or the defaults) and applies flag overrides.
func (o *RootOptions) loadConfig() (config.Config, error) {
	cfg := config.Default()
	if o.Config != "" {
		var err error
		cfg, err = config.Load(o.Config)
		if err != nil {
			return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
		}
	}
	if o.Database != "" {
		cfg.Database = o.Database
	}
	if o.UserID > 0 {
		cfg.UserID = o.UserID
	}
	return cfg, nil
}

// openApp loads the config and builds the application. Logs go to the
// command's stderr.
func (o *RootOptions) openApp(cmd *cobra.Command) (*app.App, *slog.Logger, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger := cfg.NewLogger(cmd.ErrOrStderr(), o.Verbose)

	appOpts := []app.Option{app.WithLogger(logger)}
	if o.IDGenerator != nil {
		appOpts = append(appOpts, app.WithIDGenerator(o.IDGenerator))
	}
	if o.Now != nil {
		appOpts = append(appOpts, app.WithNow(o.Now))
	}

	a, err := app.New(cfg, o.Dial, appOpts...)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to start", err)
	}
	return a, logger, nil
}

// formatter returns an OutputFormatter bound to cmd's writers.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// commandContext returns cmd's context, or Background when run outside
// Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// closeApp closes a and logs rather than returns the error; the command's own
// result is what the user asked for.
func closeApp(a *app.App, logger *slog.Logger) {
	if err := a.Close(); err != nil {
		logger.Error("error closing", "error", err)
	}
}
