package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/inflight/internal/store"
)

// PendingTransaction is one durable entry as shown by `inflight pending`.
type PendingTransaction struct {
	ID        string          `json:"id"`
	Seq       int64           `json:"seq"`
	Kind      string          `json:"kind"`
	Status    string          `json:"status"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	Payload   json.RawMessage `json:"payload"`
}

// PendingList is the result of `inflight pending`.
type PendingList struct {
	Transactions []PendingTransaction `json:"transactions"`

	showPayload bool
}

func (l PendingList) WriteText(w io.Writer) {
	if len(l.Transactions) == 0 {
		fmt.Fprintln(w, "No pending transactions.")
		return
	}
	fmt.Fprintf(w, "%-36s  %5s  %-16s  %-9s  %8s  %s\n", "ID", "SEQ", "KIND", "STATUS", "ATTEMPTS", "LAST ERROR")
	for _, p := range l.Transactions {
		fmt.Fprintf(w, "%-36s  %5d  %-16s  %-9s  %8d  %s\n", p.ID, p.Seq, p.Kind, p.Status, p.Attempts, p.LastError)
		if l.showPayload {
			fmt.Fprintf(w, "    %s\n", p.Payload)
		}
	}
}

// NewPendingCommand creates the pending command.
func NewPendingCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List transactions that have not resolved",
		Long: `List the durable pending entries in submission order.

These are the transactions the next run resumes. With --verbose the
encoded payload of each entry is printed as well.

Example:
  inflight pending --db ./inflight.db
  inflight pending --db ./inflight.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPending(rootOpts, cmd)
		},
	}
	return cmd
}

func runPending(opts *RootOptions, cmd *cobra.Command) error {
	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	entries, err := st.LoadPending(commandContext(cmd))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load pending transactions", err)
	}

	list := PendingList{
		Transactions: make([]PendingTransaction, 0, len(entries)),
		showPayload:  opts.Verbose,
	}
	for _, e := range entries {
		list.Transactions = append(list.Transactions, PendingTransaction{
			ID:        e.ID,
			Seq:       e.Seq,
			Kind:      e.Kind,
			Status:    e.Status,
			Attempts:  e.AttemptCount,
			LastError: e.LastError,
			CreatedAt: e.CreatedAt,
			Payload:   json.RawMessage(e.Payload),
		})
	}
	return opts.formatter(cmd).Success(list)
}

// ClearResult is the result of `inflight clear`.
type ClearResult struct {
	Cleared int `json:"cleared"`
}

func (r ClearResult) WriteText(w io.Writer) {
	fmt.Fprintf(w, "Cleared %d pending transaction(s).\n", r.Cleared)
}

// NewClearCommand creates the clear command.
func NewClearCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop every pending transaction",
		Long: `Delete every durable pending entry so the next run resumes nothing.

Optimistic rows already written locally are left as they are; the next
server push or a manual resend settles them.

Example:
  inflight clear --db ./inflight.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClear(rootOpts, cmd)
		},
	}
	return cmd
}

func runClear(opts *RootOptions, cmd *cobra.Command) error {
	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	n, err := st.ClearPending(commandContext(cmd))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to clear pending transactions", err)
	}
	return opts.formatter(cmd).Success(ClearResult{Cleared: n})
}

// openStore opens the configured database without connecting to the server.
func (o *RootOptions) openStore() (*store.Store, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}
