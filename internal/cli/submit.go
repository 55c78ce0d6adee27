package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/inflight/internal/app"
	"github.com/roach88/inflight/internal/model"
	"github.com/roach88/inflight/internal/queue"
	"github.com/roach88/inflight/internal/store"
	"github.com/roach88/inflight/internal/txn"
)

// SubmitOptions holds flags shared by every mutation command.
type SubmitOptions struct {
	*RootOptions
	Timeout time.Duration
}

// SubmitResult reports how a submitted transaction resolved.
type SubmitResult struct {
	ID      string         `json:"id"`
	Kind    txn.Kind       `json:"kind"`
	Status  string         `json:"status"`
	Error   string         `json:"error,omitempty"`
	Message *model.Message `json:"message,omitempty"`
}

func (r SubmitResult) WriteText(w io.Writer) {
	fmt.Fprintf(w, "%s %s: %s\n", r.Kind, r.ID, r.Status)
	if r.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", r.Error)
	}
	if r.Message != nil {
		fmt.Fprintf(w, "  message %d/%d (%s): %s\n", r.Message.ChatID, r.Message.MessageID, r.Message.Status, r.Message.Text)
	}
}

func newSubmitOptions(rootOpts *RootOptions, cmd *cobra.Command) *SubmitOptions {
	opts := &SubmitOptions{RootOptions: rootOpts}
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second,
		"how long to wait for the server; the transaction stays pending after that")
	return opts
}

// NewSendCommand creates the send command.
func NewSendCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		replyTo   int64
		sticker   bool
		attach    []string
		mimeType  string
		submitOpt *SubmitOptions
	)

	cmd := &cobra.Command{
		Use:   "send <chat-id> <text>...",
		Short: "Send a message",
		Long: `Send a message to a chat. The message appears locally at once with
status "sending" and is upgraded in place when the server assigns its id.

Example:
  inflight send 5 hello there
  inflight send 5 "see attached" --attach ./photo.jpg --mime image/jpeg
  inflight send 5 ok --reply-to 42`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			chatID, err := parseID("chat id", args[0])
			if err != nil {
				return err
			}
			tx := txn.NewSendMessage(chatID, strings.Join(args[1:], " "))
			tx.IsSticker = sticker
			if replyTo > 0 {
				tx.ReplyToMsgID = model.Int64(replyTo)
			}
			for _, path := range attach {
				tx.Attachments = append(tx.Attachments, txn.Attachment{Path: path, MimeType: mimeType})
			}
			return runSubmit(submitOpt, cmd, tx)
		},
	}

	submitOpt = newSubmitOptions(rootOpts, cmd)
	cmd.Flags().Int64Var(&replyTo, "reply-to", 0, "message id to reply to")
	cmd.Flags().BoolVar(&sticker, "sticker", false, "send as a sticker")
	cmd.Flags().StringArrayVar(&attach, "attach", nil, "file to upload and attach (repeatable)")
	cmd.Flags().StringVar(&mimeType, "mime", "", "MIME type of the attachments")

	return cmd
}

// NewEditCommand creates the edit command.
func NewEditCommand(rootOpts *RootOptions) *cobra.Command {
	var submitOpt *SubmitOptions

	cmd := &cobra.Command{
		Use:   "edit <chat-id> <message-id> <text>...",
		Short: "Edit a message",
		Long: `Replace the text of a message. The previous text is restored if the
server rejects the edit.

Example:
  inflight edit 5 101 fixed typo`,
		Args:          cobra.MinimumNArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			chatID, messageID, err := parseMessageArgs(args)
			if err != nil {
				return err
			}
			return runSubmit(submitOpt, cmd, txn.NewEditMessage(chatID, messageID, strings.Join(args[2:], " ")))
		},
	}

	submitOpt = newSubmitOptions(rootOpts, cmd)
	return cmd
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	var submitOpt *SubmitOptions

	cmd := &cobra.Command{
		Use:   "delete <chat-id> <message-id>...",
		Short: "Delete messages",
		Long: `Delete one or more messages of a chat. The rows disappear locally at
once and are not restored if the server rejects the delete.

Example:
  inflight delete 5 101 102`,
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			chatID, err := parseID("chat id", args[0])
			if err != nil {
				return err
			}
			ids := make([]int64, 0, len(args)-1)
			for _, arg := range args[1:] {
				id, err := parseID("message id", arg)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			return runSubmit(submitOpt, cmd, txn.NewDeleteMessages(chatID, ids...))
		},
	}

	submitOpt = newSubmitOptions(rootOpts, cmd)
	return cmd
}

// NewReactCommand creates the react command.
func NewReactCommand(rootOpts *RootOptions) *cobra.Command {
	var submitOpt *SubmitOptions

	cmd := &cobra.Command{
		Use:   "react <chat-id> <message-id> <emoji>",
		Short: "Add a reaction",
		Long: `Add an emoji reaction to a message.

Example:
  inflight react 5 101 👍`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			chatID, messageID, err := parseMessageArgs(args)
			if err != nil {
				return err
			}
			return runSubmit(submitOpt, cmd, txn.NewAddReaction(chatID, messageID, args[2]))
		},
	}

	submitOpt = newSubmitOptions(rootOpts, cmd)
	return cmd
}

// NewUnreactCommand creates the unreact command.
func NewUnreactCommand(rootOpts *RootOptions) *cobra.Command {
	var submitOpt *SubmitOptions

	cmd := &cobra.Command{
		Use:   "unreact <chat-id> <message-id> <emoji>",
		Short: "Remove a reaction",
		Long: `Remove your emoji reaction from a message.

Example:
  inflight unreact 5 101 👍`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			chatID, messageID, err := parseMessageArgs(args)
			if err != nil {
				return err
			}
			return runSubmit(submitOpt, cmd, txn.NewDeleteReaction(chatID, messageID, args[2]))
		},
	}

	submitOpt = newSubmitOptions(rootOpts, cmd)
	return cmd
}

// NewCreateChatCommand creates the create-chat command.
func NewCreateChatCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		emoji        string
		public       bool
		spaceID      int64
		participants []int64
		submitOpt    *SubmitOptions
	)

	cmd := &cobra.Command{
		Use:   "create-chat <title>...",
		Short: "Create a chat",
		Long: `Create a chat on the server. Nothing is stored locally until the
server confirms it.

Example:
  inflight create-chat Weekend plans --emoji 🌴 --participant 2 --participant 3`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			tx := txn.NewCreateChat(strings.Join(args, " "))
			tx.Emoji = emoji
			tx.IsPublic = public
			tx.SpaceID = spaceID
			tx.Participants = participants
			return runSubmit(submitOpt, cmd, tx)
		},
	}

	submitOpt = newSubmitOptions(rootOpts, cmd)
	cmd.Flags().StringVar(&emoji, "emoji", "", "chat emoji")
	cmd.Flags().BoolVar(&public, "public", false, "make the chat public")
	cmd.Flags().Int64Var(&spaceID, "space", 0, "space the chat belongs to")
	cmd.Flags().Int64SliceVar(&participants, "participant", nil, "participant user id (repeatable)")

	return cmd
}

func parseMessageArgs(args []string) (chatID, messageID int64, err error) {
	if chatID, err = parseID("chat id", args[0]); err != nil {
		return 0, 0, err
	}
	if messageID, err = parseID("message id", args[1]); err != nil {
		return 0, 0, err
	}
	return chatID, messageID, nil
}

// runSubmit resumes whatever is already pending, submits tx, follows the push
// stream while waiting, and reports how tx resolved.
func runSubmit(opts *SubmitOptions, cmd *cobra.Command, tx txn.Transaction) error {
	a, logger, err := opts.openApp(cmd)
	if err != nil {
		return err
	}
	defer closeApp(a, logger)

	f := opts.formatter(cmd)
	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	// Resume first so earlier transactions keep their place in line.
	resumed, err := a.Queue.Resume(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to resume pending transactions", err)
	}
	if resumed > 0 {
		f.VerboseLog("resumed %d pending transaction(s)", resumed)
	}

	h, err := a.Submit(ctx, tx)
	if err != nil {
		if errors.Is(err, txn.ErrInvalid) || errors.Is(err, store.ErrNotFound) {
			_ = f.Error(CodeInvalid, err.Error(), nil)
			return WrapExitError(ExitCommandError, "transaction rejected", err)
		}
		_ = f.Error(CodeInternal, err.Error(), nil)
		return WrapExitError(ExitFailure, "failed to submit transaction", err)
	}
	f.VerboseLog("submitted %s %s", tx.Kind(), h.ID())

	runDone := make(chan error, 1)
	go func() {
		runDone <- a.Run(ctx)
	}()

	waitCtx, stop := context.WithTimeout(ctx, opts.Timeout)
	status, waitErr := h.Wait(waitCtx)
	stop()

	cancel()
	if err := <-runDone; err != nil && !errors.Is(err, app.ErrUpdatesClosed) {
		logger.Warn("push stream stopped", "error", err)
	}

	result := SubmitResult{ID: h.ID(), Kind: tx.Kind(), Status: status.String()}

	if waitErr != nil {
		result.Error = waitErr.Error()
		_ = f.Error(CodeTimeout, "transaction still pending", result)
		return WrapExitError(ExitFailure, "transaction still pending", waitErr)
	}

	switch status {
	case queue.StatusSucceeded:
		if send, ok := tx.(*txn.SendMessage); ok {
			if msg, err := a.Store.MessageByRandomID(commandContext(cmd), send.RandomID); err == nil {
				result.Message = &msg
			}
		}
		return f.Success(result)
	default:
		if err := h.Err(); err != nil {
			result.Error = err.Error()
		}
		_ = f.Error(CodeFailed, "transaction "+status.String(), result)
		return WrapExitError(ExitFailure, "transaction "+status.String(), h.Err())
	}
}
