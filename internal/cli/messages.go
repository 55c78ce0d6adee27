package cli

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/inflight/internal/model"
	"github.com/roach88/inflight/internal/store"
)

// ChatMessage is a message together with its reactions.
type ChatMessage struct {
	model.Message
	Reactions []model.Reaction `json:"reactions,omitempty"`
}

// ChatView is the result of `inflight messages`. Chat is nil when the chat
// row is not known locally (messages may still exist for it).
type ChatView struct {
	ChatID   int64         `json:"chat_id"`
	Chat     *model.Chat   `json:"chat,omitempty"`
	Messages []ChatMessage `json:"messages"`
}

func (v ChatView) WriteText(w io.Writer) {
	if v.Chat != nil {
		last := "none"
		if v.Chat.LastMsgID != nil {
			last = strconv.FormatInt(*v.Chat.LastMsgID, 10)
		}
		fmt.Fprintf(w, "Chat %d %q (last message: %s)\n", v.ChatID, v.Chat.Title, last)
	} else {
		fmt.Fprintf(w, "Chat %d (not known locally)\n", v.ChatID)
	}
	if len(v.Messages) == 0 {
		fmt.Fprintln(w, "No messages.")
		return
	}
	for _, m := range v.Messages {
		edited := ""
		if m.EditDate != nil {
			edited = " (edited)"
		}
		fmt.Fprintf(w, "%6d  %-7s  %s%s\n", m.MessageID, m.Status, m.Text, edited)
		if len(m.Reactions) > 0 {
			emoji := make([]string, 0, len(m.Reactions))
			for _, r := range m.Reactions {
				emoji = append(emoji, fmt.Sprintf("%s by %d", r.Emoji, r.UserID))
			}
			fmt.Fprintf(w, "        reactions: %s\n", strings.Join(emoji, ", "))
		}
	}
}

// NewMessagesCommand creates the messages command.
func NewMessagesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "messages <chat-id>",
		Short: "Show the local messages of a chat",
		Long: `Print the locally stored messages of a chat, including rows that are
still sending or failed, with their reactions.

Example:
  inflight messages 5 --db ./inflight.db
  inflight messages 5 --db ./inflight.db --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			chatID, err := parseID("chat id", args[0])
			if err != nil {
				return err
			}
			return runMessages(rootOpts, cmd, chatID)
		},
	}
	return cmd
}

func runMessages(opts *RootOptions, cmd *cobra.Command, chatID int64) error {
	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := commandContext(cmd)
	view := ChatView{ChatID: chatID, Messages: []ChatMessage{}}

	chat, err := st.Chat(ctx, chatID)
	switch {
	case err == nil:
		view.Chat = &chat
	case !errors.Is(err, store.ErrNotFound):
		return WrapExitError(ExitCommandError, "failed to read chat", err)
	}

	messages, err := st.Messages(ctx, chatID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read messages", err)
	}
	for _, m := range messages {
		reactions, err := st.Reactions(ctx, chatID, m.MessageID)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read reactions", err)
		}
		view.Messages = append(view.Messages, ChatMessage{Message: m, Reactions: reactions})
	}

	return opts.formatter(cmd).Success(view)
}

// parseID parses a positive integer argument.
func parseID(what, arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, NewExitError(ExitCommandError, fmt.Sprintf("invalid %s %q", what, arg))
	}
	return id, nil
}
