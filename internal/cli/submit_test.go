package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/inflight/internal/model"
	"github.com/roach88/inflight/internal/queue"
	"github.com/roach88/inflight/internal/realtime"
	"github.com/roach88/inflight/internal/store"
	"github.com/roach88/inflight/internal/txerr"
)

func TestSend_Succeeds(t *testing.T) {
	env := newCLIEnv(t)
	env.seedChat(t)
	opts := env.options("text")
	opts.IDGenerator = queue.NewFixedGenerator("tx-send")

	out, err := execute(t, NewSendCommand, opts, "5", "hello", "there")
	require.NoError(t, err)
	assert.Contains(t, out, "send_message tx-send: succeeded")
	assert.Contains(t, out, "message 5/100 (sent): hello there")

	calls := env.ch.CallsTo(realtime.MethodSendMessage)
	require.Len(t, calls, 1)
	in := calls[0].Input.(realtime.SendMessageInput)
	assert.Equal(t, "hello there", in.Text)
}

func TestSend_JSON(t *testing.T) {
	env := newCLIEnv(t)
	env.seedChat(t)
	opts := env.options("json")
	opts.IDGenerator = queue.NewFixedGenerator("tx-json")

	out, err := execute(t, NewSendCommand, opts, "5", "hi")
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   SubmitResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "tx-json", resp.Data.ID)
	assert.Equal(t, "succeeded", resp.Data.Status)
	require.NotNil(t, resp.Data.Message)
	assert.Equal(t, int64(100), resp.Data.Message.MessageID)
	assert.Equal(t, model.MessageSent, resp.Data.Message.Status)
}

func TestSend_ReplyTo(t *testing.T) {
	env := newCLIEnv(t)
	env.seedChat(t)

	_, err := execute(t, NewSendCommand, env.options("text"), "5", "ok", "--reply-to", "42")
	require.NoError(t, err)

	calls := env.ch.CallsTo(realtime.MethodSendMessage)
	require.Len(t, calls, 1)
	in := calls[0].Input.(realtime.SendMessageInput)
	require.NotNil(t, in.ReplyToMsgID)
	assert.Equal(t, int64(42), *in.ReplyToMsgID)
}

func TestSend_EmptyTextIsRejected(t *testing.T) {
	env := newCLIEnv(t)
	env.seedChat(t)

	out, err := execute(t, NewSendCommand, env.options("text"), "5")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, CodeInvalid)
	assert.Empty(t, env.ch.Calls())
}

func TestSend_BadChatID(t *testing.T) {
	env := newCLIEnv(t)

	_, err := execute(t, NewSendCommand, env.options("text"), "general", "hi")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `invalid chat id "general"`)
}

func TestSend_PermanentFailure(t *testing.T) {
	env := newCLIEnv(t)
	env.seedChat(t)
	env.ch.FailNext(realtime.MethodSendMessage, txerr.FromCode(403, "forbidden"))

	out, err := execute(t, NewSendCommand, env.options("text"), "5", "nope")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, CodeFailed)
	assert.Contains(t, out, "permission error 403: forbidden")

	st, err := store.Open(env.db)
	require.NoError(t, err)
	defer st.Close()
	messages, err := st.Messages(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, model.MessageFailed, messages[0].Status)

	pending, err := st.LoadPending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSend_OfflineStaysPendingAndResumes(t *testing.T) {
	env := newCLIEnv(t)
	env.seedChat(t)
	env.ch.SetOffline(true)

	opts := env.options("text")
	opts.IDGenerator = queue.NewFixedGenerator("tx-offline")
	out, err := execute(t, NewSendCommand, opts, "5", "first", "--timeout", "200ms")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, CodeTimeout)

	out, err = execute(t, NewPendingCommand, env.options("text"))
	require.NoError(t, err)
	assert.Contains(t, out, "tx-offline")
	assert.Contains(t, out, "send_message")

	env.ch.SetOffline(false)
	opts = env.options("text")
	opts.IDGenerator = queue.NewFixedGenerator("tx-online")
	out, err = execute(t, NewSendCommand, opts, "5", "second")
	require.NoError(t, err)
	assert.Contains(t, out, "tx-online: succeeded")

	st, err := store.Open(env.db)
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	first, err := st.Message(ctx, 5, 100)
	require.NoError(t, err)
	assert.Equal(t, "first", first.Text, "the resumed send keeps its place in line")
	assert.Equal(t, model.MessageSent, first.Status)

	second, err := st.Message(ctx, 5, 101)
	require.NoError(t, err)
	assert.Equal(t, "second", second.Text)

	pending, err := st.LoadPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestEdit_Succeeds(t *testing.T) {
	env := newCLIEnv(t)
	env.seedChat(t)
	env.seedMessage(t, 7, "typo")

	out, err := execute(t, NewEditCommand, env.options("text"), "5", "7", "fixed", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "edit_message")
	assert.Contains(t, out, "succeeded")

	st, err := store.Open(env.db)
	require.NoError(t, err)
	defer st.Close()
	msg, err := st.Message(context.Background(), 5, 7)
	require.NoError(t, err)
	assert.Equal(t, "fixed text", msg.Text)
	assert.NotNil(t, msg.EditDate)
}

func TestEdit_UnknownMessageIsRejected(t *testing.T) {
	env := newCLIEnv(t)
	env.seedChat(t)

	_, err := execute(t, NewEditCommand, env.options("text"), "5", "7", "text")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Empty(t, env.ch.CallsTo(realtime.MethodEditMessage))
}

func TestEdit_FailureRestoresText(t *testing.T) {
	env := newCLIEnv(t)
	env.seedChat(t)
	env.seedMessage(t, 7, "original")
	env.ch.FailNext(realtime.MethodEditMessage, txerr.FromCode(403, "forbidden"))

	_, err := execute(t, NewEditCommand, env.options("text"), "5", "7", "changed")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	st, err := store.Open(env.db)
	require.NoError(t, err)
	defer st.Close()
	msg, err := st.Message(context.Background(), 5, 7)
	require.NoError(t, err)
	assert.Equal(t, "original", msg.Text)
}

func TestDelete_Succeeds(t *testing.T) {
	env := newCLIEnv(t)
	env.seedChat(t)
	env.seedMessage(t, 7, "a")
	env.seedMessage(t, 8, "b")

	_, err := execute(t, NewDeleteCommand, env.options("text"), "5", "7", "8")
	require.NoError(t, err)

	calls := env.ch.CallsTo(realtime.MethodDeleteMessages)
	require.Len(t, calls, 1)
	assert.Equal(t, []int64{7, 8}, calls[0].Input.(realtime.DeleteMessagesInput).MessageIDs)

	st, err := store.Open(env.db)
	require.NoError(t, err)
	defer st.Close()
	messages, err := st.Messages(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestDelete_BadMessageID(t *testing.T) {
	env := newCLIEnv(t)

	_, err := execute(t, NewDeleteCommand, env.options("text"), "5", "7", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid message id "x"`)
}

func TestReactThenUnreact(t *testing.T) {
	env := newCLIEnv(t)
	env.seedChat(t)
	env.seedMessage(t, 7, "nice")

	_, err := execute(t, NewReactCommand, env.options("text"), "5", "7", "x")
	require.NoError(t, err)

	out, err := execute(t, NewMessagesCommand, env.options("text"), "5")
	require.NoError(t, err)
	assert.Contains(t, out, "reactions: x by 10")

	_, err = execute(t, NewUnreactCommand, env.options("text"), "5", "7", "x")
	require.NoError(t, err)

	out, err = execute(t, NewMessagesCommand, env.options("text"), "5")
	require.NoError(t, err)
	assert.NotContains(t, out, "reactions:")

	assert.Len(t, env.ch.CallsTo(realtime.MethodAddReaction), 1)
	assert.Len(t, env.ch.CallsTo(realtime.MethodDeleteReaction), 1)
}

func TestCreateChat_StoresConfirmedChat(t *testing.T) {
	env := newCLIEnv(t)

	out, err := execute(t, NewCreateChatCommand, env.options("text"),
		"Weekend", "plans", "--emoji", "x", "--participant", "2", "--participant", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "create_chat")

	calls := env.ch.CallsTo(realtime.MethodCreateChat)
	require.Len(t, calls, 1)
	in := calls[0].Input.(realtime.CreateChatInput)
	assert.Equal(t, "Weekend plans", in.Title)

	st, err := store.Open(env.db)
	require.NoError(t, err)
	defer st.Close()
	chat, err := st.Chat(context.Background(), 500)
	require.NoError(t, err)
	assert.Equal(t, "Weekend plans", chat.Title)
	assert.Equal(t, "x", chat.Emoji)
}

func TestSubmitResult_WriteText(t *testing.T) {
	var buf bytes.Buffer
	SubmitResult{ID: "tx-1", Kind: "send_message", Status: "failed", Error: "boom"}.WriteText(&buf)
	assert.Contains(t, buf.String(), "send_message tx-1: failed")
	assert.Contains(t, buf.String(), "error: boom")
}
