package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/inflight/internal/config"
	"github.com/roach88/inflight/internal/model"
	"github.com/roach88/inflight/internal/realtime"
	"github.com/roach88/inflight/internal/store"
	"github.com/roach88/inflight/internal/testutil"
)

const cliUser = int64(10)

// cliEnv is a database file plus a scripted server shared by several
// command invocations.
type cliEnv struct {
	db  string
	ch  *testutil.FakeChannel
	srv *testutil.FakeServer
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	ch := testutil.NewFakeChannel()
	srv := testutil.NewFakeServer(cliUser, testutil.NewManualClock(testutil.DefaultTime).Now)
	srv.Install(ch)
	return &cliEnv{
		db:  filepath.Join(t.TempDir(), "inflight.db"),
		ch:  ch,
		srv: srv,
	}
}

func (e *cliEnv) dial(config.Realtime, *slog.Logger) (realtime.Channel, io.Closer, error) {
	return e.ch, nil, nil
}

func (e *cliEnv) options(format string) *RootOptions {
	return &RootOptions{
		Format:   format,
		Database: e.db,
		UserID:   cliUser,
		Dial:     e.dial,
		Now:      func() time.Time { return testutil.DefaultTime },
	}
}

// seed writes directly to the database between invocations.
func (e *cliEnv) seed(t *testing.T, fn func(tx *store.Tx) error) {
	t.Helper()
	st, err := store.Open(e.db)
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.Write(context.Background(), fn))
}

func (e *cliEnv) seedChat(t *testing.T) {
	t.Helper()
	e.seed(t, func(tx *store.Tx) error {
		return tx.UpsertChat(model.Chat{ID: 5, Title: "general", Date: testutil.DefaultTime})
	})
}

func (e *cliEnv) seedMessage(t *testing.T, id int64, text string) {
	t.Helper()
	e.seed(t, func(tx *store.Tx) error {
		_, err := tx.InsertMessage(model.Message{
			ChatID:    5,
			MessageID: id,
			FromID:    cliUser,
			Text:      text,
			Date:      testutil.DefaultTime,
			Status:    model.MessageSent,
			Out:       true,
		})
		return err
	})
}

// execute runs the command built by newCmd with opts and returns stdout.
func execute(t *testing.T, newCmd func(*RootOptions) *cobra.Command, opts *RootOptions, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := newCmd(opts)
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	if args == nil {
		args = []string{}
	}
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRun_AppliesPushesUntilStreamCloses(t *testing.T) {
	env := newCLIEnv(t)
	env.ch.Push(model.UpdateBatch{Updates: []model.Update{
		model.NewChatUpdate(model.Chat{ID: 77, Title: "from push", Date: testutil.DefaultTime}),
	}})
	env.ch.CloseUpdates()

	out, err := execute(t, NewRunCommand, env.options("text"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "connection lost")
	assert.Contains(t, out, "Listening for updates")
	assert.Contains(t, out, "chat:77/77 (reconcile)")

	st, err := store.Open(env.db)
	require.NoError(t, err)
	defer st.Close()
	chat, err := st.Chat(context.Background(), 77)
	require.NoError(t, err)
	assert.Equal(t, "from push", chat.Title)
}

func TestRun_JSONEvents(t *testing.T) {
	env := newCLIEnv(t)
	env.ch.Push(model.UpdateBatch{Updates: []model.Update{
		model.NewChatUpdate(model.Chat{ID: 78, Title: "json", Date: testutil.DefaultTime}),
	}})
	env.ch.CloseUpdates()

	out, err := execute(t, NewRunCommand, env.options("json"))
	require.Error(t, err)
	assert.NotContains(t, out, "Listening for updates")
	assert.Contains(t, out, `"reconcile"`)
}

func TestRun_StopsWhenContextEnds(t *testing.T) {
	env := newCLIEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(200*time.Millisecond, cancel)

	cmd := NewRunCommand(env.options("text"))
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{})

	require.NoError(t, cmd.ExecuteContext(ctx))
}

func TestRun_DialError(t *testing.T) {
	env := newCLIEnv(t)
	opts := env.options("text")
	opts.Dial = func(config.Realtime, *slog.Logger) (realtime.Channel, io.Closer, error) {
		return nil, nil, assert.AnError
	}

	_, err := execute(t, NewRunCommand, opts)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to start")
}

func TestRun_NoDialer(t *testing.T) {
	env := newCLIEnv(t)
	opts := env.options("text")
	opts.Dial = nil

	_, err := execute(t, NewRunCommand, opts)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
