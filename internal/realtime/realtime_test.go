package realtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/inflight/internal/model"
	"github.com/roach88/inflight/internal/txerr"
)

// stubChannel returns queued errors in order, then succeeds.
type stubChannel struct {
	mu      sync.Mutex
	errs    []error
	result  Result
	calls   []Method
	inputs  []any
	updates chan model.UpdateBatch
}

func (s *stubChannel) Invoke(_ context.Context, method Method, input any) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, method)
	s.inputs = append(s.inputs, input)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return Result{}, err
	}
	return s.result, nil
}

func (s *stubChannel) Updates() <-chan model.UpdateBatch {
	return s.updates
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFrame_RequestInputRoundTrip(t *testing.T) {
	in := SendMessageInput{
		ChatID:       5,
		RandomID:     9001,
		Text:         "hi",
		ReplyToMsgID: model.Int64(3),
		FileIDs:      []int64{11, 12},
	}

	req, err := NewRequest(7, MethodSendMessage, in)
	require.NoError(t, err)

	data, err := EncodeFrame(req)
	require.NoError(t, err)

	got, err := DecodeFrame(data)
	require.NoError(t, err)
	assert.Equal(t, FrameRequest, got.Type)
	assert.Equal(t, uint64(7), got.ID)
	assert.Equal(t, MethodSendMessage, got.Method)

	var decoded SendMessageInput
	require.NoError(t, got.DecodeInput(&decoded))
	assert.Equal(t, in, decoded)
}

func TestFrame_ResponseErrorMapsToTaxonomy(t *testing.T) {
	tests := []struct {
		name  string
		code  txerr.Code
		check func(error) bool
	}{
		{"bad request", txerr.CodeBadRequest, txerr.IsPermission},
		{"unauthorized", txerr.CodeUnauthorized, txerr.IsPermission},
		{"conflict", txerr.CodeConflict, txerr.IsConflict},
		{"internal", txerr.CodeInternal, txerr.IsTransport},
		{"flood", txerr.CodeFlood, txerr.IsTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeFrame(Frame{
				Type:  FrameResponse,
				ID:    1,
				Error: &FrameError{Code: tt.code, Message: "nope"},
			})
			require.NoError(t, err)

			f, err := DecodeFrame(data)
			require.NoError(t, err)

			_, err = f.Outcome()
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error type %T", err)
		})
	}
}

func TestFrame_ResponseResult(t *testing.T) {
	date := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	batch := model.UpdateBatch{Updates: []model.Update{
		model.MessageIDAssigned(5, 9001, 100),
		model.NewMessageUpdate(model.Message{
			ChatID: 5, MessageID: 100, RandomID: model.Int64(9001),
			FromID: 10, Text: "hi", Date: date, Status: model.MessageSent, Out: true,
		}),
	}}

	data, err := EncodeFrame(Frame{Type: FrameResponse, ID: 3, Result: &Result{Batch: batch}})
	require.NoError(t, err)

	f, err := DecodeFrame(data)
	require.NoError(t, err)

	res, err := f.Outcome()
	require.NoError(t, err)
	require.Len(t, res.Batch.Updates, 2)

	assert.Equal(t, model.UpdateMessageID, res.Batch.Updates[0].Kind)
	assert.Equal(t, int64(100), res.Batch.Updates[0].MessageID.MessageID)

	msg := res.Batch.Updates[1].Message
	require.NotNil(t, msg)
	assert.Equal(t, "hi", msg.Text)
	assert.True(t, date.Equal(msg.Date))
	assert.Equal(t, int64(9001), *msg.RandomID)
}

func TestFrame_Push(t *testing.T) {
	batch := model.UpdateBatch{Updates: []model.Update{model.DeleteMessagesDelta(5, 1, 2)}}

	data, err := EncodeFrame(Frame{Type: FramePush, Batch: &batch})
	require.NoError(t, err)

	f, err := DecodeFrame(data)
	require.NoError(t, err)
	require.NotNil(t, f.Batch)
	assert.Equal(t, []int64{1, 2}, f.Batch.Updates[0].DeleteMessages.MessageIDs)
}

func TestDecodeFrame_Invalid(t *testing.T) {
	_, err := DecodeFrame([]byte{0xc1})
	assert.Error(t, err)

	data, err := EncodeFrame(Frame{Type: "bogus"})
	require.NoError(t, err)
	_, err = DecodeFrame(data)
	assert.ErrorContains(t, err, "unknown type")
}

func TestBreaker_TripsOnTransportFailures(t *testing.T) {
	stub := &stubChannel{errs: []error{
		txerr.Transport(txerr.CodeUnavailable, "down"),
		txerr.Transport(txerr.CodeUnavailable, "down"),
	}}
	b := NewBreaker(stub, BreakerSettings{
		MaxRequests:         1,
		Timeout:             time.Hour,
		ConsecutiveFailures: 2,
	}, WithBreakerLogger(quietLogger()))

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := b.Invoke(ctx, MethodEditMessage, EditMessageInput{})
		require.Error(t, err)
	}
	assert.Equal(t, "open", b.State())

	_, err := b.Invoke(ctx, MethodEditMessage, EditMessageInput{})
	require.Error(t, err)
	assert.True(t, txerr.IsTransport(err))
	assert.False(t, txerr.IsTerminal(err), "open breaker must be retryable")
	assert.Len(t, stub.calls, 2, "open breaker must not reach the channel")
}

func TestBreaker_IgnoresRejections(t *testing.T) {
	stub := &stubChannel{errs: []error{
		txerr.FromCode(txerr.CodeBadRequest, "bad"),
		txerr.FromCode(txerr.CodeBadRequest, "bad"),
		txerr.FromCode(txerr.CodeConflict, "dup"),
	}}
	b := NewBreaker(stub, BreakerSettings{ConsecutiveFailures: 2, Timeout: time.Hour},
		WithBreakerLogger(quietLogger()))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := b.Invoke(ctx, MethodAddReaction, ReactionInput{})
		require.Error(t, err)
		assert.True(t, txerr.IsTerminal(err))
	}
	assert.Equal(t, "closed", b.State())

	_, err := b.Invoke(ctx, MethodAddReaction, ReactionInput{})
	assert.NoError(t, err)
}

func TestBreaker_PassesResultAndUpdates(t *testing.T) {
	updates := make(chan model.UpdateBatch)
	stub := &stubChannel{result: Result{FileID: 42}, updates: updates}
	b := NewBreaker(stub, DefaultBreakerSettings(), WithBreakerLogger(quietLogger()))

	res, err := b.Invoke(context.Background(), MethodUploadFile, UploadFileInput{})
	require.NoError(t, err)
	assert.Equal(t, int64(42), res.FileID)
	assert.Equal(t, (<-chan model.UpdateBatch)(updates), b.Updates())
}

func TestFileUploader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "photo.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpeg"), 0o600))

	stub := &stubChannel{result: Result{FileID: 77}}
	id, err := FileUploader{Channel: stub}.Upload(context.Background(), path, "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, int64(77), id)

	require.Len(t, stub.inputs, 1)
	in := stub.inputs[0].(UploadFileInput)
	assert.Equal(t, "photo.jpg", in.Name)
	assert.Equal(t, "image/jpeg", in.MimeType)
	assert.Equal(t, []byte("jpeg"), in.Data)
}

func TestFileUploader_MissingFileIsTerminal(t *testing.T) {
	stub := &stubChannel{}
	_, err := FileUploader{Channel: stub}.Upload(context.Background(),
		filepath.Join(t.TempDir(), "missing"), "")
	require.Error(t, err)
	assert.True(t, txerr.IsTerminal(err))
	assert.Empty(t, stub.calls)
}

func TestFileUploader_PropagatesTransportError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.bin")
	require.NoError(t, os.WriteFile(path, []byte{1}, 0o600))

	want := txerr.Transport(txerr.CodeUnavailable, "down")
	stub := &stubChannel{errs: []error{want}}
	_, err := FileUploader{Channel: stub}.Upload(context.Background(), path, "")

	var te *txerr.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, txerr.CodeUnavailable, te.Code)
}
