package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/inflight/internal/model"
	"github.com/roach88/inflight/internal/realtime"
)

// FakeServer answers every RPC the engine issues with the deltas a real
// server would return. Sends are deduplicated by random id, the way the
// server's uniqueness constraint does it, so a resent message keeps its id.
type FakeServer struct {
	mu            sync.Mutex
	userID        int64
	now           func() time.Time
	nextMessageID int64
	nextChatID    int64
	nextFileID    int64
	sent          map[int64]int64
}

// NewFakeServer creates a server acting for userID. Message ids start at 100,
// chat ids at 500 and file ids at 900.
func NewFakeServer(userID int64, now func() time.Time) *FakeServer {
	return &FakeServer{
		userID:        userID,
		now:           now,
		nextMessageID: 100,
		nextChatID:    500,
		nextFileID:    900,
		sent:          make(map[int64]int64),
	}
}

var serverMethods = []realtime.Method{
	realtime.MethodSendMessage,
	realtime.MethodEditMessage,
	realtime.MethodDeleteMessages,
	realtime.MethodAddReaction,
	realtime.MethodDeleteReaction,
	realtime.MethodCreateChat,
	realtime.MethodUploadFile,
}

// Install registers the server's handlers on ch.
func (s *FakeServer) Install(ch *FakeChannel) {
	for _, m := range serverMethods {
		ch.Handle(m, s.Handler(m))
	}
}

// Handler returns the server's handler for method, or nil.
func (s *FakeServer) Handler(method realtime.Method) Handler {
	switch method {
	case realtime.MethodSendMessage:
		return s.sendMessage
	case realtime.MethodEditMessage:
		return s.editMessage
	case realtime.MethodDeleteMessages:
		return s.deleteMessages
	case realtime.MethodAddReaction:
		return s.addReaction
	case realtime.MethodDeleteReaction:
		return s.deleteReaction
	case realtime.MethodCreateChat:
		return s.createChat
	case realtime.MethodUploadFile:
		return s.uploadFile
	}
	return nil
}

// MessageIDFor returns the id the server assigned to a random id.
func (s *FakeServer) MessageIDFor(randomID int64) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.sent[randomID]
	return id, ok
}

func batch(updates ...model.Update) realtime.Result {
	return realtime.Result{Batch: model.UpdateBatch{Updates: updates}}
}

func (s *FakeServer) sendMessage(_ context.Context, input any) (realtime.Result, error) {
	in, ok := input.(realtime.SendMessageInput)
	if !ok {
		return realtime.Result{}, fmt.Errorf("sendMessage: unexpected input %T", input)
	}

	s.mu.Lock()
	id, seen := s.sent[in.RandomID]
	if !seen {
		id = s.nextMessageID
		s.nextMessageID++
		s.sent[in.RandomID] = id
	}
	s.mu.Unlock()

	msg := model.Message{
		ChatID:       in.ChatID,
		MessageID:    id,
		RandomID:     model.Int64(in.RandomID),
		FromID:       s.userID,
		Text:         in.Text,
		Date:         s.now(),
		Status:       model.MessageSent,
		Out:          true,
		ReplyToMsgID: in.ReplyToMsgID,
		IsSticker:    in.IsSticker,
	}
	if len(in.FileIDs) > 0 {
		msg.FileID = model.Int64(in.FileIDs[0])
	}
	return batch(
		model.MessageIDAssigned(in.ChatID, in.RandomID, id),
		model.NewMessageUpdate(msg),
	), nil
}

func (s *FakeServer) editMessage(_ context.Context, input any) (realtime.Result, error) {
	in, ok := input.(realtime.EditMessageInput)
	if !ok {
		return realtime.Result{}, fmt.Errorf("editMessage: unexpected input %T", input)
	}
	edited := s.now()
	return batch(model.EditMessageUpdate(model.Message{
		ChatID:    in.ChatID,
		MessageID: in.MessageID,
		Text:      in.Text,
		EditDate:  &edited,
	})), nil
}

func (s *FakeServer) deleteMessages(_ context.Context, input any) (realtime.Result, error) {
	in, ok := input.(realtime.DeleteMessagesInput)
	if !ok {
		return realtime.Result{}, fmt.Errorf("deleteMessages: unexpected input %T", input)
	}
	return batch(model.DeleteMessagesDelta(in.ChatID, in.MessageIDs...)), nil
}

func (s *FakeServer) reaction(input any) (model.Reaction, error) {
	in, ok := input.(realtime.ReactionInput)
	if !ok {
		return model.Reaction{}, fmt.Errorf("reaction: unexpected input %T", input)
	}
	return model.Reaction{
		ChatID:    in.ChatID,
		MessageID: in.MessageID,
		UserID:    s.userID,
		Emoji:     in.Emoji,
		Date:      s.now(),
	}, nil
}

func (s *FakeServer) addReaction(_ context.Context, input any) (realtime.Result, error) {
	r, err := s.reaction(input)
	if err != nil {
		return realtime.Result{}, err
	}
	return batch(model.ReactionAdded(r)), nil
}

func (s *FakeServer) deleteReaction(_ context.Context, input any) (realtime.Result, error) {
	r, err := s.reaction(input)
	if err != nil {
		return realtime.Result{}, err
	}
	return batch(model.ReactionDeleted(r)), nil
}

func (s *FakeServer) createChat(_ context.Context, input any) (realtime.Result, error) {
	in, ok := input.(realtime.CreateChatInput)
	if !ok {
		return realtime.Result{}, fmt.Errorf("createChat: unexpected input %T", input)
	}

	s.mu.Lock()
	id := s.nextChatID
	s.nextChatID++
	s.mu.Unlock()

	return batch(model.NewChatUpdate(model.Chat{
		ID:       id,
		Title:    in.Title,
		Emoji:    in.Emoji,
		IsPublic: in.IsPublic,
		SpaceID:  in.SpaceID,
		Date:     s.now(),
	})), nil
}

func (s *FakeServer) uploadFile(_ context.Context, input any) (realtime.Result, error) {
	if _, ok := input.(realtime.UploadFileInput); !ok {
		return realtime.Result{}, fmt.Errorf("uploadFile: unexpected input %T", input)
	}

	s.mu.Lock()
	id := s.nextFileID
	s.nextFileID++
	s.mu.Unlock()

	return realtime.Result{FileID: id}, nil
}
