package realtime

import (
	"context"

	"github.com/roach88/inflight/internal/model"
)

// Method names an RPC.
type Method string

const (
	MethodSendMessage    Method = "sendMessage"
	MethodEditMessage    Method = "editMessage"
	MethodDeleteMessages Method = "deleteMessages"
	MethodAddReaction    Method = "addReaction"
	MethodDeleteReaction Method = "deleteReaction"
	MethodCreateChat     Method = "createChat"
	MethodUploadFile     Method = "uploadFile"
)

// Channel is the remote side of the engine.
type Channel interface {
	// Invoke performs one RPC. It must honour ctx cancellation and return
	// errors from the txerr taxonomy.
	Invoke(ctx context.Context, method Method, input any) (Result, error)

	// Updates returns the push stream. The channel is closed when the
	// transport shuts down.
	Updates() <-chan model.UpdateBatch
}

// Result is the decoded response of an RPC.
type Result struct {
	// Batch holds the authoritative deltas the call produced. The same deltas
	// may also arrive on the push stream.
	Batch model.UpdateBatch `json:"batch"`

	// FileID is set by uploadFile.
	FileID int64 `json:"file_id,omitempty"`
}

// SendMessageInput is the sendMessage payload.
type SendMessageInput struct {
	ChatID       int64   `json:"chat_id"`
	RandomID     int64   `json:"random_id"`
	Text         string  `json:"text"`
	ReplyToMsgID *int64  `json:"reply_to_msg_id,omitempty"`
	FileIDs      []int64 `json:"file_ids,omitempty"`
	IsSticker    bool    `json:"is_sticker,omitempty"`
}

// EditMessageInput is the editMessage payload.
type EditMessageInput struct {
	ChatID    int64  `json:"chat_id"`
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
}

// DeleteMessagesInput is the deleteMessages payload.
type DeleteMessagesInput struct {
	ChatID     int64   `json:"chat_id"`
	MessageIDs []int64 `json:"message_ids"`
}

// ReactionInput is the addReaction and deleteReaction payload.
type ReactionInput struct {
	ChatID    int64  `json:"chat_id"`
	MessageID int64  `json:"message_id"`
	Emoji     string `json:"emoji"`
}

// CreateChatInput is the createChat payload.
type CreateChatInput struct {
	Title        string  `json:"title"`
	Emoji        string  `json:"emoji,omitempty"`
	IsPublic     bool    `json:"is_public"`
	SpaceID      int64   `json:"space_id,omitempty"`
	Participants []int64 `json:"participants,omitempty"`
}

// UploadFileInput is the uploadFile payload.
type UploadFileInput struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type,omitempty"`
	Data     []byte `json:"data"`
}
