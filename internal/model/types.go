package model

import (
	"fmt"
	"time"
)

// MessageStatus is the delivery state of a locally stored message.
type MessageStatus string

const (
	// MessageSending marks an optimistic row that has not been confirmed.
	MessageSending MessageStatus = "sending"
	// MessageSent marks a row confirmed by the server.
	MessageSent MessageStatus = "sent"
	// MessageFailed marks an optimistic row whose send exhausted its retries.
	// The row is kept so the user can resend it manually.
	MessageFailed MessageStatus = "failed"
)

// IsValid reports whether the status is a known delivery state.
func (s MessageStatus) IsValid() bool {
	switch s {
	case MessageSending, MessageSent, MessageFailed:
		return true
	default:
		return false
	}
}

// Chat is a conversation row.
type Chat struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Emoji     string    `json:"emoji,omitempty"`
	IsPublic  bool      `json:"is_public"`
	SpaceID   int64     `json:"space_id,omitempty"`
	LastMsgID *int64    `json:"last_msg_id,omitempty"`
	Date      time.Time `json:"date"`
}

// Message is a chat message row.
type Message struct {
	ChatID        int64         `json:"chat_id"`
	MessageID     int64         `json:"message_id"`
	RandomID      *int64        `json:"random_id,omitempty"`
	FromID        int64         `json:"from_id"`
	Text          string        `json:"text"`
	Date          time.Time     `json:"date"`
	EditDate      *time.Time    `json:"edit_date,omitempty"`
	Status        MessageStatus `json:"status"`
	Out           bool          `json:"out"`
	ReplyToMsgID  *int64        `json:"reply_to_msg_id,omitempty"`
	FileID        *int64        `json:"file_id,omitempty"`
	IsSticker     bool          `json:"is_sticker,omitempty"`
	TransactionID string        `json:"transaction_id,omitempty"`
}

// Ref returns the publisher reference of the message.
func (m Message) Ref() EntityRef {
	return EntityRef{Type: EntityMessage, ChatID: m.ChatID, ID: m.MessageID}
}

// Reaction is a single user's emoji on a message.
type Reaction struct {
	ChatID    int64     `json:"chat_id"`
	MessageID int64     `json:"message_id"`
	UserID    int64     `json:"user_id"`
	Emoji     string    `json:"emoji"`
	Date      time.Time `json:"date"`
}

// Key returns the uniqueness key of the reaction.
func (r Reaction) Key() ReactionKey {
	return ReactionKey{
		ChatID:    r.ChatID,
		MessageID: r.MessageID,
		UserID:    r.UserID,
		Emoji:     NormalizeEmoji(r.Emoji),
	}
}

// Ref returns the publisher reference of the reaction. Reactions are
// addressed through the message they belong to.
func (r Reaction) Ref() EntityRef {
	return EntityRef{Type: EntityReaction, ChatID: r.ChatID, ID: r.MessageID}
}

// ReactionKey identifies a reaction: one row per (message, user, emoji).
type ReactionKey struct {
	ChatID    int64  `json:"chat_id"`
	MessageID int64  `json:"message_id"`
	UserID    int64  `json:"user_id"`
	Emoji     string `json:"emoji"`
}

// EntityType names the kinds of rows observers are notified about.
type EntityType string

const (
	EntityChat     EntityType = "chat"
	EntityMessage  EntityType = "message"
	EntityReaction EntityType = "reaction"
)

// EntityRef points at a row for publisher notifications.
// For chats ChatID and ID are equal.
type EntityRef struct {
	Type   EntityType `json:"type"`
	ChatID int64      `json:"chat_id"`
	ID     int64      `json:"id"`
}

func (r EntityRef) String() string {
	return fmt.Sprintf("%s:%d/%d", r.Type, r.ChatID, r.ID)
}

// ChatRef returns the publisher reference of a chat.
func ChatRef(chatID int64) EntityRef {
	return EntityRef{Type: EntityChat, ChatID: chatID, ID: chatID}
}

// MessageRef returns the publisher reference of a message.
func MessageRef(chatID, messageID int64) EntityRef {
	return EntityRef{Type: EntityMessage, ChatID: chatID, ID: messageID}
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 {
	return &v
}
