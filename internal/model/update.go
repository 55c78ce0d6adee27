package model

import "fmt"

// UpdateKind distinguishes authoritative delta variants.
type UpdateKind string

const (
	// UpdateNewMessage upserts a message by its authoritative id.
	UpdateNewMessage UpdateKind = "new_message"
	// UpdateMessageID maps a correlation id to the authoritative message id.
	UpdateMessageID UpdateKind = "message_id"
	// UpdateEditMessage replaces the text of an existing message.
	UpdateEditMessage UpdateKind = "edit_message"
	// UpdateDeleteMessages removes messages from a chat.
	UpdateDeleteMessages UpdateKind = "delete_messages"
	// UpdateReaction adds a reaction.
	UpdateReaction UpdateKind = "reaction"
	// UpdateDeleteReaction removes a reaction.
	UpdateDeleteReaction UpdateKind = "delete_reaction"
	// UpdateNewChat upserts a chat.
	UpdateNewChat UpdateKind = "new_chat"
)

// Update is one authoritative delta. Exactly one payload field matching Kind
// is set.
type Update struct {
	Kind           UpdateKind            `json:"kind"`
	Message        *Message              `json:"message,omitempty"`
	MessageID      *MessageIDUpdate      `json:"message_id,omitempty"`
	DeleteMessages *DeleteMessagesUpdate `json:"delete_messages,omitempty"`
	Reaction       *Reaction             `json:"reaction,omitempty"`
	Chat           *Chat                 `json:"chat,omitempty"`
}

// MessageIDUpdate confirms an optimistic message.
type MessageIDUpdate struct {
	ChatID    int64 `json:"chat_id"`
	RandomID  int64 `json:"random_id"`
	MessageID int64 `json:"message_id"`
}

// DeleteMessagesUpdate lists messages the server removed from a chat.
type DeleteMessagesUpdate struct {
	ChatID     int64   `json:"chat_id"`
	MessageIDs []int64 `json:"message_ids"`
}

// UpdateBatch is an ordered sequence of deltas applied as one unit.
type UpdateBatch struct {
	Updates []Update `json:"updates"`
}

// Validate checks that the payload matching Kind is present.
func (u Update) Validate() error {
	var ok bool
	switch u.Kind {
	case UpdateNewMessage, UpdateEditMessage:
		ok = u.Message != nil
	case UpdateMessageID:
		ok = u.MessageID != nil
	case UpdateDeleteMessages:
		ok = u.DeleteMessages != nil
	case UpdateReaction, UpdateDeleteReaction:
		ok = u.Reaction != nil
	case UpdateNewChat:
		ok = u.Chat != nil
	default:
		return fmt.Errorf("unknown update kind %q", u.Kind)
	}
	if !ok {
		return fmt.Errorf("update %q missing payload", u.Kind)
	}
	return nil
}

// NewMessageUpdate builds an UpdateNewMessage delta.
func NewMessageUpdate(m Message) Update {
	return Update{Kind: UpdateNewMessage, Message: &m}
}

// MessageIDAssigned builds an UpdateMessageID delta.
func MessageIDAssigned(chatID, randomID, messageID int64) Update {
	return Update{Kind: UpdateMessageID, MessageID: &MessageIDUpdate{
		ChatID:    chatID,
		RandomID:  randomID,
		MessageID: messageID,
	}}
}

// EditMessageUpdate builds an UpdateEditMessage delta.
func EditMessageUpdate(m Message) Update {
	return Update{Kind: UpdateEditMessage, Message: &m}
}

// DeleteMessagesDelta builds an UpdateDeleteMessages delta.
func DeleteMessagesDelta(chatID int64, ids ...int64) Update {
	return Update{Kind: UpdateDeleteMessages, DeleteMessages: &DeleteMessagesUpdate{
		ChatID:     chatID,
		MessageIDs: ids,
	}}
}

// ReactionAdded builds an UpdateReaction delta.
func ReactionAdded(r Reaction) Update {
	return Update{Kind: UpdateReaction, Reaction: &r}
}

// ReactionDeleted builds an UpdateDeleteReaction delta.
func ReactionDeleted(r Reaction) Update {
	return Update{Kind: UpdateDeleteReaction, Reaction: &r}
}

// NewChatUpdate builds an UpdateNewChat delta.
func NewChatUpdate(c Chat) Update {
	return Update{Kind: UpdateNewChat, Chat: &c}
}
