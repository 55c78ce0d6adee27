package store

import (
	"context"
	"fmt"

	"github.com/roach88/inflight/internal/model"
)

// Chat reads a chat outside of a write scope.
// Returns ErrNotFound if the chat does not exist.
func (s *Store) Chat(ctx context.Context, id int64) (model.Chat, error) {
	var (
		chat  model.Chat
		found bool
	)
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		chat, found, err = tx.Chat(id)
		return err
	})
	if err != nil {
		return model.Chat{}, err
	}
	if !found {
		return model.Chat{}, fmt.Errorf("chat %d: %w", id, ErrNotFound)
	}
	return chat, nil
}

// Message reads a message outside of a write scope.
// Returns ErrNotFound if the message does not exist.
func (s *Store) Message(ctx context.Context, chatID, messageID int64) (model.Message, error) {
	var (
		msg   model.Message
		found bool
	)
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		msg, found, err = tx.Message(chatID, messageID)
		return err
	})
	if err != nil {
		return model.Message{}, err
	}
	if !found {
		return model.Message{}, fmt.Errorf("message %d/%d: %w", chatID, messageID, ErrNotFound)
	}
	return msg, nil
}

// MessageByRandomID reads a message by correlation id.
// Returns ErrNotFound if no row carries it.
func (s *Store) MessageByRandomID(ctx context.Context, randomID int64) (model.Message, error) {
	var (
		msg   model.Message
		found bool
	)
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		msg, found, err = tx.MessageByRandomID(randomID)
		return err
	})
	if err != nil {
		return model.Message{}, err
	}
	if !found {
		return model.Message{}, fmt.Errorf("message random_id %d: %w", randomID, ErrNotFound)
	}
	return msg, nil
}

// Messages returns every message of a chat ordered by message id.
func (s *Store) Messages(ctx context.Context, chatID int64) ([]model.Message, error) {
	var messages []model.Message
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		messages, err = tx.Messages(chatID)
		return err
	})
	return messages, err
}

// Reactions returns the reactions on a message.
func (s *Store) Reactions(ctx context.Context, chatID, messageID int64) ([]model.Reaction, error) {
	var reactions []model.Reaction
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		reactions, err = tx.Reactions(chatID, messageID)
		return err
	})
	return reactions, err
}
