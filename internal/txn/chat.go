package txn

import (
	"context"
	"strings"

	"github.com/roach88/inflight/internal/model"
	"github.com/roach88/inflight/internal/realtime"
)

// CreateChat creates a chat on the server. Nothing is shown locally until the
// server confirms the chat exists.
type CreateChat struct {
	Title        string  `json:"title"`
	Emoji        string  `json:"emoji,omitempty"`
	IsPublic     bool    `json:"is_public"`
	SpaceID      int64   `json:"space_id,omitempty"`
	Participants []int64 `json:"participants,omitempty"`
}

// NewCreateChat creates a chat creation.
func NewCreateChat(title string) *CreateChat {
	return &CreateChat{Title: title}
}

func (c *CreateChat) Kind() Kind { return KindCreateChat }

func (c *CreateChat) Targets() []string { return nil }

func (c *CreateChat) Optimistic(context.Context, Env) error {
	if strings.TrimSpace(c.Title) == "" {
		return invalid("chat title is required")
	}
	return nil
}

func (c *CreateChat) Execute(ctx context.Context, env Env) (model.UpdateBatch, error) {
	return invoke(ctx, env, realtime.MethodCreateChat, realtime.CreateChatInput{
		Title:        strings.TrimSpace(c.Title),
		Emoji:        model.NormalizeEmoji(c.Emoji),
		IsPublic:     c.IsPublic,
		SpaceID:      c.SpaceID,
		Participants: c.Participants,
	})
}

func (c *CreateChat) ShouldRetryOnFail(err error) bool {
	return retryable(err)
}

func (c *CreateChat) DidSucceed(ctx context.Context, env Env, batch model.UpdateBatch) error {
	return reconcileResult(ctx, env, c.Kind(), batch)
}

func (c *CreateChat) DidFail(context.Context, Env, error) error { return nil }

func (c *CreateChat) Rollback(context.Context, Env) error { return nil }
