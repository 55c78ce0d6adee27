package txn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/inflight/internal/model"
	"github.com/roach88/inflight/internal/testutil"
)

func TestCodec_EveryKindRegistered(t *testing.T) {
	for _, kind := range Kinds() {
		_, ok := registry[kind]
		assert.True(t, ok, "kind %s has no payload type", kind)
	}
	assert.Len(t, registry, len(Kinds()))
}

// Compensation state captured by Optimistic has to survive a restart, or a
// resumed transaction could not undo itself.
func TestCodec_PreservesCompensationState(t *testing.T) {
	removed := model.Reaction{ChatID: 5, MessageID: 1, UserID: testUser, Emoji: "🔥", Date: testutil.DefaultTime}

	tests := []struct {
		name string
		tx   Transaction
	}{
		{"send", &SendMessage{
			ChatID: 5, Text: "hi", RandomID: 9001, Date: testutil.DefaultTime,
			ReplyToMsgID: model.Int64(3),
			Attachments:  []Attachment{{Path: "/tmp/a.png", MimeType: "image/png", FileID: 900}},
		}},
		{"edit", &EditMessage{ChatID: 5, MessageID: 1, Text: "new"}},
		{"delete", NewDeleteMessages(5, 1, 2)},
		{"add reaction", &AddReaction{ChatID: 5, MessageID: 1, Emoji: "👍", Date: testutil.DefaultTime, Inserted: true}},
		{"delete reaction", &DeleteReaction{ChatID: 5, MessageID: 1, Emoji: "🔥", Removed: &removed}},
		{"create chat", &CreateChat{Title: "t", Emoji: "🎨", IsPublic: true, SpaceID: 7, Participants: []int64{1, 2}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := Encode(tt.tx)
			require.NoError(t, err)

			got, err := Decode(tt.tx.Kind(), payload)
			require.NoError(t, err)
			assert.Equal(t, tt.tx.Kind(), got.Kind())
			assert.Equal(t, tt.tx.Targets(), got.Targets())

			again, err := Encode(got)
			require.NoError(t, err)
			assert.JSONEq(t, string(payload), string(again))
		})
	}
}

func TestCodec_UnknownKind(t *testing.T) {
	_, err := Decode("teleport", []byte(`{}`))
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestCodec_CorruptPayload(t *testing.T) {
	_, err := Decode(KindSendMessage, []byte(`{not json`))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownKind)
}
