package store

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/inflight/internal/model"
)

var testDate = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// createTestStore creates a new store in a temp dir for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testChat(id int64) model.Chat {
	return model.Chat{ID: id, Title: fmt.Sprintf("chat-%d", id), Date: testDate}
}

func testMessage(chatID, messageID int64, text string) model.Message {
	return model.Message{
		ChatID:    chatID,
		MessageID: messageID,
		FromID:    10,
		Text:      text,
		Date:      testDate.Add(time.Duration(messageID) * time.Second),
		Status:    model.MessageSent,
	}
}
