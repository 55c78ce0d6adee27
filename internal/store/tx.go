package store

import (
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/roach88/inflight/internal/model"
)

// Tx is the scope handed to Write and View callbacks.
type Tx struct {
	tx *sql.Tx
}

const messageColumns = `chat_id, message_id, random_id, from_id, text, date, edit_date,
	status, out, reply_to_msg_id, file_id, is_sticker, transaction_id`

// Chat returns the chat with the given id.
func (t *Tx) Chat(id int64) (model.Chat, bool, error) {
	row := t.tx.QueryRow(`
		SELECT id, title, emoji, is_public, space_id, last_msg_id, date
		FROM chats WHERE id = ?
	`, id)

	var (
		c       model.Chat
		lastMsg sql.NullInt64
		date    int64
	)
	err := row.Scan(&c.ID, &c.Title, &c.Emoji, &c.IsPublic, &c.SpaceID, &lastMsg, &date)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Chat{}, false, nil
	}
	if err != nil {
		return model.Chat{}, false, fmt.Errorf("read chat %d: %w", id, err)
	}
	c.LastMsgID = fromNullInt(lastMsg)
	c.Date = fromUnixNano(date)
	return c, true, nil
}

// UpsertChat inserts a chat or updates its descriptive fields.
// The last-message pointer is only overwritten when the incoming chat carries one.
func (t *Tx) UpsertChat(c model.Chat) error {
	_, err := t.tx.Exec(`
		INSERT INTO chats (id, title, emoji, is_public, space_id, last_msg_id, date)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			emoji = excluded.emoji,
			is_public = excluded.is_public,
			space_id = excluded.space_id,
			last_msg_id = COALESCE(excluded.last_msg_id, chats.last_msg_id)
	`, c.ID, c.Title, c.Emoji, c.IsPublic, c.SpaceID, toNullInt(c.LastMsgID), toUnixNano(c.Date))
	if err != nil {
		return fmt.Errorf("upsert chat %d: %w", c.ID, err)
	}
	return nil
}

// SetChatLastMessage sets (or clears, with nil) the chat's last-message pointer.
// A missing chat is not an error.
func (t *Tx) SetChatLastMessage(chatID int64, messageID *int64) error {
	_, err := t.tx.Exec(`UPDATE chats SET last_msg_id = ? WHERE id = ?`, toNullInt(messageID), chatID)
	if err != nil {
		return fmt.Errorf("set last message of chat %d: %w", chatID, err)
	}
	return nil
}

// MaxMessageID returns the highest confirmed message id in a chat, or nil when
// the chat has none. Optimistic rows are keyed by their random correlation id
// and never take part.
func (t *Tx) MaxMessageID(chatID int64) (*int64, error) {
	var max sql.NullInt64
	err := t.tx.QueryRow(`
		SELECT MAX(message_id) FROM messages WHERE chat_id = ? AND status = ?
	`, chatID, string(model.MessageSent)).Scan(&max)
	if err != nil {
		return nil, fmt.Errorf("max message id of chat %d: %w", chatID, err)
	}
	return fromNullInt(max), nil
}

// RepointAfterDelete moves a chat's last-message pointer to the highest
// surviving confirmed message (or nil), but only when the pointer names one of
// the deleted ids. Deleting older messages leaves it alone even when its
// target is not stored locally. Reports whether the pointer changed.
func (t *Tx) RepointAfterDelete(chatID int64, deleted []int64) (bool, error) {
	chat, found, err := t.Chat(chatID)
	if err != nil || !found || chat.LastMsgID == nil {
		return false, err
	}
	if !slices.Contains(deleted, *chat.LastMsgID) {
		return false, nil
	}

	next, err := t.MaxMessageID(chatID)
	if err != nil {
		return false, err
	}
	if err := t.SetChatLastMessage(chatID, next); err != nil {
		return false, err
	}
	return true, nil
}

// Message returns the message with the given key.
func (t *Tx) Message(chatID, messageID int64) (model.Message, bool, error) {
	row := t.tx.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE chat_id = ? AND message_id = ?`,
		chatID, messageID)
	return scanMessageRow(row)
}

// MessageByRandomID returns the message carrying the given correlation id.
func (t *Tx) MessageByRandomID(randomID int64) (model.Message, bool, error) {
	row := t.tx.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE random_id = ?`, randomID)
	return scanMessageRow(row)
}

// Messages returns every message of a chat ordered by message id.
func (t *Tx) Messages(chatID int64) ([]model.Message, error) {
	rows, err := t.tx.Query(`SELECT `+messageColumns+` FROM messages WHERE chat_id = ? ORDER BY message_id ASC`, chatID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := []model.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// InsertMessage inserts a message. Reports false without error if a row with
// the same key or correlation id already exists.
func (t *Tx) InsertMessage(m model.Message) (bool, error) {
	res, err := t.tx.Exec(`
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, messageArgs(m)...)
	if err != nil {
		return false, fmt.Errorf("insert message %d/%d: %w", m.ChatID, m.MessageID, err)
	}
	return affected(res)
}

// SaveMessage overwrites every column of an existing message, located by its
// current key (chatID, currentID). Used to upgrade an optimistic row in place.
func (t *Tx) SaveMessage(currentID int64, m model.Message) error {
	args := append(messageArgs(m), m.ChatID, currentID)
	_, err := t.tx.Exec(`
		UPDATE messages SET
			chat_id = ?, message_id = ?, random_id = ?, from_id = ?, text = ?, date = ?,
			edit_date = ?, status = ?, out = ?, reply_to_msg_id = ?, file_id = ?,
			is_sticker = ?, transaction_id = ?
		WHERE chat_id = ? AND message_id = ?
	`, args...)
	if err != nil {
		return fmt.Errorf("save message %d/%d: %w", m.ChatID, currentID, err)
	}
	return nil
}

// SetMessageText writes authoritative text and edit date. While optimistic
// edits of the message are outstanding they stay on display and the new text
// becomes the confirmed text they fall back to. Reports whether the displayed
// text or edit date changed.
func (t *Tx) SetMessageText(chatID, messageID int64, text string, editDate *time.Time) (bool, error) {
	outstanding, err := t.hasOutstandingEdits(chatID, messageID)
	if err != nil {
		return false, err
	}
	if outstanding {
		_, err := t.tx.Exec(`
			UPDATE messages SET confirmed_text = ?, confirmed_edit_date = ?
			WHERE chat_id = ? AND message_id = ?
		`, text, toNullTime(editDate), chatID, messageID)
		if err != nil {
			return false, fmt.Errorf("confirm text of message %d/%d: %w", chatID, messageID, err)
		}
		return false, nil
	}

	date := toNullTime(editDate)
	res, err := t.tx.Exec(`
		UPDATE messages SET text = ?, edit_date = ?, confirmed_text = NULL, confirmed_edit_date = NULL
		WHERE chat_id = ? AND message_id = ? AND (text IS NOT ? OR edit_date IS NOT ?)
	`, text, date, chatID, messageID, text, date)
	if err != nil {
		return false, fmt.Errorf("set text of message %d/%d: %w", chatID, messageID, err)
	}
	return affected(res)
}

// ApplyEdit shows optimistic text and records it as an outstanding edit of
// txID. The first outstanding edit of a message snapshots the text it
// replaced as the confirmed text.
func (t *Tx) ApplyEdit(txID string, chatID, messageID int64, text string, editDate *time.Time) (bool, error) {
	res, err := t.tx.Exec(`
		UPDATE messages SET
			confirmed_edit_date = CASE WHEN confirmed_text IS NULL THEN edit_date ELSE confirmed_edit_date END,
			confirmed_text = COALESCE(confirmed_text, text),
			text = ?, edit_date = ?
		WHERE chat_id = ? AND message_id = ?
	`, text, toNullTime(editDate), chatID, messageID)
	if err != nil {
		return false, fmt.Errorf("edit message %d/%d: %w", chatID, messageID, err)
	}
	if ok, err := affected(res); err != nil || !ok {
		return false, err
	}

	_, err = t.tx.Exec(`
		INSERT INTO message_edits (tx_id, chat_id, message_id, text, edit_date)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (tx_id) DO UPDATE SET text = excluded.text, edit_date = excluded.edit_date
	`, txID, chatID, messageID, text, toNullTime(editDate))
	if err != nil {
		return false, fmt.Errorf("record edit %s: %w", txID, err)
	}
	return true, nil
}

// ResolveEdit ends the outstanding edit of txID. An accepted edit becomes the
// confirmed text. The message then shows the newest edit still outstanding,
// or the confirmed text once none is left. Reports whether the displayed text
// or edit date changed. Resolving an unknown edit is a no-op.
func (t *Tx) ResolveEdit(txID string, accepted bool) (bool, error) {
	var (
		chatID, messageID int64
		text              string
		editDate          sql.NullInt64
	)
	err := t.tx.QueryRow(`
		SELECT chat_id, message_id, text, edit_date FROM message_edits WHERE tx_id = ?
	`, txID).Scan(&chatID, &messageID, &text, &editDate)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load edit %s: %w", txID, err)
	}

	if _, err := t.tx.Exec(`DELETE FROM message_edits WHERE tx_id = ?`, txID); err != nil {
		return false, fmt.Errorf("drop edit %s: %w", txID, err)
	}
	if accepted {
		if _, err := t.tx.Exec(`
			UPDATE messages SET confirmed_text = ?, confirmed_edit_date = ?
			WHERE chat_id = ? AND message_id = ?
		`, text, editDate, chatID, messageID); err != nil {
			return false, fmt.Errorf("confirm edit %s: %w", txID, err)
		}
	}

	var (
		shown, confirmed         sql.NullString
		shownDate, confirmedDate sql.NullInt64
	)
	err = t.tx.QueryRow(`
		SELECT text, edit_date, confirmed_text, confirmed_edit_date FROM messages
		WHERE chat_id = ? AND message_id = ?
	`, chatID, messageID).Scan(&shown, &shownDate, &confirmed, &confirmedDate)
	if err != nil {
		return false, fmt.Errorf("load message %d/%d: %w", chatID, messageID, err)
	}

	var (
		next     sql.NullString
		nextDate sql.NullInt64
	)
	err = t.tx.QueryRow(`
		SELECT text, edit_date FROM message_edits
		WHERE chat_id = ? AND message_id = ? ORDER BY seq DESC LIMIT 1
	`, chatID, messageID).Scan(&next, &nextDate)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if !confirmed.Valid {
			return false, nil
		}
		next, nextDate = confirmed, confirmedDate
		if _, err := t.tx.Exec(`
			UPDATE messages SET confirmed_text = NULL, confirmed_edit_date = NULL
			WHERE chat_id = ? AND message_id = ?
		`, chatID, messageID); err != nil {
			return false, fmt.Errorf("settle message %d/%d: %w", chatID, messageID, err)
		}
	case err != nil:
		return false, fmt.Errorf("newest edit of message %d/%d: %w", chatID, messageID, err)
	}

	if next == shown && nextDate == shownDate {
		return false, nil
	}
	if _, err := t.tx.Exec(`
		UPDATE messages SET text = ?, edit_date = ? WHERE chat_id = ? AND message_id = ?
	`, next, nextDate, chatID, messageID); err != nil {
		return false, fmt.Errorf("show text of message %d/%d: %w", chatID, messageID, err)
	}
	return true, nil
}

func (t *Tx) hasOutstandingEdits(chatID, messageID int64) (bool, error) {
	var n int
	err := t.tx.QueryRow(`
		SELECT COUNT(*) FROM message_edits WHERE chat_id = ? AND message_id = ?
	`, chatID, messageID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count edits of message %d/%d: %w", chatID, messageID, err)
	}
	return n > 0, nil
}

func (t *Tx) SetMessageStatus(chatID, messageID int64, status model.MessageStatus) (bool, error) {
	res, err := t.tx.Exec(`
		UPDATE messages SET status = ? WHERE chat_id = ? AND message_id = ?
	`, string(status), chatID, messageID)
	if err != nil {
		return false, fmt.Errorf("set status of message %d/%d: %w", chatID, messageID, err)
	}
	return affected(res)
}

// DeleteMessage removes a message and its reactions. Reports whether a
// message row existed.
func (t *Tx) DeleteMessage(chatID, messageID int64) (bool, error) {
	if _, err := t.tx.Exec(`DELETE FROM reactions WHERE chat_id = ? AND message_id = ?`, chatID, messageID); err != nil {
		return false, fmt.Errorf("delete reactions of message %d/%d: %w", chatID, messageID, err)
	}
	res, err := t.tx.Exec(`DELETE FROM messages WHERE chat_id = ? AND message_id = ?`, chatID, messageID)
	if err != nil {
		return false, fmt.Errorf("delete message %d/%d: %w", chatID, messageID, err)
	}
	return affected(res)
}

// MoveReactions re-keys reactions from one message id to another within a chat.
func (t *Tx) MoveReactions(chatID, fromID, toID int64) error {
	_, err := t.tx.Exec(`
		UPDATE OR IGNORE reactions SET message_id = ? WHERE chat_id = ? AND message_id = ?
	`, toID, chatID, fromID)
	if err != nil {
		return fmt.Errorf("move reactions %d -> %d: %w", fromID, toID, err)
	}
	_, err = t.tx.Exec(`DELETE FROM reactions WHERE chat_id = ? AND message_id = ?`, chatID, fromID)
	if err != nil {
		return fmt.Errorf("drop stale reactions of %d: %w", fromID, err)
	}
	return nil
}

// Reaction returns the reaction with the given key.
func (t *Tx) Reaction(key model.ReactionKey) (model.Reaction, bool, error) {
	var (
		r    model.Reaction
		date int64
	)
	err := t.tx.QueryRow(`
		SELECT chat_id, message_id, user_id, emoji, date FROM reactions
		WHERE chat_id = ? AND message_id = ? AND user_id = ? AND emoji = ?
	`, key.ChatID, key.MessageID, key.UserID, model.NormalizeEmoji(key.Emoji)).
		Scan(&r.ChatID, &r.MessageID, &r.UserID, &r.Emoji, &date)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Reaction{}, false, nil
	}
	if err != nil {
		return model.Reaction{}, false, fmt.Errorf("read reaction: %w", err)
	}
	r.Date = fromUnixNano(date)
	return r, true, nil
}

// Reactions returns the reactions on a message ordered by date.
func (t *Tx) Reactions(chatID, messageID int64) ([]model.Reaction, error) {
	rows, err := t.tx.Query(`
		SELECT chat_id, message_id, user_id, emoji, date FROM reactions
		WHERE chat_id = ? AND message_id = ?
		ORDER BY date ASC, user_id ASC, emoji ASC
	`, chatID, messageID)
	if err != nil {
		return nil, fmt.Errorf("query reactions: %w", err)
	}
	defer rows.Close()

	reactions := []model.Reaction{}
	for rows.Next() {
		var (
			r    model.Reaction
			date int64
		)
		if err := rows.Scan(&r.ChatID, &r.MessageID, &r.UserID, &r.Emoji, &date); err != nil {
			return nil, fmt.Errorf("scan reaction: %w", err)
		}
		r.Date = fromUnixNano(date)
		reactions = append(reactions, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reactions: %w", err)
	}
	return reactions, nil
}

// InsertReaction inserts a reaction guarded by the (message, user, emoji)
// uniqueness constraint. Reports whether a new row was written.
func (t *Tx) InsertReaction(r model.Reaction) (bool, error) {
	res, err := t.tx.Exec(`
		INSERT INTO reactions (chat_id, message_id, user_id, emoji, date)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, r.ChatID, r.MessageID, r.UserID, model.NormalizeEmoji(r.Emoji), toUnixNano(r.Date))
	if err != nil {
		return false, fmt.Errorf("insert reaction: %w", err)
	}
	return affected(res)
}

// DeleteReaction removes the reaction with the given key. Reports whether a
// row existed.
func (t *Tx) DeleteReaction(key model.ReactionKey) (bool, error) {
	res, err := t.tx.Exec(`
		DELETE FROM reactions
		WHERE chat_id = ? AND message_id = ? AND user_id = ? AND emoji = ?
	`, key.ChatID, key.MessageID, key.UserID, model.NormalizeEmoji(key.Emoji))
	if err != nil {
		return false, fmt.Errorf("delete reaction: %w", err)
	}
	return affected(res)
}

func messageArgs(m model.Message) []any {
	return []any{
		m.ChatID,
		m.MessageID,
		toNullInt(m.RandomID),
		m.FromID,
		m.Text,
		toUnixNano(m.Date),
		toNullTime(m.EditDate),
		string(m.Status),
		m.Out,
		toNullInt(m.ReplyToMsgID),
		toNullInt(m.FileID),
		m.IsSticker,
		m.TransactionID,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessageRow(row *sql.Row) (model.Message, bool, error) {
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Message{}, false, nil
	}
	if err != nil {
		return model.Message{}, false, err
	}
	return m, true, nil
}

func scanMessage(row rowScanner) (model.Message, error) {
	var (
		m        model.Message
		randomID sql.NullInt64
		date     int64
		editDate sql.NullInt64
		status   string
		replyTo  sql.NullInt64
		fileID   sql.NullInt64
	)
	err := row.Scan(&m.ChatID, &m.MessageID, &randomID, &m.FromID, &m.Text, &date, &editDate,
		&status, &m.Out, &replyTo, &fileID, &m.IsSticker, &m.TransactionID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Message{}, err
	}
	if err != nil {
		return model.Message{}, fmt.Errorf("scan message: %w", err)
	}
	m.RandomID = fromNullInt(randomID)
	m.Date = fromUnixNano(date)
	if editDate.Valid {
		d := fromUnixNano(editDate.Int64)
		m.EditDate = &d
	}
	m.Status = model.MessageStatus(status)
	m.ReplyToMsgID = fromNullInt(replyTo)
	m.FileID = fromNullInt(fileID)
	return m, nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func toNullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func fromNullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	out := v.Int64
	return &out
}

func toNullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toUnixNano(*t), Valid: true}
}

// Times are stored as Unix nanoseconds and read back in UTC.
func toUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
