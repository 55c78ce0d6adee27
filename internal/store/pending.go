package store

import (
	"context"
	"fmt"
	"time"
)

// PendingEntry is the durable form of a transaction that has not resolved.
// Layout: ordered list of {id, kind, payload, attempt_count, created_at}, plus
// the bookkeeping the queue needs to resume (seq, status, last error).
type PendingEntry struct {
	ID           string
	Seq          int64
	Kind         string
	Payload      []byte
	AttemptCount int
	Status       string
	LastError    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SavePending inserts a new pending entry.
// Returns ErrDuplicateTransaction if an entry with the same id exists.
func (s *Store) SavePending(ctx context.Context, e PendingEntry) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	updated := e.UpdatedAt
	if updated.IsZero() {
		updated = e.CreatedAt
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_transactions
		(id, seq, kind, payload, attempt_count, status, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		e.ID,
		e.Seq,
		e.Kind,
		string(e.Payload),
		e.AttemptCount,
		e.Status,
		e.LastError,
		toUnixNano(e.CreatedAt),
		toUnixNano(updated),
	)
	if err != nil {
		return fmt.Errorf("save pending %s: %w", e.ID, err)
	}

	inserted, err := affected(res)
	if err != nil {
		return fmt.Errorf("save pending %s: %w", e.ID, err)
	}
	if !inserted {
		return fmt.Errorf("save pending %s: %w", e.ID, ErrDuplicateTransaction)
	}
	return nil
}

// UpdatePending rewrites the mutable columns of a pending entry
// (payload, attempt count, status, last error).
func (s *Store) UpdatePending(ctx context.Context, e PendingEntry) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	updated := e.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_transactions
		SET payload = ?, attempt_count = ?, status = ?, last_error = ?, updated_at = ?
		WHERE id = ?
	`, string(e.Payload), e.AttemptCount, e.Status, e.LastError, toUnixNano(updated), e.ID)
	if err != nil {
		return fmt.Errorf("update pending %s: %w", e.ID, err)
	}

	found, err := affected(res)
	if err != nil {
		return fmt.Errorf("update pending %s: %w", e.ID, err)
	}
	if !found {
		return fmt.Errorf("update pending %s: %w", e.ID, ErrNotFound)
	}
	return nil
}

// DeletePending removes a pending entry. Deleting a missing entry is a no-op.
func (s *Store) DeletePending(ctx context.Context, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_transactions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete pending %s: %w", id, err)
	}
	return nil
}

// ClearPending removes every pending entry and reports how many were removed.
func (s *Store) ClearPending(ctx context.Context) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("clear pending: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM pending_transactions`)
	if err != nil {
		return 0, fmt.Errorf("clear pending: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear pending: %w", err)
	}
	// Edits with no transaction left to settle them keep their text.
	if _, err := tx.ExecContext(ctx, `DELETE FROM message_edits;
		UPDATE messages SET confirmed_text = NULL, confirmed_edit_date = NULL
		WHERE confirmed_text IS NOT NULL`); err != nil {
		return 0, fmt.Errorf("clear pending edits: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("clear pending: %w", err)
	}
	return int(n), nil
}

// LoadPending returns all pending entries in submission order
// (ORDER BY seq ASC, id ASC).
//
// Returns an empty slice (not nil) if the queue is empty.
func (s *Store) LoadPending(ctx context.Context) ([]PendingEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, kind, payload, attempt_count, status, last_error, created_at, updated_at
		FROM pending_transactions
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("load pending: %w", err)
	}
	defer rows.Close()

	entries := []PendingEntry{}
	for rows.Next() {
		var (
			e                  PendingEntry
			payload            string
			created, updatedAt int64
		)
		if err := rows.Scan(&e.ID, &e.Seq, &e.Kind, &payload, &e.AttemptCount, &e.Status,
			&e.LastError, &created, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan pending: %w", err)
		}
		e.Payload = []byte(payload)
		e.CreatedAt = fromUnixNano(created)
		e.UpdatedAt = fromUnixNano(updatedAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending: %w", err)
	}

	return entries, nil
}

// MaxPendingSeq returns the highest seq in the pending queue, or 0 if empty.
// Used to resume the queue's sequence counter after restart.
func (s *Store) MaxPendingSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM pending_transactions`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("max pending seq: %w", err)
	}
	return seq, nil
}
