package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/inflight/internal/txerr"
)

//go:embed schema.sql
var schemaSQL string

var (
	// ErrNotFound is returned by lookups on the Store when no row matches.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateTransaction is returned when a pending entry id already exists.
	ErrDuplicateTransaction = errors.New("duplicate transaction id")
)

// Store persists chats, messages, reactions and the pending transaction log
// in one SQLite file. All access goes through a single connection.
type Store struct {
	db *sql.DB

	// writeMu serializes Write callers ahead of the connection pool so a
	// slow writer does not surface as SQLITE_BUSY to another goroutine.
	writeMu sync.Mutex
}

// Open opens the database at path (":memory:" for a throwaway store), creating
// the schema on first use. Reopening an existing file is safe.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, step := range []struct {
		what string
		fn   func(*sql.DB) error
	}{
		{"connect", func(db *sql.DB) error { return db.Ping() }},
		{"pragmas", applyPragmas},
		{"schema", applySchema},
	} {
		if err := step.fn(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("open %s: %s: %w", path, step.what, err)
		}
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the connection for ad-hoc reads such as scenario assertions.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Write runs fn inside a read-modify-write transaction and commits it if fn
// returns nil. Any error (from fn or from commit) rolls the transaction back
// and is returned as a *txerr.LocalStoreError wrapping the cause.
func (s *Store) Write(ctx context.Context, fn func(tx *Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return txerr.Store("begin", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&Tx{tx: sqlTx}); err != nil {
		return txerr.Store("write", err)
	}

	if err := sqlTx.Commit(); err != nil {
		return txerr.Store("commit", err)
	}
	return nil
}

// View runs fn inside a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("view: begin: %w", err)
	}
	defer sqlTx.Rollback()

	return fn(&Tx{tx: sqlTx})
}

// pragmas are applied to every connection Open hands out.
var pragmas = []struct{ name, value string }{
	{"journal_mode", "WAL"},
	{"synchronous", "NORMAL"},
	{"busy_timeout", "5000"},
	{"foreign_keys", "ON"},
}

func applyPragmas(db *sql.DB) error {
	for _, p := range pragmas {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA %s = %s", p.name, p.value)); err != nil {
			return fmt.Errorf("pragma %s: %w", p.name, err)
		}
	}
	return nil
}

// migrations[i] moves a database from user_version i to i+1. The base schema
// is idempotent and runs first on every Open.
var migrations = []string{
	`CREATE INDEX IF NOT EXISTS idx_pending_kind ON pending_transactions(kind, seq)`,
	`ALTER TABLE messages ADD COLUMN confirmed_text TEXT;
	ALTER TABLE messages ADD COLUMN confirmed_edit_date INTEGER;
	CREATE TABLE IF NOT EXISTS message_edits (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		tx_id      TEXT    NOT NULL UNIQUE,
		chat_id    INTEGER NOT NULL,
		message_id INTEGER NOT NULL,
		text       TEXT    NOT NULL,
		edit_date  INTEGER,
		FOREIGN KEY (chat_id, message_id) REFERENCES messages(chat_id, message_id)
			ON DELETE CASCADE ON UPDATE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_message_edits_message ON message_edits(chat_id, message_id, seq);`,
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("base schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	for v := version; v < len(migrations); v++ {
		if _, err := db.Exec(migrations[v]); err != nil {
			return fmt.Errorf("migration %d: %w", v+1, err)
		}
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			return fmt.Errorf("set user_version %d: %w", v+1, err)
		}
	}
	return nil
}

// pragma reads the current value of a pragma.
func (s *Store) pragma(name string) (string, error) {
	var value string
	err := s.db.QueryRow("PRAGMA " + name).Scan(&value)
	return value, err
}
