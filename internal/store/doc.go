// Package store provides the SQLite-backed local state for the client:
// chats, messages, reactions and the durable pending-transaction queue.
//
// # Write Discipline
//
// Every mutation goes through Store.Write, which runs the callback inside a
// single SQL transaction. Optimistic writes, compensating writes and
// reconciliation writes therefore never interleave on the same row.
// Callbacks must not call Write or View on the same store (the pool holds a
// single connection, so a nested call would wait forever).
//
// # Idempotency
//
//   - Messages are keyed by (chat_id, message_id); random_id is unique when
//     present, so a correlation id maps to at most one row.
//   - Reactions are keyed by (chat_id, message_id, user_id, emoji).
//   - Pending entries are keyed by transaction id; inserting an existing id is
//     reported as ErrDuplicateTransaction.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON
package store
