// Package model defines the local rows and authoritative deltas shared by the
// store, the reconciler and every transaction kind.
//
// Identity rules:
//   - Messages are keyed by (ChatID, MessageID). An optimistic message uses its
//     correlation id (RandomID) as a temporary MessageID until the server
//     assigns the authoritative one.
//   - Reactions are keyed by (ChatID, MessageID, UserID, Emoji). Emoji are
//     NFC-normalised before they are compared or stored.
//   - Chats are keyed by ID and carry a nullable last-message pointer.
package model
