// Package queue runs optimistic transactions.
//
// Submit applies a transaction's local effect before it returns, persists a
// pending entry and hands the transaction to its own goroutine. The goroutine
// waits for every earlier transaction that shares one of its entity keys,
// then executes with retries until the transaction succeeds, fails
// terminally or is cancelled. Transactions with disjoint keys run
// concurrently.
//
// Lifecycle:
//
//	Pending -> Executing -> Succeeded
//	                     -> Pending (retryable failure, after backoff)
//	                     -> Failed (terminal failure, DidFail runs)
//	Pending | Executing  -> RolledBack (Cancel, Rollback runs)
//
// A resolved transaction's pending entry is deleted. Entries left behind by a
// crash or by Close are picked up by Resume under the same id; the
// correlation id carried in the payload lets the server deduplicate a resend.
package queue
