// Package txn defines the optimistic transaction contract and its six kinds.
//
// A Transaction moves through a fixed lifecycle driven by the queue:
//
//	Optimistic   synchronous local mutation, before Submit returns
//	Execute      the remote call; the only step that blocks on the network
//	DidSucceed   reconciles the execute result into the local store
//	DidFail      compensates once retries are exhausted or the error is terminal
//	Rollback     undoes Optimistic on explicit cancellation only
//
// Every local mutation goes through store.Write, and observers are notified
// only after that write commits.
//
// Transactions are plain structs. Their exported fields are the durable
// payload: Encode and Decode move them in and out of the pending queue, and
// any state Execute records (uploaded file ids) survives a restart.
package txn
