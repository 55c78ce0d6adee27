// Package realtime defines the RPC channel the transaction engine executes
// against, its msgpack wire frames, and a circuit breaker decorator.
//
// A Channel has two independent halves:
//
//   - Invoke: request/response RPC. Errors follow the txerr taxonomy.
//   - Updates: an inbound stream of authoritative UpdateBatch pushes that is
//     consumed by the reconciler regardless of which client caused them.
//
// Concrete transports live in subpackages (see zmqchan).
package realtime
