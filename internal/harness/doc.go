// Package harness runs scripted scenarios against the real transaction queue.
//
// Each scenario gets a fresh in-memory store, a fake server behind a fake
// channel, a manual clock and sequential transaction and correlation ids, so
// the trace it produces is byte-for-byte reproducible and can be compared
// against a golden file.
//
// # Scenario Format
//
//	name: send_message_confirmed
//	description: "A sent message is upgraded in place"
//	seed:
//	  chats:
//	    - { id: 5, title: general, last_msg_id: 2 }
//	  messages:
//	    - { chat_id: 5, message_id: 1, text: first }
//	steps:
//	  - submit: send_message
//	    args: { chat_id: 5, text: hello }
//	    expect: succeeded
//	assertions:
//	  - type: final_state
//	    table: messages
//	    where: { chat_id: 5, message_id: 100 }
//	    expect: { status: sent }
//
// Every step performs exactly one action:
//
//   - submit: submit a transaction of the given kind, decoded from args.
//     With expect the step waits for it to resolve ("rejected" expects
//     Submit itself to fail).
//   - wait: wait for a submitted transaction, optionally checking expect.
//   - cancel: request cancellation of a transaction.
//   - offline: take the channel offline (true) or back online (false).
//   - fail: queue server rejections for a method.
//   - hold / entered / release: park calls to a method, wait until one is
//     parked, let them through.
//   - push: apply a batch of server deltas as if pushed.
//   - advance: move the manual clock forward.
//   - restart: close the queue and resume its pending entries in a new one.
//
// # Assertion Types
//
//   - trace_contains: an event matching the given fields was traced
//   - trace_order: events matching each entry appear in order
//   - trace_count: exactly count events match
//   - final_state: one row matches where and has the expected columns
//   - row_count: exactly count rows match where
//   - pending: exactly count pending entries remain in the store
//   - calls: the server received exactly count calls to method
package harness
