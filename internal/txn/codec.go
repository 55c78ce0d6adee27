package txn

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownKind is returned by Decode for a kind with no registered payload.
var ErrUnknownKind = errors.New("unknown transaction kind")

var registry = map[Kind]func() Transaction{
	KindSendMessage:    func() Transaction { return &SendMessage{} },
	KindEditMessage:    func() Transaction { return &EditMessage{} },
	KindDeleteMessages: func() Transaction { return &DeleteMessages{} },
	KindAddReaction:    func() Transaction { return &AddReaction{} },
	KindDeleteReaction: func() Transaction { return &DeleteReaction{} },
	KindCreateChat:     func() Transaction { return &CreateChat{} },
}

// Encode serialises a transaction's payload for the pending queue.
func Encode(tx Transaction) ([]byte, error) {
	data, err := json.Marshal(tx)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", tx.Kind(), err)
	}
	return data, nil
}

// Decode rebuilds a transaction from its kind and payload.
func Decode(kind Kind, payload []byte) (Transaction, error) {
	ctor, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	tx := ctor()
	if err := json.Unmarshal(payload, tx); err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return tx, nil
}
