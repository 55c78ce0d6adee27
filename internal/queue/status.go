package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/roach88/inflight/internal/txn"
)

// Status is a transaction's lifecycle state.
type Status int

const (
	StatusPending Status = iota + 1
	StatusExecuting
	StatusSucceeded
	StatusFailed
	StatusRolledBack
)

var statusNames = map[Status]string{
	StatusPending:    "pending",
	StatusExecuting:  "executing",
	StatusSucceeded:  "succeeded",
	StatusFailed:     "failed",
	StatusRolledBack: "rolled_back",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Resolved reports whether s is a final state.
func (s Status) Resolved() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusRolledBack
}

// ParseStatus reads a persisted status. Executing is read back as Pending:
// an entry persisted mid-execution never learned its outcome.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "pending", "executing":
		return StatusPending, nil
	}
	for st, name := range statusNames {
		if name == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", s)
}

var (
	// ErrQueueClosed is returned by Submit and Resume after Close.
	ErrQueueClosed = errors.New("queue closed")

	// ErrUnknownTransaction is returned by Cancel for an id the queue has
	// never seen.
	ErrUnknownTransaction = errors.New("unknown transaction")
)

// Snapshot describes one unresolved transaction.
type Snapshot struct {
	ID        string    `json:"id"`
	Seq       int64     `json:"seq"`
	Kind      txn.Kind  `json:"kind"`
	Status    string    `json:"status"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	Targets   []string  `json:"targets,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
