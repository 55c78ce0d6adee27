package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/inflight/internal/txn"
)

// Scenario is a scripted run against a fresh engine.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// UserID is the acting user. Defaults to 1.
	UserID int64 `yaml:"user_id,omitempty"`

	// MaxAttempts bounds every kind's retries. Defaults to 5.
	MaxAttempts int `yaml:"max_attempts,omitempty"`

	// Seed is written to the store before the first step.
	Seed Seed `yaml:"seed,omitempty"`

	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// Seed is the local state a scenario starts from.
type Seed struct {
	Chats     []SeedChat     `yaml:"chats,omitempty"`
	Messages  []SeedMessage  `yaml:"messages,omitempty"`
	Reactions []SeedReaction `yaml:"reactions,omitempty"`
}

type SeedChat struct {
	ID        int64  `yaml:"id"`
	Title     string `yaml:"title"`
	LastMsgID *int64 `yaml:"last_msg_id,omitempty"`
}

// SeedMessage is stored as sent.
type SeedMessage struct {
	ChatID    int64  `yaml:"chat_id"`
	MessageID int64  `yaml:"message_id"`
	FromID    int64  `yaml:"from_id,omitempty"`
	Text      string `yaml:"text"`
	Out       bool   `yaml:"out,omitempty"`
}

type SeedReaction struct {
	ChatID    int64  `yaml:"chat_id"`
	MessageID int64  `yaml:"message_id"`
	UserID    int64  `yaml:"user_id"`
	Emoji     string `yaml:"emoji"`
}

// Step performs exactly one action.
type Step struct {
	// Submit is a transaction kind; Args holds its payload.
	Submit string         `yaml:"submit,omitempty"`
	Args   map[string]any `yaml:"args,omitempty"`

	// Wait names a transaction to wait for.
	Wait string `yaml:"wait,omitempty"`

	// Expect is the status a submit or wait resolves to: succeeded, failed,
	// rolled_back, or rejected for a submit refused up front.
	Expect string `yaml:"expect,omitempty"`

	// Cancel names a transaction to cancel.
	Cancel string `yaml:"cancel,omitempty"`

	Offline *bool `yaml:"offline,omitempty"`

	Fail *FailStep `yaml:"fail,omitempty"`

	// Hold, Entered and Release name a server method.
	Hold    string `yaml:"hold,omitempty"`
	Entered string `yaml:"entered,omitempty"`
	Release string `yaml:"release,omitempty"`

	// Push is a batch of updates in their JSON shape.
	Push []map[string]any `yaml:"push,omitempty"`

	Advance time.Duration `yaml:"advance,omitempty"`

	Restart bool `yaml:"restart,omitempty"`
}

// FailStep makes the next Times calls to Method fail with an RPC error.
type FailStep struct {
	Method  string `yaml:"method"`
	Code    int    `yaml:"code"`
	Message string `yaml:"message"`
	Times   int    `yaml:"times,omitempty"`
}

// Step expectations.
const (
	ExpectSucceeded  = "succeeded"
	ExpectFailed     = "failed"
	ExpectRolledBack = "rolled_back"
	ExpectRejected   = "rejected"
)

// Assertion validates the trace or the final state.
type Assertion struct {
	Type string `yaml:"type"`

	// Event is matched against trace events by field (trace_contains,
	// trace_count). Subset match.
	Event map[string]any `yaml:"event,omitempty"`

	// Events must match in order (trace_order).
	Events []map[string]any `yaml:"events,omitempty"`

	// Table and Where select rows (final_state, row_count).
	Table string         `yaml:"table,omitempty"`
	Where map[string]any `yaml:"where,omitempty"`

	// Expect holds column values of the selected row (final_state).
	Expect map[string]any `yaml:"expect,omitempty"`

	// Method is a server method (calls).
	Method string `yaml:"method,omitempty"`

	// Count is required by trace_count, row_count, pending and calls.
	Count *int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertRowCount      = "row_count"
	AssertPending       = "pending"
	AssertCalls         = "calls"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Reject unknown fields (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, st *Step) error {
	actions := 0
	for _, set := range []bool{
		st.Submit != "",
		st.Wait != "",
		st.Cancel != "",
		st.Offline != nil,
		st.Fail != nil,
		st.Hold != "",
		st.Entered != "",
		st.Release != "",
		st.Push != nil,
		st.Advance != 0,
		st.Restart,
	} {
		if set {
			actions++
		}
	}
	if actions != 1 {
		return fmt.Errorf("steps[%d]: exactly one action is required, got %d", index, actions)
	}

	if st.Submit != "" {
		if !knownKind(st.Submit) {
			return fmt.Errorf("steps[%d]: unknown transaction kind %q", index, st.Submit)
		}
	} else if st.Args != nil {
		return fmt.Errorf("steps[%d]: args is only valid with submit", index)
	}

	switch st.Expect {
	case "":
	case ExpectSucceeded, ExpectFailed, ExpectRolledBack:
		if st.Submit == "" && st.Wait == "" {
			return fmt.Errorf("steps[%d]: expect is only valid with submit or wait", index)
		}
	case ExpectRejected:
		if st.Submit == "" {
			return fmt.Errorf("steps[%d]: expect rejected is only valid with submit", index)
		}
	default:
		return fmt.Errorf("steps[%d]: unknown expect %q", index, st.Expect)
	}

	if st.Fail != nil {
		if st.Fail.Method == "" {
			return fmt.Errorf("steps[%d].fail: method is required", index)
		}
		if st.Fail.Code == 0 {
			return fmt.Errorf("steps[%d].fail: code is required", index)
		}
	}
	if st.Advance < 0 {
		return fmt.Errorf("steps[%d]: advance must be positive", index)
	}
	return nil
}

func knownKind(kind string) bool {
	for _, k := range txn.Kinds() {
		if string(k) == kind {
			return true
		}
	}
	return false
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	needCount := func() error {
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for %s", index, a.Type)
		}
		if *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
		return nil
	}

	switch a.Type {
	case AssertTraceContains:
		if len(a.Event) == 0 {
			return fmt.Errorf("assertions[%d]: event is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
	case AssertTraceCount:
		if len(a.Event) == 0 {
			return fmt.Errorf("assertions[%d]: event is required for trace_count", index)
		}
		return needCount()
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertRowCount:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for row_count", index)
		}
		return needCount()
	case AssertPending:
		return needCount()
	case AssertCalls:
		if a.Method == "" {
			return fmt.Errorf("assertions[%d]: method is required for calls", index)
		}
		return needCount()
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// expectedCount returns Count, or 0 when it was left out.
func (a Assertion) expectedCount() int {
	if a.Count == nil {
		return 0
	}
	return *a.Count
}
