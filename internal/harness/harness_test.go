package harness

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(n int) *int { return &n }

func chatSeed() Seed {
	last := int64(2)
	return Seed{
		Chats: []SeedChat{{ID: 5, Title: "general", LastMsgID: &last}},
		Messages: []SeedMessage{
			{ChatID: 5, MessageID: 1, FromID: 20, Text: "original"},
			{ChatID: 5, MessageID: 2, FromID: 20, Text: "original"},
		},
	}
}

func sendStep(text, expect string) Step {
	return Step{
		Submit: "send_message",
		Args:   map[string]any{"chat_id": 5, "text": text},
		Expect: expect,
	}
}

// TestScenarios runs every scenario in testdata/scenarios and compares its
// trace with testdata/golden.
func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := Run(scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			NewGolden(t).Check(t, scenario.Name, result)
		})
	}
}

func TestRun_TransientFailuresAreRetried(t *testing.T) {
	scenario := &Scenario{
		Name:        "retry",
		Description: "Two unavailable responses, then success",
		Seed:        chatSeed(),
		Steps: []Step{
			{Fail: &FailStep{Method: "sendMessage", Code: 503, Message: "unavailable", Times: 2}},
			sendStep("hello", ExpectSucceeded),
		},
		Assertions: []Assertion{
			{Type: AssertCalls, Method: "sendMessage", Count: intPtr(3)},
			{Type: AssertFinalState, Table: "messages", Where: map[string]any{"chat_id": 5, "message_id": 100}, Expect: map[string]any{"status": "sent"}},
			{Type: AssertPending, Count: intPtr(0)},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_MaxAttemptsExhausted(t *testing.T) {
	scenario := &Scenario{
		Name:        "exhausted",
		Description: "The send gives up after two attempts",
		MaxAttempts: 2,
		Seed:        chatSeed(),
		Steps: []Step{
			{Fail: &FailStep{Method: "sendMessage", Code: 503, Message: "unavailable", Times: 5}},
			sendStep("hello", ExpectFailed),
		},
		Assertions: []Assertion{
			{Type: AssertCalls, Method: "sendMessage", Count: intPtr(2)},
			{Type: AssertFinalState, Table: "messages", Where: map[string]any{"chat_id": 5, "message_id": 7001}, Expect: map[string]any{"status": "failed"}},
			{Type: AssertTraceContains, Event: map[string]any{"type": "resolve", "status": "failed", "error": "transport error 503: unavailable"}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_ExpectMismatchIsReported(t *testing.T) {
	scenario := &Scenario{
		Name:        "mismatch",
		Description: "A send expected to fail succeeds",
		Seed:        chatSeed(),
		Steps:       []Step{sendStep("hello", ExpectFailed)},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "tx-1 resolved succeeded, expected failed")
}

func TestRun_UnexpectedRejectionIsReported(t *testing.T) {
	scenario := &Scenario{
		Name:        "rejected",
		Description: "An empty message cannot be submitted",
		Seed:        chatSeed(),
		Steps:       []Step{sendStep("  ", ExpectSucceeded)},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "tx-1 was rejected")

	require.Len(t, result.Trace, 2)
	assert.Equal(t, EventReject, result.Trace[1].Type)
}

func TestRun_AcceptedWhenRejectionExpected(t *testing.T) {
	scenario := &Scenario{
		Name:        "accepted",
		Description: "A valid message is not rejected",
		Seed:        chatSeed(),
		Steps:       []Step{sendStep("hello", ExpectRejected)},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], "expected a rejection")
}

func TestRun_FailedAssertionIsReported(t *testing.T) {
	scenario := &Scenario{
		Name:        "assertion",
		Description: "The chat pointer does not move without a confirmed send",
		Seed:        chatSeed(),
		Steps:       []Step{{Offline: boolPtr(true)}},
		Assertions: []Assertion{
			{Type: AssertFinalState, Table: "chats", Where: map[string]any{"id": 5}, Expect: map[string]any{"last_msg_id": 3}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], `field "last_msg_id"`)
}

func TestRun_StepErrors(t *testing.T) {
	tests := []struct {
		name    string
		step    Step
		wantErr string
	}{
		{"wait for unknown transaction", Step{Wait: "tx-9"}, "unknown transaction tx-9"},
		{"cancel unknown transaction", Step{Cancel: "tx-9"}, "unknown transaction"},
		{"entered without hold", Step{Entered: "sendMessage"}, "sendMessage is not held"},
		{"release without hold", Step{Release: "sendMessage"}, "sendMessage is not held"},
		{"hold unknown method", Step{Hold: "pinMessage"}, `unknown method "pinMessage"`},
		{"bad push", Step{Push: []map[string]any{{"kind": "new_chat"}}}, "push"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scenario := &Scenario{
				Name:        "step_error",
				Description: tt.name,
				Seed:        chatSeed(),
				Steps:       []Step{tt.step},
			}
			_, err := Run(scenario)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "step 0")
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "edit_cancel_queued.yaml"))
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	assert.Equal(t, first.Trace, second.Trace)
}

func TestRun_FreshDatabasePerRun(t *testing.T) {
	scenario := &Scenario{
		Name:        "fresh",
		Description: "Each run starts from the seed alone",
		Seed:        chatSeed(),
		Steps:       []Step{sendStep("hello", ExpectSucceeded)},
		Assertions: []Assertion{
			{Type: AssertRowCount, Table: "messages", Where: map[string]any{"chat_id": 5}, Count: intPtr(3)},
		},
	}

	for range 2 {
		result, err := Run(scenario)
		require.NoError(t, err)
		assert.True(t, result.Pass, "errors: %v", result.Errors)
	}
}

func TestRun_SeedsReactions(t *testing.T) {
	seed := chatSeed()
	seed.Reactions = []SeedReaction{{ChatID: 5, MessageID: 1, UserID: 1, Emoji: "x"}}

	scenario := &Scenario{
		Name:        "seeded_reaction",
		Description: "Removing a seeded reaction of the acting user",
		Seed:        seed,
		Steps: []Step{
			{Submit: "delete_reaction", Args: map[string]any{"chat_id": 5, "message_id": 1, "emoji": "x"}, Expect: ExpectSucceeded},
		},
		Assertions: []Assertion{
			{Type: AssertTraceContains, Event: map[string]any{"change": "deleted", "ref": "reaction:5/1", "origin": "optimistic"}},
			{Type: AssertRowCount, Table: "reactions", Count: intPtr(0)},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestResult_AddError(t *testing.T) {
	result := NewResult()
	assert.True(t, result.Pass)

	result.AddError("boom")
	assert.False(t, result.Pass)
	assert.Equal(t, []string{"boom"}, result.Errors)
}

func TestSequentialIDs(t *testing.T) {
	ids := &sequentialIDs{}
	assert.Equal(t, "tx-1", ids.peek())
	assert.Equal(t, "tx-1", ids.Generate())
	assert.Equal(t, "tx-2", ids.peek())
	assert.Equal(t, "tx-2", ids.Generate())
}

func TestScenarioFilesHaveGoldens(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		_, err := os.Stat(filepath.Join("testdata", "golden", name+".golden"))
		assert.NoError(t, err, "missing golden for %s", name)
	}
}

func boolPtr(b bool) *bool { return &b }
