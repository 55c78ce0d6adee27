package harness

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// TraceSnapshot is the on-disk form of a scenario trace.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Trace        []TraceEvent `json:"trace"`
}

// MarshalSnapshot renders the golden form of a trace: indented JSON with a
// trailing newline, fields in declaration order.
func MarshalSnapshot(scenarioName string, trace []TraceEvent) ([]byte, error) {
	if trace == nil {
		trace = []TraceEvent{}
	}
	data, err := json.MarshalIndent(TraceSnapshot{ScenarioName: scenarioName, Trace: trace}, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Golden checks traces against testdata/golden/<name>.golden. Run the tests
// with -update to rewrite the files.
type Golden struct {
	g *goldie.Goldie
}

func NewGolden(t *testing.T) *Golden {
	t.Helper()
	return &Golden{g: goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)}
}

// Check fails t when the snapshot of result differs from the stored one.
func (g *Golden) Check(t *testing.T, scenarioName string, result *Result) {
	t.Helper()
	data, err := MarshalSnapshot(scenarioName, result.Trace)
	if err != nil {
		t.Fatalf("snapshot %s: %v", scenarioName, err)
	}
	g.g.Assert(t, scenarioName, data)
}
