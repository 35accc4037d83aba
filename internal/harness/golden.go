package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/kwarch/ruse/internal/ir"
)

// TraceSnapshot captures the complete trace for a scenario execution.
// All fields use canonical JSON serialization for deterministic
// comparison.
type TraceSnapshot struct {
	ScenarioName string
	SessionToken string
	Trace        []TraceEvent
	Facts        []FactSnapshot
}

// toCanonicalValue renders the snapshot as an ir value so canonical
// marshaling covers every field.
func (s *TraceSnapshot) toCanonicalValue() ir.Object {
	traceList := make(ir.Array, len(s.Trace))
	for i, event := range s.Trace {
		eventObj := ir.Object{
			"kind": ir.String(event.Kind),
			"seq":  ir.Int(event.Seq),
		}
		if event.Source != "" {
			eventObj["source"] = ir.String(event.Source)
		}
		if event.Handle != 0 {
			eventObj["handle"] = ir.Int(event.Handle)
		}
		if event.FactType != "" {
			eventObj["fact_type"] = ir.String(event.FactType)
		}
		if event.Value != nil {
			eventObj["value"] = event.Value
		}
		if event.Rule != "" {
			eventObj["rule"] = ir.String(event.Rule)
		}
		if event.Handles != nil {
			handles := make(ir.Array, len(event.Handles))
			for k, h := range event.Handles {
				handles[k] = ir.Int(h)
			}
			eventObj["handles"] = handles
		}
		traceList[i] = eventObj
	}

	factList := make(ir.Array, len(s.Facts))
	for i, f := range s.Facts {
		factList[i] = ir.Object{
			"handle": ir.Int(f.Handle),
			"type":   ir.String(f.Type),
			"value":  f.Value,
		}
	}

	return ir.Object{
		"scenario_name": ir.String(s.ScenarioName),
		"session":       ir.String(s.SessionToken),
		"trace":         traceList,
		"facts":         factList,
	}
}

// MarshalCanonical renders the snapshot as canonical JSON. The CLI test
// runner uses this for golden comparison outside of go test.
func (s *TraceSnapshot) MarshalCanonical() ([]byte, error) {
	return ir.MarshalCanonical(s.toCanonicalValue())
}

// RunWithGolden executes a scenario and compares the trace against a
// golden file. The golden file is stored in
// testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Golden files serve as the source of truth for expected trace
// behavior; any engine change that shifts the trace shows up as a
// golden diff.
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}

	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares the given result's trace against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := TraceSnapshot{
		ScenarioName: scenarioName,
		SessionToken: result.SessionToken,
		Trace:        result.Trace,
		Facts:        result.Facts,
	}

	traceJSON, err := snapshot.MarshalCanonical()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)

	return nil
}
