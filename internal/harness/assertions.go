package harness

import (
	"fmt"
	"strings"

	"github.com/kwarch/ruse/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for i, event := range e.Trace {
		if event.Kind == "fire" {
			fmt.Fprintf(&buf, "  [%d] fire %s %v\n", i+1, event.Rule, event.Handles)
		} else {
			fmt.Fprintf(&buf, "  [%d] %s %s#%d\n", i+1, event.Kind, event.FactType, event.Handle)
		}
	}

	return buf.String()
}

// EvaluateAssertions runs every assertion against the result and
// returns the failure messages. An empty slice means all assertions
// hold.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for _, assertion := range assertions {
		var err error
		switch assertion.Type {
		case AssertFactCount:
			err = assertFactCount(result, assertion)
		case AssertFactExists:
			err = assertFactExists(result, assertion)
		case AssertFiredCount:
			err = assertFiredCount(result, assertion)
		case AssertFiringOrder:
			err = assertFiringOrder(result, assertion)
		case AssertAgendaEmpty:
			err = assertAgendaEmpty(result, assertion)
		default:
			err = fmt.Errorf("unknown assertion type %q", assertion.Type)
		}
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

// assertFactCount checks the number of live facts, optionally scoped to
// one fact type.
func assertFactCount(result *Result, assertion Assertion) error {
	count := 0
	for _, f := range result.Facts {
		if assertion.FactType == "" || f.Type == assertion.FactType {
			count++
		}
	}

	if count != assertion.Count {
		scope := "facts"
		if assertion.FactType != "" {
			scope = assertion.FactType + " facts"
		}
		return &AssertionError{
			Type:     AssertFactCount,
			Expected: fmt.Sprintf("%d %s", assertion.Count, scope),
			Actual:   fmt.Sprintf("%d %s", count, scope),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertFactExists checks that a live fact of the type matches the
// expected fields (subset semantics).
func assertFactExists(result *Result, assertion Assertion) error {
	for _, f := range result.Facts {
		if f.Type != assertion.FactType {
			continue
		}
		if matchFields(f.Value, assertion.Fields) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertFactExists,
		Expected: fmt.Sprintf("live %s fact with fields %v", assertion.FactType, assertion.Fields),
		Actual:   "not found in working memory",
		Trace:    result.Trace,
	}
}

// assertFiredCount checks that a rule fired exactly the specified
// number of times.
func assertFiredCount(result *Result, assertion Assertion) error {
	count := 0
	for _, event := range result.Trace {
		if event.Kind == "fire" && event.Rule == assertion.Rule {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertFiredCount,
			Expected: fmt.Sprintf("%d firings of %s", assertion.Count, assertion.Rule),
			Actual:   fmt.Sprintf("%d firings", count),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertFiringOrder checks that rules first fired in the specified
// relative order. Rules don't need to be consecutive (intervening
// firings are allowed).
func assertFiringOrder(result *Result, assertion Assertion) error {
	// Find first position of each expected rule
	positions := make(map[string]int)
	for i, event := range result.Trace {
		if event.Kind != "fire" {
			continue
		}
		for _, rule := range assertion.Rules {
			if event.Rule == rule && positions[rule] == 0 {
				positions[rule] = i + 1 // 1-indexed for readability
			}
		}
	}

	for _, rule := range assertion.Rules {
		if positions[rule] == 0 {
			return &AssertionError{
				Type:     AssertFiringOrder,
				Expected: fmt.Sprintf("all rules fired: %v", assertion.Rules),
				Actual:   fmt.Sprintf("rule never fired: %s", rule),
				Trace:    result.Trace,
			}
		}
	}

	for i := 1; i < len(assertion.Rules); i++ {
		prev := assertion.Rules[i-1]
		curr := assertion.Rules[i]

		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertFiringOrder,
				Expected: fmt.Sprintf("rules in order: %v", assertion.Rules),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: result.Trace,
			}
		}
	}

	return nil
}

// assertAgendaEmpty checks that no activations remain pending.
func assertAgendaEmpty(result *Result, assertion Assertion) error {
	if result.AgendaLen != 0 {
		return &AssertionError{
			Type:     AssertAgendaEmpty,
			Expected: "empty agenda",
			Actual:   fmt.Sprintf("%d pending activations", result.AgendaLen),
			Trace:    result.Trace,
		}
	}
	return nil
}

// matchFields checks expected fields against a fact value with subset
// semantics. Expected values come straight from YAML and are converted
// before comparing.
func matchFields(value ir.Value, expected map[string]any) bool {
	if len(expected) == 0 {
		return true
	}
	obj, ok := value.(ir.Object)
	if !ok {
		return false
	}
	for field, raw := range expected {
		want, err := ir.FromGo(raw)
		if err != nil {
			return false
		}
		got, present := obj[field]
		if !present || !ir.Equal(want, got) {
			return false
		}
	}
	return true
}
