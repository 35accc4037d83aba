// Package harness provides a conformance testing framework for the rule
// engine.
//
// Scenarios are YAML files naming CUE rule files, a sequence of session
// operations (inserts, updates, retracts, fire passes), and assertions
// over the resulting trace and final working memory. Each scenario runs
// against a fresh session with a fixed token and a fresh logical clock,
// so traces are byte-for-byte reproducible and can be pinned as golden
// files.
package harness

import (
	"context"
	"fmt"
	"os"

	"github.com/kwarch/ruse/internal/compiler"
	"github.com/kwarch/ruse/internal/engine"
	"github.com/kwarch/ruse/internal/ir"
	"github.com/kwarch/ruse/internal/rete"
)

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh session for isolation. The fixed
// session token and fresh logical clock make results reproducible.
//
// Execution flow:
//  1. Compile and validate the scenario's CUE rule files
//  2. Build a session with an in-memory trace journal
//  3. Execute steps in order, resolving fact labels to handles
//  4. Evaluate assertions against the trace and final state
func Run(scenario *Scenario) (*Result, error) {
	specs, err := compileRules(scenario.Rules)
	if err != nil {
		return nil, err
	}

	token := scenario.SessionToken
	if token == "" {
		token = defaultSessionToken
	}

	journal := &traceJournal{}
	opts := []engine.SessionOption{
		engine.WithJournal(journal),
		engine.WithTokenGenerator(engine.NewFixedGenerator(token)),
	}
	if scenario.MaxFirings > 0 {
		opts = append(opts, engine.WithMaxFirings(scenario.MaxFirings))
	}

	session, err := engine.NewSession(specs, opts...)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: build session: %w", scenario.Name, err)
	}
	defer session.Close()

	ctx := context.Background()
	labels := make(map[string]int64)

	for i, step := range scenario.Steps {
		if err := executeStep(ctx, session, &step, labels); err != nil {
			return nil, fmt.Errorf("scenario %s: steps[%d]: %w", scenario.Name, i, err)
		}
	}

	result := NewResult()
	result.Trace = journal.trace()
	result.AgendaLen = session.AgendaLen()
	result.SessionToken = session.Token()
	if err := snapshotFacts(session, result); err != nil {
		return nil, fmt.Errorf("scenario %s: snapshot facts: %w", scenario.Name, err)
	}

	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(errMsg)
	}

	return result, nil
}

// compileRules compiles every rule file and validates the combined set.
func compileRules(paths []string) ([]ir.RuleSpec, error) {
	var specs []ir.RuleSpec
	for _, path := range paths {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read rule file: %w", err)
		}
		fileSpecs, err := compiler.CompileRuleSet(string(src))
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", path, err)
		}
		specs = append(specs, fileSpecs...)
	}

	if verrs := compiler.Validate(specs); len(verrs) > 0 {
		return nil, fmt.Errorf("validate rules: %s", verrs[0].Error())
	}
	return specs, nil
}

// executeStep applies one scenario step to the session.
func executeStep(ctx context.Context, session *engine.Session, step *Step, labels map[string]int64) error {
	switch {
	case step.Insert != nil:
		value, err := ir.FromGo(step.Insert.Value)
		if err != nil {
			return fmt.Errorf("insert value: %w", err)
		}
		handle, err := session.Insert(ctx, ir.TypeRef(step.Insert.Type), value)
		if err != nil {
			return fmt.Errorf("insert: %w", err)
		}
		if step.Insert.As != "" {
			labels[step.Insert.As] = handle
		}
		return nil

	case step.Update != nil:
		handle, ok := labels[step.Update.Fact]
		if !ok {
			return fmt.Errorf("update: unknown fact label %q", step.Update.Fact)
		}
		value, err := ir.FromGo(step.Update.Value)
		if err != nil {
			return fmt.Errorf("update value: %w", err)
		}
		if err := session.Update(ctx, handle, value); err != nil {
			return fmt.Errorf("update %q: %w", step.Update.Fact, err)
		}
		return nil

	case step.Retract != nil:
		handle, ok := labels[step.Retract.Fact]
		if !ok {
			return fmt.Errorf("retract: unknown fact label %q", step.Retract.Fact)
		}
		if err := session.Retract(ctx, handle); err != nil {
			return fmt.Errorf("retract %q: %w", step.Retract.Fact, err)
		}
		delete(labels, step.Retract.Fact)
		return nil

	case step.Focus != "":
		session.SetFocus(step.Focus)
		return nil

	case step.FireAll:
		if _, err := session.FireAll(ctx); err != nil {
			return fmt.Errorf("fire_all: %w", err)
		}
		return nil

	case step.Fire > 0:
		if _, err := session.FireMax(ctx, step.Fire); err != nil {
			return fmt.Errorf("fire %d: %w", step.Fire, err)
		}
		return nil

	default:
		return fmt.Errorf("empty step")
	}
}

// snapshotFacts captures the final working memory in insertion order.
func snapshotFacts(session *engine.Session, result *Result) error {
	return session.EachFact(func(f rete.Fact) error {
		result.Facts = append(result.Facts, FactSnapshot{
			Handle: f.Handle,
			Type:   string(f.Type),
			Value:  f.Value,
		})
		return nil
	})
}
