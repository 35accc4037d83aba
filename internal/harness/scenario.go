package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario.
// Scenarios drive a rule session through a sequence of working-memory
// mutations and fire passes, then assert on the resulting trace and
// final state.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Rules lists paths to CUE rule files to compile and load.
	// Paths are relative to the scenario file location.
	Rules []string `yaml:"rules"`

	// Steps is the ordered sequence of session operations.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	// Supported types: fact_count, fact_exists, fired_count,
	// firing_order, agenda_empty
	Assertions []Assertion `yaml:"assertions"`

	// SessionToken is an optional fixed session token for deterministic
	// golden traces. Defaults to "test-session-default".
	SessionToken string `yaml:"session_token,omitempty"`

	// MaxFirings overrides the fire pass budget. Zero keeps the engine
	// default.
	MaxFirings int `yaml:"max_firings,omitempty"`
}

// Step is one session operation. Exactly one field must be set.
type Step struct {
	// Insert adds a fact to working memory.
	Insert *InsertStep `yaml:"insert,omitempty"`

	// Update replaces a previously labeled fact's value.
	Update *UpdateStep `yaml:"update,omitempty"`

	// Retract removes a previously labeled fact.
	Retract *RetractStep `yaml:"retract,omitempty"`

	// Focus pushes an agenda group onto the focus stack.
	Focus string `yaml:"focus,omitempty"`

	// FireAll runs the fire loop until the agenda empties.
	FireAll bool `yaml:"fire_all,omitempty"`

	// Fire runs the fire loop with an explicit firing budget.
	Fire int `yaml:"fire,omitempty"`
}

// InsertStep inserts a fact.
type InsertStep struct {
	// Type is the fact type tag (e.g. "Order").
	Type string `yaml:"type"`

	// Value contains the fact fields. Values are converted to engine
	// value types during execution.
	Value map[string]any `yaml:"value"`

	// As labels the inserted fact so later steps can reference it.
	As string `yaml:"as,omitempty"`
}

// UpdateStep replaces a labeled fact's value in place.
type UpdateStep struct {
	// Fact is the label an earlier insert declared with "as".
	Fact string `yaml:"fact"`

	// Value is the replacement fact value.
	Value map[string]any `yaml:"value"`
}

// RetractStep removes a labeled fact.
type RetractStep struct {
	// Fact is the label an earlier insert declared with "as".
	Fact string `yaml:"fact"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "fact_count": working memory holds exactly N facts (of a type)
	// - "fact_exists": a fact of the type with matching fields is live
	// - "fired_count": a rule fired exactly N times
	// - "firing_order": rules fired in the given relative order
	// - "agenda_empty": no activations remain pending
	Type string `yaml:"type"`

	// FactType scopes fact_count and names the type for fact_exists.
	FactType string `yaml:"fact_type,omitempty"`

	// Fields are the expected fact field values (used by fact_exists).
	// Subset match - only specified fields are validated.
	Fields map[string]any `yaml:"fields,omitempty"`

	// Rule is the rule name (used by fired_count).
	Rule string `yaml:"rule,omitempty"`

	// Rules is the expected firing order (used by firing_order).
	Rules []string `yaml:"rules,omitempty"`

	// Count is the expected number of occurrences (used by fact_count
	// and fired_count).
	Count int `yaml:"count"`
}

// Assertion type constants.
const (
	AssertFactCount   = "fact_count"
	AssertFactExists  = "fact_exists"
	AssertFiredCount  = "fired_count"
	AssertFiringOrder = "firing_order"
	AssertAgendaEmpty = "agenda_empty"
)

// defaultSessionToken keeps golden traces stable when a scenario does
// not pick its own token.
const defaultSessionToken = "test-session-default"

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, "")
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving rule paths relative to the provided base path.
// This is useful when scenario files reference rules using relative
// paths.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	// Resolve rule paths relative to base path BEFORE validation
	for i, rulePath := range scenario.Rules {
		if !filepath.IsAbs(rulePath) && basePath != "" {
			scenario.Rules[i] = filepath.Join(basePath, rulePath)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Rules) == 0 {
		return fmt.Errorf("rules list is required and must be non-empty")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for _, rulePath := range s.Rules {
		if _, err := os.Stat(rulePath); os.IsNotExist(err) {
			return fmt.Errorf("rule file not found: %s", rulePath)
		}
	}

	labels := make(map[string]bool)
	for i, step := range s.Steps {
		if err := validateStep(i, &step, labels); err != nil {
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

// validateStep checks that a step names exactly one operation and that
// fact references resolve to earlier labels.
func validateStep(index int, step *Step, labels map[string]bool) error {
	set := 0
	if step.Insert != nil {
		set++
	}
	if step.Update != nil {
		set++
	}
	if step.Retract != nil {
		set++
	}
	if step.Focus != "" {
		set++
	}
	if step.FireAll {
		set++
	}
	if step.Fire > 0 {
		set++
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one operation is required", index)
	}

	switch {
	case step.Insert != nil:
		if step.Insert.Type == "" {
			return fmt.Errorf("steps[%d].insert: type is required", index)
		}
		if step.Insert.Value == nil {
			return fmt.Errorf("steps[%d].insert: value is required (use empty map if no fields)", index)
		}
		if step.Insert.As != "" {
			if labels[step.Insert.As] {
				return fmt.Errorf("steps[%d].insert: duplicate label %q", index, step.Insert.As)
			}
			labels[step.Insert.As] = true
		}

	case step.Update != nil:
		if step.Update.Fact == "" {
			return fmt.Errorf("steps[%d].update: fact label is required", index)
		}
		if !labels[step.Update.Fact] {
			return fmt.Errorf("steps[%d].update: unknown fact label %q", index, step.Update.Fact)
		}
		if step.Update.Value == nil {
			return fmt.Errorf("steps[%d].update: value is required", index)
		}

	case step.Retract != nil:
		if step.Retract.Fact == "" {
			return fmt.Errorf("steps[%d].retract: fact label is required", index)
		}
		if !labels[step.Retract.Fact] {
			return fmt.Errorf("steps[%d].retract: unknown fact label %q", index, step.Retract.Fact)
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertFactCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for fact_count", index)
		}
	case AssertFactExists:
		if a.FactType == "" {
			return fmt.Errorf("assertions[%d]: fact_type is required for fact_exists", index)
		}
	case AssertFiredCount:
		if a.Rule == "" {
			return fmt.Errorf("assertions[%d]: rule is required for fired_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for fired_count", index)
		}
	case AssertFiringOrder:
		if len(a.Rules) == 0 {
			return fmt.Errorf("assertions[%d]: rules list is required for firing_order", index)
		}
	case AssertAgendaEmpty:
		// No parameters
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
