package engine

import (
	"fmt"

	"github.com/kwarch/ruse/internal/ir"
	"github.com/kwarch/ruse/internal/rete"
)

// Activation is a completed match scheduled for firing: one rule, one
// terminal tuple, stamped with its creation sequence for deterministic
// tie-breaking. Exactly one activation exists per (rule, tuple) pair;
// the key is content-addressed from both.
type Activation struct {
	Rule  *ir.RuleSpec
	Tuple rete.Tuple
	Seq   int64
	Key   string
}

// MatchContext gives a consequence read access to the facts its rule
// matched, by binding name. It is valid only for the duration of the
// consequence call.
type MatchContext struct {
	rule     *ir.RuleSpec
	tuple    rete.Tuple
	bindings map[string]int // binding name -> pattern position
}

// newMatchContext builds the binding table for an activation.
func newMatchContext(a *Activation) *MatchContext {
	bindings := make(map[string]int, len(a.Rule.Patterns))
	for i, p := range a.Rule.Patterns {
		if p.Binding != "" {
			bindings[p.Binding] = i
		}
	}
	return &MatchContext{
		rule:     a.Rule,
		tuple:    a.Tuple,
		bindings: bindings,
	}
}

// RuleName returns the name of the matched rule.
func (m *MatchContext) RuleName() string {
	return m.rule.Name
}

// Fact returns the matched fact bound to the given name.
func (m *MatchContext) Fact(binding string) (rete.Fact, error) {
	i, ok := m.bindings[binding]
	if !ok {
		return rete.Fact{}, fmt.Errorf("no binding %q in rule %s", binding, m.rule.Name)
	}
	return m.tuple.Facts[i], nil
}

// Value returns a field of the fact bound to the given name.
// Absent fields report an error; consequences reference fields the
// condition already proved present, so absence is a rule bug worth
// surfacing.
func (m *MatchContext) Value(binding, field string) (ir.Value, error) {
	f, err := m.Fact(binding)
	if err != nil {
		return nil, err
	}
	v, ok := f.Field(field)
	if !ok {
		return nil, fmt.Errorf("binding %q has no field %q", binding, field)
	}
	return v, nil
}

// Facts returns the full matched tuple in pattern order.
func (m *MatchContext) Facts() []rete.Fact {
	return m.tuple.Facts
}

// Handles returns the matched fact handles in pattern order.
func (m *MatchContext) Handles() []int64 {
	handles := make([]int64, len(m.tuple.Facts))
	for i, f := range m.tuple.Facts {
		handles[i] = f.Handle
	}
	return handles
}
