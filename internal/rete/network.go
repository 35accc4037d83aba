package rete

import (
	"fmt"

	"github.com/kwarch/ruse/internal/ir"
)

// Network is the compiled discrimination network for one rule set.
// Topology is immutable after Build; only node memories mutate, and
// those mutations must be serialized by the owning session.
type Network struct {
	// alphas indexed by type tag for root dispatch, in build order.
	byType map[ir.TypeRef][]*AlphaNode

	// Shared alpha nodes keyed by canonical (type, constraints).
	shared map[string]*AlphaNode

	// Adapters lifting shared alphas into the tuple network.
	adapters map[string]*leftAdapter

	terminals map[string]*TerminalNode

	alphaSeq int
}

// Build constructs the network for the given rule specs, reporting
// complete matches to sink. Specs must already be validated; Build
// still rejects unresolvable join references because a bad index here
// would corrupt propagation.
func Build(specs []ir.RuleSpec, sink ActivationSink) (*Network, error) {
	n := &Network{
		byType:    make(map[ir.TypeRef][]*AlphaNode),
		shared:    make(map[string]*AlphaNode),
		adapters:  make(map[string]*leftAdapter),
		terminals: make(map[string]*TerminalNode),
	}

	for _, spec := range specs {
		if err := n.addRule(spec, sink); err != nil {
			return nil, fmt.Errorf("rule %q: %w", spec.Name, err)
		}
	}

	return n, nil
}

// addRule wires one rule's patterns into the network: alpha nodes
// (shared where identical), a join chain, and a terminal.
func (n *Network) addRule(spec ir.RuleSpec, sink ActivationSink) error {
	if len(spec.Patterns) == 0 {
		return fmt.Errorf("rule has no patterns")
	}
	if _, dup := n.terminals[spec.Name]; dup {
		return fmt.Errorf("duplicate rule name")
	}

	// Resolve binding names to pattern positions.
	positions := make(map[string]int, len(spec.Patterns))
	for i, p := range spec.Patterns {
		if p.Binding != "" {
			if _, dup := positions[p.Binding]; dup {
				return fmt.Errorf("duplicate binding %q", p.Binding)
			}
			positions[p.Binding] = i
		}
	}

	terminal := newTerminalNode(spec.Name, sink)
	n.terminals[spec.Name] = terminal

	first, err := n.alphaFor(spec.Patterns[0])
	if err != nil {
		return err
	}
	if len(spec.Patterns[0].Joins) > 0 {
		return fmt.Errorf("pattern 0: join tests require an earlier pattern")
	}

	// upstream is the tuple source the next stage subscribes to.
	var upstream interface{ subscribe(tupleSink) } = n.adapterFor(first)

	for i := 1; i < len(spec.Patterns); i++ {
		p := spec.Patterns[i]

		alpha, err := n.alphaFor(p)
		if err != nil {
			return err
		}

		tests := make([]joinTest, 0, len(p.Joins))
		for _, jt := range p.Joins {
			pos, ok := positions[jt.Binding]
			if !ok || pos >= i {
				return fmt.Errorf("pattern %d: join references unknown or later binding %q", i, jt.Binding)
			}
			tests = append(tests, joinTest{
				leftIndex:  pos,
				leftField:  jt.BindingField,
				op:         jt.Op,
				rightField: jt.Field,
			})
		}

		join := newJoinNode(fmt.Sprintf("join/%s/%d", spec.Name, i), tests)
		upstream.subscribe(join)
		alpha.subscribe(join.rightInput())
		upstream = join
	}

	upstream.subscribe(terminal)
	return nil
}

// alphaFor returns the shared alpha node for a pattern, creating it on
// first use. Sharing key is the canonical (type, constraints) pair.
func (n *Network) alphaFor(p ir.PatternSpec) (*AlphaNode, error) {
	key, err := alphaKey(p)
	if err != nil {
		return nil, err
	}

	if a, ok := n.shared[key]; ok {
		return a, nil
	}

	n.alphaSeq++
	a := newAlphaNode(fmt.Sprintf("alpha/%s/%d", p.Type, n.alphaSeq), p.Type, p.Constraints)
	n.shared[key] = a
	n.byType[p.Type] = append(n.byType[p.Type], a)
	return a, nil
}

// adapterFor returns the shared first-pattern adapter for an alpha node.
func (n *Network) adapterFor(a *AlphaNode) *leftAdapter {
	if ad, ok := n.adapters[a.id]; ok {
		return ad
	}
	ad := newLeftAdapter("lift/" + a.id)
	n.adapters[a.id] = ad
	a.subscribe(ad)
	return ad
}

// alphaKey computes the sharing key for a pattern's alpha node.
func alphaKey(p ir.PatternSpec) (string, error) {
	constraints := make(ir.Array, 0, len(p.Constraints))
	for _, c := range p.Constraints {
		co := ir.Object{
			"field": ir.String(c.Field),
			"op":    ir.String(c.Op),
		}
		if c.Value != nil {
			co["value"] = c.Value
		}
		constraints = append(constraints, co)
	}

	canonical, err := ir.MarshalCanonical(ir.Object{
		"type":        ir.String(p.Type),
		"constraints": constraints,
	})
	if err != nil {
		return "", fmt.Errorf("alpha key for type %s: %w", p.Type, err)
	}
	return string(canonical), nil
}

// Assert propagates a fact insertion through the network.
// Unknown types are a no-op: no rule can match them.
func (n *Network) Assert(f Fact) error {
	for _, a := range n.byType[f.Type] {
		if err := a.assertFact(f); err != nil {
			return err
		}
	}
	return nil
}

// Retract propagates a fact retraction. Every tuple transitively built
// from the handle is removed and its matches cancelled before Retract
// returns.
func (n *Network) Retract(f Fact) error {
	for _, a := range n.byType[f.Type] {
		if err := a.retractFact(f.Handle); err != nil {
			return err
		}
	}
	return nil
}

// Update propagates a fact modification as retract-then-insert with the
// handle preserved. Observable match results are identical to a full
// retract followed by an insert of the new value.
func (n *Network) Update(old, next Fact) error {
	if err := n.Retract(old); err != nil {
		return err
	}
	return n.Assert(next)
}

// Terminal returns the terminal node for a rule, for tests and
// diagnostics.
func (n *Network) Terminal(rule string) *TerminalNode {
	return n.terminals[rule]
}

// DanglingTuples reports tuples anywhere in the network that reference
// the given handle. Empty after a retract of that handle - this is the
// network's central correctness invariant, exposed for tests.
func (n *Network) DanglingTuples(handle int64) []string {
	var keys []string
	seen := make(map[*JoinNode]bool)

	var walkJoin func(j *JoinNode)
	walkJoin = func(j *JoinNode) {
		if seen[j] {
			return
		}
		seen[j] = true
		for _, t := range j.left.snapshot() {
			if t.contains(handle) {
				keys = append(keys, t.Key)
			}
		}
		if j.right.contains(handle) {
			keys = append(keys, fmt.Sprintf("%s/right/%d", j.id, handle))
		}
		for _, out := range j.outs {
			if next, ok := out.(*JoinNode); ok {
				walkJoin(next)
			}
		}
	}

	for _, alphas := range n.byType {
		for _, a := range alphas {
			if a.mem.contains(handle) {
				keys = append(keys, fmt.Sprintf("%s/%d", a.id, handle))
			}
			for _, out := range a.outs {
				if j, ok := out.(joinRightInput); ok {
					walkJoin(j.j)
				}
			}
			if ad, ok := n.adapters[a.id]; ok {
				for _, out := range ad.outs {
					if j, ok := out.(*JoinNode); ok {
						walkJoin(j)
					}
				}
			}
		}
	}

	for _, term := range n.terminals {
		for _, t := range term.mem.snapshot() {
			if t.contains(handle) {
				keys = append(keys, t.Key)
			}
		}
	}

	return keys
}
