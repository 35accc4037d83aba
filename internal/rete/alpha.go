package rete

import (
	"fmt"

	"github.com/kwarch/ruse/internal/ir"
)

// AlphaNode evaluates single-fact constraints and remembers the facts
// that currently pass them, so joins built later in the propagation of
// other facts still see every matching fact.
//
// Alpha nodes are shared: every pattern with the same (type, constraints)
// pair uses the same node regardless of which rule declared it.
type AlphaNode struct {
	id          string
	typeTag     ir.TypeRef
	constraints []ir.ConstraintSpec
	mem         *factMemory
	outs        []factSink
}

func newAlphaNode(id string, typeTag ir.TypeRef, constraints []ir.ConstraintSpec) *AlphaNode {
	return &AlphaNode{
		id:          id,
		typeTag:     typeTag,
		constraints: constraints,
		mem:         newFactMemory(),
	}
}

func (a *AlphaNode) subscribe(s factSink) {
	a.outs = append(a.outs, s)
}

// assertFact evaluates the constraints and forwards the fact downstream
// when they hold. Re-asserting a remembered handle is a no-op.
func (a *AlphaNode) assertFact(f Fact) error {
	ok, err := a.matches(f)
	if err != nil {
		return fmt.Errorf("alpha %s: %w", a.id, err)
	}
	if !ok {
		return nil
	}

	if !a.mem.add(f) {
		return nil
	}

	for _, out := range a.outs {
		if err := out.assertFact(f); err != nil {
			return err
		}
	}
	return nil
}

// retractFact removes the handle from the memory and forwards the
// retraction. Handles the node never matched are ignored.
func (a *AlphaNode) retractFact(handle int64) error {
	if _, ok := a.mem.remove(handle); !ok {
		return nil
	}

	for _, out := range a.outs {
		if err := out.retractFact(handle); err != nil {
			return err
		}
	}
	return nil
}

// matches evaluates every constraint against the fact.
// An absent field fails the match silently; a type-incompatible ordering
// comparison is an error surfaced to the caller.
func (a *AlphaNode) matches(f Fact) (bool, error) {
	for _, c := range a.constraints {
		fieldVal, present := f.Field(c.Field)
		if !present {
			return false, nil
		}
		ok, err := ir.EvalOp(c.Op, fieldVal, c.Value)
		if err != nil {
			return false, fmt.Errorf("constraint %s %s: %w", c.Field, c.Op, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// leftAdapter lifts an alpha node's output into the tuple network by
// wrapping each fact in a one-element tuple. One adapter exists per
// alpha node and is shared by every rule whose first pattern uses it.
type leftAdapter struct {
	id   string
	outs []tupleSink
}

func newLeftAdapter(id string) *leftAdapter {
	return &leftAdapter{id: id}
}

func (l *leftAdapter) subscribe(s tupleSink) {
	l.outs = append(l.outs, s)
}

func (l *leftAdapter) assertFact(f Fact) error {
	t := newTuple(l.id, []Fact{f})
	for _, out := range l.outs {
		if err := out.assertTuple(t); err != nil {
			return err
		}
	}
	return nil
}

func (l *leftAdapter) retractFact(handle int64) error {
	// The tuple key depends only on the node and the handle chain, so
	// the retracted tuple's key is recomputable without the fact value.
	key := ir.TupleKey(l.id, []int64{handle})
	for _, out := range l.outs {
		if err := out.retractTuple(key); err != nil {
			return err
		}
	}
	return nil
}
