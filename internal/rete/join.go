package rete

import (
	"fmt"

	"github.com/kwarch/ruse/internal/ir"
)

// joinTest is a JoinTest with the binding reference resolved to a
// position in the left tuple at network-build time.
type joinTest struct {
	leftIndex  int    // Position of the bound fact in the left tuple
	leftField  string // Field on the bound fact
	op         ir.CmpOp
	rightField string // Field on the right-side fact
}

// JoinNode pairs tuples arriving on its left input with facts arriving
// on its right input. Both sides are remembered so the join is
// insert-order independent: a late right fact finds every stored left
// tuple and vice versa.
//
// Children are not tracked. On retraction the join re-runs its test
// against a snapshot of the opposite memory taken before any child
// retraction is emitted: a child retraction can cascade through truth
// maintenance back into this node's memories mid-loop, and the child
// set must stay the one the removed entry actually derived. A child
// another cascade path already removed is absorbed downstream.
type JoinNode struct {
	id    string
	tests []joinTest
	left  *tupleMemory
	right *factMemory
	outs  []tupleSink
}

func newJoinNode(id string, tests []joinTest) *JoinNode {
	return &JoinNode{
		id:    id,
		tests: tests,
		left:  newTupleMemory(),
		right: newFactMemory(),
	}
}

func (j *JoinNode) subscribe(s tupleSink) {
	j.outs = append(j.outs, s)
}

// rightInput returns the factSink face of the join for alpha subscription.
func (j *JoinNode) rightInput() factSink {
	return joinRightInput{j}
}

// assertTuple handles a left-side arrival: store the tuple, then pair it
// with every currently remembered right fact.
func (j *JoinNode) assertTuple(t Tuple) error {
	if !j.left.add(t) {
		return nil
	}

	return j.right.each(func(f Fact) error {
		ok, err := j.matches(t, f)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		return j.emitAssert(t.extend(j.id, f))
	})
}

// retractTuple handles a left-side retraction: drop the stored tuple and
// retract every child derived from it.
func (j *JoinNode) retractTuple(key string) error {
	t, ok := j.left.remove(key)
	if !ok {
		return nil
	}

	for _, f := range j.right.snapshot() {
		ok, err := j.matches(t, f)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := j.emitRetract(childKey(j.id, t, f.Handle)); err != nil {
			return err
		}
	}
	return nil
}

// assertRight handles a right-side arrival: store the fact, then pair it
// with every currently remembered left tuple.
func (j *JoinNode) assertRight(f Fact) error {
	if !j.right.add(f) {
		return nil
	}

	return j.left.each(func(t Tuple) error {
		ok, err := j.matches(t, f)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		return j.emitAssert(t.extend(j.id, f))
	})
}

// retractRight handles a right-side retraction symmetrically.
func (j *JoinNode) retractRight(handle int64) error {
	f, ok := j.right.remove(handle)
	if !ok {
		return nil
	}

	for _, t := range j.left.snapshot() {
		ok, err := j.matches(t, f)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := j.emitRetract(childKey(j.id, t, handle)); err != nil {
			return err
		}
	}
	return nil
}

// matches evaluates every join test for a (left tuple, right fact) pair.
// Reading: rightFact.rightField <op> leftTuple[leftIndex].leftField.
// An absent field on either side fails the pair silently.
func (j *JoinNode) matches(t Tuple, f Fact) (bool, error) {
	for _, test := range j.tests {
		leftVal, present := t.Facts[test.leftIndex].Field(test.leftField)
		if !present {
			return false, nil
		}
		rightVal, present := f.Field(test.rightField)
		if !present {
			return false, nil
		}
		ok, err := ir.EvalOp(test.op, rightVal, leftVal)
		if err != nil {
			return false, fmt.Errorf("join %s: test %s %s: %w", j.id, test.rightField, test.op, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (j *JoinNode) emitAssert(t Tuple) error {
	for _, out := range j.outs {
		if err := out.assertTuple(t); err != nil {
			return err
		}
	}
	return nil
}

func (j *JoinNode) emitRetract(key string) error {
	for _, out := range j.outs {
		if err := out.retractTuple(key); err != nil {
			return err
		}
	}
	return nil
}

// childKey recomputes the key of the child tuple (parent + right fact)
// without materializing it.
func childKey(nodeID string, parent Tuple, rightHandle int64) string {
	handles := append(tupleHandles(parent.Facts), rightHandle)
	return ir.TupleKey(nodeID, handles)
}

// joinRightInput adapts the join's right side to the factSink interface
// alpha nodes publish on.
type joinRightInput struct {
	j *JoinNode
}

func (r joinRightInput) assertFact(f Fact) error {
	return r.j.assertRight(f)
}

func (r joinRightInput) retractFact(handle int64) error {
	return r.j.retractRight(handle)
}
