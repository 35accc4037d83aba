package rete

import "github.com/kwarch/ruse/internal/ir"

// Tuple is an ordered chain of facts representing a partial match.
// Identity is the (node, ordered handles) pair, computed as a
// content-addressed key; duplicates at one node are forbidden.
//
// Tuples are append-only: extending a match builds a new tuple, it
// never mutates the parent.
type Tuple struct {
	Key   string
	Facts []Fact
}

// newTuple builds a tuple owned by the given node from an ordered fact
// chain. The slice is not copied; callers hand over ownership.
func newTuple(nodeID string, facts []Fact) Tuple {
	return Tuple{
		Key:   ir.TupleKey(nodeID, tupleHandles(facts)),
		Facts: facts,
	}
}

// extend builds the child tuple for a downstream node by appending one
// fact. The parent's chain is copied so siblings never share backing.
func (t Tuple) extend(nodeID string, f Fact) Tuple {
	facts := make([]Fact, 0, len(t.Facts)+1)
	facts = append(facts, t.Facts...)
	facts = append(facts, f)
	return newTuple(nodeID, facts)
}

// contains reports whether any fact in the chain has the given handle.
func (t Tuple) contains(handle int64) bool {
	for _, f := range t.Facts {
		if f.Handle == handle {
			return true
		}
	}
	return false
}

func tupleHandles(facts []Fact) []int64 {
	handles := make([]int64, len(facts))
	for i, f := range facts {
		handles[i] = f.Handle
	}
	return handles
}
