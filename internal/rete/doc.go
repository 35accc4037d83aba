// Package rete implements the incremental pattern-matching network.
//
// The network is a DAG built once from compiled rule specs. Fact
// assertions and retractions enter at the root, flow through type
// dispatch into constraint (alpha) nodes, then through join (beta)
// nodes that pair tuples with facts, and finally reach one terminal
// node per rule. A tuple arriving at a terminal means the rule's full
// condition holds; the terminal reports it to an ActivationSink (the
// agenda lives in the engine package - the sink interface breaks the
// import cycle).
//
// ARCHITECTURE:
//
// Node memories hold fact handles and tuple keys, never pointers into
// working memory. Retraction is therefore index invalidation: a retract
// removes the handle from every alpha memory, every join right memory,
// and every tuple built from it, cancelling the matches those tuples
// supported. The central invariant is that no memory ever contains a
// tuple built from a retracted handle.
//
// Joins recompute their children on retraction instead of tracking
// child sets: because memories always reflect the state the children
// were derived from, re-running the join test against the opposite
// memory reproduces exactly the children that exist downstream.
//
// DETERMINISM:
//
// All node memories preserve insertion order. Propagation visits
// opposite-side entries oldest first, so activations reach the agenda
// in a reproducible order for identical input sequences.
package rete
