// Package engine implements the rule engine session: working memory,
// the agenda, truth maintenance, and the consequence boundary.
//
// ARCHITECTURE:
//
// Single-Writer Session:
// All mutation and firing for one session happens under a session-wide
// lock. This ensures:
// - Predictable activation ordering
// - Reproducible firing sequences on replay
// - Node memories and the agenda are never concurrently mutated
//
// Mutation Flow:
// 1. Insert/Update/Retract validates the handle against working memory
// 2. The mutation is stamped with a logical clock sequence number
// 3. The change propagates synchronously through the match network
// 4. Complete matches arrive back as activations on the agenda
// 5. The fire loop pops the highest-priority activation in the focused
//    group and runs its consequence, which may mutate reentrantly
//
// Consequences run synchronously inside the fire loop. A consequence
// that mutates working memory sees its propagation complete before it
// returns; new activations are visible to the next loop iteration.
//
// The engine is designed for correctness and determinism, not
// throughput. Independent sessions share no mutable state and may run
// fully in parallel.
//
// ORDERING:
// All events are stamped with a monotonic seq counter from Clock.Next().
// Fact handles are allocated from the same clock, so handle order is
// creation order. Never use wall-clock timestamps for ordering.
//
// Conflict resolution is salience descending, then creation seq
// ascending. No randomness, no concurrency, no non-determinism.
package engine
