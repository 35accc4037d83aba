// Package store provides SQLite-backed durable storage for session
// journals.
//
// The store implements an append-only log with:
//   - Mutations: working-memory changes (insert, update, retract),
//     tagged with their source (external, consequence, truth)
//   - Firings: activation firing records
//   - Sessions: session metadata, including the rule set hash the
//     journal was recorded under
//
// All ordering uses seq INTEGER (logical clock), never timestamps, so a
// journal replays identically regardless of wall time. Queries always
// order by seq ascending. Writes use ON CONFLICT DO NOTHING on
// (session, seq), so re-recording an already journaled event is a
// no-op.
//
// Fact values are serialized to RFC 8785 canonical JSON before storage.
//
// Database configuration:
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
package store
