// Package queryir defines a small, sealed filter IR for reading back
// the append-only journal.
//
// Callers (the trace command, replay tooling, tests) describe which
// journal records they want as a tree of Filter nodes. The IR is
// backend-agnostic: it names journal columns and values, never SQL.
// The querysql package compiles a validated filter into a parameterized
// SQL fragment; every compiled query orders by seq so repeated reads of
// the same journal are byte-identical.
//
// The fragment is deliberately narrow. Filters are conjunctive only
// (And, no Or), compare against explicit values (no NULL tests), and
// target exactly one journal table per query. Anything richer belongs
// in the caller, not the read path.
package queryir
