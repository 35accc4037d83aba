// Package ir provides the canonical intermediate representation for ruse.
//
// It holds two things: the sealed fact value model (the only value types
// working memory accepts) and the compiled rule specs the network builder
// consumes. All other internal packages import ir; ir imports nothing
// internal. This keeps the IR the foundational layer with no circular
// dependencies.
//
// Key design constraints:
//   - Content-addressed keys (fact equality, tuple identity, activation
//     identity) are computed from canonical JSON with domain separation
//   - All JSON tags use snake_case
//   - Logical sequence numbers only, never wall-clock timestamps
package ir
