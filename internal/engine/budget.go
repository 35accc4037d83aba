package engine

import (
	"errors"
	"fmt"
)

// FiringBudget tracks the number of activations fired by one FireAll
// pass and enforces a maximum.
//
// The budget catches linear explosions, where rule productions keep
// asserting facts that activate further rules (A fires B fires C and so
// on). No-loop refraction catches a rule re-triggering itself; the
// budget catches chains of distinct rules. Together they guarantee a
// FireAll call terminates.
type FiringBudget struct {
	limit   int // Maximum allowed firings for this pass
	current int // Current firing count
}

// NewFiringBudget creates a budget with the given limit.
//
// limit: maximum number of activations one FireAll pass may execute.
// Typical default: 1000 (configurable via engine.WithMaxFirings()).
func NewFiringBudget(limit int) *FiringBudget {
	return &FiringBudget{
		limit:   limit,
		current: 0,
	}
}

// Spend increments the firing counter and validates against the limit.
//
// Returns BudgetExceededError once the limit is crossed. Called before
// each activation fires.
func (b *FiringBudget) Spend(session string) error {
	b.current++
	if b.current > b.limit {
		return &BudgetExceededError{
			Session: session,
			Firings: b.current,
			Limit:   b.limit,
		}
	}
	return nil
}

// Current returns the current firing count.
// Used for logging and diagnostics.
func (b *FiringBudget) Current() int {
	return b.current
}

// Limit returns the firing limit.
// Used for logging and diagnostics.
func (b *FiringBudget) Limit() int {
	return b.limit
}

// BudgetExceededError is returned when a FireAll pass exceeds its
// firing budget. The session remains usable; the pass stops with the
// agenda in whatever state the last firing left it.
type BudgetExceededError struct {
	Session string // The session whose pass exceeded the budget
	Firings int    // Number of firings executed
	Limit   int    // Maximum allowed firings
}

// Error implements the error interface.
func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("session %s exceeded firing budget: %d firings > %d limit",
		e.Session, e.Firings, e.Limit)
}

// AsBudgetExceeded extracts a BudgetExceededError from a wrapped chain.
func AsBudgetExceeded(err error) (*BudgetExceededError, bool) {
	var be *BudgetExceededError
	ok := errors.As(err, &be)
	return be, ok
}
