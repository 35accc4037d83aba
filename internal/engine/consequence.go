package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/kwarch/ruse/internal/ir"
	"github.com/kwarch/ruse/internal/rete"
)

// Mutations is the working-memory surface a consequence mutates
// through. All mutations propagate synchronously and complete before
// the call returns, so a consequence observes its own effects.
//
// InsertLogical ties the fact's presence to the firing activation:
// truth maintenance retracts it once every justifying match is
// cancelled. The other operations behave exactly like their session
// counterparts.
type Mutations interface {
	Insert(typeTag ir.TypeRef, value ir.Value) (int64, error)
	InsertLogical(typeTag ir.TypeRef, value ir.Value) (int64, error)
	Update(handle int64, value ir.Value) error
	Retract(handle int64) error
	Get(handle int64) (rete.Fact, error)

	// Halt requests the fire loop stop after the current consequence
	// returns.
	Halt()
}

// Consequence is the executable action bound to a rule. Evaluate runs
// against the current match and working memory; any underlying fault
// surfaces as an error, which the fire loop wraps and stops on.
type Consequence interface {
	Name() string
	Evaluate(ctx context.Context, match *MatchContext, wm Mutations) error
}

// CompiledInvoker marks consequences produced by ahead-of-time rule
// compilation. Callers use the distinction to apply fast paths that are
// unsafe for interpreted or externally registered consequences.
type CompiledInvoker interface {
	Consequence
	CompiledInvoker()
}

// IsCompiledInvoker reports whether a consequence is a compiled invoker,
// directly or behind any chain of wrappers exposing Unwrap.
func IsCompiledInvoker(c Consequence) bool {
	for c != nil {
		if _, ok := c.(CompiledInvoker); ok {
			return true
		}
		w, ok := c.(interface{ Unwrap() Consequence })
		if !ok {
			return false
		}
		c = w.Unwrap()
	}
	return false
}

// FuncConsequence adapts a plain function to the Consequence interface.
// This is how applications register business logic with a session.
type FuncConsequence struct {
	name string
	fn   func(ctx context.Context, match *MatchContext, wm Mutations) error
}

// NewConsequence creates a named consequence from a function.
func NewConsequence(name string, fn func(ctx context.Context, match *MatchContext, wm Mutations) error) *FuncConsequence {
	return &FuncConsequence{name: name, fn: fn}
}

// Name returns the registry name.
func (c *FuncConsequence) Name() string {
	return c.name
}

// Evaluate runs the wrapped function.
func (c *FuncConsequence) Evaluate(ctx context.Context, match *MatchContext, wm Mutations) error {
	return c.fn(ctx, match, wm)
}

// ExecScope is a privileged or restricted execution scope obtained from
// a policy provider. Do runs fn inside the scope and must restore any
// swapped state on every exit path. Faults from fn may come back inside
// a ScopeError transport; SafeConsequence unwraps them.
type ExecScope interface {
	Do(ctx context.Context, fn func(context.Context) error) error
}

// PolicyProvider supplies execution scopes keyed by consequence name.
// The provider is external; the engine only defines the boundary.
type PolicyProvider interface {
	Scope(ctx context.Context, consequence string) (ExecScope, error)
}

// ScopeError is the transport a scope may wrap delegate faults in.
// SafeConsequence strips it so callers see the original error.
type ScopeError struct {
	Err error
}

// Error implements the error interface.
func (e *ScopeError) Error() string {
	return fmt.Sprintf("execution scope: %v", e.Err)
}

// Unwrap exposes the original fault.
func (e *ScopeError) Unwrap() error {
	return e.Err
}

// SafeConsequence decorates a consequence so its Evaluate runs inside
// an execution scope from a policy provider. Name passes through
// unchanged and faults surface as the delegate's own errors, so the
// wrapping is transparent to callers.
type SafeConsequence struct {
	inner    Consequence
	provider PolicyProvider
}

// NewSafeConsequence wraps a consequence with a policy provider.
func NewSafeConsequence(inner Consequence, provider PolicyProvider) *SafeConsequence {
	return &SafeConsequence{inner: inner, provider: provider}
}

// Name delegates to the wrapped consequence.
func (s *SafeConsequence) Name() string {
	return s.inner.Name()
}

// Unwrap exposes the delegate for classification.
func (s *SafeConsequence) Unwrap() Consequence {
	return s.inner
}

// WrapsCompiledInvoker reports whether the delegate is a compiled
// invoker.
func (s *SafeConsequence) WrapsCompiledInvoker() bool {
	return IsCompiledInvoker(s.inner)
}

// Evaluate obtains the scope and runs the delegate inside it. A scope
// acquisition failure is a security-context error; a delegate fault is
// re-raised as-is, stripped of any ScopeError transport.
func (s *SafeConsequence) Evaluate(ctx context.Context, match *MatchContext, wm Mutations) error {
	scope, err := s.provider.Scope(ctx, s.inner.Name())
	if err != nil {
		return &scopeUnavailable{err}
	}

	err = scope.Do(ctx, func(ctx context.Context) error {
		return s.inner.Evaluate(ctx, match, wm)
	})
	if err == nil {
		return nil
	}

	var se *ScopeError
	if errors.As(err, &se) {
		return se.Err
	}
	return err
}

// scopeUnavailable distinguishes scope acquisition failures from
// delegate faults so the session can raise the right error code.
type scopeUnavailable struct {
	err error
}

func (e *scopeUnavailable) Error() string {
	return fmt.Sprintf("obtain execution scope: %v", e.err)
}

func (e *scopeUnavailable) Unwrap() error {
	return e.err
}
