package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// compiledStub is a minimal compiled invoker for classification tests.
type compiledStub struct{}

func (compiledStub) Name() string { return "compiled-stub" }
func (compiledStub) Evaluate(context.Context, *MatchContext, Mutations) error {
	return nil
}
func (compiledStub) CompiledInvoker() {}

// passthroughScope runs the function directly with no privilege swap.
type passthroughScope struct{}

func (passthroughScope) Do(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

// wrappingScope wraps delegate faults in the ScopeError transport, the
// way a provider crossing a process or sandbox boundary would.
type wrappingScope struct{}

func (wrappingScope) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		return &ScopeError{Err: err}
	}
	return nil
}

type stubProvider struct {
	scope ExecScope
	err   error
	calls []string
}

func (p *stubProvider) Scope(_ context.Context, consequence string) (ExecScope, error) {
	p.calls = append(p.calls, consequence)
	if p.err != nil {
		return nil, p.err
	}
	return p.scope, nil
}

func TestIsCompiledInvoker(t *testing.T) {
	plain := NewConsequence("plain", func(context.Context, *MatchContext, Mutations) error {
		return nil
	})
	provider := &stubProvider{scope: passthroughScope{}}

	tests := []struct {
		name string
		cons Consequence
		want bool
	}{
		{"compiled", compiledStub{}, true},
		{"plain func", plain, false},
		{"safe wrapping compiled", NewSafeConsequence(compiledStub{}, provider), true},
		{"safe wrapping plain", NewSafeConsequence(plain, provider), false},
		{"double wrapped compiled", NewSafeConsequence(NewSafeConsequence(compiledStub{}, provider), provider), true},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsCompiledInvoker(tt.cons))
		})
	}
}

func TestSafeConsequenceNamePassesThrough(t *testing.T) {
	plain := NewConsequence("audit-log", func(context.Context, *MatchContext, Mutations) error {
		return nil
	})
	safe := NewSafeConsequence(plain, &stubProvider{scope: passthroughScope{}})

	assert.Equal(t, "audit-log", safe.Name())
	assert.False(t, safe.WrapsCompiledInvoker())
	assert.True(t, NewSafeConsequence(compiledStub{}, nil).WrapsCompiledInvoker())
}

func TestSafeConsequenceEvaluatesInScope(t *testing.T) {
	ran := false
	plain := NewConsequence("inner", func(context.Context, *MatchContext, Mutations) error {
		ran = true
		return nil
	})
	provider := &stubProvider{scope: passthroughScope{}}
	safe := NewSafeConsequence(plain, provider)

	require.NoError(t, safe.Evaluate(context.Background(), nil, nil))
	assert.True(t, ran)
	assert.Equal(t, []string{"inner"}, provider.calls)
}

func TestSafeConsequenceUnwrapsScopeTransport(t *testing.T) {
	cause := errors.New("ledger write refused")
	plain := NewConsequence("inner", func(context.Context, *MatchContext, Mutations) error {
		return cause
	})
	safe := NewSafeConsequence(plain, &stubProvider{scope: wrappingScope{}})

	err := safe.Evaluate(context.Background(), nil, nil)

	// The transport wrapper is stripped: callers see the original fault
	assert.Equal(t, cause, err)
}

func TestSafeConsequenceScopeUnavailable(t *testing.T) {
	plain := NewConsequence("inner", func(context.Context, *MatchContext, Mutations) error {
		t.Fatal("delegate must not run without a scope")
		return nil
	})
	safe := NewSafeConsequence(plain, &stubProvider{err: fmt.Errorf("no policy for tenant")})

	err := safe.Evaluate(context.Background(), nil, nil)
	require.Error(t, err)

	var su *scopeUnavailable
	assert.True(t, errors.As(err, &su))
}
