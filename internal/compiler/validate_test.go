package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwarch/ruse/internal/ir"
)

// validSpec returns a well-formed two-pattern rule for mutation in
// tests.
func validSpec(name string) ir.RuleSpec {
	return ir.RuleSpec{
		Name: name,
		Patterns: []ir.PatternSpec{
			{
				Binding: "c",
				Type:    "Customer",
				Constraints: []ir.ConstraintSpec{
					{Field: "tier", Op: ir.OpEq, Value: ir.String("gold")},
				},
			},
			{
				Binding: "o",
				Type:    "Order",
				Joins: []ir.JoinTest{
					{Field: "customer_id", Op: ir.OpEq, Binding: "c", BindingField: "id"},
				},
			},
		},
		Then: ir.Production{Consequence: "reward"},
	}
}

// codes extracts the error codes from a validation result.
func codes(errs []ValidationError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Code
	}
	return out
}

// TestValidate_ValidSpec tests that a well-formed rule passes.
func TestValidate_ValidSpec(t *testing.T) {
	errs := Validate([]ir.RuleSpec{validSpec("reward-gold")})
	assert.Empty(t, errs)
}

// TestValidate_EmptyName tests the rule name requirement.
func TestValidate_EmptyName(t *testing.T) {
	spec := validSpec("  ")
	errs := Validate([]ir.RuleSpec{spec})
	assert.Contains(t, codes(errs), ErrRuleNameEmpty)
}

// TestValidate_DuplicateRuleName tests duplicate detection across the
// set.
func TestValidate_DuplicateRuleName(t *testing.T) {
	errs := Validate([]ir.RuleSpec{validSpec("twin"), validSpec("twin")})
	require.NotEmpty(t, errs)
	assert.Contains(t, codes(errs), ErrDuplicateRuleName)
}

// TestValidate_NoPatterns tests the at-least-one-pattern requirement.
func TestValidate_NoPatterns(t *testing.T) {
	spec := validSpec("empty")
	spec.Patterns = nil
	errs := Validate([]ir.RuleSpec{spec})
	assert.Contains(t, codes(errs), ErrRuleNoPatterns)
}

// TestValidate_DuplicateBinding tests that one rule cannot bind the same
// name twice.
func TestValidate_DuplicateBinding(t *testing.T) {
	spec := validSpec("dup-bind")
	spec.Patterns[1].Binding = "c"
	spec.Patterns[1].Joins = nil
	errs := Validate([]ir.RuleSpec{spec})
	assert.Contains(t, codes(errs), ErrDuplicateBinding)
}

// TestValidate_InvalidOp tests operator checking on constraints.
func TestValidate_InvalidOp(t *testing.T) {
	spec := validSpec("bad-op")
	spec.Patterns[0].Constraints[0].Op = "like"
	errs := Validate([]ir.RuleSpec{spec})
	require.Len(t, errs, 1)
	assert.Equal(t, ErrInvalidOp, errs[0].Code)
	assert.Contains(t, errs[0].Field, "where[0].op")
}

// TestValidate_ConstraintMissingValue tests that comparison constraints
// need a literal.
func TestValidate_ConstraintMissingValue(t *testing.T) {
	spec := validSpec("no-value")
	spec.Patterns[0].Constraints[0].Value = nil
	errs := Validate([]ir.RuleSpec{spec})
	require.Len(t, errs, 1)
	assert.Equal(t, ErrConstraintNoValue, errs[0].Code)
}

// TestValidate_ExistsNeedsNoValue tests the exists exemption.
func TestValidate_ExistsNeedsNoValue(t *testing.T) {
	spec := validSpec("exists-ok")
	spec.Patterns[0].Constraints[0] = ir.ConstraintSpec{Field: "tier", Op: ir.OpExists}
	errs := Validate([]ir.RuleSpec{spec})
	assert.Empty(t, errs)
}

// TestValidate_FirstPatternJoin tests that pattern 0 cannot join.
func TestValidate_FirstPatternJoin(t *testing.T) {
	spec := validSpec("early-join")
	spec.Patterns[0].Joins = []ir.JoinTest{
		{Field: "id", Op: ir.OpEq, Binding: "o", BindingField: "customer_id"},
	}
	errs := Validate([]ir.RuleSpec{spec})
	assert.Contains(t, codes(errs), ErrFirstPatternJoined)
}

// TestValidate_JoinUnknownBinding tests join references to undeclared
// bindings.
func TestValidate_JoinUnknownBinding(t *testing.T) {
	spec := validSpec("bad-join")
	spec.Patterns[1].Joins[0].Binding = "nobody"
	errs := Validate([]ir.RuleSpec{spec})
	require.Len(t, errs, 1)
	assert.Equal(t, ErrJoinUnknownBinding, errs[0].Code)
}

// TestValidate_JoinLaterBinding tests that joins cannot reference a
// binding declared by a later pattern.
func TestValidate_JoinLaterBinding(t *testing.T) {
	spec := ir.RuleSpec{
		Name: "forward-join",
		Patterns: []ir.PatternSpec{
			{Binding: "a", Type: "A"},
			{
				Binding: "b",
				Type:    "B",
				Joins: []ir.JoinTest{
					// "c" is bound by pattern 2, after this one
					{Field: "x", Op: ir.OpEq, Binding: "c", BindingField: "y"},
				},
			},
			{Binding: "c", Type: "C"},
		},
		Then: ir.Production{Consequence: "noop"},
	}
	errs := Validate([]ir.RuleSpec{spec})
	require.Len(t, errs, 1)
	assert.Equal(t, ErrJoinUnknownBinding, errs[0].Code)
}

// TestValidate_JoinExistsOp tests that exists is not a join operator.
func TestValidate_JoinExistsOp(t *testing.T) {
	spec := validSpec("exists-join")
	spec.Patterns[1].Joins[0].Op = ir.OpExists
	errs := Validate([]ir.RuleSpec{spec})
	assert.Contains(t, codes(errs), ErrInvalidOp)
}

// TestValidate_ProductionExclusivity tests the then-clause contract.
func TestValidate_ProductionExclusivity(t *testing.T) {
	t.Run("neither", func(t *testing.T) {
		spec := validSpec("no-then")
		spec.Then = ir.Production{}
		errs := Validate([]ir.RuleSpec{spec})
		require.Len(t, errs, 1)
		assert.Equal(t, ErrInvalidProduction, errs[0].Code)
	})

	t.Run("both", func(t *testing.T) {
		spec := validSpec("double-then")
		spec.Then = ir.Production{Consequence: "c", Type: "Alert"}
		errs := Validate([]ir.RuleSpec{spec})
		require.Len(t, errs, 1)
		assert.Equal(t, ErrInvalidProduction, errs[0].Code)
	})
}

// TestValidate_InvalidTypeRef tests fact type naming rules.
func TestValidate_InvalidTypeRef(t *testing.T) {
	spec := validSpec("bad-type")
	spec.Patterns[0].Type = "lower_case"
	errs := Validate([]ir.RuleSpec{spec})
	require.Len(t, errs, 1)
	assert.Equal(t, ErrInvalidTypeRef, errs[0].Code)
}

// TestValidate_NamespacedTypeRef tests that dotted namespaces pass.
func TestValidate_NamespacedTypeRef(t *testing.T) {
	spec := validSpec("ns-type")
	spec.Patterns[0].Type = "Billing.Invoice"
	errs := Validate([]ir.RuleSpec{spec})
	assert.Empty(t, errs)
}

// TestValidate_TemplateFieldReferences tests binding resolution inside
// insert templates.
func TestValidate_TemplateFieldReferences(t *testing.T) {
	base := func() ir.RuleSpec {
		spec := validSpec("tmpl")
		spec.Then = ir.Production{
			Type:   "Alert",
			Fields: map[string]string{"order_id": "${bound.o.id}", "level": "high"},
		}
		return spec
	}

	t.Run("valid references pass", func(t *testing.T) {
		errs := Validate([]ir.RuleSpec{base()})
		assert.Empty(t, errs)
	})

	t.Run("unknown binding", func(t *testing.T) {
		spec := base()
		spec.Then.Fields["order_id"] = "${bound.ghost.id}"
		errs := Validate([]ir.RuleSpec{spec})
		require.Len(t, errs, 1)
		assert.Equal(t, ErrUnboundTemplateRef, errs[0].Code)
	})

	t.Run("malformed reference", func(t *testing.T) {
		spec := base()
		spec.Then.Fields["order_id"] = "${bound.}"
		errs := Validate([]ir.RuleSpec{spec})
		require.Len(t, errs, 1)
		assert.Equal(t, ErrUnboundTemplateRef, errs[0].Code)
	})

	t.Run("whole-fact reference", func(t *testing.T) {
		spec := base()
		spec.Then.Fields["order_id"] = "${bound.o}"
		errs := Validate([]ir.RuleSpec{spec})
		assert.Empty(t, errs)
	})
}

// TestValidate_CollectsAllErrors tests that validation does not stop at
// the first problem.
func TestValidate_CollectsAllErrors(t *testing.T) {
	spec := validSpec("many-problems")
	spec.Patterns[0].Constraints[0].Op = "like"
	spec.Patterns[1].Joins[0].Binding = "nobody"
	spec.Then = ir.Production{}

	errs := Validate([]ir.RuleSpec{spec})
	assert.Len(t, errs, 3)
}

// TestValidationError_Error tests error message formatting.
func TestValidationError_Error(t *testing.T) {
	withRule := ValidationError{
		Rule:    "reward",
		Field:   "when[0].op",
		Message: "bad operator",
		Code:    ErrInvalidOp,
	}
	assert.Equal(t, "[E105] rule reward: when[0].op: bad operator", withRule.Error())

	withoutRule := ValidationError{
		Field:   "name",
		Message: "rule name is required",
		Code:    ErrRuleNameEmpty,
	}
	assert.Equal(t, "[E101] name: rule name is required", withoutRule.Error())
}
