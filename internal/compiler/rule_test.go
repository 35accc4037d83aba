package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwarch/ruse/internal/ir"
)

// TestCompileRuleSet_Basic tests compiling a minimal single rule.
func TestCompileRuleSet_Basic(t *testing.T) {
	src := `
rule: "high-value": {
	salience: 10
	when: [
		{bind: "o", type: "Order", where: [{field: "total", op: "gt", value: 100}]},
	]
	then: {consequence: "flag-order"}
}
`
	specs, err := CompileRuleSet(src)
	require.NoError(t, err)
	require.Len(t, specs, 1)

	spec := specs[0]
	assert.Equal(t, "high-value", spec.Name)
	assert.Equal(t, 10, spec.Salience)
	assert.False(t, spec.NoLoop)
	assert.Equal(t, "flag-order", spec.Then.Consequence)

	require.Len(t, spec.Patterns, 1)
	p := spec.Patterns[0]
	assert.Equal(t, "o", p.Binding)
	assert.Equal(t, ir.TypeRef("Order"), p.Type)
	require.Len(t, p.Constraints, 1)
	assert.Equal(t, "total", p.Constraints[0].Field)
	assert.Equal(t, ir.OpGt, p.Constraints[0].Op)
	assert.True(t, ir.Equal(ir.Int(100), p.Constraints[0].Value))
}

// TestCompileRuleSet_SortedByName tests that output order is independent
// of declaration order.
func TestCompileRuleSet_SortedByName(t *testing.T) {
	src := `
rule: "zebra": {
	when: [{type: "A"}]
	then: {consequence: "c"}
}
rule: "aardvark": {
	when: [{type: "A"}]
	then: {consequence: "c"}
}
`
	specs, err := CompileRuleSet(src)
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, "aardvark", specs[0].Name)
	assert.Equal(t, "zebra", specs[1].Name)
}

// TestCompileRule_JoinTests tests parsing cross-pattern join predicates.
func TestCompileRule_JoinTests(t *testing.T) {
	src := `
rule: "customer-order": {
	when: [
		{bind: "c", type: "Customer", where: [{field: "tier", op: "eq", value: "gold"}]},
		{bind: "o", type: "Order", join: [
			{field: "customer_id", op: "eq", binding: "c", binding_field: "id"},
		]},
	]
	then: {consequence: "reward"}
}
`
	specs, err := CompileRuleSet(src)
	require.NoError(t, err)
	require.Len(t, specs, 1)

	require.Len(t, specs[0].Patterns, 2)
	joins := specs[0].Patterns[1].Joins
	require.Len(t, joins, 1)
	assert.Equal(t, "customer_id", joins[0].Field)
	assert.Equal(t, ir.OpEq, joins[0].Op)
	assert.Equal(t, "c", joins[0].Binding)
	assert.Equal(t, "id", joins[0].BindingField)
}

// TestCompileRule_TemplateProduction tests parsing an insert template.
func TestCompileRule_TemplateProduction(t *testing.T) {
	src := `
rule: "alert": {
	when: [{bind: "o", type: "Order"}]
	then: {insert: {
		type: "Alert"
		logical: true
		fields: {order_id: "${bound.o.id}", level: "high"}
	}}
}
`
	specs, err := CompileRuleSet(src)
	require.NoError(t, err)
	require.Len(t, specs, 1)

	then := specs[0].Then
	assert.Empty(t, then.Consequence)
	assert.Equal(t, ir.TypeRef("Alert"), then.Type)
	assert.True(t, then.Logical)
	assert.Equal(t, "${bound.o.id}", then.Fields["order_id"])
	assert.Equal(t, "high", then.Fields["level"])

	// Template type is an implicit produces entry
	assert.Equal(t, []ir.TypeRef{"Alert"}, specs[0].Produces)
}

// TestCompileRule_ExplicitProduces tests the produces declaration on a
// consequence rule, with the template type deduped.
func TestCompileRule_ExplicitProduces(t *testing.T) {
	src := `
rule: "derive": {
	when: [{bind: "o", type: "Order"}]
	produces: ["Alert", "Alert", "Audit"]
	then: {insert: {type: "Alert", fields: {}}}
}
`
	specs, err := CompileRuleSet(src)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, []ir.TypeRef{"Alert", "Audit"}, specs[0].Produces)
}

// TestCompileRule_GroupAndNoLoop tests the optional conflict-resolution
// attributes.
func TestCompileRule_GroupAndNoLoop(t *testing.T) {
	src := `
rule: "escalate": {
	group: "triage"
	no_loop: true
	when: [{bind: "t", type: "Ticket"}]
	then: {consequence: "escalate"}
}
`
	specs, err := CompileRuleSet(src)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, "triage", specs[0].Group)
	assert.True(t, specs[0].NoLoop)
}

// TestCompileRuleSet_MissingWhen tests that a rule without a when clause
// fails.
func TestCompileRuleSet_MissingWhen(t *testing.T) {
	src := `
rule: "broken": {
	then: {consequence: "c"}
}
`
	_, err := CompileRuleSet(src)
	require.Error(t, err)

	var cerr *CompileError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "when", cerr.Field)
}

// TestCompileRuleSet_EmptyWhen tests that an empty pattern list fails.
func TestCompileRuleSet_EmptyWhen(t *testing.T) {
	src := `
rule: "broken": {
	when: []
	then: {consequence: "c"}
}
`
	_, err := CompileRuleSet(src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one pattern")
}

// TestCompileRuleSet_BothProductions tests that consequence and insert
// are mutually exclusive.
func TestCompileRuleSet_BothProductions(t *testing.T) {
	src := `
rule: "broken": {
	when: [{type: "A"}]
	then: {
		consequence: "c"
		insert: {type: "B", fields: {}}
	}
}
`
	_, err := CompileRuleSet(src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not both")
}

// TestCompileRuleSet_MissingThen tests that the then clause is required.
func TestCompileRuleSet_MissingThen(t *testing.T) {
	src := `
rule: "broken": {
	when: [{type: "A"}]
}
`
	_, err := CompileRuleSet(src)
	require.Error(t, err)

	var cerr *CompileError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "then", cerr.Field)
}

// TestCompileRuleSet_PatternWithoutType tests that every pattern needs a
// fact type.
func TestCompileRuleSet_PatternWithoutType(t *testing.T) {
	src := `
rule: "broken": {
	when: [{bind: "x"}]
	then: {consequence: "c"}
}
`
	_, err := CompileRuleSet(src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fact type")
}

// TestCompileRuleSet_NonIntegerSalience tests salience type checking.
func TestCompileRuleSet_NonIntegerSalience(t *testing.T) {
	src := `
rule: "broken": {
	salience: "high"
	when: [{type: "A"}]
	then: {consequence: "c"}
}
`
	_, err := CompileRuleSet(src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "salience")
}

// TestCompileRuleSet_NoRuleStruct tests source without a rule struct.
func TestCompileRuleSet_NoRuleStruct(t *testing.T) {
	_, err := CompileRuleSet(`other: {a: 1}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no top-level rule struct")
}

// TestCompileRuleSet_MalformedCUE tests that CUE syntax errors surface
// with position info.
func TestCompileRuleSet_MalformedCUE(t *testing.T) {
	_, err := CompileRuleSet(`rule: "x": {when: [}`)
	require.Error(t, err)
}

// TestCompileRuleSet_ConstraintValueKinds tests that constraint values of
// different kinds decode into canonical values.
func TestCompileRuleSet_ConstraintValueKinds(t *testing.T) {
	src := `
rule: "kinds": {
	when: [
		{bind: "f", type: "Fact", where: [
			{field: "name", op: "eq", value: "alice"},
			{field: "score", op: "ge", value: 2.5},
			{field: "active", op: "eq", value: true},
			{field: "note", op: "exists"},
		]},
	]
	then: {consequence: "c"}
}
`
	specs, err := CompileRuleSet(src)
	require.NoError(t, err)
	require.Len(t, specs, 1)

	cs := specs[0].Patterns[0].Constraints
	require.Len(t, cs, 4)
	assert.True(t, ir.Equal(ir.String("alice"), cs[0].Value))
	assert.True(t, ir.Equal(ir.Float(2.5), cs[1].Value))
	assert.True(t, ir.Equal(ir.Bool(true), cs[2].Value))
	assert.Nil(t, cs[3].Value)
}
