package compiler

import (
	"fmt"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/kwarch/ruse/internal/ir"
)

// CompileRuleSet parses a CUE source holding rule definitions into rule
// specs. Uses CUE SDK's Go API directly (not CLI subprocess).
//
// Rules live under the top-level "rule" struct, keyed by name:
//
//	rule: "high-value": {
//	    salience: 10
//	    when: [
//	        {bind: "o", type: "Order", where: [{field: "total", op: "gt", value: 100}]},
//	    ]
//	    then: {insert: {type: "Alert", logical: true, fields: {order_id: "${bound.o.id}"}}}
//	}
//
// Specs come back sorted by rule name so compilation order is stable
// regardless of CUE's struct iteration.
func CompileRuleSet(src string) ([]ir.RuleSpec, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src)
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	rulesVal := v.LookupPath(cue.ParsePath("rule"))
	if !rulesVal.Exists() {
		return nil, &CompileError{
			Field:   "rule",
			Message: "no top-level rule struct",
			Pos:     v.Pos(),
		}
	}

	iter, err := rulesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var specs []ir.RuleSpec
	for iter.Next() {
		spec, err := CompileRule(iter.Value())
		if err != nil {
			return nil, err
		}
		specs = append(specs, *spec)
	}

	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs, nil
}

// CompileRule parses one CUE rule struct into a RuleSpec.
// The value should be the rule struct itself, its name in the path
// label.
func CompileRule(v cue.Value) (*ir.RuleSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	spec := &ir.RuleSpec{}

	// Rule name comes from the struct label, e.g. rule "high-value"
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		spec.Name = strings.Trim(labels[len(labels)-1].String(), `"`)
	}

	// Optional conflict-resolution attributes
	if salVal := v.LookupPath(cue.ParsePath("salience")); salVal.Exists() {
		sal, err := salVal.Int64()
		if err != nil {
			return nil, &CompileError{
				Field:   "salience",
				Message: "salience must be an integer",
				Pos:     salVal.Pos(),
			}
		}
		spec.Salience = int(sal)
	}
	if groupVal := v.LookupPath(cue.ParsePath("group")); groupVal.Exists() {
		group, err := groupVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		spec.Group = group
	}
	if nlVal := v.LookupPath(cue.ParsePath("no_loop")); nlVal.Exists() {
		noLoop, err := nlVal.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		spec.NoLoop = noLoop
	}

	var err error
	spec.Patterns, err = parsePatterns(v)
	if err != nil {
		return nil, err
	}

	spec.Then, err = parseProduction(v)
	if err != nil {
		return nil, err
	}

	spec.Produces, err = parseProduces(v, spec.Then)
	if err != nil {
		return nil, err
	}

	return spec, nil
}

// parsePatterns extracts the when clause: an ordered list of patterns.
func parsePatterns(v cue.Value) ([]ir.PatternSpec, error) {
	whenVal := v.LookupPath(cue.ParsePath("when"))
	if !whenVal.Exists() {
		return nil, &CompileError{
			Field:   "when",
			Message: "when clause is required",
			Pos:     v.Pos(),
		}
	}

	iter, err := whenVal.List()
	if err != nil {
		return nil, &CompileError{
			Field:   "when",
			Message: "when clause must be a list of patterns",
			Pos:     whenVal.Pos(),
		}
	}

	var patterns []ir.PatternSpec
	for i := 0; iter.Next(); i++ {
		p, err := parsePattern(iter.Value(), i)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}
	if len(patterns) == 0 {
		return nil, &CompileError{
			Field:   "when",
			Message: "when clause requires at least one pattern",
			Pos:     whenVal.Pos(),
		}
	}
	return patterns, nil
}

// parsePattern extracts one pattern: fact type, optional binding,
// single-fact constraints, and join tests.
func parsePattern(v cue.Value, idx int) (ir.PatternSpec, error) {
	p := ir.PatternSpec{}
	field := fmt.Sprintf("when[%d]", idx)

	typeVal := v.LookupPath(cue.ParsePath("type"))
	if !typeVal.Exists() {
		return p, &CompileError{
			Field:   field + ".type",
			Message: "pattern requires a fact type",
			Pos:     v.Pos(),
		}
	}
	typeTag, err := typeVal.String()
	if err != nil {
		return p, formatCUEError(err)
	}
	p.Type = ir.TypeRef(typeTag)

	if bindVal := v.LookupPath(cue.ParsePath("bind")); bindVal.Exists() {
		binding, err := bindVal.String()
		if err != nil {
			return p, formatCUEError(err)
		}
		p.Binding = binding
	}

	if whereVal := v.LookupPath(cue.ParsePath("where")); whereVal.Exists() {
		iter, err := whereVal.List()
		if err != nil {
			return p, &CompileError{
				Field:   field + ".where",
				Message: "where must be a list of constraints",
				Pos:     whereVal.Pos(),
			}
		}
		for j := 0; iter.Next(); j++ {
			c, err := parseConstraint(iter.Value(), fmt.Sprintf("%s.where[%d]", field, j))
			if err != nil {
				return p, err
			}
			p.Constraints = append(p.Constraints, c)
		}
	}

	if joinVal := v.LookupPath(cue.ParsePath("join")); joinVal.Exists() {
		iter, err := joinVal.List()
		if err != nil {
			return p, &CompileError{
				Field:   field + ".join",
				Message: "join must be a list of join tests",
				Pos:     joinVal.Pos(),
			}
		}
		for j := 0; iter.Next(); j++ {
			jt, err := parseJoin(iter.Value(), fmt.Sprintf("%s.join[%d]", field, j))
			if err != nil {
				return p, err
			}
			p.Joins = append(p.Joins, jt)
		}
	}

	return p, nil
}

// parseConstraint extracts one field <op> literal predicate.
func parseConstraint(v cue.Value, field string) (ir.ConstraintSpec, error) {
	c := ir.ConstraintSpec{}

	name, err := requiredString(v, "field", field)
	if err != nil {
		return c, err
	}
	c.Field = name

	op, err := requiredString(v, "op", field)
	if err != nil {
		return c, err
	}
	c.Op = ir.CmpOp(op)

	if valVal := v.LookupPath(cue.ParsePath("value")); valVal.Exists() {
		var raw any
		if err := valVal.Decode(&raw); err != nil {
			return c, formatCUEError(err)
		}
		c.Value, err = ir.FromGo(raw)
		if err != nil {
			return c, &CompileError{
				Field:   field + ".value",
				Message: err.Error(),
				Pos:     valVal.Pos(),
			}
		}
	}

	return c, nil
}

// parseJoin extracts one cross-pattern predicate.
func parseJoin(v cue.Value, field string) (ir.JoinTest, error) {
	jt := ir.JoinTest{}

	var err error
	if jt.Field, err = requiredString(v, "field", field); err != nil {
		return jt, err
	}
	op, err := requiredString(v, "op", field)
	if err != nil {
		return jt, err
	}
	jt.Op = ir.CmpOp(op)
	if jt.Binding, err = requiredString(v, "binding", field); err != nil {
		return jt, err
	}
	if jt.BindingField, err = requiredString(v, "binding_field", field); err != nil {
		return jt, err
	}
	return jt, nil
}

// parseProduction extracts the then clause: either a registered
// consequence reference or a template insert, never both.
func parseProduction(v cue.Value) (ir.Production, error) {
	then := ir.Production{}

	thenVal := v.LookupPath(cue.ParsePath("then"))
	if !thenVal.Exists() {
		return then, &CompileError{
			Field:   "then",
			Message: "then clause is required",
			Pos:     v.Pos(),
		}
	}

	consVal := thenVal.LookupPath(cue.ParsePath("consequence"))
	insertVal := thenVal.LookupPath(cue.ParsePath("insert"))

	switch {
	case consVal.Exists() && insertVal.Exists():
		return then, &CompileError{
			Field:   "then",
			Message: "then clause takes consequence or insert, not both",
			Pos:     thenVal.Pos(),
		}

	case consVal.Exists():
		name, err := consVal.String()
		if err != nil {
			return then, formatCUEError(err)
		}
		then.Consequence = name
		return then, nil

	case insertVal.Exists():
		typeTag, err := requiredString(insertVal, "type", "then.insert")
		if err != nil {
			return then, err
		}
		then.Type = ir.TypeRef(typeTag)

		if logVal := insertVal.LookupPath(cue.ParsePath("logical")); logVal.Exists() {
			logical, err := logVal.Bool()
			if err != nil {
				return then, formatCUEError(err)
			}
			then.Logical = logical
		}

		fieldsVal := insertVal.LookupPath(cue.ParsePath("fields"))
		if fieldsVal.Exists() {
			iter, err := fieldsVal.Fields()
			if err != nil {
				return then, formatCUEError(err)
			}
			then.Fields = make(map[string]string)
			for iter.Next() {
				tmpl, err := iter.Value().String()
				if err != nil {
					return then, &CompileError{
						Field:   fmt.Sprintf("then.insert.fields.%s", iter.Label()),
						Message: "field template must be a string",
						Pos:     iter.Value().Pos(),
					}
				}
				then.Fields[iter.Label()] = tmpl
			}
		}
		return then, nil

	default:
		return then, &CompileError{
			Field:   "then",
			Message: "then clause requires consequence or insert",
			Pos:     thenVal.Pos(),
		}
	}
}

// parseProduces collects the fact types a rule asserts: the template
// insert type implicitly, plus any explicit produces declaration for
// registered consequences. Feeds static feedback-cycle analysis.
func parseProduces(v cue.Value, then ir.Production) ([]ir.TypeRef, error) {
	var produces []ir.TypeRef
	if then.Type != "" {
		produces = append(produces, then.Type)
	}

	prodVal := v.LookupPath(cue.ParsePath("produces"))
	if prodVal.Exists() {
		iter, err := prodVal.List()
		if err != nil {
			return nil, &CompileError{
				Field:   "produces",
				Message: "produces must be a list of fact types",
				Pos:     prodVal.Pos(),
			}
		}
		for iter.Next() {
			typeTag, err := iter.Value().String()
			if err != nil {
				return nil, formatCUEError(err)
			}
			ref := ir.TypeRef(typeTag)
			dup := false
			for _, p := range produces {
				if p == ref {
					dup = true
					break
				}
			}
			if !dup {
				produces = append(produces, ref)
			}
		}
	}
	return produces, nil
}

// requiredString reads a mandatory string field from a CUE struct.
func requiredString(v cue.Value, name, field string) (string, error) {
	val := v.LookupPath(cue.ParsePath(name))
	if !val.Exists() {
		return "", &CompileError{
			Field:   field + "." + name,
			Message: name + " is required",
			Pos:     v.Pos(),
		}
	}
	s, err := val.String()
	if err != nil {
		return "", &CompileError{
			Field:   field + "." + name,
			Message: name + " must be a string",
			Pos:     val.Pos(),
		}
	}
	return s, nil
}
