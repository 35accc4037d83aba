package ir

import "fmt"

// RuleSpec represents a compiled rule: ordered patterns forming the
// condition, conflict-resolution attributes, and the production to run
// when the condition holds.
type RuleSpec struct {
	Name     string        `json:"name"`
	Salience int           `json:"salience"`        // Higher fires first
	Group    string        `json:"group,omitempty"` // Agenda group; "" = MAIN
	NoLoop   bool          `json:"no_loop,omitempty"`
	Produces []TypeRef     `json:"produces,omitempty"` // Fact types asserted by the production
	Patterns []PatternSpec `json:"patterns"`
	Then     Production    `json:"then"`
}

// Consumes returns the fact types matched by the rule's patterns.
// Used with Produces for compile-time feedback-cycle detection.
func (r RuleSpec) Consumes() []TypeRef {
	seen := make(map[TypeRef]bool, len(r.Patterns))
	out := make([]TypeRef, 0, len(r.Patterns))
	for _, p := range r.Patterns {
		if !seen[p.Type] {
			seen[p.Type] = true
			out = append(out, p.Type)
		}
	}
	return out
}

// PatternSpec represents one pattern in a rule condition: a fact type,
// single-fact constraints, and join tests against earlier patterns.
type PatternSpec struct {
	Binding     string           `json:"binding,omitempty"` // Name the matched fact binds to
	Type        TypeRef          `json:"type"`
	Constraints []ConstraintSpec `json:"constraints,omitempty"`
	Joins       []JoinTest       `json:"joins,omitempty"`
}

// ConstraintSpec is a single-fact (alpha) predicate: field <op> literal.
type ConstraintSpec struct {
	Field string `json:"field"`
	Op    CmpOp  `json:"op"`
	Value Value  `json:"value,omitempty"` // Absent for "exists"
}

// JoinTest is a cross-pattern (beta) predicate: this pattern's field
// compared against a field of a fact bound by an earlier pattern.
type JoinTest struct {
	Field        string `json:"field"`
	Op           CmpOp  `json:"op"`
	Binding      string `json:"binding"`       // Earlier pattern's binding name
	BindingField string `json:"binding_field"` // Field on the bound fact
}

// CmpOp enumerates the comparison operators constraints support.
type CmpOp string

const (
	OpEq     CmpOp = "eq"
	OpNe     CmpOp = "ne"
	OpLt     CmpOp = "lt"
	OpLe     CmpOp = "le"
	OpGt     CmpOp = "gt"
	OpGe     CmpOp = "ge"
	OpExists CmpOp = "exists" // Field present, regardless of value
)

// ValidOps defines the allowed comparison operators.
var ValidOps = map[CmpOp]bool{
	OpEq:     true,
	OpNe:     true,
	OpLt:     true,
	OpLe:     true,
	OpGt:     true,
	OpGe:     true,
	OpExists: true,
}

// EvalOp applies a comparison operator to two values.
// Ordering operators on unordered kinds report an error rather than
// silently failing the match.
func EvalOp(op CmpOp, left, right Value) (bool, error) {
	switch op {
	case OpEq:
		return Equal(left, right), nil
	case OpNe:
		return !Equal(left, right), nil
	case OpLt, OpLe, OpGt, OpGe:
		c, err := Compare(left, right)
		if err != nil {
			return false, err
		}
		switch op {
		case OpLt:
			return c < 0, nil
		case OpLe:
			return c <= 0, nil
		case OpGt:
			return c > 0, nil
		default:
			return c >= 0, nil
		}
	case OpExists:
		return true, nil
	default:
		return false, fmt.Errorf("unknown comparison operator %q", op)
	}
}

// Production describes what a rule does when it fires.
//
// A production with a non-empty Type is a compiled template production:
// the engine asserts a new fact of that type, with field templates
// resolved against the match bindings. Otherwise Consequence names an
// externally registered consequence.
type Production struct {
	Consequence string            `json:"consequence,omitempty"` // Registry name; "" for template productions
	Type        TypeRef           `json:"type,omitempty"`        // Asserted fact type (template production)
	Fields      map[string]string `json:"fields,omitempty"`      // Field -> template ("${bound.x.y}" or literal)
	Logical     bool              `json:"logical,omitempty"`     // Truth-maintained insertion
}

// canonicalObject renders the spec as an Object for RuleSetHash.
// Hand-built rather than reflected so the hash input is explicit.
func (r RuleSpec) canonicalObject() (Object, error) {
	patterns := make(Array, 0, len(r.Patterns))
	for _, p := range r.Patterns {
		constraints := make(Array, 0, len(p.Constraints))
		for _, c := range p.Constraints {
			co := Object{
				"field": String(c.Field),
				"op":    String(c.Op),
			}
			if c.Value != nil {
				co["value"] = c.Value
			}
			constraints = append(constraints, co)
		}
		joins := make(Array, 0, len(p.Joins))
		for _, j := range p.Joins {
			joins = append(joins, Object{
				"field":         String(j.Field),
				"op":            String(j.Op),
				"binding":       String(j.Binding),
				"binding_field": String(j.BindingField),
			})
		}
		patterns = append(patterns, Object{
			"binding":     String(p.Binding),
			"type":        String(p.Type),
			"constraints": constraints,
			"joins":       joins,
		})
	}

	fields := make(Object, len(r.Then.Fields))
	for k, v := range r.Then.Fields {
		fields[k] = String(v)
	}

	produces := make(Array, 0, len(r.Produces))
	for _, t := range r.Produces {
		produces = append(produces, String(t))
	}

	return Object{
		"name":     String(r.Name),
		"salience": Int(r.Salience),
		"group":    String(r.Group),
		"no_loop":  Bool(r.NoLoop),
		"produces": produces,
		"patterns": patterns,
		"then": Object{
			"consequence": String(r.Then.Consequence),
			"type":        String(r.Then.Type),
			"fields":      fields,
			"logical":     Bool(r.Then.Logical),
		},
	}, nil
}
