package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/kwarch/ruse/internal/ir"
)

// templateConsequence is the compiled form of a template production: a
// rule whose action asserts one new fact, with field values resolved
// from the match bindings. The compiler emits one per rule with a
// non-empty production type.
//
// It is a CompiledInvoker: the whole action is known ahead of time, so
// callers may skip interpreted-path bookkeeping for it.
type templateConsequence struct {
	rule *ir.RuleSpec
}

// newTemplateConsequence builds the consequence for a rule's template
// production.
func newTemplateConsequence(rule *ir.RuleSpec) *templateConsequence {
	return &templateConsequence{rule: rule}
}

// Name returns the rule name; template productions have no registry
// entry of their own.
func (t *templateConsequence) Name() string {
	return t.rule.Name
}

// CompiledInvoker marks the consequence as ahead-of-time compiled.
func (t *templateConsequence) CompiledInvoker() {}

// Evaluate resolves the field templates against the match and asserts
// the produced fact, logically when the production says so.
func (t *templateConsequence) Evaluate(ctx context.Context, match *MatchContext, wm Mutations) error {
	then := t.rule.Then

	value := make(ir.Object, len(then.Fields))
	for field, template := range then.Fields {
		v, err := resolveTemplate(template, match)
		if err != nil {
			return fmt.Errorf("field %q: %w", field, err)
		}
		value[field] = v
	}

	if then.Logical {
		_, err := wm.InsertLogical(then.Type, value)
		return err
	}
	_, err := wm.Insert(then.Type, value)
	return err
}

// resolveTemplate substitutes a binding reference with its matched
// value. References use the format "${bound.binding.field}"; the field
// part may be omitted to copy the bound fact's whole value. Other
// strings are literals.
//
// Examples:
//
//	"${bound.order.total}" -> the total field of the fact bound to "order"
//	"${bound.order}"       -> the full value of the fact bound to "order"
//	"pending"              -> ir.String("pending")
func resolveTemplate(template string, match *MatchContext) (ir.Value, error) {
	const prefix = "${bound."
	const suffix = "}"

	if !strings.HasPrefix(template, prefix) || !strings.HasSuffix(template, suffix) {
		return ir.String(template), nil
	}

	ref := template[len(prefix) : len(template)-len(suffix)]
	if ref == "" {
		return nil, fmt.Errorf("empty binding reference %q", template)
	}

	binding, field, hasField := strings.Cut(ref, ".")
	if !hasField {
		f, err := match.Fact(binding)
		if err != nil {
			return nil, err
		}
		return f.Value, nil
	}
	return match.Value(binding, field)
}
