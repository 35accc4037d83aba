package compiler

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kwarch/ruse/internal/ir"
)

// Validation error codes (E100-E199)
const (
	// Rule structure errors (E101-E109)
	ErrRuleNameEmpty      = "E101" // rule name is required
	ErrRuleNoPatterns     = "E102" // at least one pattern required
	ErrDuplicateRuleName  = "E103" // duplicate rule name
	ErrDuplicateBinding   = "E104" // binding declared twice in one rule
	ErrInvalidOp          = "E105" // unknown comparison operator
	ErrConstraintNoValue  = "E106" // non-exists constraint missing a value
	ErrFirstPatternJoined = "E107" // pattern 0 cannot carry join tests

	// Join and production errors (E110-E119)
	ErrJoinUnknownBinding = "E110" // join references unknown or later binding
	ErrInvalidProduction  = "E111" // production is neither consequence nor template
	ErrUnboundTemplateRef = "E112" // field template references unknown binding
	ErrInvalidTypeRef     = "E113" // fact type does not match naming rules
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Rule    string `json:"rule"`
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Rule != "" {
		return fmt.Sprintf("[%s] rule %s: %s: %s", e.Code, e.Rule, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// typeRefPattern matches fact type tags: an uppercase-led identifier,
// optionally namespaced with dots.
var typeRefPattern = regexp.MustCompile(`^[A-Z][A-Za-z0-9]*(\.[A-Z][A-Za-z0-9]*)*$`)

// boundRefPattern matches "${bound.binding}" and "${bound.binding.field}"
// template references.
var boundRefPattern = regexp.MustCompile(`^\$\{bound\.([a-zA-Z_][a-zA-Z0-9_]*)(\.[a-zA-Z_][a-zA-Z0-9_]*)?\}$`)

// Validate checks a compiled rule set against schema rules.
// Returns all errors found (does not fail-fast).
func Validate(specs []ir.RuleSpec) []ValidationError {
	var errs []ValidationError

	names := make(map[string]bool, len(specs))
	for i := range specs {
		spec := &specs[i]

		if strings.TrimSpace(spec.Name) == "" {
			errs = append(errs, ValidationError{
				Field:   "name",
				Message: "rule name is required and must be non-empty",
				Code:    ErrRuleNameEmpty,
			})
		}
		if names[spec.Name] {
			errs = append(errs, ValidationError{
				Rule:    spec.Name,
				Field:   "name",
				Message: fmt.Sprintf("duplicate rule name: %q", spec.Name),
				Code:    ErrDuplicateRuleName,
			})
		}
		names[spec.Name] = true

		errs = append(errs, validateRule(spec)...)
	}

	return errs
}

// validateRule checks one rule's patterns and production.
func validateRule(spec *ir.RuleSpec) []ValidationError {
	var errs []ValidationError

	if len(spec.Patterns) == 0 {
		errs = append(errs, ValidationError{
			Rule:    spec.Name,
			Field:   "when",
			Message: "at least one pattern is required",
			Code:    ErrRuleNoPatterns,
		})
	}

	bindings := make(map[string]int)
	for i, p := range spec.Patterns {
		field := fmt.Sprintf("when[%d]", i)

		if !typeRefPattern.MatchString(string(p.Type)) {
			errs = append(errs, ValidationError{
				Rule:    spec.Name,
				Field:   field + ".type",
				Message: fmt.Sprintf("invalid fact type %q, expected an uppercase-led identifier", p.Type),
				Code:    ErrInvalidTypeRef,
			})
		}

		if p.Binding != "" {
			if _, dup := bindings[p.Binding]; dup {
				errs = append(errs, ValidationError{
					Rule:    spec.Name,
					Field:   field + ".bind",
					Message: fmt.Sprintf("binding %q declared more than once", p.Binding),
					Code:    ErrDuplicateBinding,
				})
			}
			bindings[p.Binding] = i
		}

		for j, c := range p.Constraints {
			cf := fmt.Sprintf("%s.where[%d]", field, j)
			if !ir.ValidOps[c.Op] {
				errs = append(errs, ValidationError{
					Rule:    spec.Name,
					Field:   cf + ".op",
					Message: fmt.Sprintf("unknown comparison operator %q", c.Op),
					Code:    ErrInvalidOp,
				})
			}
			if c.Op != ir.OpExists && c.Value == nil {
				errs = append(errs, ValidationError{
					Rule:    spec.Name,
					Field:   cf + ".value",
					Message: fmt.Sprintf("operator %q requires a comparison value", c.Op),
					Code:    ErrConstraintNoValue,
				})
			}
		}

		for j, jt := range p.Joins {
			jf := fmt.Sprintf("%s.join[%d]", field, j)
			if i == 0 {
				errs = append(errs, ValidationError{
					Rule:    spec.Name,
					Field:   jf,
					Message: "the first pattern has no earlier binding to join against",
					Code:    ErrFirstPatternJoined,
				})
				continue
			}
			if !ir.ValidOps[jt.Op] || jt.Op == ir.OpExists {
				errs = append(errs, ValidationError{
					Rule:    spec.Name,
					Field:   jf + ".op",
					Message: fmt.Sprintf("invalid join operator %q", jt.Op),
					Code:    ErrInvalidOp,
				})
			}
			pos, known := bindings[jt.Binding]
			if !known || pos >= i {
				errs = append(errs, ValidationError{
					Rule:    spec.Name,
					Field:   jf + ".binding",
					Message: fmt.Sprintf("join references unknown or later binding %q", jt.Binding),
					Code:    ErrJoinUnknownBinding,
				})
			}
		}
	}

	errs = append(errs, validateProduction(spec, bindings)...)
	return errs
}

// validateProduction checks the then clause and its template
// references.
func validateProduction(spec *ir.RuleSpec, bindings map[string]int) []ValidationError {
	var errs []ValidationError
	then := spec.Then

	hasConsequence := then.Consequence != ""
	hasTemplate := then.Type != ""
	if hasConsequence == hasTemplate {
		errs = append(errs, ValidationError{
			Rule:    spec.Name,
			Field:   "then",
			Message: "production requires exactly one of a consequence name or an insert template",
			Code:    ErrInvalidProduction,
		})
		return errs
	}

	if hasTemplate {
		if !typeRefPattern.MatchString(string(then.Type)) {
			errs = append(errs, ValidationError{
				Rule:    spec.Name,
				Field:   "then.insert.type",
				Message: fmt.Sprintf("invalid fact type %q", then.Type),
				Code:    ErrInvalidTypeRef,
			})
		}
		for field, tmpl := range then.Fields {
			if !strings.HasPrefix(tmpl, "${") {
				continue
			}
			m := boundRefPattern.FindStringSubmatch(tmpl)
			if m == nil {
				errs = append(errs, ValidationError{
					Rule:    spec.Name,
					Field:   fmt.Sprintf("then.insert.fields.%s", field),
					Message: fmt.Sprintf("malformed binding reference %q", tmpl),
					Code:    ErrUnboundTemplateRef,
				})
				continue
			}
			if _, ok := bindings[m[1]]; !ok {
				errs = append(errs, ValidationError{
					Rule:    spec.Name,
					Field:   fmt.Sprintf("then.insert.fields.%s", field),
					Message: fmt.Sprintf("template references undefined binding %q", m[1]),
					Code:    ErrUnboundTemplateRef,
				})
			}
		}
	}

	return errs
}
