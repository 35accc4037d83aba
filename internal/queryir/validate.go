package queryir

import (
	"fmt"

	"github.com/kwarch/ruse/internal/engine"
)

// ValidationResult reports whether a filter can be compiled against a
// journal target.
//
// Invalid filters are hard errors: the SQL compiler refuses them rather
// than guessing at column mappings. Problems carries one message per
// violation so callers can report all of them at once.
type ValidationResult struct {
	// Valid is true when the filter compiles against the target.
	Valid bool

	// Problems lists the violations. Empty when Valid is true.
	Problems []string
}

// Validate checks a filter against the target journal table.
//
// Rules:
//  1. Column filters must match their table: KindIs, SourceIs, TypeIs,
//     and HandleIs read mutation columns; RuleIs reads a firing column.
//  2. KindIs and SourceIs values must be journal enum values.
//  3. Handles are positive and seq bounds are non-negative.
//  4. And nodes validate recursively.
//
// A nil filter is valid and means "read the whole session".
//
// Validate is a pure function with no side effects.
func Validate(target Target, f Filter) ValidationResult {
	v := &validator{
		target:   target,
		problems: []string{},
	}
	v.validateFilter(f)

	return ValidationResult{
		Valid:    len(v.problems) == 0,
		Problems: v.problems,
	}
}

// validator accumulates problems during traversal.
type validator struct {
	target   Target
	problems []string
}

// addProblem appends a problem message.
func (v *validator) addProblem(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

// validateFilter recursively validates a filter node.
func (v *validator) validateFilter(f Filter) {
	if f == nil {
		return // nil filter reads everything
	}

	switch filter := f.(type) {
	case KindIs:
		v.validateKindIs(filter)
	case *KindIs:
		v.validateKindIs(*filter)
	case SourceIs:
		v.validateSourceIs(filter)
	case *SourceIs:
		v.validateSourceIs(*filter)
	case TypeIs:
		v.validateTypeIs(filter)
	case *TypeIs:
		v.validateTypeIs(*filter)
	case HandleIs:
		v.validateHandleIs(filter)
	case *HandleIs:
		v.validateHandleIs(*filter)
	case RuleIs:
		v.validateRuleIs(filter)
	case *RuleIs:
		v.validateRuleIs(*filter)
	case SeqAtLeast:
		v.validateSeqBound(filter.Seq)
	case *SeqAtLeast:
		v.validateSeqBound(filter.Seq)
	case SeqAtMost:
		v.validateSeqBound(filter.Seq)
	case *SeqAtMost:
		v.validateSeqBound(filter.Seq)
	case And:
		v.validateAnd(filter)
	case *And:
		v.validateAnd(*filter)
	default:
		v.addProblem("unknown filter type %T", f)
	}
}

func (v *validator) validateKindIs(f KindIs) {
	if v.target != Mutations {
		v.addProblem("kind filter applies to mutations, not %s", v.target)
	}
	switch engine.MutationKind(f.Kind) {
	case engine.MutationInsert, engine.MutationInsertLogical,
		engine.MutationUpdate, engine.MutationRetract:
	default:
		v.addProblem("unknown mutation kind %q", f.Kind)
	}
}

func (v *validator) validateSourceIs(f SourceIs) {
	if v.target != Mutations {
		v.addProblem("source filter applies to mutations, not %s", v.target)
	}
	switch engine.MutationSource(f.Source) {
	case engine.SourceExternal, engine.SourceConsequence, engine.SourceTruth:
	default:
		v.addProblem("unknown mutation source %q", f.Source)
	}
}

func (v *validator) validateTypeIs(f TypeIs) {
	if v.target != Mutations {
		v.addProblem("type filter applies to mutations, not %s", v.target)
	}
	if f.Type == "" {
		v.addProblem("type filter requires a non-empty type tag")
	}
}

func (v *validator) validateHandleIs(f HandleIs) {
	if v.target != Mutations {
		v.addProblem("handle filter applies to mutations, not %s", v.target)
	}
	if f.Handle <= 0 {
		v.addProblem("handle filter requires a positive handle, got %d", f.Handle)
	}
}

func (v *validator) validateRuleIs(f RuleIs) {
	if v.target != Firings {
		v.addProblem("rule filter applies to firings, not %s", v.target)
	}
	if f.Rule == "" {
		v.addProblem("rule filter requires a non-empty rule name")
	}
}

func (v *validator) validateSeqBound(seq int64) {
	if seq < 0 {
		v.addProblem("seq bound must be non-negative, got %d", seq)
	}
}

func (v *validator) validateAnd(and And) {
	for _, sub := range and.Filters {
		if sub == nil {
			v.addProblem("conjunction contains a nil filter")
			continue
		}
		v.validateFilter(sub)
	}
}
