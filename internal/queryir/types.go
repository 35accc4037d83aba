package queryir

// Target selects which journal table a filter reads.
type Target int

const (
	// Mutations targets the working-memory mutation journal.
	Mutations Target = iota
	// Firings targets the activation firing journal.
	Firings
)

// String returns the journal table name for the target.
func (t Target) String() string {
	switch t {
	case Mutations:
		return "mutations"
	case Firings:
		return "firings"
	default:
		return "unknown"
	}
}

// Filter represents one condition over journal records.
//
// This is a sealed interface - only types in this package implement it.
// The marker method pattern prevents external implementations and
// enables exhaustive type switches in the SQL compiler.
//
// Filter types:
//   - KindIs: mutation kind equals a value (mutations only)
//   - SourceIs: mutation source equals a value (mutations only)
//   - TypeIs: fact type tag equals a value (mutations only)
//   - HandleIs: fact handle equals a value (mutations only)
//   - RuleIs: firing rule name equals a value (firings only)
//   - SeqAtLeast / SeqAtMost: inclusive seq bounds (both targets)
//   - And: conjunction of filters
//
// A nil Filter means "no condition" and reads the whole session.
type Filter interface {
	filterNode() // Marker method - seals interface to this package
}

// KindIs matches mutations whose kind column equals Kind.
//
// Valid kinds are the journal's mutation kinds: "insert",
// "insert_logical", "update", and "retract".
type KindIs struct {
	Kind string
}

func (KindIs) filterNode() {}

// SourceIs matches mutations whose source column equals Source.
//
// Valid sources are "external", "consequence", and "truth".
type SourceIs struct {
	Source string
}

func (SourceIs) filterNode() {}

// TypeIs matches mutations whose fact type tag equals Type.
type TypeIs struct {
	Type string
}

func (TypeIs) filterNode() {}

// HandleIs matches mutations touching one fact handle.
//
// Handles are positive; zero or negative handles fail validation.
type HandleIs struct {
	Handle int64
}

func (HandleIs) filterNode() {}

// RuleIs matches firings of one rule.
type RuleIs struct {
	Rule string
}

func (RuleIs) filterNode() {}

// SeqAtLeast matches records with seq >= Seq.
type SeqAtLeast struct {
	Seq int64
}

func (SeqAtLeast) filterNode() {}

// SeqAtMost matches records with seq <= Seq.
type SeqAtMost struct {
	Seq int64
}

func (SeqAtMost) filterNode() {}

// And matches records satisfying every child filter.
//
// An empty Filters slice is always true. Nested And nodes flatten
// naturally during compilation.
type And struct {
	Filters []Filter
}

func (And) filterNode() {}

// All combines filters into a single conjunction.
//
// Returns nil for no filters (read everything) and the filter itself
// for exactly one, so callers can build filters from optional flags
// without special-casing arity.
func All(filters ...Filter) Filter {
	switch len(filters) {
	case 0:
		return nil
	case 1:
		return filters[0]
	default:
		return And{Filters: filters}
	}
}
