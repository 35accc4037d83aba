package rete

import "github.com/kwarch/ruse/internal/ir"

// Fact is a fact as the network sees it: a stable handle, the type tag
// used for dispatch, and the value constraints read fields from.
// The value is never mutated by the network.
type Fact struct {
	Handle int64
	Type   ir.TypeRef
	Value  ir.Value
}

// Field extracts a named field from the fact value.
// Returns (nil, false) when the value is not an object or the field is
// absent; constraint evaluation treats that as a non-match, not an error.
func (f Fact) Field(name string) (ir.Value, bool) {
	obj, ok := f.Value.(ir.Object)
	if !ok {
		return nil, false
	}
	v, ok := obj[name]
	return v, ok
}
