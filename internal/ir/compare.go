package ir

import (
	"bytes"
	"fmt"
)

// Equal reports structural equality of two values under the declared
// equality of the value model: Int and Float compare numerically, so
// Int(2) equals Float(2.0). This is the equality used to merge logical
// justifications; it deliberately ignores representation.
func Equal(a, b Value) bool {
	if an, aok := numeric(a); aok {
		bn, bok := numeric(b)
		return bok && an == bn
	}

	switch av := a.(type) {
	case Null:
		_, ok := b.(Null)
		return ok
	case String:
		bv, ok := b.(String)
		return ok && av == bv
	case Bool:
		bv, ok := b.(Bool)
		return ok && av == bv
	case Array:
		bv, ok := b.(Array)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Object:
		bv, ok := b.(Object)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, elem := range av {
			other, present := bv[k]
			if !present || !Equal(elem, other) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Compare orders two values of compatible kinds.
// Returns <0, 0, >0. Only strings and numbers are ordered; comparing
// anything else is an error surfaced to the constraint evaluator.
func Compare(a, b Value) (int, error) {
	if an, aok := numeric(a); aok {
		bn, bok := numeric(b)
		if !bok {
			return 0, fmt.Errorf("cannot compare number with %T", b)
		}
		switch {
		case an < bn:
			return -1, nil
		case an > bn:
			return 1, nil
		default:
			return 0, nil
		}
	}

	if as, ok := a.(String); ok {
		bs, bok := b.(String)
		if !bok {
			return 0, fmt.Errorf("cannot compare string with %T", b)
		}
		return bytes.Compare([]byte(as), []byte(bs)), nil
	}

	return 0, fmt.Errorf("values of type %T are not ordered", a)
}

// numeric extracts a float64 from Int or Float values.
// int64 values above 2^53 lose precision here; ordering comparisons on
// such values are approximate, equality via canonical keys is not.
func numeric(v Value) (float64, bool) {
	switch n := v.(type) {
	case Int:
		return float64(n), true
	case Float:
		return float64(n), true
	default:
		return 0, false
	}
}
