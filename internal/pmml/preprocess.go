package pmml

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/kwarch/ruse/internal/ir"
)

// resultField is the label the evaluator reads an expression's value
// from; underscored so it cannot collide with request parameters, which
// are emitted as quoted labels.
const resultField = "__result"

// Evaluator runs model pre-processing. It owns a CUE context; one
// evaluator serves any number of PreProcess calls.
type Evaluator struct {
	cue *cue.Context
}

// NewEvaluator creates an evaluator with a fresh CUE context.
func NewEvaluator() *Evaluator {
	return &Evaluator{cue: cuecontext.New()}
}

// PreProcess prepares a request's bindings for matching:
//
//  1. For every declared replacement whose field the request does not
//     supply, the replacement expression is evaluated and the value is
//     injected into both the context and the returned sequence.
//  2. Every derived field, global transforms first and then local, in
//     declaration order, is evaluated against the current bindings plus
//     the model's functions. A non-null result is appended to both the
//     context and the returned sequence, visible to later fields; a
//     null or incomplete result is silently omitted.
//
// The returned sequence is the context's full parameter list in
// injection order. A malformed expression, in a replacement or a
// derived field, is an error.
func (e *Evaluator) PreProcess(model Model, reqCtx *Context) ([]NameValue, error) {
	for _, rep := range model.Replacements {
		if reqCtx.Has(rep.Field) {
			continue
		}
		v, omitted, err := e.eval(model, reqCtx, rep.Expr)
		if err != nil {
			return nil, fmt.Errorf("model %s: replacement for %q: %w", model.Name, rep.Field, err)
		}
		if omitted {
			return nil, fmt.Errorf("model %s: replacement for %q evaluates to null", model.Name, rep.Field)
		}
		reqCtx.Set(rep.Field, v)
	}

	transforms := make([]DerivedField, 0, len(model.GlobalTransforms)+len(model.LocalTransforms))
	transforms = append(transforms, model.GlobalTransforms...)
	transforms = append(transforms, model.LocalTransforms...)

	for _, df := range transforms {
		v, omitted, err := e.eval(model, reqCtx, df.Expr)
		if err != nil {
			return nil, fmt.Errorf("model %s: derived field %q: %w", model.Name, df.Name, err)
		}
		if omitted {
			continue
		}
		reqCtx.Set(df.Name, v)
	}

	return reqCtx.Params(), nil
}

// eval runs one expression against the current bindings. The omitted
// return is true for null results and for expressions left incomplete
// by bindings the request never supplied; both mean "no value", not an
// error.
func (e *Evaluator) eval(model Model, reqCtx *Context, expr string) (ir.Value, bool, error) {
	src, err := scopeSource(model, reqCtx, expr)
	if err != nil {
		return nil, false, err
	}

	v := e.cue.CompileString(src)
	if err := v.Err(); err != nil {
		return nil, false, fmt.Errorf("compile: %w", err)
	}

	res := v.LookupPath(cue.ParsePath(resultField))
	if !res.Exists() {
		return nil, false, fmt.Errorf("evaluate: expression produced no value")
	}
	// Validate without Concrete reports genuine evaluation failures but
	// tolerates incompleteness.
	if err := res.Validate(); err != nil {
		return nil, false, fmt.Errorf("evaluate: %w", err)
	}
	if res.Kind() == cue.NullKind {
		return nil, true, nil
	}
	// A binding the request never supplied leaves the expression
	// incomplete, which the contract treats as null.
	if err := res.Validate(cue.Concrete(true)); err != nil {
		return nil, true, nil
	}

	var raw any
	if err := res.Decode(&raw); err != nil {
		return nil, false, fmt.Errorf("decode result: %w", err)
	}
	out, err := ir.FromGo(raw)
	if err != nil {
		return nil, false, fmt.Errorf("convert result: %w", err)
	}
	return out, false, nil
}

// scopeSource assembles the CUE document an expression evaluates in:
// function definitions, current bindings as quoted labels with JSON
// literal values, and the expression under the result label.
func scopeSource(model Model, reqCtx *Context, expr string) (string, error) {
	var b strings.Builder

	for _, fn := range model.Functions {
		fmt.Fprintf(&b, "%s: %s\n", fn.Name, fn.Body)
	}

	// Declared mining fields the request omits become top, so
	// expressions over them stay incomplete instead of failing to
	// resolve.
	for _, field := range model.Fields {
		if !reqCtx.Has(field) {
			fmt.Fprintf(&b, "%q: _\n", field)
		}
	}

	for _, nv := range reqCtx.Params() {
		lit, err := ir.MarshalCanonical(nv.Value)
		if err != nil {
			return "", fmt.Errorf("encode binding %q: %w", nv.Name, err)
		}
		fmt.Fprintf(&b, "%q: %s\n", nv.Name, lit)
	}

	fmt.Fprintf(&b, "%s: %s\n", resultField, expr)
	return b.String(), nil
}
