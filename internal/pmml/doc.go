// Package pmml prepares input bindings for a session before matching
// begins, in the manner of a PMML mining schema: missing-value
// replacements are injected into the request, then derived fields are
// computed from the current bindings in declaration order.
//
// Derived-field expressions are CUE, evaluated against a scope holding
// the request's current name/value pairs plus any user-defined
// functions the model declares. A derived field that evaluates to null
// (including references to bindings the request never supplied) is
// silently omitted; a malformed expression is an error.
//
// The package is a collaborator of the engine, not part of it: callers
// run PreProcess, then insert the resulting bindings as facts.
package pmml
