package pmml

import "github.com/kwarch/ruse/internal/ir"

// NameValue is one ordered binding produced by pre-processing.
type NameValue struct {
	Name  string
	Value ir.Value
}

// Replacement declares a default for a mining field the request may
// omit. Expr is a CUE expression evaluated in the model's function
// scope; usually a literal.
type Replacement struct {
	Field string
	Expr  string
}

// DerivedField is a computed binding defined in terms of earlier
// bindings. Expr is a CUE expression; it may reference request fields,
// previously declared derived fields, and the model's functions.
type DerivedField struct {
	Name string
	Expr string
}

// Function is a user-defined helper available to every derived-field
// expression. Body is CUE; parameterized functions follow the CUE
// convention of a struct with argument fields and an out field.
type Function struct {
	Name string
	Body string
}

// Model describes the pre-processing a request goes through before its
// bindings reach the matching engine: replacements first, then the
// global transformation dictionary, then local transformations, each in
// declaration order.
type Model struct {
	Name string

	// Fields is the mining schema: every input the model may consume.
	// Declared fields the request omits are visible to expressions as
	// incomplete values, so a derived field depending on one quietly
	// yields nothing instead of failing.
	Fields []string

	Replacements []Replacement
	Functions    []Function

	// GlobalTransforms come from the shared transformation dictionary
	// and are evaluated before LocalTransforms.
	GlobalTransforms []DerivedField
	LocalTransforms  []DerivedField
}

// Context carries a request's parameters through pre-processing.
// Insertion order is preserved; replacements and derived fields append
// in the order they are injected.
type Context struct {
	order  []string
	params map[string]ir.Value
}

// NewContext creates an empty request context.
func NewContext() *Context {
	return &Context{params: make(map[string]ir.Value)}
}

// Set stores a parameter. First writes append to the order; overwrites
// keep the original position.
func (c *Context) Set(name string, value ir.Value) {
	if _, ok := c.params[name]; !ok {
		c.order = append(c.order, name)
	}
	c.params[name] = value
}

// Get returns a parameter value.
func (c *Context) Get(name string) (ir.Value, bool) {
	v, ok := c.params[name]
	return v, ok
}

// Has reports whether the request supplies a parameter.
func (c *Context) Has(name string) bool {
	_, ok := c.params[name]
	return ok
}

// Params returns the parameters as ordered name/value pairs.
func (c *Context) Params() []NameValue {
	out := make([]NameValue, len(c.order))
	for i, name := range c.order {
		out[i] = NameValue{Name: name, Value: c.params[name]}
	}
	return out
}

// Len returns the number of parameters.
func (c *Context) Len() int {
	return len(c.order)
}
