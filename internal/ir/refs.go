package ir

// TypeRef is a typed reference to a fact type tag.
type TypeRef string

// RuleRef is a typed reference to a rule by name.
type RuleRef string
