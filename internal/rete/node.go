package rete

// factSink receives single-fact propagation along alpha network edges.
// Implemented by join right inputs and by the adapter that lifts a
// rule's first pattern into the tuple network.
type factSink interface {
	assertFact(f Fact) error
	retractFact(handle int64) error
}

// tupleSink receives tuple propagation along beta network edges.
// Retraction is by key: receivers own memories and look the tuple up
// themselves, so upstream nodes never need the retracted values.
type tupleSink interface {
	assertTuple(t Tuple) error
	retractTuple(key string) error
}

// ActivationSink receives complete matches from terminal nodes.
// The agenda implements this in the engine package; the interface lives
// here to keep rete free of an engine dependency.
type ActivationSink interface {
	// AssertMatch reports that the rule's full condition now holds for
	// the tuple.
	AssertMatch(rule string, t Tuple) error

	// RetractMatch reports that a previously asserted match no longer
	// holds. The corresponding activation must be cancelled, never fired.
	RetractMatch(rule string, t Tuple) error
}
