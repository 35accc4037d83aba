package rete

// TerminalNode is the per-rule leaf of the network. A tuple stored here
// means the rule's full condition currently holds. The node keeps its
// own memory so a retraction can hand the complete tuple to the sink,
// and so duplicate arrivals are absorbed before they reach the agenda.
type TerminalNode struct {
	rule string
	mem  *tupleMemory
	sink ActivationSink
}

func newTerminalNode(rule string, sink ActivationSink) *TerminalNode {
	return &TerminalNode{
		rule: rule,
		mem:  newTupleMemory(),
		sink: sink,
	}
}

func (t *TerminalNode) assertTuple(tp Tuple) error {
	if !t.mem.add(tp) {
		return nil
	}
	return t.sink.AssertMatch(t.rule, tp)
}

func (t *TerminalNode) retractTuple(key string) error {
	tp, ok := t.mem.remove(key)
	if !ok {
		return nil
	}
	return t.sink.RetractMatch(t.rule, tp)
}

// Matches returns the current number of complete matches for the rule.
// Used by tests and diagnostics.
func (t *TerminalNode) Matches() int {
	return t.mem.len()
}
