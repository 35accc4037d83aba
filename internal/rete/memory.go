package rete

// Node memories preserve insertion order so that propagation over the
// opposite side is deterministic. Go map iteration order is randomized;
// iterating a bare map here would randomize activation order and break
// firing-order reproducibility.

// factMemory is an insertion-ordered set of facts keyed by handle.
type factMemory struct {
	byHandle map[int64]Fact
	order    []int64
}

func newFactMemory() *factMemory {
	return &factMemory{byHandle: make(map[int64]Fact)}
}

func (m *factMemory) add(f Fact) bool {
	if _, exists := m.byHandle[f.Handle]; exists {
		return false
	}
	m.byHandle[f.Handle] = f
	m.order = append(m.order, f.Handle)
	return true
}

func (m *factMemory) remove(handle int64) (Fact, bool) {
	f, exists := m.byHandle[handle]
	if !exists {
		return Fact{}, false
	}
	delete(m.byHandle, handle)
	for i, h := range m.order {
		if h == handle {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return f, true
}

func (m *factMemory) contains(handle int64) bool {
	_, exists := m.byHandle[handle]
	return exists
}

// each visits facts in insertion order. The callback must not mutate
// the memory.
func (m *factMemory) each(fn func(Fact) error) error {
	for _, h := range m.order {
		if err := fn(m.byHandle[h]); err != nil {
			return err
		}
	}
	return nil
}

// snapshot returns the facts in insertion order. Used when the caller
// needs to mutate the memory while visiting.
func (m *factMemory) snapshot() []Fact {
	out := make([]Fact, 0, len(m.order))
	for _, h := range m.order {
		out = append(out, m.byHandle[h])
	}
	return out
}

func (m *factMemory) len() int {
	return len(m.byHandle)
}

// tupleMemory is an insertion-ordered set of tuples keyed by tuple key.
type tupleMemory struct {
	byKey map[string]Tuple
	order []string
}

func newTupleMemory() *tupleMemory {
	return &tupleMemory{byKey: make(map[string]Tuple)}
}

func (m *tupleMemory) add(t Tuple) bool {
	if _, exists := m.byKey[t.Key]; exists {
		return false
	}
	m.byKey[t.Key] = t
	m.order = append(m.order, t.Key)
	return true
}

func (m *tupleMemory) remove(key string) (Tuple, bool) {
	t, exists := m.byKey[key]
	if !exists {
		return Tuple{}, false
	}
	delete(m.byKey, key)
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return t, true
}

// each visits tuples in insertion order. The callback must not mutate
// the memory.
func (m *tupleMemory) each(fn func(Tuple) error) error {
	for _, k := range m.order {
		if err := fn(m.byKey[k]); err != nil {
			return err
		}
	}
	return nil
}

// snapshot returns the tuples in insertion order. Used when the caller
// needs to mutate the memory while visiting.
func (m *tupleMemory) snapshot() []Tuple {
	out := make([]Tuple, 0, len(m.order))
	for _, k := range m.order {
		out = append(out, m.byKey[k])
	}
	return out
}

func (m *tupleMemory) len() int {
	return len(m.byKey)
}
