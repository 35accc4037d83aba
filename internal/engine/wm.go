package engine

import (
	"github.com/kwarch/ruse/internal/ir"
	"github.com/kwarch/ruse/internal/rete"
)

// propagator is the network surface working memory pushes mutations
// into. Satisfied by *rete.Network.
type propagator interface {
	Assert(f rete.Fact) error
	Retract(f rete.Fact) error
	Update(old, next rete.Fact) error
}

// wmEntry is one live fact in working memory.
type wmEntry struct {
	fact    rete.Fact
	seq     int64 // Clock seq of the last mutation touching this handle
	logical bool  // Present only while justified by truth maintenance
}

// WorkingMemory owns the mapping from fact handle to fact value. It is
// the single source of truth for what currently holds; every successful
// mutation propagates synchronously into the network before returning.
//
// Handles are allocated from the session clock: unique, strictly
// increasing, never reused while the session lives. Handle identity is
// distinct from value equality; two equal values inserted directly get
// two handles.
//
// Logically inserted facts are additionally indexed by their declared
// equality key, so truth maintenance can merge justifications of equal
// values and a direct insert can take over a derived fact.
//
// No locking: the owning session serializes all access.
type WorkingMemory struct {
	session string
	clock   *Clock
	network propagator

	entries map[int64]*wmEntry
	order   []int64          // Insertion order, for deterministic iteration
	logical map[string]int64 // ir.FactKey -> handle, logical facts only

	closed bool
}

// newWorkingMemory creates an empty working memory bound to a network.
func newWorkingMemory(session string, clock *Clock, network propagator) *WorkingMemory {
	return &WorkingMemory{
		session: session,
		clock:   clock,
		network: network,
		entries: make(map[int64]*wmEntry),
		logical: make(map[string]int64),
	}
}

// insert adds a fact and propagates the insertion. Returns the new
// handle. Fails if the memory is closed.
func (w *WorkingMemory) insert(typeTag ir.TypeRef, value ir.Value, logical bool) (int64, error) {
	if w.closed {
		return 0, NewSessionClosedError(w.session)
	}

	handle := w.clock.Next()
	f := rete.Fact{Handle: handle, Type: typeTag, Value: value}
	w.entries[handle] = &wmEntry{fact: f, seq: handle, logical: logical}
	w.order = append(w.order, handle)

	if logical {
		key, err := ir.FactKey(string(typeTag), value)
		if err != nil {
			return 0, err
		}
		w.logical[key] = handle
	}

	if err := w.network.Assert(f); err != nil {
		return 0, err
	}
	return handle, nil
}

// update replaces a fact's value, preserving its handle, and propagates
// the modification as retract-then-insert.
func (w *WorkingMemory) update(handle int64, value ir.Value) error {
	if w.closed {
		return NewSessionClosedError(w.session)
	}

	entry, ok := w.entries[handle]
	if !ok {
		return NewUnknownHandleError(w.session, handle)
	}

	old := entry.fact
	entry.fact = rete.Fact{Handle: handle, Type: old.Type, Value: value}
	entry.seq = w.clock.Next()

	return w.network.Update(old, entry.fact)
}

// retract removes a fact and propagates the retraction. The handle is
// invalid afterwards.
func (w *WorkingMemory) retract(handle int64) error {
	if w.closed {
		return NewSessionClosedError(w.session)
	}

	entry, ok := w.entries[handle]
	if !ok {
		return NewUnknownHandleError(w.session, handle)
	}

	delete(w.entries, handle)
	for i, h := range w.order {
		if h == handle {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
	if entry.logical {
		key, err := ir.FactKey(string(entry.fact.Type), entry.fact.Value)
		if err == nil {
			delete(w.logical, key)
		}
	}

	return w.network.Retract(entry.fact)
}

// get returns the fact for a handle.
func (w *WorkingMemory) get(handle int64) (rete.Fact, error) {
	entry, ok := w.entries[handle]
	if !ok {
		return rete.Fact{}, NewUnknownHandleError(w.session, handle)
	}
	return entry.fact, nil
}

// logicalHandle returns the handle of the logically-held fact with the
// given equality key, if one exists.
func (w *WorkingMemory) logicalHandle(key string) (int64, bool) {
	h, ok := w.logical[key]
	return h, ok
}

// promote converts a logical fact to a directly-stated one. Direct
// intent overrides derived intent; the fact stays in memory even after
// its justifications disappear.
func (w *WorkingMemory) promote(handle int64) error {
	entry, ok := w.entries[handle]
	if !ok {
		return NewUnknownHandleError(w.session, handle)
	}
	if !entry.logical {
		return nil
	}
	entry.logical = false
	key, err := ir.FactKey(string(entry.fact.Type), entry.fact.Value)
	if err != nil {
		return err
	}
	delete(w.logical, key)
	return nil
}

// each visits every live fact in insertion order.
func (w *WorkingMemory) each(fn func(rete.Fact) error) error {
	for _, h := range w.order {
		if err := fn(w.entries[h].fact); err != nil {
			return err
		}
	}
	return nil
}

// size returns the number of live facts.
func (w *WorkingMemory) size() int {
	return len(w.entries)
}

// close marks the memory closed. Further mutations fail with a
// session-closed error; reads keep working.
func (w *WorkingMemory) close() {
	w.closed = true
}
