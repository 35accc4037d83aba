package engine

import "sort"

// MainGroup is the agenda group rules belong to when they declare none.
// It is the permanent bottom of the focus stack and is never popped.
const MainGroup = "MAIN"

// Agenda holds pending activations partitioned by group, each group
// ordered by the conflict-resolution policy: salience descending, then
// creation seq ascending. The secondary order makes firing repeatable
// for identical input sequences.
//
// Only the focused group is eligible for firing. Focus is a LIFO stack;
// SetFocus pushes a group, and an emptied group pops itself on the next
// Next call. MainGroup sits at the bottom and never pops.
//
// The agenda never holds a cancelled activation: cancellation removes
// the entry before the fire loop can see it.
//
// No locking: the agenda is only touched under the session lock.
type Agenda struct {
	groups map[string][]*Activation
	index  map[string]*Activation // activation key -> entry
	focus  []string               // stack, focus[0] == MainGroup
}

// NewAgenda creates an empty agenda focused on MainGroup.
func NewAgenda() *Agenda {
	return &Agenda{
		groups: make(map[string][]*Activation),
		index:  make(map[string]*Activation),
		focus:  []string{MainGroup},
	}
}

// Add inserts an activation at its conflict-resolution position within
// its rule's group. Duplicate keys are absorbed; the terminal node
// already dedups, so a duplicate here means replayed propagation.
func (a *Agenda) Add(act *Activation) {
	if _, dup := a.index[act.Key]; dup {
		return
	}
	a.index[act.Key] = act

	group := act.Rule.Group
	if group == "" {
		group = MainGroup
	}

	entries := a.groups[group]
	pos := sort.Search(len(entries), func(i int) bool {
		if entries[i].Rule.Salience != act.Rule.Salience {
			return entries[i].Rule.Salience < act.Rule.Salience
		}
		return entries[i].Seq > act.Seq
	})
	entries = append(entries, nil)
	copy(entries[pos+1:], entries[pos:])
	entries[pos] = act
	a.groups[group] = entries
}

// Remove cancels a pending activation by key. Returns the removed
// activation, or nil if the key was not pending (already fired, or
// never scheduled).
func (a *Agenda) Remove(key string) *Activation {
	act, ok := a.index[key]
	if !ok {
		return nil
	}
	delete(a.index, key)

	group := act.Rule.Group
	if group == "" {
		group = MainGroup
	}
	entries := a.groups[group]
	for i, e := range entries {
		if e.Key == key {
			a.groups[group] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	return act
}

// Next pops the highest-priority activation from the focused group.
// Emptied non-main groups lose focus first. Returns nil when nothing is
// pending in any focused group.
func (a *Agenda) Next() *Activation {
	for {
		group := a.focus[len(a.focus)-1]
		entries := a.groups[group]
		if len(entries) > 0 {
			act := entries[0]
			a.groups[group] = entries[1:]
			delete(a.index, act.Key)
			return act
		}
		if len(a.focus) == 1 {
			return nil
		}
		a.focus = a.focus[:len(a.focus)-1]
	}
}

// SetFocus pushes a group onto the focus stack. Firing consumes that
// group's activations until it empties, then falls back to the group
// below. Pushing the currently focused group is a no-op.
func (a *Agenda) SetFocus(group string) {
	if group == "" || a.focus[len(a.focus)-1] == group {
		return
	}
	a.focus = append(a.focus, group)
}

// Focused returns the currently focused group.
func (a *Agenda) Focused() string {
	return a.focus[len(a.focus)-1]
}

// Len returns the total number of pending activations across groups.
func (a *Agenda) Len() int {
	return len(a.index)
}

// GroupLen returns the number of pending activations in one group.
// Used for testing and introspection.
func (a *Agenda) GroupLen(group string) int {
	return len(a.groups[group])
}
