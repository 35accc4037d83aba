package engine

import "sort"

// TruthMaintenance tracks which activations currently justify each
// logically-inserted fact.
//
// A logical fact stays in working memory while at least one justifying
// activation's match still holds. Justifications of equal fact values
// merge onto one handle (equality is the declared value equality used
// by ir.FactKey, never instance identity). When an activation's match
// is cancelled, every justification it supplied is withdrawn; a fact
// whose supporter set empties is retracted exactly like a direct
// retract.
//
// A direct insert of a justified fact clears the supporter set and
// promotes the fact to stated. Direct intent always overrides derived
// intent.
//
// No locking: truth maintenance is only touched under the session lock.
type TruthMaintenance struct {
	supporters map[int64]map[string]bool // handle -> activation keys
	byAct      map[string]map[int64]bool // activation key -> handles
}

// NewTruthMaintenance creates an empty justification table.
func NewTruthMaintenance() *TruthMaintenance {
	return &TruthMaintenance{
		supporters: make(map[int64]map[string]bool),
		byAct:      make(map[string]map[int64]bool),
	}
}

// Justify records that an activation supports a logical fact.
func (t *TruthMaintenance) Justify(handle int64, activationKey string) {
	if t.supporters[handle] == nil {
		t.supporters[handle] = make(map[string]bool)
	}
	t.supporters[handle][activationKey] = true

	if t.byAct[activationKey] == nil {
		t.byAct[activationKey] = make(map[int64]bool)
	}
	t.byAct[activationKey][handle] = true
}

// Withdraw removes every justification supplied by an activation and
// returns the handles whose supporter set became empty, in ascending
// handle order. The caller retracts those facts.
func (t *TruthMaintenance) Withdraw(activationKey string) []int64 {
	handles, ok := t.byAct[activationKey]
	if !ok {
		return nil
	}
	delete(t.byAct, activationKey)

	var emptied []int64
	for h := range handles {
		set := t.supporters[h]
		delete(set, activationKey)
		if len(set) == 0 {
			delete(t.supporters, h)
			emptied = append(emptied, h)
		}
	}

	// Handle allocation order is creation order, so this keeps the
	// cascade deterministic.
	sort.Slice(emptied, func(i, j int) bool { return emptied[i] < emptied[j] })
	return emptied
}

// Clear drops all justifications for a handle without retracting it.
// Called when a direct insert takes over the fact, and when the fact is
// retracted through any other path.
func (t *TruthMaintenance) Clear(handle int64) {
	for key := range t.supporters[handle] {
		delete(t.byAct[key], handle)
		if len(t.byAct[key]) == 0 {
			delete(t.byAct, key)
		}
	}
	delete(t.supporters, handle)
}

// Supporters returns the number of activations currently justifying a
// handle. Used for testing and introspection.
func (t *TruthMaintenance) Supporters(handle int64) int {
	return len(t.supporters[handle])
}
