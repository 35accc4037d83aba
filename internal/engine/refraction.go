package engine

// Refraction tracks which (rule, tuple) pairs have fired, so no-loop
// rules do not re-activate on the echo of their own consequence.
//
// A no-loop rule that updates a fact it matched would otherwise
// re-match the same tuple immediately (updates preserve the handle, so
// the recreated tuple has the same key) and fire forever. Refraction
// suppresses the re-activation of a fired (rule, tuple key) pair until
// the tuple is genuinely retracted, at which point the entry is cleared
// and a future re-match activates normally.
//
// Only rules marked no-loop consult refraction; other rules re-activate
// on every re-match, which is the default engine behavior.
//
// No locking: refraction is only touched under the session lock.
type Refraction struct {
	fired map[string]bool // activation key -> fired
}

// NewRefraction creates an empty refraction memory.
func NewRefraction() *Refraction {
	return &Refraction{
		fired: make(map[string]bool),
	}
}

// Record marks an activation key as fired.
func (r *Refraction) Record(key string) {
	r.fired[key] = true
}

// Suppressed reports whether an activation key has fired and its tuple
// has not been retracted since.
func (r *Refraction) Suppressed(key string) bool {
	return r.fired[key]
}

// Clear removes the entry for an activation key. Called when the
// underlying tuple is retracted.
func (r *Refraction) Clear(key string) {
	delete(r.fired, key)
}

// Size returns the number of tracked entries.
// Used for testing and introspection.
func (r *Refraction) Size() int {
	return len(r.fired)
}
