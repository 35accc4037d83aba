package harness

import (
	"context"
	"sort"
	"sync"

	"github.com/kwarch/ruse/internal/engine"
	"github.com/kwarch/ruse/internal/ir"
)

// TraceEvent is one entry in a scenario's execution trace: a journaled
// working-memory mutation or a rule firing, in logical-clock order.
type TraceEvent struct {
	// Kind is "insert", "insert_logical", "update", "retract", or
	// "fire".
	Kind string `json:"kind"`

	// Seq is the logical clock stamp.
	Seq int64 `json:"seq"`

	// Source is the mutation source (external, consequence, truth).
	// Empty for firings.
	Source string `json:"source,omitempty"`

	// Handle is the mutated fact handle. Zero for firings.
	Handle int64 `json:"handle,omitempty"`

	// FactType is the mutated fact's type tag. Empty for firings.
	FactType string `json:"fact_type,omitempty"`

	// Value is the fact value. Nil for retracts and firings.
	Value ir.Value `json:"value,omitempty"`

	// Rule is the fired rule's name. Empty for mutations.
	Rule string `json:"rule,omitempty"`

	// Handles are the fired tuple's fact handles. Nil for mutations.
	Handles []int64 `json:"handles,omitempty"`
}

// FactSnapshot is one live fact at scenario end.
type FactSnapshot struct {
	Handle int64    `json:"handle"`
	Type   string   `json:"type"`
	Value  ir.Value `json:"value"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall scenario success.
	// True if all assertions hold.
	Pass bool `json:"pass"`

	// Trace contains all mutations and firings in logical-clock order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Facts holds the final working memory in insertion order.
	Facts []FactSnapshot `json:"facts"`

	// AgendaLen is the number of activations still pending at scenario
	// end.
	AgendaLen int `json:"agenda_len"`

	// SessionToken is the token the scenario session ran under.
	SessionToken string `json:"session_token"`
}

// NewResult creates a new passing result.
// Used as the starting point for scenario execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Facts:  []FactSnapshot{},
	}
}

// AddError adds an assertion failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// traceJournal is an in-memory journal collecting the session's events
// for the scenario trace.
type traceJournal struct {
	mu     sync.Mutex
	events []TraceEvent
}

func (j *traceJournal) RecordMutation(_ context.Context, rec engine.MutationRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, TraceEvent{
		Kind:     string(rec.Kind),
		Seq:      rec.Seq,
		Source:   string(rec.Source),
		Handle:   rec.Handle,
		FactType: string(rec.Type),
		Value:    rec.Value,
	})
	return nil
}

func (j *traceJournal) RecordFiring(_ context.Context, rec engine.FiringRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, TraceEvent{
		Kind:    "fire",
		Seq:     rec.Seq,
		Rule:    rec.Rule,
		Handles: rec.Handles,
	})
	return nil
}

// trace returns the collected events in logical-clock order.
func (j *traceJournal) trace() []TraceEvent {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]TraceEvent, len(j.events))
	copy(out, j.events)
	sort.Slice(out, func(i, k int) bool { return out[i].Seq < out[k].Seq })
	return out
}
