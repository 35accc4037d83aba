package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/kwarch/ruse/internal/ir"
	"github.com/kwarch/ruse/internal/rete"
)

// DefaultMaxFirings is the default firing budget per FireAll pass.
// This prevents runaway rule chains from consuming unbounded resources.
const DefaultMaxFirings = 1000

// Session is one independent rule-engine instance: a working memory, a
// compiled match network, an agenda, and truth maintenance, all behind
// one lock.
//
// CRITICAL: All mutation and firing is serialized by the session lock.
// Node memories and the agenda are not safely concurrently mutable, so
// Insert/Update/Retract and the fire loop exclude each other. Multiple
// sessions share no mutable state and run fully in parallel.
//
// Consequences run inside the fire loop and mutate reentrantly through
// the Mutations surface they receive; they must not call the session's
// exported methods, which would self-deadlock.
//
// INVARIANTS:
//   - Rule order never changes after construction
//   - Every mutation propagates fully before the mutating call returns
//   - The agenda only ever holds pending, non-cancelled activations
type Session struct {
	mu     sync.Mutex
	halted atomic.Bool

	token       string
	clock       *Clock
	rules       []ir.RuleSpec
	ruleByName  map[string]*ir.RuleSpec
	ruleSetHash string

	network    *rete.Network
	wm         *WorkingMemory
	agenda     *Agenda
	tms        *TruthMaintenance
	refraction *Refraction

	consequences map[string]Consequence // Registered by applications
	templates    map[string]Consequence // Compiled from template productions

	journal    Journal
	maxFirings int

	// ctx of the public call currently holding the lock, for journal
	// writes triggered deep inside propagation.
	ctx context.Context

	// firing is the activation whose consequence is currently running.
	firing *Activation
}

// SessionOption configures a session at construction.
type SessionOption func(*sessionConfig)

type sessionConfig struct {
	tokenGen   SessionTokenGenerator
	clock      *Clock
	journal    Journal
	maxFirings int
}

// WithMaxFirings sets the firing budget per FireAll pass.
//
// Default: 1000 firings (DefaultMaxFirings).
// Use WithMaxFirings(10) for testing budget enforcement.
func WithMaxFirings(limit int) SessionOption {
	return func(c *sessionConfig) {
		c.maxFirings = limit
	}
}

// WithJournal attaches a journal that records every mutation and firing.
func WithJournal(j Journal) SessionOption {
	return func(c *sessionConfig) {
		c.journal = j
	}
}

// WithTokenGenerator overrides the session token source.
// Tests use FixedGenerator for reproducible tokens.
func WithTokenGenerator(g SessionTokenGenerator) SessionOption {
	return func(c *sessionConfig) {
		c.tokenGen = g
	}
}

// WithClock provides a pre-positioned clock. Used by replay to resume
// from the last journaled sequence number.
func WithClock(clock *Clock) SessionOption {
	return func(c *sessionConfig) {
		c.clock = clock
	}
}

// NewSession compiles the rule specs into a match network and returns
// an empty session. The specs slice is copied; rule order is the
// declaration order and never changes afterwards.
func NewSession(specs []ir.RuleSpec, opts ...SessionOption) (*Session, error) {
	cfg := sessionConfig{
		tokenGen:   UUIDv7Generator{},
		maxFirings: DefaultMaxFirings,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.clock == nil {
		cfg.clock = NewClock()
	}

	rules := make([]ir.RuleSpec, len(specs))
	copy(rules, specs)

	hash, err := ir.RuleSetHash(rules)
	if err != nil {
		return nil, fmt.Errorf("hash rule set: %w", err)
	}

	s := &Session{
		token:        cfg.tokenGen.Generate(),
		clock:        cfg.clock,
		rules:        rules,
		ruleByName:   make(map[string]*ir.RuleSpec, len(rules)),
		ruleSetHash:  hash,
		agenda:       NewAgenda(),
		tms:          NewTruthMaintenance(),
		refraction:   NewRefraction(),
		consequences: make(map[string]Consequence),
		templates:    make(map[string]Consequence),
		journal:      cfg.journal,
		maxFirings:   cfg.maxFirings,
		ctx:          context.Background(),
	}

	for i := range s.rules {
		rule := &s.rules[i]
		s.ruleByName[rule.Name] = rule
		if rule.Then.Type != "" {
			s.templates[rule.Name] = newTemplateConsequence(rule)
		}
	}

	network, err := rete.Build(rules, sessionSink{s})
	if err != nil {
		return nil, fmt.Errorf("build network: %w", err)
	}
	s.network = network
	s.wm = newWorkingMemory(s.token, s.clock, network)

	slog.Info("session created",
		"session", s.token,
		"rules", len(rules),
		"rule_set_hash", hash,
	)

	return s, nil
}

// Register adds a named consequence to the session registry. Rules
// whose production names it resolve against the registry at fire time.
func (s *Session) Register(c Consequence) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.consequences[c.Name()]; dup {
		return fmt.Errorf("duplicate consequence name: %s", c.Name())
	}
	s.consequences[c.Name()] = c
	return nil
}

// Insert adds a fact to working memory and propagates it. Returns the
// new fact handle.
//
// Inserting a value currently held only as a logical fact takes the
// fact over: its justifications are cleared, the existing handle is
// returned, and the fact will no longer auto-retract.
func (s *Session) Insert(ctx context.Context, typeTag ir.TypeRef, value ir.Value) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
	return s.insertFact(typeTag, value, SourceExternal)
}

// Update replaces the fact behind a handle, preserving the handle.
// Observable match results are identical to retract followed by insert.
// Updating a logical fact clears its justifications first.
func (s *Session) Update(ctx context.Context, handle int64, value ir.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
	return s.updateFact(handle, value, SourceExternal)
}

// Retract removes the fact behind a handle. Every tuple and activation
// transitively built from it is gone before Retract returns.
func (s *Session) Retract(ctx context.Context, handle int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
	return s.retractFact(handle, SourceExternal)
}

// Get returns the fact behind a handle.
func (s *Session) Get(handle int64) (rete.Fact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wm.get(handle)
}

// SetFocus pushes an agenda group onto the focus stack. Subsequent
// firing consumes that group first.
func (s *Session) SetFocus(group string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agenda.SetFocus(group)
}

// Halt requests the fire loop stop after the currently-firing
// consequence completes. Safe from any goroutine; never interrupts a
// consequence mid-call.
func (s *Session) Halt() {
	s.halted.Store(true)
}

// Fire pops and fires the single highest-priority activation. Returns
// false when the agenda is empty.
func (s *Session) Fire(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx

	act := s.agenda.Next()
	if act == nil {
		return false, nil
	}
	if err := s.fire(ctx, act); err != nil {
		return false, err
	}
	return true, nil
}

// FireAll runs the fire loop until the agenda empties, a halt is
// requested, or the firing budget is exhausted. Returns the number of
// activations fired.
//
// The default policy on a failed consequence is stop-and-surface: the
// error returns to the caller with the agenda holding whatever the last
// completed firing left pending.
func (s *Session) FireAll(ctx context.Context) (int, error) {
	return s.FireMax(ctx, s.maxFirings)
}

// FireMax is FireAll with an explicit firing budget for this pass.
func (s *Session) FireMax(ctx context.Context, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx

	s.halted.Store(false)
	budget := NewFiringBudget(limit)
	fired := 0

	for {
		// Halt and cancellation are observed only between firings.
		if s.halted.Load() {
			slog.Info("fire loop halted", "session", s.token, "fired", fired)
			return fired, nil
		}
		if err := ctx.Err(); err != nil {
			return fired, err
		}

		act := s.agenda.Next()
		if act == nil {
			return fired, nil
		}

		if err := budget.Spend(s.token); err != nil {
			// The popped activation never fired; it goes back so the
			// agenda keeps mirroring the currently satisfied tuples.
			s.agenda.Add(act)
			slog.Error("firing budget exceeded",
				"session", s.token,
				"rule", act.Rule.Name,
				"fired", fired,
				"limit", limit,
			)
			return fired, err
		}

		if err := s.fire(ctx, act); err != nil {
			return fired, err
		}
		fired++
	}
}

// Close marks the session closed. Further mutations fail with a
// session-closed error; reads keep working.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wm.close()
	slog.Info("session closed", "session", s.token, "seq", s.clock.Current())
}

// Token returns the session token.
func (s *Session) Token() string {
	return s.token
}

// Clock returns the session's logical clock.
func (s *Session) Clock() *Clock {
	return s.clock
}

// RuleSetHash returns the content hash of the compiled rule set.
// Journals record it so replay can refuse a drifted rule set.
func (s *Session) RuleSetHash() string {
	return s.ruleSetHash
}

// AgendaLen returns the number of pending activations.
func (s *Session) AgendaLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agenda.Len()
}

// FactCount returns the number of live facts in working memory.
func (s *Session) FactCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wm.size()
}

// EachFact visits every live fact in insertion order.
func (s *Session) EachFact(fn func(rete.Fact) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wm.each(fn)
}

// DanglingTuples reports network tuples referencing a handle. Empty
// after the handle is retracted; exposed for tests and diagnostics.
func (s *Session) DanglingTuples(handle int64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.network.DanglingTuples(handle)
}

// fire runs one activation's consequence. Called with the lock held.
func (s *Session) fire(ctx context.Context, act *Activation) error {
	cons, err := s.resolveConsequence(act.Rule)
	if err != nil {
		return err
	}

	if act.Rule.NoLoop {
		s.refraction.Record(act.Key)
	}

	if s.journal != nil {
		rec := FiringRecord{
			Seq:     s.clock.Next(),
			Session: s.token,
			Rule:    act.Rule.Name,
			Key:     act.Key,
			Handles: tupleHandles(act.Tuple),
		}
		if err := s.journal.RecordFiring(ctx, rec); err != nil {
			return fmt.Errorf("journal firing for rule %s: %w", act.Rule.Name, err)
		}
	}

	slog.Debug("firing activation",
		"session", s.token,
		"rule", act.Rule.Name,
		"seq", act.Seq,
		"salience", act.Rule.Salience,
	)

	s.firing = act
	err = cons.Evaluate(ctx, newMatchContext(act), &firingScope{s: s, act: act})
	s.firing = nil

	if err != nil {
		var su *scopeUnavailable
		if errors.As(err, &su) {
			return NewSecurityContextError(s.token, act.Rule.Name, err)
		}
		return NewConsequenceError(s.token, act.Rule.Name, err)
	}

	slog.Info("activation fired",
		"session", s.token,
		"rule", act.Rule.Name,
		"seq", act.Seq,
	)
	return nil
}

// resolveConsequence finds the executable action for a rule: the
// compiled template production if the rule declares one, otherwise the
// registered consequence its production names.
func (s *Session) resolveConsequence(rule *ir.RuleSpec) (Consequence, error) {
	if rule.Then.Type != "" {
		return s.templates[rule.Name], nil
	}
	cons, ok := s.consequences[rule.Then.Consequence]
	if !ok {
		return nil, &RuntimeError{
			Code:    ErrCodeUnknownConsequence,
			Message: fmt.Sprintf("no registered consequence %q", rule.Then.Consequence),
			Session: s.token,
			Rule:    rule.Name,
		}
	}
	return cons, nil
}

// insertFact is the lock-held insert path shared by external callers
// and consequences.
func (s *Session) insertFact(typeTag ir.TypeRef, value ir.Value, source MutationSource) (int64, error) {
	key, err := ir.FactKey(string(typeTag), value)
	if err != nil {
		return 0, fmt.Errorf("fact key: %w", err)
	}

	// Direct intent overrides derived intent: taking over a logical
	// fact clears its justifications instead of duplicating the value.
	if h, ok := s.wm.logicalHandle(key); ok {
		s.tms.Clear(h)
		if err := s.wm.promote(h); err != nil {
			return 0, err
		}
		slog.Debug("logical fact promoted to stated",
			"session", s.token, "handle", h, "type", typeTag)
		return h, s.record(MutationInsert, source, h, typeTag, value)
	}

	h, err := s.wm.insert(typeTag, value, false)
	if err != nil {
		return 0, err
	}
	return h, s.record(MutationInsert, source, h, typeTag, value)
}

// insertLogicalFact inserts a truth-maintained fact justified by the
// given activation. Equal values merge onto one handle with the
// justification added to its supporter set.
func (s *Session) insertLogicalFact(typeTag ir.TypeRef, value ir.Value, activationKey string) (int64, error) {
	key, err := ir.FactKey(string(typeTag), value)
	if err != nil {
		return 0, fmt.Errorf("fact key: %w", err)
	}

	if h, ok := s.wm.logicalHandle(key); ok {
		s.tms.Justify(h, activationKey)
		return h, nil
	}

	h, err := s.wm.insert(typeTag, value, true)
	if err != nil {
		return 0, err
	}
	s.tms.Justify(h, activationKey)
	return h, s.record(MutationInsertLogical, SourceConsequence, h, typeTag, value)
}

// updateFact is the lock-held update path.
func (s *Session) updateFact(handle int64, value ir.Value, source MutationSource) error {
	// A direct update of a justified fact clears its justifications.
	s.tms.Clear(handle)
	if err := s.wm.promote(handle); err != nil {
		return err
	}
	if err := s.wm.update(handle, value); err != nil {
		return err
	}
	f, err := s.wm.get(handle)
	if err != nil {
		return err
	}
	return s.record(MutationUpdate, source, handle, f.Type, value)
}

// retractFact is the lock-held retract path, also used by truth
// maintenance cascades.
func (s *Session) retractFact(handle int64, source MutationSource) error {
	s.tms.Clear(handle)
	f, err := s.wm.get(handle)
	if err != nil {
		return err
	}
	if err := s.wm.retract(handle); err != nil {
		return err
	}
	return s.record(MutationRetract, source, handle, f.Type, nil)
}

// record journals one mutation, if a journal is attached.
func (s *Session) record(kind MutationKind, source MutationSource, handle int64, typeTag ir.TypeRef, value ir.Value) error {
	if s.journal == nil {
		return nil
	}
	rec := MutationRecord{
		Seq:     s.clock.Next(),
		Session: s.token,
		Source:  source,
		Kind:    kind,
		Handle:  handle,
		Type:    typeTag,
		Value:   value,
	}
	if err := s.journal.RecordMutation(s.ctx, rec); err != nil {
		return fmt.Errorf("journal %s of handle %d: %w", kind, handle, err)
	}
	return nil
}

// assertMatch handles a complete match arriving from the network.
// Runs inside propagation, lock already held.
func (s *Session) assertMatch(rule string, t rete.Tuple) error {
	spec, ok := s.ruleByName[rule]
	if !ok {
		return fmt.Errorf("match for unknown rule %q", rule)
	}

	key := ir.ActivationKey(rule, t.Key)
	if spec.NoLoop && s.refraction.Suppressed(key) {
		slog.Debug("activation suppressed by no-loop",
			"session", s.token, "rule", rule)
		return nil
	}

	s.agenda.Add(&Activation{
		Rule:  spec,
		Tuple: t,
		Seq:   s.clock.Next(),
		Key:   key,
	})
	return nil
}

// retractMatch handles a cancelled match: the pending activation (if
// any) leaves the agenda, refraction forgets the tuple, and logical
// facts the match justified lose that justification. Facts whose
// supporter set empties are retracted here, cascading like a direct
// retract.
func (s *Session) retractMatch(rule string, t rete.Tuple) error {
	key := ir.ActivationKey(rule, t.Key)

	if act := s.agenda.Remove(key); act != nil {
		slog.Debug("activation cancelled",
			"session", s.token, "rule", rule, "seq", act.Seq)
	}

	// A no-loop rule updating its own matched facts retracts and
	// re-asserts its tuple mid-fire. Keeping the refraction entry in
	// that case is what suppresses the echo; a genuine retraction from
	// anywhere else clears it so a future re-match activates normally.
	if s.firing == nil || s.firing.Key != key {
		s.refraction.Clear(key)
	}

	for _, handle := range s.tms.Withdraw(key) {
		if err := s.retractFact(handle, SourceTruth); err != nil {
			return fmt.Errorf("truth maintenance retract of handle %d: %w", handle, err)
		}
		slog.Debug("logical fact retracted",
			"session", s.token, "handle", handle, "justifier", rule)
	}
	return nil
}

// sessionSink adapts the session to the network's activation sink
// without exporting the lock-held match methods.
type sessionSink struct {
	s *Session
}

func (k sessionSink) AssertMatch(rule string, t rete.Tuple) error {
	return k.s.assertMatch(rule, t)
}

func (k sessionSink) RetractMatch(rule string, t rete.Tuple) error {
	return k.s.retractMatch(rule, t)
}

// firingScope is the Mutations surface handed to a consequence. It
// routes to the lock-held internals (the fire loop already holds the
// lock) and carries the activation key for logical justification.
type firingScope struct {
	s   *Session
	act *Activation
}

func (f *firingScope) Insert(typeTag ir.TypeRef, value ir.Value) (int64, error) {
	return f.s.insertFact(typeTag, value, SourceConsequence)
}

func (f *firingScope) InsertLogical(typeTag ir.TypeRef, value ir.Value) (int64, error) {
	return f.s.insertLogicalFact(typeTag, value, f.act.Key)
}

func (f *firingScope) Update(handle int64, value ir.Value) error {
	return f.s.updateFact(handle, value, SourceConsequence)
}

func (f *firingScope) Retract(handle int64) error {
	return f.s.retractFact(handle, SourceConsequence)
}

func (f *firingScope) Get(handle int64) (rete.Fact, error) {
	return f.s.wm.get(handle)
}

func (f *firingScope) Halt() {
	f.s.halted.Store(true)
}

// tupleHandles extracts the handle chain from a tuple for journaling.
func tupleHandles(t rete.Tuple) []int64 {
	handles := make([]int64, len(t.Facts))
	for i, f := range t.Facts {
		handles[i] = f.Handle
	}
	return handles
}
