package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/kwarch/ruse/internal/engine"
)

// SessionJournal adapts the store to the engine's journal interface.
// One journal can serve any number of sessions; session rows are
// created lazily from the records' session tokens.
type SessionJournal struct {
	store       *Store
	ruleSetHash string

	mu      sync.Mutex
	ensured map[string]bool // session tokens with a sessions row
}

// Journal returns a journal that records under the given rule set hash.
// The hash is stored per session and checked on replay.
func (s *Store) Journal(ruleSetHash string) *SessionJournal {
	return &SessionJournal{
		store:       s,
		ruleSetHash: ruleSetHash,
		ensured:     make(map[string]bool),
	}
}

// RecordMutation appends a working-memory change to the journal.
// Uses ON CONFLICT DO NOTHING on (session, seq) for idempotency -
// re-recording an already journaled event is silently ignored.
func (j *SessionJournal) RecordMutation(ctx context.Context, rec engine.MutationRecord) error {
	if err := j.ensureSession(ctx, rec.Session); err != nil {
		return fmt.Errorf("record mutation: %w", err)
	}

	var valueJSON any
	if rec.Value != nil {
		s, err := marshalValue(rec.Value)
		if err != nil {
			return fmt.Errorf("record mutation: %w", err)
		}
		valueJSON = s
	}

	_, err := j.store.db.ExecContext(ctx, `
		INSERT INTO mutations
		(session, seq, source, kind, handle, type, value)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session, seq) DO NOTHING
	`,
		rec.Session,
		rec.Seq,
		string(rec.Source),
		string(rec.Kind),
		rec.Handle,
		string(rec.Type),
		valueJSON,
	)
	if err != nil {
		return fmt.Errorf("record mutation: %w", err)
	}

	return nil
}

// RecordFiring appends an activation firing to the journal.
// Uses ON CONFLICT DO NOTHING on (session, seq) for idempotency.
func (j *SessionJournal) RecordFiring(ctx context.Context, rec engine.FiringRecord) error {
	if err := j.ensureSession(ctx, rec.Session); err != nil {
		return fmt.Errorf("record firing: %w", err)
	}

	handlesJSON, err := marshalHandles(rec.Handles)
	if err != nil {
		return fmt.Errorf("record firing: %w", err)
	}

	_, err = j.store.db.ExecContext(ctx, `
		INSERT INTO firings
		(session, seq, rule, activation_key, handles)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session, seq) DO NOTHING
	`,
		rec.Session,
		rec.Seq,
		rec.Rule,
		rec.Key,
		handlesJSON,
	)
	if err != nil {
		return fmt.Errorf("record firing: %w", err)
	}

	return nil
}

// ensureSession creates the session metadata row on first use.
// A token already registered under a different rule set hash keeps its
// original hash; the drift surfaces on replay.
func (j *SessionJournal) ensureSession(ctx context.Context, token string) error {
	j.mu.Lock()
	done := j.ensured[token]
	j.mu.Unlock()
	if done {
		return nil
	}

	_, err := j.store.db.ExecContext(ctx, `
		INSERT INTO sessions (token, rule_set_hash)
		VALUES (?, ?)
		ON CONFLICT(token) DO NOTHING
	`, token, j.ruleSetHash)
	if err != nil {
		return fmt.Errorf("ensure session %s: %w", token, err)
	}

	j.mu.Lock()
	j.ensured[token] = true
	j.mu.Unlock()
	return nil
}
