package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kwarch/ruse/internal/ir"
)

// ReplaySource streams a session's journaled external mutations in seq
// order. Implemented by the SQLite store's reader.
type ReplaySource interface {
	// RuleSetHash returns the rule set hash the journal was recorded
	// under, or "" if the journal predates hash recording.
	RuleSetHash(ctx context.Context) (string, error)

	// ExternalMutations returns the journaled mutations with
	// SourceExternal, ordered by seq ascending.
	ExternalMutations(ctx context.Context) ([]MutationRecord, error)
}

// Replay reconstructs a session from a journal: a fresh session is
// built from the rule specs, each journaled external mutation is
// reapplied in order, and the agenda is fired after each one. Because
// the engine is deterministic, refiring regenerates every consequence
// and truth-maintenance effect; only external mutations are journaled
// as inputs.
//
// Handles are reissued by the new session's clock, so journaled handles
// are translated through a mapping as updates and retracts replay.
//
// Replay refuses a journal recorded under a different rule set hash:
// firing drifted rules against old inputs silently produces a different
// history, which is worse than failing.
func Replay(ctx context.Context, src ReplaySource, specs []ir.RuleSpec, opts ...SessionOption) (*Session, error) {
	session, err := NewSession(specs, opts...)
	if err != nil {
		return nil, fmt.Errorf("replay session: %w", err)
	}

	recorded, err := src.RuleSetHash(ctx)
	if err != nil {
		return nil, fmt.Errorf("read journaled rule set hash: %w", err)
	}
	if recorded != "" && recorded != session.RuleSetHash() {
		return nil, fmt.Errorf("rule set drift: journal recorded under %s, current rules hash to %s",
			recorded, session.RuleSetHash())
	}

	mutations, err := src.ExternalMutations(ctx)
	if err != nil {
		return nil, fmt.Errorf("read journaled mutations: %w", err)
	}

	// Journaled handle -> handle issued by the replaying session.
	handles := make(map[int64]int64, len(mutations))

	for _, rec := range mutations {
		switch rec.Kind {
		case MutationInsert:
			h, err := session.Insert(ctx, rec.Type, rec.Value)
			if err != nil {
				return nil, fmt.Errorf("replay seq %d insert: %w", rec.Seq, err)
			}
			handles[rec.Handle] = h

		case MutationUpdate:
			h, ok := handles[rec.Handle]
			if !ok {
				return nil, fmt.Errorf("replay seq %d: update of unjournaled handle %d", rec.Seq, rec.Handle)
			}
			if err := session.Update(ctx, h, rec.Value); err != nil {
				return nil, fmt.Errorf("replay seq %d update: %w", rec.Seq, err)
			}

		case MutationRetract:
			h, ok := handles[rec.Handle]
			if !ok {
				return nil, fmt.Errorf("replay seq %d: retract of unjournaled handle %d", rec.Seq, rec.Handle)
			}
			if err := session.Retract(ctx, h); err != nil {
				return nil, fmt.Errorf("replay seq %d retract: %w", rec.Seq, err)
			}
			delete(handles, rec.Handle)

		default:
			return nil, fmt.Errorf("replay seq %d: unexpected external mutation kind %q", rec.Seq, rec.Kind)
		}

		if _, err := session.FireAll(ctx); err != nil {
			return nil, fmt.Errorf("replay seq %d fire: %w", rec.Seq, err)
		}
	}

	slog.Info("session replayed",
		"session", session.Token(),
		"mutations", len(mutations),
		"facts", session.FactCount(),
	)
	return session, nil
}
