package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kwarch/ruse/internal/engine"
	"github.com/kwarch/ruse/internal/ir"
)

// SessionReader reads one session's journal. It implements the engine's
// replay source.
type SessionReader struct {
	store *Store
	token string
}

// Session returns a reader over the journal of the given session token.
// A token with no journaled records reads as an empty journal.
func (s *Store) Session(token string) *SessionReader {
	return &SessionReader{store: s, token: token}
}

// Token returns the session token the reader is bound to.
func (r *SessionReader) Token() string {
	return r.token
}

// RuleSetHash returns the rule set hash the session's journal was
// recorded under, or "" if the session has no metadata row.
func (r *SessionReader) RuleSetHash(ctx context.Context) (string, error) {
	var hash string
	err := r.store.db.QueryRowContext(ctx, `
		SELECT rule_set_hash FROM sessions WHERE token = ?
	`, r.token).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read rule set hash: %w", err)
	}
	return hash, nil
}

// ExternalMutations returns the session's externally caused mutations,
// ordered by seq ascending. These are the replay inputs; consequence
// and truth-maintenance mutations are regenerated by firing.
func (r *SessionReader) ExternalMutations(ctx context.Context) ([]engine.MutationRecord, error) {
	return r.readMutations(ctx, `
		SELECT session, seq, source, kind, handle, type, value
		FROM mutations
		WHERE session = ? AND source = ?
		ORDER BY seq ASC
	`, r.token, string(engine.SourceExternal))
}

// Mutations returns every journaled mutation for the session, ordered
// by seq ascending. Used by trace inspection.
func (r *SessionReader) Mutations(ctx context.Context) ([]engine.MutationRecord, error) {
	return r.readMutations(ctx, `
		SELECT session, seq, source, kind, handle, type, value
		FROM mutations
		WHERE session = ?
		ORDER BY seq ASC
	`, r.token)
}

// Firings returns the session's activation firing records, ordered by
// seq ascending.
func (r *SessionReader) Firings(ctx context.Context) ([]engine.FiringRecord, error) {
	return r.readFirings(ctx, `
		SELECT session, seq, rule, activation_key, handles
		FROM firings
		WHERE session = ?
		ORDER BY seq ASC
	`, r.token)
}

// readFirings runs a firing query and scans the results.
func (r *SessionReader) readFirings(ctx context.Context, query string, args ...any) ([]engine.FiringRecord, error) {
	rows, err := r.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query firings: %w", err)
	}
	defer rows.Close()

	var firings []engine.FiringRecord
	for rows.Next() {
		var rec engine.FiringRecord
		var handlesJSON string
		if err := rows.Scan(&rec.Session, &rec.Seq, &rec.Rule, &rec.Key, &handlesJSON); err != nil {
			return nil, fmt.Errorf("scan firing: %w", err)
		}
		rec.Handles, err = unmarshalHandles(handlesJSON)
		if err != nil {
			return nil, fmt.Errorf("scan firing seq %d: %w", rec.Seq, err)
		}
		firings = append(firings, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate firings: %w", err)
	}

	if firings == nil {
		firings = []engine.FiringRecord{}
	}
	return firings, nil
}

// readMutations runs a mutation query and scans the results.
func (r *SessionReader) readMutations(ctx context.Context, query string, args ...any) ([]engine.MutationRecord, error) {
	rows, err := r.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query mutations: %w", err)
	}
	defer rows.Close()

	var mutations []engine.MutationRecord
	for rows.Next() {
		rec, err := scanMutation(rows)
		if err != nil {
			return nil, err
		}
		mutations = append(mutations, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mutations: %w", err)
	}

	if mutations == nil {
		mutations = []engine.MutationRecord{}
	}
	return mutations, nil
}

// scanMutation scans a row into a MutationRecord.
func scanMutation(rows *sql.Rows) (engine.MutationRecord, error) {
	var rec engine.MutationRecord
	var source, kind, typeTag string
	var valueJSON sql.NullString

	if err := rows.Scan(
		&rec.Session, &rec.Seq, &source, &kind, &rec.Handle, &typeTag, &valueJSON,
	); err != nil {
		return rec, fmt.Errorf("scan mutation: %w", err)
	}

	rec.Source = engine.MutationSource(source)
	rec.Kind = engine.MutationKind(kind)
	rec.Type = ir.TypeRef(typeTag)

	if valueJSON.Valid {
		v, err := unmarshalValue(valueJSON.String)
		if err != nil {
			return rec, fmt.Errorf("scan mutation seq %d: %w", rec.Seq, err)
		}
		rec.Value = v
	}

	return rec, nil
}

// SessionInfo is one row of session metadata.
type SessionInfo struct {
	Token       string
	RuleSetHash string
	Mutations   int64
	Firings     int64
}

// Sessions lists every journaled session with record counts, ordered by
// token for stable output.
func (s *Store) Sessions(ctx context.Context) ([]SessionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.token, s.rule_set_hash,
		       (SELECT COUNT(*) FROM mutations m WHERE m.session = s.token),
		       (SELECT COUNT(*) FROM firings f WHERE f.session = s.token)
		FROM sessions s
		ORDER BY s.token COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []SessionInfo
	for rows.Next() {
		var info SessionInfo
		if err := rows.Scan(&info.Token, &info.RuleSetHash, &info.Mutations, &info.Firings); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, info)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	if sessions == nil {
		sessions = []SessionInfo{}
	}
	return sessions, nil
}
