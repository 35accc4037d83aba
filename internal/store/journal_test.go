package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwarch/ruse/internal/engine"
	"github.com/kwarch/ruse/internal/ir"
	"github.com/kwarch/ruse/internal/rete"
)

func externalInsert(session string, seq, handle int64, typeTag string, value ir.Value) engine.MutationRecord {
	return engine.MutationRecord{
		Seq:     seq,
		Session: session,
		Source:  engine.SourceExternal,
		Kind:    engine.MutationInsert,
		Handle:  handle,
		Type:    ir.TypeRef(typeTag),
		Value:   value,
	}
}

func TestJournalRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	j := s.Journal("hash-abc")

	order := ir.Object{"id": ir.String("o-1"), "total": ir.Int(250)}
	require.NoError(t, j.RecordMutation(ctx, externalInsert("sess-1", 1, 1, "Order", order)))
	require.NoError(t, j.RecordMutation(ctx, engine.MutationRecord{
		Seq:     2,
		Session: "sess-1",
		Source:  engine.SourceExternal,
		Kind:    engine.MutationRetract,
		Handle:  1,
		Type:    "Order",
	}))

	got, err := s.Session("sess-1").ExternalMutations(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, int64(1), got[0].Seq)
	assert.Equal(t, engine.MutationInsert, got[0].Kind)
	assert.Equal(t, ir.TypeRef("Order"), got[0].Type)
	assert.True(t, ir.Equal(order, got[0].Value))

	assert.Equal(t, engine.MutationRetract, got[1].Kind)
	assert.Nil(t, got[1].Value, "retracts carry no value")
}

func TestJournalRecordsRuleSetHash(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	j := s.Journal("hash-abc")
	require.NoError(t, j.RecordMutation(ctx, externalInsert("sess-1", 1, 1, "Order", ir.Object{})))

	hash, err := s.Session("sess-1").RuleSetHash(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hash-abc", hash)

	// An unknown session reads as an empty journal
	hash, err = s.Session("nobody").RuleSetHash(ctx)
	require.NoError(t, err)
	assert.Empty(t, hash)
}

func TestJournalDuplicateSeqIgnored(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	j := s.Journal("h")

	first := externalInsert("sess-1", 1, 1, "Order", ir.Object{"id": ir.String("first")})
	second := externalInsert("sess-1", 1, 2, "Order", ir.Object{"id": ir.String("second")})

	require.NoError(t, j.RecordMutation(ctx, first))
	require.NoError(t, j.RecordMutation(ctx, second))

	got, err := s.Session("sess-1").Mutations(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1, "second write at the same seq is a no-op")
	assert.True(t, ir.Equal(ir.Object{"id": ir.String("first")}, got[0].Value))
}

func TestExternalMutationsFiltersSources(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	j := s.Journal("h")

	require.NoError(t, j.RecordMutation(ctx, externalInsert("sess-1", 1, 1, "Order", ir.Object{})))

	derived := engine.MutationRecord{
		Seq:     2,
		Session: "sess-1",
		Source:  engine.SourceConsequence,
		Kind:    engine.MutationInsertLogical,
		Handle:  2,
		Type:    "Alert",
		Value:   ir.Object{},
	}
	require.NoError(t, j.RecordMutation(ctx, derived))

	external, err := s.Session("sess-1").ExternalMutations(ctx)
	require.NoError(t, err)
	require.Len(t, external, 1)
	assert.Equal(t, engine.SourceExternal, external[0].Source)

	all, err := s.Session("sess-1").Mutations(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestJournalIsolatesSessions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	j := s.Journal("h")

	require.NoError(t, j.RecordMutation(ctx, externalInsert("sess-a", 1, 1, "Order", ir.Object{})))
	require.NoError(t, j.RecordMutation(ctx, externalInsert("sess-b", 1, 1, "Order", ir.Object{})))

	a, err := s.Session("sess-a").Mutations(ctx)
	require.NoError(t, err)
	assert.Len(t, a, 1)

	b, err := s.Session("sess-b").Mutations(ctx)
	require.NoError(t, err)
	assert.Len(t, b, 1)
}

func TestFiringsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	j := s.Journal("h")

	// Firings reference the session row created by the first mutation
	require.NoError(t, j.RecordMutation(ctx, externalInsert("sess-1", 1, 1, "Order", ir.Object{})))
	require.NoError(t, j.RecordFiring(ctx, engine.FiringRecord{
		Seq:     3,
		Session: "sess-1",
		Rule:    "high-value",
		Key:     "high-value|1",
		Handles: []int64{1},
	}))
	require.NoError(t, j.RecordFiring(ctx, engine.FiringRecord{
		Seq:     5,
		Session: "sess-1",
		Rule:    "audit",
		Key:     "audit|1",
		Handles: nil,
	}))

	firings, err := s.Session("sess-1").Firings(ctx)
	require.NoError(t, err)
	require.Len(t, firings, 2)

	assert.Equal(t, "high-value", firings[0].Rule)
	assert.Equal(t, []int64{1}, firings[0].Handles)
	assert.Equal(t, []int64{}, firings[1].Handles, "nil handles round-trip as empty")
}

func TestSessionsListing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	j := s.Journal("hash-1")

	require.NoError(t, j.RecordMutation(ctx, externalInsert("sess-b", 1, 1, "Order", ir.Object{})))
	require.NoError(t, j.RecordMutation(ctx, externalInsert("sess-a", 1, 1, "Order", ir.Object{})))
	require.NoError(t, j.RecordMutation(ctx, externalInsert("sess-a", 2, 2, "Order", ir.Object{})))
	require.NoError(t, j.RecordFiring(ctx, engine.FiringRecord{
		Seq: 3, Session: "sess-a", Rule: "r", Key: "r|1", Handles: []int64{1},
	}))

	sessions, err := s.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	// Ordered by token
	assert.Equal(t, "sess-a", sessions[0].Token)
	assert.Equal(t, int64(2), sessions[0].Mutations)
	assert.Equal(t, int64(1), sessions[0].Firings)
	assert.Equal(t, "sess-b", sessions[1].Token)
	assert.Equal(t, "hash-1", sessions[1].RuleSetHash)
}

// TestReplayFromStore drives a session against a store-backed journal,
// then rebuilds it from the journal and checks the derived state comes
// back.
func TestReplayFromStore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	specs := []ir.RuleSpec{{
		Name: "flag-high-value",
		Patterns: []ir.PatternSpec{{
			Binding: "o",
			Type:    "Order",
			Constraints: []ir.ConstraintSpec{
				{Field: "total", Op: ir.OpGt, Value: ir.Int(100)},
			},
		}},
		Produces: []ir.TypeRef{"Alert"},
		Then: ir.Production{
			Type:    "Alert",
			Logical: true,
			Fields:  map[string]string{"order_id": "${bound.o.id}"},
		},
	}}

	probe, err := engine.NewSession(specs)
	require.NoError(t, err)
	live, err := engine.NewSession(specs, engine.WithJournal(s.Journal(probe.RuleSetHash())))
	require.NoError(t, err)
	defer live.Close()

	_, err = live.Insert(ctx, "Order", ir.Object{"id": ir.String("o-1"), "total": ir.Int(250)})
	require.NoError(t, err)
	_, err = live.Insert(ctx, "Order", ir.Object{"id": ir.String("o-2"), "total": ir.Int(50)})
	require.NoError(t, err)
	fired, err := live.FireAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, fired)
	require.Equal(t, 3, live.FactCount(), "two orders and one derived alert")

	replayed, err := engine.Replay(ctx, s.Session(live.Token()), specs)
	require.NoError(t, err)
	defer replayed.Close()

	assert.Equal(t, 3, replayed.FactCount())

	alerts := 0
	err = replayed.EachFact(func(f rete.Fact) error {
		if f.Type == "Alert" {
			alerts++
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, alerts, "derived alert regenerated by refiring")
}

// TestReplayFromStoreRefusesDrift checks that a journal recorded under
// one rule set cannot replay under another.
func TestReplayFromStoreRefusesDrift(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	specs := []ir.RuleSpec{{
		Name:     "noop",
		Patterns: []ir.PatternSpec{{Binding: "o", Type: "Order"}},
		Then:     ir.Production{Type: "Seen", Fields: map[string]string{}},
	}}

	probe, err := engine.NewSession(specs)
	require.NoError(t, err)
	live, err := engine.NewSession(specs, engine.WithJournal(s.Journal(probe.RuleSetHash())))
	require.NoError(t, err)
	defer live.Close()

	_, err = live.Insert(ctx, "Order", ir.Object{"id": ir.String("o-1")})
	require.NoError(t, err)

	drifted := []ir.RuleSpec{{
		Name:     "noop",
		Salience: 99, // changed attribute shifts the hash
		Patterns: []ir.PatternSpec{{Binding: "o", Type: "Order"}},
		Then:     ir.Production{Type: "Seen", Fields: map[string]string{}},
	}}

	_, err = engine.Replay(ctx, s.Session(live.Token()), drifted)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rule set drift")
}
