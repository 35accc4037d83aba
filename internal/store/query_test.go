package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwarch/ruse/internal/engine"
	"github.com/kwarch/ruse/internal/ir"
	"github.com/kwarch/ruse/internal/queryir"
)

// seedFilterSession journals a small mixed session: two external order
// inserts, one derived alert, one retract, and two firings.
func seedFilterSession(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	j := s.Journal("hash-q")

	require.NoError(t, j.RecordMutation(ctx, externalInsert("sess-q", 1, 1, "Order", ir.Object{"id": ir.String("o-1")})))
	require.NoError(t, j.RecordMutation(ctx, externalInsert("sess-q", 2, 2, "Order", ir.Object{"id": ir.String("o-2")})))
	require.NoError(t, j.RecordFiring(ctx, engine.FiringRecord{
		Seq: 3, Session: "sess-q", Rule: "flag-high-value", Key: "flag-high-value|1", Handles: []int64{1},
	}))
	require.NoError(t, j.RecordMutation(ctx, engine.MutationRecord{
		Seq: 4, Session: "sess-q", Source: engine.SourceConsequence,
		Kind: engine.MutationInsertLogical, Handle: 3, Type: "Alert",
		Value: ir.Object{"order_id": ir.String("o-1")},
	}))
	require.NoError(t, j.RecordMutation(ctx, engine.MutationRecord{
		Seq: 5, Session: "sess-q", Source: engine.SourceTruth,
		Kind: engine.MutationRetract, Handle: 3, Type: "Alert",
	}))
	require.NoError(t, j.RecordFiring(ctx, engine.FiringRecord{
		Seq: 6, Session: "sess-q", Rule: "audit", Key: "audit|2", Handles: []int64{2},
	}))
}

func TestMutationsMatchingBySource(t *testing.T) {
	s := openTestStore(t)
	seedFilterSession(t, s)

	got, err := s.Session("sess-q").MutationsMatching(context.Background(),
		queryir.SourceIs{Source: "external"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].Seq)
	assert.Equal(t, int64(2), got[1].Seq)
}

func TestMutationsMatchingConjunction(t *testing.T) {
	s := openTestStore(t)
	seedFilterSession(t, s)

	got, err := s.Session("sess-q").MutationsMatching(context.Background(),
		queryir.All(
			queryir.TypeIs{Type: "Alert"},
			queryir.KindIs{Kind: "retract"},
		))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(5), got[0].Seq)
	assert.Equal(t, engine.SourceTruth, got[0].Source)
}

func TestMutationsMatchingSeqWindow(t *testing.T) {
	s := openTestStore(t)
	seedFilterSession(t, s)

	got, err := s.Session("sess-q").MutationsMatching(context.Background(),
		queryir.All(
			queryir.SeqAtLeast{Seq: 2},
			queryir.SeqAtMost{Seq: 4},
		))
	require.NoError(t, err)
	require.Len(t, got, 2, "seq 3 is a firing, not a mutation")
	assert.Equal(t, int64(2), got[0].Seq)
	assert.Equal(t, int64(4), got[1].Seq)
}

func TestMutationsMatchingNilReadsAll(t *testing.T) {
	s := openTestStore(t)
	seedFilterSession(t, s)

	got, err := s.Session("sess-q").MutationsMatching(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, got, 4)
}

func TestFiringsMatchingByRule(t *testing.T) {
	s := openTestStore(t)
	seedFilterSession(t, s)

	got, err := s.Session("sess-q").FiringsMatching(context.Background(),
		queryir.RuleIs{Rule: "audit"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(6), got[0].Seq)
	assert.Equal(t, []int64{2}, got[0].Handles)
}

func TestMatchingRejectsInvalidFilter(t *testing.T) {
	s := openTestStore(t)
	seedFilterSession(t, s)
	ctx := context.Background()

	_, err := s.Session("sess-q").MutationsMatching(ctx, queryir.KindIs{Kind: "upsert"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compile mutation filter")

	_, err = s.Session("sess-q").FiringsMatching(ctx, queryir.TypeIs{Type: "Order"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compile firing filter")
}

func TestMatchingEmptyResultIsNotNil(t *testing.T) {
	s := openTestStore(t)
	seedFilterSession(t, s)

	got, err := s.Session("sess-q").MutationsMatching(context.Background(),
		queryir.TypeIs{Type: "Nothing"})
	require.NoError(t, err)
	assert.Equal(t, []engine.MutationRecord{}, got)
}
