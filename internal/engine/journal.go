package engine

import (
	"context"

	"github.com/kwarch/ruse/internal/ir"
)

// MutationKind labels journal mutation records.
type MutationKind string

const (
	MutationInsert        MutationKind = "insert"
	MutationInsertLogical MutationKind = "insert_logical"
	MutationUpdate        MutationKind = "update"
	MutationRetract       MutationKind = "retract"
)

// MutationSource records who caused a mutation. Replay reapplies only
// external mutations; consequence and truth-maintenance mutations are
// regenerated by firing.
type MutationSource string

const (
	SourceExternal    MutationSource = "external"
	SourceConsequence MutationSource = "consequence"
	SourceTruth       MutationSource = "truth"
)

// MutationRecord is one journaled working-memory change.
type MutationRecord struct {
	Seq     int64
	Session string
	Source  MutationSource
	Kind    MutationKind
	Handle  int64
	Type    ir.TypeRef
	Value   ir.Value // nil for retracts
}

// FiringRecord is one journaled activation firing.
type FiringRecord struct {
	Seq     int64
	Session string
	Rule    string
	Key     string // activation key
	Handles []int64
}

// Journal persists the session's event history in seq order. A nil
// journal on the session disables recording. Implemented by the SQLite
// store; tests use in-memory recorders.
//
// Journal writes happen inside the session lock, before the mutation's
// propagation is considered complete: a failed write fails the
// mutation.
type Journal interface {
	RecordMutation(ctx context.Context, rec MutationRecord) error
	RecordFiring(ctx context.Context, rec FiringRecord) error
}
