package store

import (
	"context"
	"fmt"

	"github.com/kwarch/ruse/internal/engine"
	"github.com/kwarch/ruse/internal/queryir"
	"github.com/kwarch/ruse/internal/querysql"
)

// MutationsMatching returns the session's mutations satisfying the
// filter, ordered by seq ascending. A nil filter reads every mutation.
//
// Filters are compiled to parameterized SQL; an invalid filter is an
// error, not an empty result.
func (r *SessionReader) MutationsMatching(ctx context.Context, f queryir.Filter) ([]engine.MutationRecord, error) {
	query, params, err := querysql.NewCompiler().CompileMutations(r.token, f)
	if err != nil {
		return nil, fmt.Errorf("compile mutation filter: %w", err)
	}
	return r.readMutations(ctx, query, params...)
}

// FiringsMatching returns the session's firings satisfying the filter,
// ordered by seq ascending. A nil filter reads every firing.
func (r *SessionReader) FiringsMatching(ctx context.Context, f queryir.Filter) ([]engine.FiringRecord, error) {
	query, params, err := querysql.NewCompiler().CompileFirings(r.token, f)
	if err != nil {
		return nil, fmt.Errorf("compile firing filter: %w", err)
	}
	return r.readFirings(ctx, query, params...)
}
