// Package querysql compiles queryir filters into parameterized SQLite
// queries over the journal tables.
//
// The compiler emits complete SELECT statements whose column lists
// match the store's row scanners, with every literal passed as a query
// parameter. All compiled queries order by seq ascending so reads of
// the same journal are reproducible.
package querysql

import (
	"fmt"
	"strings"

	"github.com/kwarch/ruse/internal/queryir"
)

// Compiler translates queryir filters to SQL.
//
// Compiler is stateless and safe for concurrent use.
type Compiler struct{}

// NewCompiler creates a SQL compiler.
func NewCompiler() *Compiler {
	return &Compiler{}
}

// CompileMutations builds a query over one session's mutation journal.
//
// The column list matches the store's mutation scanner: session, seq,
// source, kind, handle, type, value. The session token is always the
// first parameter; filter parameters follow in filter order.
func (c *Compiler) CompileMutations(session string, f queryir.Filter) (string, []any, error) {
	where, params, err := c.compileWhere(queryir.Mutations, session, f)
	if err != nil {
		return "", nil, err
	}
	query := "SELECT session, seq, source, kind, handle, type, value FROM mutations WHERE " +
		where + " ORDER BY seq ASC"
	return query, params, nil
}

// CompileFirings builds a query over one session's firing journal.
//
// The column list matches the store's firing scanner: session, seq,
// rule, activation_key, handles.
func (c *Compiler) CompileFirings(session string, f queryir.Filter) (string, []any, error) {
	where, params, err := c.compileWhere(queryir.Firings, session, f)
	if err != nil {
		return "", nil, err
	}
	query := "SELECT session, seq, rule, activation_key, handles FROM firings WHERE " +
		where + " ORDER BY seq ASC"
	return query, params, nil
}

// compileWhere validates the filter and renders the WHERE clause.
func (c *Compiler) compileWhere(target queryir.Target, session string, f queryir.Filter) (string, []any, error) {
	if result := queryir.Validate(target, f); !result.Valid {
		return "", nil, fmt.Errorf("invalid %s filter: %s", target, strings.Join(result.Problems, "; "))
	}

	conds := []string{"session = ?"}
	params := []any{session}

	extra, extraParams, err := c.compileFilter(f)
	if err != nil {
		return "", nil, err
	}
	conds = append(conds, extra...)
	params = append(params, extraParams...)

	return strings.Join(conds, " AND "), params, nil
}

// compileFilter renders one filter node into conditions and parameters.
// And nodes flatten into the enclosing conjunction.
func (c *Compiler) compileFilter(f queryir.Filter) ([]string, []any, error) {
	if f == nil {
		return nil, nil, nil
	}

	switch filter := f.(type) {
	case queryir.KindIs:
		return []string{"kind = ?"}, []any{filter.Kind}, nil
	case *queryir.KindIs:
		return []string{"kind = ?"}, []any{filter.Kind}, nil
	case queryir.SourceIs:
		return []string{"source = ?"}, []any{filter.Source}, nil
	case *queryir.SourceIs:
		return []string{"source = ?"}, []any{filter.Source}, nil
	case queryir.TypeIs:
		return []string{"type = ?"}, []any{filter.Type}, nil
	case *queryir.TypeIs:
		return []string{"type = ?"}, []any{filter.Type}, nil
	case queryir.HandleIs:
		return []string{"handle = ?"}, []any{filter.Handle}, nil
	case *queryir.HandleIs:
		return []string{"handle = ?"}, []any{filter.Handle}, nil
	case queryir.RuleIs:
		return []string{"rule = ?"}, []any{filter.Rule}, nil
	case *queryir.RuleIs:
		return []string{"rule = ?"}, []any{filter.Rule}, nil
	case queryir.SeqAtLeast:
		return []string{"seq >= ?"}, []any{filter.Seq}, nil
	case *queryir.SeqAtLeast:
		return []string{"seq >= ?"}, []any{filter.Seq}, nil
	case queryir.SeqAtMost:
		return []string{"seq <= ?"}, []any{filter.Seq}, nil
	case *queryir.SeqAtMost:
		return []string{"seq <= ?"}, []any{filter.Seq}, nil
	case queryir.And:
		return c.compileAnd(filter)
	case *queryir.And:
		return c.compileAnd(*filter)
	default:
		return nil, nil, fmt.Errorf("unknown filter type %T", f)
	}
}

func (c *Compiler) compileAnd(and queryir.And) ([]string, []any, error) {
	var conds []string
	var params []any
	for _, sub := range and.Filters {
		subConds, subParams, err := c.compileFilter(sub)
		if err != nil {
			return nil, nil, err
		}
		conds = append(conds, subConds...)
		params = append(params, subParams...)
	}
	return conds, params, nil
}
