package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kwarch/ruse/internal/compiler"
	"github.com/kwarch/ruse/internal/engine"
	"github.com/kwarch/ruse/internal/ir"
	"github.com/kwarch/ruse/internal/store"
)

const highValueRule = `rule: "flag-high-value": {
	when: [
		{bind: "o", type: "Order", where: [{field: "total", op: "gt", value: 100}]},
	]
	then: {insert: {type: "Alert", logical: true, fields: {order_id: "${bound.o.id}"}}}
}
`

const auditRule = `rule: "audit-alert": {
	when: [
		{bind: "a", type: "Alert"},
	]
	then: {insert: {type: "Audit", fields: {order_id: "${bound.a.order_id}"}}}
}
`

// executeCommand runs the root command with the given args and captures
// stdout and stderr.
func executeCommand(args ...string) (string, string, error) {
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

// writeRuleDir writes the standard test rules into a temp dir.
func writeRuleDir(t *testing.T, rules ...string) string {
	t.Helper()
	if len(rules) == 0 {
		rules = []string{highValueRule}
	}

	dir := t.TempDir()
	names := []string{"high_value.cue", "audit.cue", "extra.cue"}
	for i, src := range rules {
		require.NoError(t, os.WriteFile(filepath.Join(dir, names[i]), []byte(src), 0o644))
	}
	return dir
}

// writeFactsFile writes a YAML fact file with one matching and one
// non-matching order.
func writeFactsFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "facts.yaml")
	content := `facts:
  - type: Order
    value: {id: o-1, total: 250}
  - type: Order
    value: {id: o-2, total: 50}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// seedJournal runs a journaled session against the standard rules and
// returns the database path.
func seedJournal(t *testing.T, token string) string {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "ruse.db")

	specs, err := compiler.CompileRuleSet(highValueRule)
	require.NoError(t, err)

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	hash, err := ir.RuleSetHash(specs)
	require.NoError(t, err)

	session, err := engine.NewSession(specs,
		engine.WithJournal(st.Journal(hash)),
		engine.WithTokenGenerator(engine.NewFixedGenerator(token)),
	)
	require.NoError(t, err)
	defer session.Close()

	_, err = session.Insert(ctx, "Order", ir.Object{"id": ir.String("o-1"), "total": ir.Int(250)})
	require.NoError(t, err)
	_, err = session.Insert(ctx, "Order", ir.Object{"id": ir.String("o-2"), "total": ir.Int(50)})
	require.NoError(t, err)

	_, err = session.FireAll(ctx)
	require.NoError(t, err)

	return dbPath
}
