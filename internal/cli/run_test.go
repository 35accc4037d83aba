package cli

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwarch/ruse/internal/store"
)

func TestRunFiresAndReports(t *testing.T) {
	rules := writeRuleDir(t, highValueRule)
	facts := writeFactsFile(t)

	out, _, err := executeCommand("run", rules, "--facts", facts)
	require.NoError(t, err)

	assert.Contains(t, out, "Rules: 1, Inserted: 2, Fired: 1")
	assert.Contains(t, out, "Working Memory (3 facts)")
	assert.Contains(t, out, "Order#1 {id=o-1, total=250}")
	assert.Contains(t, out, "Alert#")
}

func TestRunJSONOutput(t *testing.T) {
	rules := writeRuleDir(t, highValueRule)
	facts := writeFactsFile(t)

	out, _, err := executeCommand("--format", "json", "run", rules, "--facts", facts)
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), data["fired"])
	assert.Equal(t, float64(2), data["inserted"])
	assert.NotEmpty(t, data["session"])

	factList, ok := data["facts"].([]any)
	require.True(t, ok)
	assert.Len(t, factList, 3)
}

func TestRunJournalsToDatabase(t *testing.T) {
	rules := writeRuleDir(t, highValueRule)
	facts := writeFactsFile(t)
	dbPath := filepath.Join(t.TempDir(), "ruse.db")

	_, _, err := executeCommand("run", rules, "--facts", facts, "--db", dbPath)
	require.NoError(t, err)

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	sessions, err := st.Sessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, int64(3), sessions[0].Mutations)
	assert.Equal(t, int64(1), sessions[0].Firings)
}

func TestRunMissingFactsFile(t *testing.T) {
	rules := writeRuleDir(t, highValueRule)

	_, _, err := executeCommand("run", rules, "--facts", "absent.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunInvalidRules(t *testing.T) {
	bad := `rule: "broken": {
	when: [
		{bind: "o", type: "Order", where: [{field: "total", op: "near", value: 1}]},
	]
	then: {consequence: "noop"}
}
`
	rules := writeRuleDir(t, bad)
	facts := writeFactsFile(t)

	_, _, err := executeCommand("run", rules, "--facts", facts)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "E105")
}

func TestRunMissingRulesPath(t *testing.T) {
	facts := writeFactsFile(t)

	_, _, err := executeCommand("run", "does/not/exist", "--facts", facts)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestLoadFactsValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "unknown field",
			yaml:    "facts:\n  - type: Order\n    values: {id: o-1}\n",
			wantErr: "parsing fact file",
		},
		{
			name:    "missing type",
			yaml:    "facts:\n  - value: {id: o-1}\n",
			wantErr: "type is required",
		},
		{
			name:    "missing value",
			yaml:    "facts:\n  - type: Order\n",
			wantErr: "value is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "facts.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o644))

			_, err := loadFacts(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
