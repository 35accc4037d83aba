package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceTimeline(t *testing.T) {
	dbPath := seedJournal(t, "trace-session")

	out, _, err := executeCommand("trace", "--db", dbPath, "--session", "trace-session")
	require.NoError(t, err)

	assert.Contains(t, out, "Trace for session: trace-session")
	assert.Contains(t, out, "insert Order#1 {id=o-1, total=250}")
	assert.Contains(t, out, "fire flag-high-value [1]")
	assert.Contains(t, out, "insert_logical Alert#7 {order_id=o-1}")
	assert.Contains(t, out, "Mutations: 3 (3 inserts, 0 updates, 0 retracts)")
	assert.Contains(t, out, "Firings:   1")
}

func TestTraceRuleFilter(t *testing.T) {
	dbPath := seedJournal(t, "trace-session")

	out, _, err := executeCommand("trace", "--db", dbPath, "--session", "trace-session", "--rule", "flag-high-value")
	require.NoError(t, err)

	assert.Contains(t, out, "fire flag-high-value")
	assert.NotContains(t, out, "insert Order")

	// Stats still cover the whole journal
	assert.Contains(t, out, "Mutations: 3")
}

func TestTraceSourceFilter(t *testing.T) {
	dbPath := seedJournal(t, "trace-session")

	out, _, err := executeCommand("trace", "--db", dbPath, "--session", "trace-session", "--source", "consequence")
	require.NoError(t, err)

	assert.Contains(t, out, "insert_logical Alert#7")
	assert.NotContains(t, out, "insert Order#1")
	// Firings stay on the timeline alongside filtered mutations
	assert.Contains(t, out, "fire flag-high-value")
	assert.Contains(t, out, "Mutations: 3")
}

func TestTraceTypeFilter(t *testing.T) {
	dbPath := seedJournal(t, "trace-session")

	out, _, err := executeCommand("trace", "--db", dbPath, "--session", "trace-session", "--type", "Order")
	require.NoError(t, err)

	assert.Contains(t, out, "insert Order#1")
	assert.Contains(t, out, "insert Order#4")
	assert.NotContains(t, out, "Alert#7")
}

func TestTraceInvalidSourceFilter(t *testing.T) {
	dbPath := seedJournal(t, "trace-session")

	_, _, err := executeCommand("trace", "--db", dbPath, "--session", "trace-session", "--source", "cosmic")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid trace filter")
}

func TestTraceUnknownSession(t *testing.T) {
	dbPath := seedJournal(t, "trace-session")

	out, _, err := executeCommand("trace", "--db", dbPath, "--session", "ghost")
	require.NoError(t, err)
	assert.Contains(t, out, "No events found for session: ghost")
}

func TestTraceVerboseShowsSources(t *testing.T) {
	dbPath := seedJournal(t, "trace-session")

	out, _, err := executeCommand("--verbose", "trace", "--db", dbPath, "--session", "trace-session")
	require.NoError(t, err)
	assert.Contains(t, out, "Source: external")
	assert.Contains(t, out, "Source: consequence")
}

func TestTraceJSONOutput(t *testing.T) {
	dbPath := seedJournal(t, "trace-session")

	out, _, err := executeCommand("--format", "json", "trace", "--db", dbPath, "--session", "trace-session")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "trace-session", data["session"])
	assert.NotEmpty(t, data["rule_set_hash"])

	timeline, ok := data["timeline"].([]any)
	require.True(t, ok)
	assert.Len(t, timeline, 4)

	stats, ok := data["stats"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(3), stats["mutations"])
	assert.Equal(t, float64(1), stats["firings"])
}

func TestFormatArgsDeterministic(t *testing.T) {
	args := map[string]any{
		"b": int64(2),
		"a": "x",
		"c": map[string]any{"z": true, "y": []any{int64(1), "two"}},
	}
	assert.Equal(t, "{a=x, b=2, c={y=[1, two], z=true}}", formatArgs(args))
	assert.Equal(t, "{}", formatArgs(nil))
}
