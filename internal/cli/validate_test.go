package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateValidRules(t *testing.T) {
	dir := writeRuleDir(t, highValueRule, auditRule)

	out, _, err := executeCommand("validate", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ 2 rule(s) valid")
}

func TestValidateInvalidOperator(t *testing.T) {
	badRule := `rule: "broken": {
	when: [
		{bind: "o", type: "Order", where: [{field: "total", op: "near", value: 100}]},
	]
	then: {consequence: "noop"}
}
`
	dir := writeRuleDir(t, badRule)

	out, _, err := executeCommand("validate", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, "[E105]")
}

func TestValidateCompileErrorReported(t *testing.T) {
	dir := writeRuleDir(t, `rule: "broken": {when: []}`)

	out, _, err := executeCommand("validate", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Validation failed")
}

func TestValidateMissingPath(t *testing.T) {
	_, _, err := executeCommand("validate", "does/not/exist")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestValidateCycleWarning(t *testing.T) {
	pingPong := `rule: "ping": {
	when: [
		{bind: "p", type: "Pong"},
	]
	then: {insert: {type: "Ping", fields: {n: "${bound.p.n}"}}}
}

rule: "pong": {
	when: [
		{bind: "p", type: "Ping"},
	]
	then: {insert: {type: "Pong", fields: {n: "${bound.p.n}"}}}
}
`
	dir := writeRuleDir(t, pingPong)

	out, _, err := executeCommand("validate", dir)
	require.NoError(t, err, "loop reports are warnings, not errors")
	assert.Contains(t, out, "✓ 2 rule(s) valid")
	assert.Contains(t, out, "⚠")
	assert.Contains(t, out, "feedback loop")
}

func TestValidateJSONOutput(t *testing.T) {
	dir := writeRuleDir(t, highValueRule)

	out, _, err := executeCommand("--format", "json", "validate", dir)
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, data["valid"])
	assert.Equal(t, float64(1), data["rules"])
}

func TestValidateJSONErrorOutput(t *testing.T) {
	dir := t.TempDir()
	bad := `rule: "broken": {
	when: [
		{bind: "o", type: "Order", where: [{field: "total", op: "near", value: 1}]},
	]
	then: {consequence: "noop"}
}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.cue"), []byte(bad), 0o644))

	out, _, err := executeCommand("--format", "json", "validate", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E105", resp.Error.Code)
}

func TestValidateVerboseLogsToStderr(t *testing.T) {
	dir := writeRuleDir(t, highValueRule)

	out, errOut, err := executeCommand("--verbose", "validate", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓")
	assert.Contains(t, errOut, "Validating rule: flag-high-value")
}
