package cli

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRulesSingleFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.cue")
	require.NoError(t, os.WriteFile(path, []byte(highValueRule), 0o644))

	result, errs := LoadRules(path, LoadModeFailFast)
	require.Empty(t, errs)
	require.NotNil(t, result)
	assert.Equal(t, 1, result.FileCount)
	require.Len(t, result.Specs, 1)
	assert.Equal(t, "flag-high-value", result.Specs[0].Name)
}

func TestLoadRulesDirectory(t *testing.T) {
	dir := writeRuleDir(t, highValueRule, auditRule)

	result, errs := LoadRules(dir, LoadModeFailFast)
	require.Empty(t, errs)
	assert.Equal(t, 2, result.FileCount)
	require.Len(t, result.Specs, 2)

	// Rules sorted by name regardless of file order
	assert.Equal(t, "audit-alert", result.Specs[0].Name)
	assert.Equal(t, "flag-high-value", result.Specs[1].Name)
}

func TestLoadRulesNotFound(t *testing.T) {
	result, errs := LoadRules("does/not/exist", LoadModeFailFast)
	assert.Nil(t, result)
	require.Len(t, errs, 1)

	var loadErr *LoadError
	require.ErrorAs(t, errs[0], &loadErr)
	assert.Equal(t, ErrCodeNotFound, loadErr.Code)
}

func TestLoadRulesEmptyDirectory(t *testing.T) {
	result, errs := LoadRules(t.TempDir(), LoadModeFailFast)
	assert.Nil(t, result)
	require.Len(t, errs, 1)

	var loadErr *LoadError
	require.ErrorAs(t, errs[0], &loadErr)
	assert.Equal(t, ErrCodeNoFiles, loadErr.Code)
}

func TestLoadRulesCompileErrorCollectAll(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a_bad.cue"), []byte(`rule: "broken": {when: []}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b_good.cue"), []byte(highValueRule), 0o644))

	result, errs := LoadRules(dir, LoadModeCollectAll)
	require.NotNil(t, result)
	require.Len(t, errs, 1)

	var loadErr *LoadError
	require.ErrorAs(t, errs[0], &loadErr)
	assert.Equal(t, ErrCodeCompileFailed, loadErr.Code)
	assert.Contains(t, loadErr.Message, "a_bad.cue")

	// The good file still loaded
	require.Len(t, result.Specs, 1)
	assert.Equal(t, "flag-high-value", result.Specs[0].Name)
}

func TestLoadRulesFailFastStopsEarly(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a_bad.cue"), []byte(`rule: "broken": {when: []}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b_good.cue"), []byte(highValueRule), 0o644))

	result, errs := LoadRules(dir, LoadModeFailFast)
	require.NotNil(t, result)
	require.Len(t, errs, 1)
	assert.Empty(t, result.Specs, "fail-fast stops before the good file")
}

func TestFindCUEFilesNested(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "top.cue"), []byte(highValueRule), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "nested.cue"), []byte(auditRule), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o644))

	files, err := FindCUEFiles(dir)
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestLoadErrorFormatting(t *testing.T) {
	err := &LoadError{Code: ErrCodeNotFound, Message: "rules path not found: ./missing"}
	assert.Equal(t, "E005: rules path not found: ./missing", err.Error())
}

func TestConvertCompileErrorPlain(t *testing.T) {
	loadErr := convertCompileError(errors.New("boom"), "rules.cue")
	assert.Equal(t, ErrCodeCompileFailed, loadErr.Code)
	assert.Contains(t, loadErr.Message, "rules.cue")
	assert.Contains(t, loadErr.Message, "boom")
}
