package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenariosDir = "../../testdata/scenarios"

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestHash(t *testing.T) {
	out, err := execute(t, "hash", "A@X.com")
	require.NoError(t, err)
	assert.Equal(t, "743173788aa9166801df2e18f0e7ff24\n", out)
}

func TestHashJSON(t *testing.T) {
	out, err := execute(t, "hash", "a@x.com", "--format", "json")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]any{
		"email":           "a@x.com",
		"subscriber_hash": "743173788aa9166801df2e18f0e7ff24",
	}, resp.Data)
}

func TestValidate_Valid(t *testing.T) {
	path := writeFile(t, t.TempDir(), "extension.yaml", `
MAILCHIMP_API_KEY: secret-us1
MAILCHIMP_AUDIENCE_ID: list1
MAILCHIMP_MEMBER_TAGS: {memberTags: [tags], subscriberEmail: email}
MAILCHIMP_MEMBER_TAGS_WATCH_PATH: "users/{uid}"
`)

	out, err := execute(t, "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Features enabled: [MEMBER_TAGS]")
	assert.Contains(t, out, "✓ Configuration is valid")
}

func TestValidate_Diagnostics(t *testing.T) {
	path := writeFile(t, t.TempDir(), "extension.yaml", `
MAILCHIMP_API_KEY: nodatacenter
MAILCHIMP_MEMBER_TAGS: '{"memberTags":['
MAILCHIMP_MEMBER_TAGS_WATCH_PATH: "users/{uid}"
`)

	out, err := execute(t, "validate", "--config", path, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)
	assert.NotEmpty(t, resp.Data.InitError)
	require.Len(t, resp.Data.Diagnostics, 1)
	assert.Equal(t, "MAILCHIMP_MEMBER_TAGS", resp.Data.Diagnostics[0].Key)
	assert.Empty(t, resp.Data.Features)
}

func TestValidate_MissingFile(t *testing.T) {
	_, err := execute(t, "validate", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestBackfill_NotRequested(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "extension.yaml", `
MAILCHIMP_API_KEY: secret-us1
MAILCHIMP_AUDIENCE_ID: list1
BACKFILL_CONFIG: {sources: [AUTH], events: [INSTALL]}
`)

	out, err := execute(t, "backfill", "--db", filepath.Join(dir, "mcsync.db"), "--config", cfg, "--event", "update")
	require.NoError(t, err)
	assert.Equal(t, "PROCESSING_COMPLETE: No processing requested.\n", out)
}

func TestBackfill_EmptyStore(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "extension.yaml", `
MAILCHIMP_API_KEY: secret-us1
MAILCHIMP_AUDIENCE_ID: list1
BACKFILL_CONFIG: {sources: [AUTH], events: [INSTALL]}
`)

	out, err := execute(t, "backfill", "--db", filepath.Join(dir, "mcsync.db"), "--config", cfg, "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string         `json:"status"`
		Data   BackfillResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, BackfillResult{
		Trigger:   "INSTALL",
		Delivered: 1,
		State:     "PROCESSING_COMPLETE",
		Message:   "Backfill process completed! 0 records synced.",
	}, resp.Data)
}

func TestBackfill_UnknownEvent(t *testing.T) {
	_, err := execute(t, "backfill", "--db", filepath.Join(t.TempDir(), "mcsync.db"), "--event", "REINSTALL")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `unknown event "REINSTALL"`)
}

func TestBackfill_NoDatabase(t *testing.T) {
	t.Setenv("DATABASE_PATH", "")
	_, err := execute(t, "backfill")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTest_Scenarios(t *testing.T) {
	if _, err := os.Stat(scenariosDir); os.IsNotExist(err) {
		t.Skip("testdata/scenarios directory not found")
	}

	out, err := execute(t, "test", scenariosDir)
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ tag_delta")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestTest_Filter(t *testing.T) {
	if _, err := os.Stat(scenariosDir); os.IsNotExist(err) {
		t.Skip("testdata/scenarios directory not found")
	}

	out, err := execute(t, "test", scenariosDir, "--filter", "backfill_*", "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, resp.Data.Total)
	for _, s := range resp.Data.Scenarios {
		assert.Contains(t, s.Name, "backfill_")
	}
}

const hashOnlyScenario = `name: create_one
description: "A created account becomes an audience member"
config:
  MAILCHIMP_API_KEY: secret-us1
  MAILCHIMP_AUDIENCE_ID: list1
flow:
  - create_user: {uid: u1, email: a@x.com}
    expect: {calls: 1}
assertions:
  - type: call_count
    op: add_member
    count: 1
`

func TestTest_UpdateThenCompare(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "create_one.yaml", hashOnlyScenario)

	out, err := execute(t, "test", dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ create_one (golden updated)")

	golden, err := os.ReadFile(filepath.Join(dir, "golden", "create_one.golden"))
	require.NoError(t, err)
	assert.Contains(t, string(golden), `"op": "add_member"`)

	out, err = execute(t, "test", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ create_one\n")
}

func TestTest_GoldenMismatch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "create_one.yaml", hashOnlyScenario)
	writeFile(t, dir, "golden/create_one.golden", "{}\n")

	out, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ create_one")
	assert.Contains(t, out, "trace does not match golden file")
	assert.Contains(t, out, "Test Summary: 0 passed, 1 failed, 1 total")
}

func TestTest_LoadError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.yaml", "name: broken\n")

	out, err := execute(t, "test", dir, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeTestFailed, resp.Error.Code)
}

func TestTest_MissingDir(t *testing.T) {
	_, err := execute(t, "test", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTest_Empty(t *testing.T) {
	out, err := execute(t, "test", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "No scenarios found.\n", out)
}
