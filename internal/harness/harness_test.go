package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scenarioDir holds the shared scenario files. Tests run from the package
// directory.
const scenarioDir = "../../testdata/scenarios"

func TestScenarios(t *testing.T) {
	files, err := filepath.Glob(filepath.Join(scenarioDir, "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, f := range files {
		name := strings.TrimSuffix(filepath.Base(f), ".yaml")
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(f)
			require.NoError(t, err)

			result, err := RunWithGolden(t, filepath.Join(scenarioDir, "golden"), scenario)
			require.NoError(t, err, "scenario execution failed")
			assert.True(t, result.Pass, "scenario should pass: errors=%v", result.Errors)
		})
	}
}

// TestScenarios_Replay runs the same scenario twice; the snapshots must be
// byte-identical.
func TestScenarios_Replay(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join(scenarioDir, "member_events.yaml"))
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	a, err := MarshalSnapshot(scenario.Name, first)
	require.NoError(t, err)
	b, err := MarshalSnapshot(scenario.Name, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestRun_ExpectMismatchFails(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: wrong_expect
description: "expect clause that cannot hold"
config:
  MAILCHIMP_API_KEY: secret-us1
  MAILCHIMP_AUDIENCE_ID: list1
flow:
  - create_user: {uid: u1, email: a@x.com}
    expect: {calls: 2}
  - reconfigure: {MAILCHIMP_API_KEY: secret-us1, MAILCHIMP_AUDIENCE_ID: list1}
    expect: {diagnostics: [E202]}
assertions:
  - type: call_count
    op: add_member
    count: 1
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "flow[0] create_user: expected 2 audience calls, got 1")
	assert.Contains(t, result.Errors[1], "expected diagnostics [E202], got []")
}

func TestRun_MissingRecordsAreErrors(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: missing_records
description: "deleting what was never written"
config:
  MAILCHIMP_API_KEY: secret-us1
  MAILCHIMP_AUDIENCE_ID: list1
flow:
  - delete_user: {uid: ghost}
  - delete_document: {path: users/ghost}
assertions:
  - type: call_count
    op: delete_member
    count: 0
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Equal(t, []string{
		`flow[0]: user "ghost" does not exist`,
		`flow[1]: document "users/ghost" does not exist`,
	}, result.Errors)
	assert.Empty(t, result.Trace)
}

func TestRun_UninitializedEngineMakesNoCalls(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: bad_key
description: "an API key without a data center leaves the engine uninitialized"
config:
  MAILCHIMP_API_KEY: nodatacenter
  MAILCHIMP_AUDIENCE_ID: list1
flow:
  - create_user: {uid: u1, email: a@x.com}
    expect: {calls: 0}
assertions:
  - type: call_count
    op: add_member
    count: 0
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors=%v", result.Errors)
}

func TestRun_BadConfigValue(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: bad_config
description: "a config value mapstructure cannot decode"
config:
  MAILCHIMP_AUDIENCE_ID: [list1, list2]
flow:
  - create_user: {uid: u1}
assertions:
  - type: call_count
    op: add_member
    count: 0
`))
	require.NoError(t, err)

	_, err = Run(scenario)
	assert.ErrorContains(t, err, "failed to decode config")
}
