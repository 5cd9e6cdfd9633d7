package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormasoftchile/tasksmith/pkg/kernel/registry"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/replay"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/schema"
)

type action struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	Output    any            `json:"output"`
	Sources   []string       `json:"source_scenarios"`
}

// execute runs the CLI against the testdata tree with replayed responses.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("TASKSMITH_LOG_LEVEL", "error")
	t.Setenv("TASKSMITH_DATA_TMP_DIR", t.TempDir())

	var stdout, stderr bytes.Buffer
	root := newRootCmd(&stdout, &stderr)
	root.SetArgs(append([]string{
		"--scenarios", filepath.Join("testdata", "scenarios"),
		"--envs", filepath.Join("testdata", "envs"),
		"--replay", filepath.Join("testdata", "replay.yaml"),
	}, args...))
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestRun_EmitsActions(t *testing.T) {
	stdout, stderr, err := execute(t, "run", "employee_onboarding", "-e", "hr_experts",
		"-p", "email=jane@example.com", "-p", "salary=50000")
	require.NoError(t, err, stderr)

	var actions []action
	require.NoError(t, json.Unmarshal([]byte(stdout), &actions))
	require.Len(t, actions, 2)

	assert.Equal(t, "discover_user_employee_entities", actions[0].Name)
	assert.Equal(t, "users", actions[0].Arguments["entity_type"])
	assert.Equal(t, `{"email":"jane@example.com"}`, actions[0].Arguments["filters"])

	assert.Equal(t, "manage_employee", actions[1].Name)
	assert.Equal(t, "U-1", actions[1].Arguments["user_id"])
	assert.Equal(t, float64(50000), actions[1].Arguments["salary"])
	assert.Equal(t, "create", actions[1].Arguments["action"])

	assert.Contains(t, stderr, "employee_onboarding")
}

func TestRun_OutputFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "actions.json")
	stdout, stderr, err := execute(t, "run", "department_lookup", "-e", "hr_experts", "-p", "status=active", "-o", out)
	require.NoError(t, err, stderr)
	assert.Empty(t, stdout)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var actions []action
	require.NoError(t, json.Unmarshal(data, &actions))
	require.Len(t, actions, 1)
	assert.Equal(t, "list_departments", actions[0].Name)
}

func TestRun_File(t *testing.T) {
	stdout, stderr, err := execute(t, "run", "-f", filepath.Join("testdata", "scenarios", "hr_experts", "performance_review.yaml"),
		"-p", "employee_id=E-9")
	require.NoError(t, err, stderr)
	assert.Contains(t, stdout, `"employee_id": "E-9"`)
}

func TestRun_Errors(t *testing.T) {
	_, _, err := execute(t, "run", "no_such_scenario", "-e", "hr_experts")
	assert.ErrorIs(t, err, registry.ErrScenarioNotFound)

	_, _, err = execute(t, "run", "department_lookup", "-e", "hr_experts")
	assert.ErrorIs(t, err, registry.ErrInvalidParams)
	assert.Contains(t, err.Error(), "status is required (type: string)")

	_, _, err = execute(t, "run", "department_lookup")
	assert.ErrorContains(t, err, "--env is required")

	_, _, err = execute(t, "run", "department_lookup", "-e", "hr_experts", "-p", "oops")
	assert.ErrorContains(t, err, `invalid --param "oops"`)
}

func TestRun_TraceVerifies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.jsonl")
	_, stderr, err := execute(t, "--trace", path, "run", "department_lookup", "-e", "hr_experts", "-p", "status=active")
	require.NoError(t, err, stderr)

	stdout, _, err := execute(t, "trace", "verify", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "✓ Chain integrity")
}

func TestRun_RecordWritesFixture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recorded.yaml")
	_, stderr, err := execute(t, "--record", path, "run", "department_lookup", "-e", "hr_experts", "-p", "status=active")
	require.NoError(t, err, stderr)

	fx, err := replay.LoadFixture(path)
	require.NoError(t, err)
	require.Len(t, fx.Responses["list_departments"], 1)
	assert.Equal(t, map[string]any{"departments": []any{"D-1"}}, fx.Responses["list_departments"][0].Output)
}

func TestMerge_ChainsAndDeduplicates(t *testing.T) {
	stdout, stderr, err := execute(t, "merge", "-f", filepath.Join("testdata", "requests.yaml"))
	require.NoError(t, err, stderr)

	var actions []action
	require.NoError(t, json.Unmarshal([]byte(stdout), &actions))
	require.Len(t, actions, 4)
	assert.Equal(t, "create_performance_review", actions[2].Name)
	assert.Equal(t, "E-1", actions[2].Arguments["employee_id"])
	assert.Equal(t, "list_departments", actions[3].Name)
	assert.Equal(t, []string{"department_lookup"}, actions[3].Sources)

	assert.Contains(t, stderr, "5 total actions -> 4 unique actions (1 duplicates removed)")
}

func TestMerge_RequiresFile(t *testing.T) {
	_, _, err := execute(t, "merge")
	assert.ErrorContains(t, err, "--file is required")
}

func TestMergeTemplates(t *testing.T) {
	stdout, stderr, err := execute(t, "merge-templates", "-e", "hr_experts", "department_lookup", "employee_onboarding", "department_lookup")
	require.NoError(t, err, stderr)

	var res struct {
		MergedSteps       []json.RawMessage `json:"merged_steps"`
		DuplicatesRemoved int               `json:"duplicates_removed"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &res))
	assert.Len(t, res.MergedSteps, 3)
	assert.Equal(t, 1, res.DuplicatesRemoved)
	assert.Contains(t, stderr, "Merged 3 scenarios")
}

func TestValidate(t *testing.T) {
	stdout, _, err := execute(t, "validate", filepath.Join("testdata", "scenarios", "hr_experts", "employee_onboarding.yaml"))
	require.NoError(t, err)
	assert.Contains(t, stdout, "✓ employee_onboarding is valid (2 steps)")

	_, stderr, err := execute(t, "validate", filepath.Join("testdata", "broken.yaml"))
	require.Error(t, err)
	assert.Contains(t, stderr, `previous_step "nothing.here" used by the first step`)
	assert.Contains(t, stderr, "at: steps[0].inputs[0].key")
}

func TestListAndDescribe(t *testing.T) {
	stdout, _, err := execute(t, "list")
	require.NoError(t, err)
	assert.Contains(t, stdout, "hr_experts / interface 1")
	assert.Contains(t, stdout, "employee_onboarding")
	assert.Contains(t, stdout, "performance_review")

	stdout, _, err = execute(t, "describe", "employee_onboarding", "-e", "hr_experts")
	require.NoError(t, err)
	sc, err := schema.LoadBytes([]byte(stdout))
	require.NoError(t, err)
	assert.Equal(t, "employee_onboarding", sc.Meta.Name)
	assert.Len(t, sc.Steps, 2)
}

func TestDiagram(t *testing.T) {
	stdout, _, err := execute(t, "diagram", "employee_onboarding", "-e", "hr_experts", "--format", "mermaid")
	require.NoError(t, err)
	assert.Contains(t, stdout, `s_find_user -.->|"user_id"| s_hire`)

	stdout, _, err = execute(t, "diagram", "-f", filepath.Join("testdata", "scenarios", "hr_experts", "department_lookup.yaml"))
	require.NoError(t, err)
	assert.Contains(t, stdout, "← status = input status")

	_, _, err = execute(t, "diagram", "employee_onboarding")
	assert.ErrorContains(t, err, "--env is required")
}

func TestSchema(t *testing.T) {
	stdout, _, err := execute(t, "schema")
	require.NoError(t, err)
	assert.Contains(t, stdout, schema.SchemaID)
}

func TestTest_ReportsCases(t *testing.T) {
	path := filepath.Join("..", "..", "pkg", "kernel", "testing", "testdata", "department_assignment.yaml")

	stdout, _, err := execute(t, "test", path, "--case", "assigns_first")
	require.NoError(t, err)
	assert.Contains(t, stdout, "assigns_first")
	assert.Contains(t, stdout, "1 passed, 0 failed")

	stdout, _, err = execute(t, "test", path, "--json")
	assert.ErrorContains(t, err, "tests failed")
	var out struct {
		Summary struct {
			Total  int `json:"total"`
			Failed int `json:"failed"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.Equal(t, 4, out.Summary.Total)
	assert.Equal(t, 1, out.Summary.Failed)
}

func TestParseParams(t *testing.T) {
	sc := &schema.Scenario{Inputs: []schema.InputDef{
		{Name: "salary", Type: "number"},
		{Name: "tags", Type: "array"},
	}}
	params, err := parseParams([]string{"salary=50000", "tags=[\"a\"]", "note=a=b", "id=42"}, sc)
	require.NoError(t, err)
	assert.Equal(t, "50000", params["salary"].JSON())
	assert.Equal(t, `["a"]`, params["tags"].JSON())
	assert.Equal(t, `"a=b"`, params["note"].JSON())
	assert.Equal(t, `"42"`, params["id"].JSON())

	_, err = parseParams([]string{"=x"}, sc)
	assert.Error(t, err)
}
