package testing

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var scenarioPath = filepath.Join("testdata", "department_assignment.yaml")

func TestDiscoverCases(t *testing.T) {
	cases, err := DiscoverCases(scenarioPath)
	require.NoError(t, err)

	var names []string
	for _, c := range cases {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"assigns_first", "empty_list", "missing_status", "wrong_expectation"}, names)

	none, err := DiscoverCases(filepath.Join("testdata", "nothing.yaml"))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRunner_RunAll(t *testing.T) {
	r := &Runner{}
	out, err := r.RunAll(context.Background(), scenarioPath)
	require.NoError(t, err)

	assert.Equal(t, "department_assignment", out.Scenario)
	assert.Equal(t, TestSummary{Total: 4, Passed: 3, Failed: 1}, out.Summary)

	byName := map[string]TestResult{}
	for _, c := range out.Cases {
		byName[c.CaseName] = c
	}
	assert.Equal(t, "passed", byName["assigns_first"].Status, byName["assigns_first"].Assertions)
	assert.Equal(t, "passed", byName["missing_status"].Status, byName["missing_status"].Assertions)
	assert.Equal(t, "passed", byName["empty_list"].Status, byName["empty_list"].Assertions)

	wrong := byName["wrong_expectation"]
	assert.Equal(t, "failed", wrong.Status)
	require.Len(t, wrong.Assertions, 1)
	assert.Equal(t, "D-7", wrong.Assertions[0].Actual)
}

func TestRunner_FailFast(t *testing.T) {
	dir := t.TempDir()
	copyTree(t, "testdata", dir)
	// Only the broken case remains next to a case that would pass.
	require.NoError(t, os.RemoveAll(filepath.Join(dir, "tests", "department_assignment", "empty_list")))
	require.NoError(t, os.RemoveAll(filepath.Join(dir, "tests", "department_assignment", "missing_status")))
	require.NoError(t, os.Rename(
		filepath.Join(dir, "tests", "department_assignment", "wrong_expectation"),
		filepath.Join(dir, "tests", "department_assignment", "a_wrong_expectation")))

	r := &Runner{FailFast: true}
	out, err := r.RunAll(context.Background(), filepath.Join(dir, "department_assignment.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 1, out.Summary.Total)
	assert.Equal(t, 1, out.Summary.Failed)
}

func TestRunner_RunCase(t *testing.T) {
	r := &Runner{}
	res, err := r.RunCase(context.Background(), scenarioPath, "assigns_first")
	require.NoError(t, err)
	assert.Equal(t, "passed", res.Status)
	assert.Len(t, res.Assertions, 6)

	res, err = r.RunCase(context.Background(), scenarioPath, "no_such_case")
	require.NoError(t, err)
	assert.Equal(t, "skipped", res.Status)
}

func TestRunner_UnexpectedFailureFails(t *testing.T) {
	dir := t.TempDir()
	copyTree(t, "testdata", dir)
	caseDir := filepath.Join(dir, "tests", "department_assignment", "wrong_expectation")
	// No assertion mentions the failure, but the run still breaks.
	require.NoError(t, os.WriteFile(filepath.Join(caseDir, FixtureFile), []byte("responses: {}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(caseDir, SpecFile), []byte("params: {status: active, employee_id: E-1}\n"), 0o644))

	r := &Runner{}
	res, err := r.RunCase(context.Background(), filepath.Join(dir, "department_assignment.yaml"), "wrong_expectation")
	require.NoError(t, err)
	assert.Equal(t, "failed", res.Status)
	assert.Contains(t, res.Error, "no canned response for list_departments")
}

func TestRunner_BrokenFixtureIsError(t *testing.T) {
	dir := t.TempDir()
	copyTree(t, "testdata", dir)
	caseDir := filepath.Join(dir, "tests", "department_assignment", "assigns_first")
	require.NoError(t, os.WriteFile(filepath.Join(caseDir, FixtureFile), []byte("answers: {}\n"), 0o644))

	r := &Runner{}
	res, err := r.RunCase(context.Background(), filepath.Join(dir, "department_assignment.yaml"), "assigns_first")
	require.NoError(t, err)
	assert.Equal(t, "error", res.Status)
	assert.Contains(t, res.Error, "load fixture")
}

func TestRunner_InvalidScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	doc := `apiVersion: scenario/v0
meta: {name: bad, environment: hr_experts, interface: 1}
steps:
  - {id: list, action: list_departments}
  - {id: list, action: list_departments}
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	r := &Runner{}
	_, err := r.RunAll(context.Background(), path)
	assert.ErrorContains(t, err, "scenario validation failed")
}

func copyTree(t *testing.T, src, dst string) {
	t.Helper()
	err := filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	})
	require.NoError(t, err)
}
