package report

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormasoftchile/tasksmith/pkg/kernel/engine"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/merge"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/registry"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/schema"
	ktesting "github.com/ormasoftchile/tasksmith/pkg/kernel/testing"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/value"
)

func TestActions_AlignsColumns(t *testing.T) {
	var buf bytes.Buffer
	Actions(&buf, []engine.Action{
		{Name: "create_user", Arguments: map[string]value.Value{"name": value.String("Zoë 山田"), "active": value.Bool(true)},
			Output: value.MustFromAny(map[string]any{"user_id": "U-1"})},
		{Name: "ping"},
	})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "ACTION")
	assert.Contains(t, lines[1], "active=true name=Zoë 山田")
	assert.Contains(t, lines[1], `{"user_id":"U-1"}`)
	assert.Contains(t, lines[2], "ping")
	assert.Contains(t, lines[2], "-")
	assert.Contains(t, lines[2], "null")

	// Column starts line up in display cells.
	assert.Equal(t, strings.Index(lines[0], "ACTION"), strings.Index(lines[1], "create_user"))
}

func TestActions_TruncatesLongCells(t *testing.T) {
	var buf bytes.Buffer
	Actions(&buf, []engine.Action{{Name: "a", Output: value.String(strings.Repeat("x", 200))}})
	assert.Contains(t, buf.String(), "…")
	assert.NotContains(t, buf.String(), strings.Repeat("x", 100))
}

func TestMergeSummary(t *testing.T) {
	res := &merge.ActionResult{
		Executions: []merge.ExecutionDetail{
			{Scenario: "lookup_a", Success: true, Actions: 1},
			{Scenario: "lookup_b", Success: true, Actions: 1},
		},
		Actions: []*merge.MergedAction{{
			Action:    engine.Action{Name: "list_departments", Arguments: map[string]value.Value{"status": value.String("active")}},
			Scenarios: []string{"lookup_a", "lookup_b"},
		}},
		TotalActionsBeforeMerge: 2,
		DuplicatesRemoved:       1,
	}
	var buf bytes.Buffer
	MergeSummary(&buf, res)
	out := buf.String()
	assert.Contains(t, out, GlyphPassed+" lookup_a")
	assert.Contains(t, out, "2 total actions -> 1 unique actions (1 duplicates removed)")
	assert.Contains(t, out, GlyphDup+" lookup_a, lookup_b")
}

func TestTemplateSummary(t *testing.T) {
	res := &merge.TemplateResult{
		Scenarios:   []string{"a"},
		Environment: "hr_experts",
		Interface:   1,
		MergedSteps: []*merge.MergedStep{{Step: schema.Step{ID: "s1", Action: "ping"}, Scenarios: []string{"a"}}},
	}
	var buf bytes.Buffer
	TemplateSummary(&buf, res)
	assert.Contains(t, buf.String(), "Merged 1 scenarios (a)")
	assert.Contains(t, buf.String(), "s1")
	assert.Contains(t, buf.String(), "ping")
}

func TestScenarios(t *testing.T) {
	var buf bytes.Buffer
	Scenarios(&buf, []registry.Info{{
		Name:        "employee_onboarding",
		Description: "Onboard",
		Steps:       3,
		Inputs:      []schema.InputDef{{Name: "email", Required: true}, {Name: "note"}},
	}})
	assert.Contains(t, buf.String(), "employee_onboarding")
	assert.Contains(t, buf.String(), "email")
	assert.NotContains(t, buf.String(), "note")
}

func TestFailure(t *testing.T) {
	var buf bytes.Buffer
	Failure(&buf, &engine.Error{Kind: engine.KindActionReturnedError, Scenario: "s", Reason: "boom"})
	assert.Contains(t, buf.String(), GlyphWarn+` scenario "s": boom`)
	assert.Contains(t, buf.String(), "kind: ActionReturnedError")

	buf.Reset()
	Failure(&buf, errors.New("plain"))
	assert.NotContains(t, buf.String(), "kind:")
}

func TestTests(t *testing.T) {
	var buf bytes.Buffer
	Tests(&buf, &ktesting.TestOutput{
		Scenario: "department_assignment",
		Cases: []ktesting.TestResult{
			{CaseName: "assigns_first", Status: "passed", Assertions: []ktesting.AssertionResult{{Type: "expected_status", Passed: true}}},
			{CaseName: "wrong", Status: "failed", Assertions: []ktesting.AssertionResult{
				{Type: "expected_argument", Message: `expected_argument "assign.department_id": expected "D-9", got "D-7"`},
			}},
			{CaseName: "broken", Status: "error", Error: "load fixture: boom"},
		},
		Summary: ktesting.TestSummary{Total: 3, Passed: 1, Failed: 1, Errors: 1},
	})

	out := buf.String()
	assert.Contains(t, out, "department_assignment")
	assert.Contains(t, out, "assigns_first")
	assert.NotContains(t, out, "expected_status")
	assert.Contains(t, out, `got "D-7"`)
	assert.Contains(t, out, "error: load fixture: boom")
	assert.Contains(t, out, "1 passed, 1 failed, 0 skipped, 1 errors (total: 3)")
}
