package schema

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const onboardingYAML = `
apiVersion: scenario/v0
meta:
  name: employee_onboarding
  description: Complete workflow for employee onboarding
  environment: hr_experts
  interface: 1
  category: Employee Management
inputs:
  - name: requester_email
    type: email
    description: Email of the person requesting the action
    required: true
    example: hr.manager@company.com
  - name: manager_id
    type: string
derived:
  - name: email_filter
    expr: 'json({"email": requester_email})'
steps:
  - id: step1_discover_user
    action: discover_user_employee_entities
    description: Discover user/employee entities by email
    inputs:
      - {target: filters, from: scenario_input, key: email_filter}
      - {target: entity_type, from: static, value: users}
  - id: step2_manage_employee
    action: manage_employee
    inputs:
      - target: user_id
        from: previous_step
        key: "@discover_user_employee_entities.results[0].user_id"
      - {target: active, from: static, value: false}
`

func TestLoad_ValidScenario(t *testing.T) {
	sc, err := Load(strings.NewReader(onboardingYAML))
	require.NoError(t, err)

	assert.Equal(t, APIVersionScenario, sc.APIVersion)
	assert.Equal(t, "employee_onboarding", sc.Meta.Name)
	assert.Equal(t, 1, sc.Meta.Interface)
	require.Len(t, sc.Steps, 2)
	assert.Equal(t, SourceStatic, sc.Steps[0].Inputs[1].From)
	assert.Equal(t, "users", sc.Steps[0].Inputs[1].Value)
	assert.Equal(t, false, sc.Steps[1].Inputs[1].Value)
	require.Len(t, sc.RequiredInputs(), 1)
	assert.Equal(t, "requester_email", sc.RequiredInputs()[0].Name)
	assert.NoError(t, sc.Validate())

	st, ok := sc.Step("step2_manage_employee")
	require.True(t, ok)
	assert.Equal(t, "manage_employee", st.Action)
}

func TestLoad_UnknownField(t *testing.T) {
	_, err := Load(strings.NewReader(`
apiVersion: scenario/v0
meta: {name: x, environment: e, interface: 1}
unknown_field: bad
steps:
  - {id: a, action: b}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "structural decode")
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	sc := &Scenario{
		APIVersion: APIVersionScenario,
		Meta:       Meta{Name: "broken", Environment: "hr", Interface: 9},
	}
	err := sc.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
	assert.Contains(t, err.Error(), "at least one step")
}

func TestValidate_DuplicateStepAndBadMapping(t *testing.T) {
	sc := &Scenario{
		APIVersion: APIVersionScenario,
		Meta:       Meta{Name: "dup", Environment: "hr", Interface: 1},
		Steps: []Step{
			{ID: "a", Action: "x"},
			{ID: "a", Action: "y", Inputs: []InputMapping{{Target: "t", From: SourceScenarioInput}}},
		},
	}
	err := sc.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate step id "a"`)
	assert.True(t, errors.Is(err, ErrInvalidMapping))
}

func TestMappingConstructors(t *testing.T) {
	m, err := FromStepOutput("user_id", "step1", "results[0].user_id")
	require.NoError(t, err)
	assert.Equal(t, "step1.results[0].user_id", m.Key)

	m, err = FromActionOutput("reference_id", "manage_employee", "employee_id")
	require.NoError(t, err)
	assert.Equal(t, "@manage_employee.employee_id", m.Key)

	m, err = WithStaticValue("limit", 10)
	require.NoError(t, err)
	assert.Equal(t, "10", m.StaticText())

	_, err = FromScenarioInput("x", "")
	assert.ErrorIs(t, err, ErrInvalidMapping)
	_, err = FromPreviousStep("x", "")
	assert.ErrorIs(t, err, ErrInvalidMapping)
	_, err = WithStaticValue("x", nil)
	assert.ErrorIs(t, err, ErrInvalidMapping)
	_, err = FromActionOutput("x", "", "f")
	assert.ErrorIs(t, err, ErrInvalidMapping)
	assert.ErrorIs(t, (InputMapping{Target: "x", From: "elsewhere", Key: "k"}).Validate(), ErrInvalidMapping)
}

func TestSourceLabel(t *testing.T) {
	assert.Equal(t, "SCENARIO_INPUT", SourceScenarioInput.Label())
	assert.Equal(t, "PREVIOUS_STEP", SourcePreviousStep.Label())
	assert.Equal(t, "STATIC_VALUE", SourceStatic.Label())
}

func TestIsScenarioDocument(t *testing.T) {
	assert.True(t, IsScenarioDocument([]byte(onboardingYAML)))
	assert.False(t, IsScenarioDocument([]byte("apiVersion: catalog/v0\n")))
	assert.False(t, IsScenarioDocument([]byte(":::")))
}

func TestGenerateScenarioJSONSchema(t *testing.T) {
	data, err := GenerateScenarioJSONSchema()
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, SchemaID, doc["$id"])
	assert.Contains(t, string(data), "previous_step")
}
