// Package schema defines the scenario/v0 document: a named, ordered list of
// tool-action steps and the input bindings that feed each step.
package schema

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ormasoftchile/tasksmith/pkg/kernel/value"
)

// API version constant for scenario/v0.
const APIVersionScenario = "scenario/v0"

// Interface versions a scenario may target.
const (
	MinInterface = 1
	MaxInterface = 5
)

// ---------------------------------------------------------------------------
// Scenario
// ---------------------------------------------------------------------------

// Scenario is the top-level scenario/v0 document. It is loaded once and
// never mutated afterwards.
type Scenario struct {
	APIVersion string         `yaml:"apiVersion"        json:"apiVersion" jsonschema:"const=scenario/v0"`
	Meta       Meta           `yaml:"meta"              json:"meta"`
	Inputs     []InputDef     `yaml:"inputs,omitempty"  json:"inputs,omitempty"`
	Derived    []DerivedInput `yaml:"derived,omitempty" json:"derived,omitempty"`
	Steps      []Step         `yaml:"steps"             json:"steps" jsonschema:"minItems=1"`
}

// Meta identifies the scenario and the environment it runs against.
type Meta struct {
	Name        string `yaml:"name"                  json:"name" jsonschema:"minLength=1"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Environment string `yaml:"environment"           json:"environment" jsonschema:"minLength=1"`
	Interface   int    `yaml:"interface"             json:"interface" jsonschema:"minimum=1,maximum=5"`
	Category    string `yaml:"category,omitempty"    json:"category,omitempty"`
}

// InputDef declares one caller-supplied scenario parameter.
type InputDef struct {
	Name        string `yaml:"name"                  json:"name" jsonschema:"minLength=1"`
	Type        string `yaml:"type,omitempty"        json:"type,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Required    bool   `yaml:"required,omitempty"    json:"required,omitempty"`
	Example     any    `yaml:"example,omitempty"     json:"example,omitempty"`
}

// DerivedInput is a parameter computed from the others when the scenario is
// instantiated, e.g. json({"email": requester_email}).
type DerivedInput struct {
	Name string `yaml:"name" json:"name" jsonschema:"minLength=1"`
	Expr string `yaml:"expr" json:"expr" jsonschema:"minLength=1"`
}

// ---------------------------------------------------------------------------
// Step
// ---------------------------------------------------------------------------

// Step is one invocation of a tool action.
type Step struct {
	ID          string         `yaml:"id"                    json:"id" jsonschema:"minLength=1"`
	Action      string         `yaml:"action"                json:"action" jsonschema:"minLength=1"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Inputs      []InputMapping `yaml:"inputs,omitempty"      json:"inputs,omitempty"`
}

// ---------------------------------------------------------------------------
// InputMapping
// ---------------------------------------------------------------------------

// Source names where a step parameter takes its value from.
type Source string

const (
	SourceScenarioInput Source = "scenario_input"
	SourcePreviousStep  Source = "previous_step"
	SourceStatic        Source = "static"
)

// Label is the upper-case spelling used in step signatures.
func (s Source) Label() string {
	switch s {
	case SourceScenarioInput:
		return "SCENARIO_INPUT"
	case SourcePreviousStep:
		return "PREVIOUS_STEP"
	case SourceStatic:
		return "STATIC_VALUE"
	}
	return strings.ToUpper(string(s))
}

// InputMapping binds one target parameter to a value source.
//
// Keys for previous_step take one of three forms:
//
//	@action.path   most recent step that ran action
//	stepId.path    the named step
//	field          most recent step whose output has field
type InputMapping struct {
	Target string `yaml:"target"          json:"target" jsonschema:"minLength=1"`
	From   Source `yaml:"from"            json:"from" jsonschema:"enum=scenario_input,enum=previous_step,enum=static"`
	Key    string `yaml:"key,omitempty"   json:"key,omitempty"`
	Value  any    `yaml:"value,omitempty" json:"value,omitempty"`
}

// ErrInvalidMapping marks a malformed InputMapping.
var ErrInvalidMapping = errors.New("invalid input mapping")

// FromScenarioInput binds target to a scenario parameter.
func FromScenarioInput(target, key string) (InputMapping, error) {
	m := InputMapping{Target: target, From: SourceScenarioInput, Key: key}
	return m, m.Validate()
}

// FromStepOutput binds target to a field of a named step's output.
func FromStepOutput(target, stepID, path string) (InputMapping, error) {
	m := InputMapping{Target: target, From: SourcePreviousStep, Key: stepID + "." + path}
	if stepID == "" || path == "" {
		return m, fmt.Errorf("%w: %s: step id and path are required", ErrInvalidMapping, target)
	}
	return m, m.Validate()
}

// FromActionOutput binds target to a field of the most recent output of action.
func FromActionOutput(target, action, path string) (InputMapping, error) {
	m := InputMapping{Target: target, From: SourcePreviousStep, Key: "@" + action + "." + path}
	if action == "" || path == "" {
		return m, fmt.Errorf("%w: %s: action and path are required", ErrInvalidMapping, target)
	}
	return m, m.Validate()
}

// FromPreviousStep binds target using a raw previous_step key.
func FromPreviousStep(target, key string) (InputMapping, error) {
	m := InputMapping{Target: target, From: SourcePreviousStep, Key: key}
	return m, m.Validate()
}

// WithStaticValue binds target to a literal.
func WithStaticValue(target string, v any) (InputMapping, error) {
	m := InputMapping{Target: target, From: SourceStatic, Value: v}
	return m, m.Validate()
}

// Validate checks that the companion field of the source is set.
func (m InputMapping) Validate() error {
	if m.Target == "" {
		return fmt.Errorf("%w: target is required", ErrInvalidMapping)
	}
	switch m.From {
	case SourceScenarioInput:
		if m.Key == "" {
			return fmt.Errorf("%w: %s: key is required for scenario_input", ErrInvalidMapping, m.Target)
		}
	case SourcePreviousStep:
		if m.Key == "" {
			return fmt.Errorf("%w: %s: key is required for previous_step (format: @action.field, stepId.field, or field)", ErrInvalidMapping, m.Target)
		}
	case SourceStatic:
		if m.Value == nil {
			return fmt.Errorf("%w: %s: value is required for static", ErrInvalidMapping, m.Target)
		}
		if _, err := value.FromAny(m.Value); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidMapping, m.Target, err)
		}
	case "":
		return fmt.Errorf("%w: %s: from is required", ErrInvalidMapping, m.Target)
	default:
		return fmt.Errorf("%w: %s: unknown source %q", ErrInvalidMapping, m.Target, m.From)
	}
	return nil
}

// Static returns the literal of a static mapping as a Value.
func (m InputMapping) Static() (value.Value, error) {
	return value.FromAny(m.Value)
}

// StaticText renders the literal the way step signatures spell it.
func (m InputMapping) StaticText() string {
	if m.Value == nil {
		return ""
	}
	v, err := m.Static()
	if err != nil {
		return fmt.Sprint(m.Value)
	}
	return v.Text()
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate checks the invariants a scenario must hold before it can run.
// All problems are reported together.
func (s *Scenario) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if s.APIVersion != APIVersionScenario {
		add("apiVersion %q is not %s", s.APIVersion, APIVersionScenario)
	}
	if s.Meta.Name == "" {
		add("meta.name is required")
	}
	if s.Meta.Environment == "" {
		add("meta.environment is required")
	}
	if s.Meta.Interface < MinInterface || s.Meta.Interface > MaxInterface {
		add("meta.interface %d out of range [%d, %d]", s.Meta.Interface, MinInterface, MaxInterface)
	}
	if len(s.Steps) == 0 {
		add("at least one step is required")
	}

	inputs := make(map[string]bool, len(s.Inputs))
	for i, in := range s.Inputs {
		if in.Name == "" {
			add("inputs[%d]: name is required", i)
			continue
		}
		if inputs[in.Name] {
			add("inputs[%d]: duplicate input %q", i, in.Name)
		}
		inputs[in.Name] = true
	}
	for i, d := range s.Derived {
		if d.Name == "" || d.Expr == "" {
			add("derived[%d]: name and expr are required", i)
		}
	}

	ids := make(map[string]bool, len(s.Steps))
	for i, st := range s.Steps {
		if st.ID == "" {
			add("steps[%d]: id is required", i)
		} else if ids[st.ID] {
			add("steps[%d]: duplicate step id %q", i, st.ID)
		}
		ids[st.ID] = true
		if st.Action == "" {
			add("steps[%d]: action is required", i)
		}
		for j, m := range st.Inputs {
			if err := m.Validate(); err != nil {
				add("steps[%d].inputs[%d]: %w", i, j, err)
			}
		}
	}

	return errors.Join(errs...)
}

// Step returns the step with the given id.
func (s *Scenario) Step(id string) (*Step, bool) {
	for i := range s.Steps {
		if s.Steps[i].ID == id {
			return &s.Steps[i], true
		}
	}
	return nil, false
}

// RequiredInputs returns the inputs flagged required, in declaration order.
func (s *Scenario) RequiredInputs() []InputDef {
	var out []InputDef
	for _, in := range s.Inputs {
		if in.Required {
			out = append(out, in)
		}
	}
	return out
}
