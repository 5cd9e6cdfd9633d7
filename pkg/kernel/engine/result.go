package engine

import (
	"time"

	"github.com/ormasoftchile/tasksmith/pkg/kernel/value"
)

// Action is one produced tool call: what ran, with which arguments, and
// what it returned. The merged action list is a []Action.
type Action struct {
	Name      string                 `json:"name"`
	Arguments map[string]value.Value `json:"arguments"`
	Output    value.Value            `json:"output"`
}

// StepResult is the outcome of one executed step.
type StepResult struct {
	StepID string      `json:"step_id"`
	Action Action      `json:"action"`
	Output value.Value `json:"-"` // same as Action.Output
}

// Result is the outcome of a successful scenario run.
type Result struct {
	Scenario    string        `json:"scenario"`
	Environment string        `json:"environment"`
	Interface   int           `json:"interface"`
	Success     bool          `json:"success"`
	Steps       []*StepResult `json:"steps"`
	// Actions lists step actions and any audit actions in execution order.
	Actions  []Action      `json:"actions"`
	Duration time.Duration `json:"duration"`

	index map[string]*StepResult
}

func newResult(scenario, env string, iface int) *Result {
	return &Result{
		Scenario:    scenario,
		Environment: env,
		Interface:   iface,
		Actions:     []Action{},
		index:       make(map[string]*StepResult),
	}
}

func (r *Result) add(sr *StepResult) {
	r.Steps = append(r.Steps, sr)
	r.Actions = append(r.Actions, sr.Action)
	if r.index == nil {
		r.index = make(map[string]*StepResult)
	}
	r.index[sr.StepID] = sr
}

// Step returns the result of the step with the given id.
func (r *Result) Step(id string) (*StepResult, bool) {
	if r.index == nil {
		for _, sr := range r.Steps {
			if sr.StepID == id {
				return sr, true
			}
		}
		return nil, false
	}
	sr, ok := r.index[id]
	return sr, ok
}

func (r *Result) stepIDs() []string {
	ids := make([]string, len(r.Steps))
	for i, sr := range r.Steps {
		ids[i] = sr.StepID
	}
	return ids
}

func (r *Result) actionNames() []string {
	names := make([]string, len(r.Steps))
	for i, sr := range r.Steps {
		names[i] = sr.Action.Name
	}
	return names
}
