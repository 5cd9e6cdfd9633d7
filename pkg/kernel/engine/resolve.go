package engine

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ormasoftchile/tasksmith/pkg/kernel/schema"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/value"
)

// source produces the value of one step parameter. The set of sources is
// closed: scenario inputs, static literals and previous step outputs.
type source interface {
	resolve(sc *scope) (value.Value, error)
	describe() string
}

type scenarioInput struct{ key string }

type staticValue struct{ v value.Value }

// previousStep resolves one of three key forms:
//
//	@action.path   the most recent step that ran action
//	stepId.path    the named step
//	field          the most recent step whose output has a non-null field
type previousStep struct{ key string }

// scope is what a source can see while a step's inputs are resolved.
type scope struct {
	params map[string]value.Value
	prior  *Result
	log    *zap.Logger
}

// compileSource turns a validated mapping into its source.
func compileSource(m schema.InputMapping) (source, error) {
	switch m.From {
	case schema.SourceScenarioInput:
		return scenarioInput{key: m.Key}, nil
	case schema.SourcePreviousStep:
		return previousStep{key: m.Key}, nil
	case schema.SourceStatic:
		v, err := m.Static()
		if err != nil {
			return nil, err
		}
		return staticValue{v: v}, nil
	}
	return nil, fmt.Errorf("%w: unknown source %q", schema.ErrInvalidMapping, m.From)
}

// A missing parameter resolves to Null; the step decides what that means.
func (s scenarioInput) resolve(sc *scope) (value.Value, error) {
	return sc.params[s.key], nil
}

func (s scenarioInput) describe() string { return "scenario_input:" + s.key }

func (s staticValue) resolve(*scope) (value.Value, error) { return s.v, nil }

func (s staticValue) describe() string { return "static" }

func (s previousStep) describe() string { return "previous_step:" + s.key }

func (s previousStep) resolve(sc *scope) (value.Value, error) {
	ident, path, dotted := strings.Cut(s.key, ".")
	if !dotted {
		return sc.searchField(s.key)
	}
	if name, ok := strings.CutPrefix(ident, "@"); ok {
		return sc.fromAction(name, path)
	}
	return sc.fromStep(ident, path)
}

// fromAction reads path from the most recent step that ran action.
func (sc *scope) fromAction(action, path string) (value.Value, error) {
	steps := sc.prior.Steps
	for i := len(steps) - 1; i >= 0; i-- {
		if steps[i].Action.Name == action {
			return sc.extract(steps[i], path)
		}
	}
	return value.Null(), fmt.Errorf("no previous step executed action %q, executed actions: [%s]",
		action, strings.Join(sc.prior.actionNames(), ", "))
}

// fromStep reads path from the named step.
func (sc *scope) fromStep(stepID, path string) (value.Value, error) {
	sr, ok := sc.prior.Step(stepID)
	if !ok {
		return value.Null(), fmt.Errorf("step %q has not run, executed steps: [%s]",
			stepID, strings.Join(sc.prior.stepIDs(), ", "))
	}
	return sc.extract(sr, path)
}

// searchField scans previous steps most recent first and returns the first
// non-null value of field. Steps that cannot provide it are skipped.
func (sc *scope) searchField(field string) (value.Value, error) {
	steps := sc.prior.Steps
	for i := len(steps) - 1; i >= 0; i-- {
		v, err := sc.extract(steps[i], field)
		if err == nil && !v.IsNull() {
			return v, nil
		}
	}
	return value.Null(), fmt.Errorf("field %q not found in any previous step output, searched steps: [%s]",
		field, strings.Join(sc.prior.stepIDs(), ", "))
}

// extract reads field from a step output. A nested path that runs past the
// end of the data (missing index, null on the way) yields Null rather than
// an error; a missing key on an object is an error listing its keys.
func (sc *scope) extract(sr *StepResult, field string) (value.Value, error) {
	out := sr.Output
	if out.IsNull() {
		return value.Null(), fmt.Errorf("step %q produced no output", sr.StepID)
	}

	if strings.ContainsAny(field, ".[") {
		v, found, err := out.Lookup(field)
		if err != nil {
			return value.Null(), err
		}
		if !found {
			sc.log.Debug("path not present in step output", zap.String("step", sr.StepID), zap.String("path", field))
			return value.Null(), nil
		}
		return v, nil
	}

	if out.IsObject() {
		if v, ok := out.Field(field); ok {
			return v, nil
		}
		return value.Null(), &value.PathError{
			Kind:      value.FieldNotFound,
			Path:      field,
			Segment:   field,
			Available: out.Keys(),
			Actual:    value.KindObject,
		}
	}
	if field == sr.StepID {
		return out, nil
	}
	return value.Null(), &value.PathError{
		Kind:    value.NotTraversable,
		Path:    field,
		Segment: field,
		Actual:  out.Kind(),
	}
}
