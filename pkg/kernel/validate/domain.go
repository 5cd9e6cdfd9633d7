package validate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ormasoftchile/tasksmith/pkg/kernel/contract"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/eval"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/schema"
)

var knownTypes = map[string]bool{
	"":                   true,
	contract.TypeString:  true,
	contract.TypeNumber:  true,
	contract.TypeInteger: true,
	contract.TypeBoolean: true,
	contract.TypeObject:  true,
	contract.TypeArray:   true,
}

// validateDomain runs scenario/v0 domain-level validation rules.
func validateDomain(ctx context.Context, sc *schema.Scenario, opts Options) []*ValidationError {
	var errs []*ValidationError

	// D1: apiVersion must be scenario/v0
	if sc.APIVersion != schema.APIVersionScenario {
		errs = append(errs, errorf(PhaseDomain, "apiVersion", "expected %q, got %q", schema.APIVersionScenario, sc.APIVersion))
	}

	// D2: input names unique, types known
	declared := map[string]bool{}
	for i, in := range sc.Inputs {
		path := fmt.Sprintf("inputs[%d]", i)
		if declared[in.Name] {
			errs = append(errs, errorf(PhaseDomain, path+".name", "duplicate input %q", in.Name))
		}
		declared[in.Name] = true
		if !knownTypes[in.Type] {
			errs = append(errs, errorf(PhaseDomain, path+".type", "unknown input type %q", in.Type))
		}
	}

	// D3: derived inputs compile and do not shadow declared inputs
	for i, d := range sc.Derived {
		path := fmt.Sprintf("derived[%d]", i)
		if declared[d.Name] {
			errs = append(errs, errorf(PhaseDomain, path+".name", "derived input %q shadows a declared input", d.Name))
		}
		declared[d.Name] = true
		if err := eval.Check(d.Expr); err != nil {
			errs = append(errs, errorf(PhaseDomain, path+".expr", "%s", err))
		}
	}

	// D4: step ID uniqueness
	ids := map[string]string{}
	for i, st := range sc.Steps {
		path := stepPath(i)
		if prev, ok := ids[st.ID]; ok {
			errs = append(errs, errorf(PhaseDomain, path+".id", "duplicate step ID %q (first at %s)", st.ID, prev))
			continue
		}
		ids[st.ID] = path
	}

	// D5: mappings resolve against inputs and earlier steps
	for i := range sc.Steps {
		errs = append(errs, validateMappings(sc, i, declared)...)
	}

	// D6: actions exist and required parameters are mapped
	if opts.Metadata != nil {
		for i, st := range sc.Steps {
			errs = append(errs, validateAction(ctx, sc, st, stepPath(i), opts.Metadata)...)
		}
	}

	return errs
}

// validateMappings checks the input mappings of step i.
func validateMappings(sc *schema.Scenario, i int, declared map[string]bool) []*ValidationError {
	var errs []*ValidationError
	st := sc.Steps[i]
	earlier := sc.Steps[:i]

	targets := map[string]bool{}
	for j, m := range st.Inputs {
		path := fmt.Sprintf("%s.inputs[%d]", stepPath(i), j)
		if targets[m.Target] {
			errs = append(errs, warningf(PhaseDomain, path+".target", "target %q is mapped more than once; the last mapping wins", m.Target))
		}
		targets[m.Target] = true

		if err := m.Validate(); err != nil {
			errs = append(errs, errorf(PhaseDomain, path, "%s", err))
			continue
		}

		switch m.From {
		case schema.SourceScenarioInput:
			if !declared[m.Key] {
				errs = append(errs, warningf(PhaseDomain, path+".key", "scenario input %q is not declared", m.Key))
			}
		case schema.SourcePreviousStep:
			if msg := checkPreviousKey(m.Key, earlier); msg != "" {
				errs = append(errs, errorf(PhaseDomain, path+".key", "%s", msg))
			}
		}
	}
	return errs
}

// checkPreviousKey returns a message when key cannot name output produced
// by one of the earlier steps.
func checkPreviousKey(key string, earlier []schema.Step) string {
	if len(earlier) == 0 {
		return fmt.Sprintf("previous_step %q used by the first step", key)
	}
	ident, _, dotted := strings.Cut(key, ".")
	if !dotted {
		return ""
	}
	if action, ok := strings.CutPrefix(ident, "@"); ok {
		for _, st := range earlier {
			if st.Action == action {
				return ""
			}
		}
		return fmt.Sprintf("no earlier step runs action %q", action)
	}
	for _, st := range earlier {
		if st.ID == ident {
			return ""
		}
	}
	return fmt.Sprintf("step %q does not run before this step", ident)
}

// validateAction asks the provider for the step's action contract.
func validateAction(ctx context.Context, sc *schema.Scenario, st schema.Step, path string, provider contract.MetadataProvider) []*ValidationError {
	meta, err := provider.Metadata(ctx, st.Action, sc.Meta.Environment, sc.Meta.Interface)
	if errors.Is(err, contract.ErrActionNotFound) {
		return []*ValidationError{errorf(PhaseDomain, path+".action", "unknown action %q for environment %q interface %d",
			st.Action, sc.Meta.Environment, sc.Meta.Interface)}
	}
	if err != nil {
		return []*ValidationError{warningf(PhaseDomain, path+".action", "metadata unavailable: %s", err)}
	}

	mapped := map[string]bool{}
	for _, m := range st.Inputs {
		mapped[m.Target] = true
	}
	var errs []*ValidationError
	for _, name := range meta.RequiredParams() {
		if !mapped[name] {
			errs = append(errs, warningf(PhaseDomain, path+".inputs", "required parameter %q of %s is not mapped", name, st.Action))
		}
	}
	for _, m := range st.Inputs {
		if meta.Param(m.Target) == nil && len(meta.Parameters) > 0 {
			errs = append(errs, warningf(PhaseDomain, path+".inputs", "parameter %q is not declared by %s", m.Target, st.Action))
		}
	}
	return errs
}
