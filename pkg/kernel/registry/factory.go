package registry

import (
	"fmt"
	"strings"

	"github.com/ormasoftchile/tasksmith/pkg/kernel/eval"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/schema"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/value"
)

// NewFactory returns the factory of a declarative scenario: it checks the
// required inputs, copies the params and evaluates derived inputs in order.
// Each derived expression sees the params and the derived values before it.
func NewFactory(sc *schema.Scenario) Factory {
	return func(params map[string]value.Value) (*Instance, error) {
		if err := CheckRequired(sc, params); err != nil {
			return nil, err
		}

		effective := make(map[string]value.Value, len(params)+len(sc.Derived))
		vars := make(map[string]any, len(params)+len(sc.Derived))
		for k, v := range params {
			effective[k] = v
			vars[k] = v.Native()
		}
		// Declared inputs are visible to expressions even when not given.
		for _, in := range sc.Inputs {
			if _, ok := vars[in.Name]; !ok {
				vars[in.Name] = nil
			}
		}

		for _, d := range sc.Derived {
			out, err := eval.Evaluate(d.Expr, vars)
			if err != nil {
				return nil, fmt.Errorf("scenario %q: derived input %q: %w", sc.Meta.Name, d.Name, err)
			}
			v, err := value.FromAny(out)
			if err != nil {
				return nil, fmt.Errorf("scenario %q: derived input %q: %w", sc.Meta.Name, d.Name, err)
			}
			effective[d.Name] = v
			vars[d.Name] = v.Native()
		}
		return &Instance{Scenario: sc, Params: effective}, nil
	}
}

// CheckRequired reports every required input that is absent, null or a
// blank string.
func CheckRequired(sc *schema.Scenario, params map[string]value.Value) error {
	var problems []string
	for _, in := range sc.RequiredInputs() {
		v, ok := params[in.Name]
		switch {
		case !ok || v.IsNull():
			problems = append(problems, fmt.Sprintf("%s is required (type: %s)", in.Name, typeName(in)))
		case value.IsBlankTrimmed(v):
			problems = append(problems, fmt.Sprintf("%s cannot be empty (type: %s)", in.Name, typeName(in)))
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w for scenario %q: %s", ErrInvalidParams, sc.Meta.Name, strings.Join(problems, "; "))
}

func typeName(in schema.InputDef) string {
	if in.Type == "" {
		return "string"
	}
	return in.Type
}
