package merge

import (
	"fmt"
	"strings"

	"github.com/ormasoftchile/tasksmith/pkg/kernel/engine"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/value"
)

// fullSuffix marks the entry holding a step's or action's whole output.
const fullSuffix = ".__full"

// flatOutputs is a scenario's step outputs keyed for mapping lookups. Keys
// keep insertion order and the first value stored under a key wins.
type flatOutputs struct {
	keys []string
	vals map[string]value.Value
}

func (f *flatOutputs) put(k string, v value.Value) {
	if _, ok := f.vals[k]; ok {
		return
	}
	f.keys = append(f.keys, k)
	f.vals[k] = v
}

func (f *flatOutputs) get(k string) (value.Value, bool) {
	v, ok := f.vals[k]
	return v, ok
}

// flatten indexes every step output of a run under
//
//	stepId.__full, stepId.field, field          object outputs
//	stepId.__full, stepId, stepId.value         other outputs
//	@action.__full, @action.field
func flatten(res *engine.Result) *flatOutputs {
	f := &flatOutputs{vals: make(map[string]value.Value)}
	for _, sr := range res.Steps {
		out := sr.Output
		f.put(sr.StepID+fullSuffix, out)
		if out.IsObject() {
			for _, k := range out.Keys() {
				v, _ := out.Field(k)
				f.put(sr.StepID+"."+k, v)
				f.put(k, v)
			}
		} else {
			f.put(sr.StepID, out)
			f.put(sr.StepID+".value", out)
		}

		action := "@" + sr.Action.Name
		f.put(action+fullSuffix, out)
		if out.IsObject() {
			for _, k := range out.Keys() {
				v, _ := out.Field(k)
				f.put(action+"."+k, v)
			}
		}
	}
	return f
}

// resolveSourceSpec reads "<scenario>.<rest>" from the outputs of scenarios
// run earlier. A malformed spec or an unknown scenario yields Null; the
// caller reports it as unresolved.
func resolveSourceSpec(spec string, outputs map[string]*flatOutputs) (value.Value, error) {
	scenario, rest, ok := strings.Cut(spec, ".")
	if !ok || scenario == "" || rest == "" {
		return value.Null(), nil
	}
	flat, ok := outputs[scenario]
	if !ok {
		return value.Null(), nil
	}

	if v, ok := flat.get(rest); ok {
		return v, nil
	}

	first, tail, nested := strings.Cut(rest, ".")
	if nested {
		candidates := []string{first + fullSuffix}
		if !strings.HasPrefix(first, "@") {
			candidates = append(candidates, "@"+first+fullSuffix)
		}
		for _, k := range candidates {
			full, ok := flat.get(k)
			if !ok {
				continue
			}
			v, err := full.Get(tail)
			if err != nil {
				return value.Null(), &engine.Error{Kind: engine.KindMappingUnresolved,
					Reason: fmt.Sprintf("failed to resolve nested mapping '%s' from scenario '%s'", rest, scenario), Err: err}
			}
			return v, nil
		}

		// The step is unknown; try the path against every full output.
		for _, k := range flat.keys {
			if !strings.HasSuffix(k, fullSuffix) {
				continue
			}
			full, _ := flat.get(k)
			if v, err := full.Get(tail); err == nil && !v.IsNull() {
				return v, nil
			}
		}
	}

	available := "<none>"
	if len(flat.keys) > 0 {
		available = strings.Join(flat.keys, ", ")
	}
	return value.Null(), &engine.Error{Kind: engine.KindMappingUnresolved,
		Reason: fmt.Sprintf("could not resolve mapping part '%s' from scenario '%s', available keys: %s", rest, scenario, available)}
}
