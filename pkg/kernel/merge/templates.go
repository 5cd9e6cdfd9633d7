// Package merge combines scenarios. Template merging unions the step
// templates of several scenarios without running them; execution merging
// runs a chain of scenarios and deduplicates the actions they produce.
package merge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ormasoftchile/tasksmith/pkg/kernel/engine"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/registry"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/schema"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/trace"
)

// Merger runs both kinds of merge against one registry and engine.
type Merger struct {
	registry *registry.Registry
	engine   *engine.Engine
	trace    *trace.Writer
	log      *zap.Logger
}

// New creates a Merger. The engine is only needed for MergeExecutions.
func New(reg *registry.Registry, eng *engine.Engine, logger *zap.Logger) *Merger {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Merger{registry: reg, engine: eng, log: logger.Named("merge")}
	if eng != nil {
		m.trace = eng.Trace()
	}
	return m
}

// MergedStep is one unique step template and the scenarios that contain it.
type MergedStep struct {
	Step      schema.Step `json:"step"`
	Scenarios []string    `json:"source_scenarios"`
	Signature string      `json:"-"`
}

func (s *MergedStep) addSource(name string) {
	for _, n := range s.Scenarios {
		if n == name {
			return
		}
	}
	s.Scenarios = append(s.Scenarios, name)
}

// TemplateResult is the outcome of MergeTemplates.
type TemplateResult struct {
	Scenarios             []string      `json:"scenarios"`
	Environment           string        `json:"environment"`
	Interface             int           `json:"interface"`
	MergedSteps           []*MergedStep `json:"merged_steps"`
	TotalStepsBeforeMerge int           `json:"total_steps_before_merge"`
	DuplicatesRemoved     int           `json:"duplicates_removed"`
	Duration              time.Duration `json:"duration"`
}

// Summary renders the one-line description of the merge.
func (r *TemplateResult) Summary() string {
	return fmt.Sprintf("Merged %d scenarios (%s) from environment '%s' interface %d: %d total steps -> %d unique steps (%d duplicates removed) in %d ms",
		len(r.Scenarios), strings.Join(r.Scenarios, ", "), r.Environment, r.Interface,
		r.TotalStepsBeforeMerge, len(r.MergedSteps), r.DuplicatesRemoved, r.Duration.Milliseconds())
}

// MergeTemplates unions the steps of the named scenarios in order of first
// appearance. Two steps are the same when they call the same action with the
// same mappings and description; step ids are ignored. Nothing is executed.
func (m *Merger) MergeTemplates(ctx context.Context, names []string, env string, iface int) (*TemplateResult, error) {
	start := time.Now()
	if err := validateTemplateRequest(names, env, iface); err != nil {
		return nil, &engine.Error{Kind: engine.KindValidationFailed, Reason: "invalid template merge request", Err: err}
	}

	res := &TemplateResult{Scenarios: names, Environment: env, Interface: iface, MergedSteps: []*MergedStep{}}
	index := make(map[string]*MergedStep)

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sc, err := m.registry.Template(env, iface, name)
		if err != nil {
			return nil, &engine.Error{Kind: engine.KindValidationFailed, Scenario: name, Reason: "unknown scenario", Err: err}
		}
		for _, st := range sc.Steps {
			res.TotalStepsBeforeMerge++
			sig := StepSignature(st)
			if existing, ok := index[sig]; ok {
				res.DuplicatesRemoved++
				existing.addSource(name)
				m.log.Debug("duplicate step", zap.String("scenario", name), zap.String("step", st.ID),
					zap.Strings("sources", existing.Scenarios))
				continue
			}
			ms := &MergedStep{Step: st, Scenarios: []string{name}, Signature: sig}
			index[sig] = ms
			res.MergedSteps = append(res.MergedSteps, ms)
		}
	}

	res.Duration = time.Since(start)
	m.log.Info("merged scenario templates",
		zap.Strings("scenarios", names),
		zap.Int("total", res.TotalStepsBeforeMerge),
		zap.Int("unique", len(res.MergedSteps)),
		zap.Int("duplicates", res.DuplicatesRemoved))
	return res, nil
}

func validateTemplateRequest(names []string, env string, iface int) error {
	var errs []error
	if len(names) == 0 {
		errs = append(errs, errors.New("at least one scenario name is required"))
	}
	for i, n := range names {
		if strings.TrimSpace(n) == "" {
			errs = append(errs, fmt.Errorf("scenario name %d is empty", i))
		}
	}
	if env == "" {
		errs = append(errs, errors.New("environment is required"))
	}
	if iface < schema.MinInterface || iface > schema.MaxInterface {
		errs = append(errs, fmt.Errorf("interface %d out of range [%d, %d]", iface, schema.MinInterface, schema.MaxInterface))
	}
	return errors.Join(errs...)
}

// StepSignature identifies a step template independently of its id:
//
//	action:<name>|mappings:mapping[<SOURCE>-><target>:<key>:<static>],...|desc:<description>
func StepSignature(st schema.Step) string {
	parts := make([]string, len(st.Inputs))
	for i, in := range st.Inputs {
		parts[i] = fmt.Sprintf("mapping[%s->%s:%s:%s]", in.From.Label(), in.Target, in.Key, in.StaticText())
	}
	sort.Strings(parts)
	return "action:" + st.Action + "|mappings:" + strings.Join(parts, ",") + "|desc:" + st.Description
}
