package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ormasoftchile/tasksmith/pkg/kernel/contract"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/executor"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/interfaces"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/schema"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/snapshot"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/trace"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/value"
)

// run is the state of one scenario execution.
type run struct {
	sc      *schema.Scenario
	sources [][]source // per step, per mapping
	scope   *scope
	data    snapshot.Handle
	log     *zap.Logger
}

func (r *run) fail(kind ErrorKind, step *schema.Step, reason string, err error) *Error {
	e := &Error{Kind: kind, Scenario: r.sc.Meta.Name, Reason: reason, Err: err}
	if step != nil {
		e.StepID = step.ID
		e.Action = step.Action
	}
	return e
}

// executeStep resolves the step's inputs, invokes its action and returns the
// recorded result. Any failure aborts the run.
func (e *Engine) executeStep(ctx context.Context, r *run, idx int) (*StepResult, error) {
	step := &r.sc.Steps[idx]
	env, iface := r.sc.Meta.Environment, r.sc.Meta.Interface
	log := r.log.With(zap.String("step", step.ID), zap.String("action", step.Action))

	meta, err := e.metadata.Metadata(ctx, step.Action, env, iface)
	if err != nil {
		return nil, r.fail(KindToolInvocationFailed, step, "could not load action metadata", err)
	}

	args := make(map[string]value.Value, len(step.Inputs))
	for i, m := range step.Inputs {
		src := r.sources[idx][i]
		v, err := src.resolve(r.scope)
		if err != nil {
			kind := pathKind(err)
			if kind == "" {
				kind = KindMappingUnresolved
			}
			return nil, r.fail(kind, step, fmt.Sprintf("failed to resolve input for parameter %q from %s", m.Target, src.describe()), err)
		}
		if value.IsBlank(v) {
			log.Warn("parameter resolved to null or empty, leaving it unset",
				zap.String("param", m.Target), zap.String("source", src.describe()))
			continue
		}
		args[m.Target] = contract.Coerce(v, meta.Param(m.Target))
		e.trace.EmitInputResolved(step.ID, m.Target, src.describe(), args[m.Target].Interface())
	}

	if missing := meta.MissingRequired(args); len(missing) > 0 {
		provided := sortedKeys(args)
		if e.cfg.StrictRequired {
			return nil, r.fail(KindValidationFailed, step,
				fmt.Sprintf("missing required parameters [%s], provided arguments [%s]",
					strings.Join(missing, ", "), strings.Join(provided, ", ")), nil)
		}
		log.Warn("missing required parameters",
			zap.Strings("missing", missing), zap.Strings("provided", provided))
	}
	if e.cfg.StrictRequired {
		if err := contract.ValidateArguments(meta, args); err != nil {
			return nil, r.fail(KindValidationFailed, step, "arguments do not satisfy the action contract", err)
		}
	}

	out, err := e.executor.Invoke(ctx, executor.Invocation{
		Action:      step.Action,
		Arguments:   args,
		Data:        r.data,
		Environment: env,
		Interface:   iface,
	})
	if err != nil {
		return nil, r.fail(KindToolInvocationFailed, step, "action invocation failed", err)
	}

	output := parseOutput(out, log)
	if msg, ok := output.Field("error"); ok {
		return nil, r.fail(KindActionReturnedError, step, "action returned error: "+msg.Text(), nil)
	}

	return &StepResult{
		StepID: step.ID,
		Action: Action{Name: step.Action, Arguments: args, Output: output},
		Output: output,
	}, nil
}

// appendAudit records an audit-log action after a CRUD step when the
// environment asks for it.
func (e *Engine) appendAudit(ctx context.Context, r *run, idx int, sr *StepResult, res *Result) error {
	if !e.cfg.AutoAudit || e.interfaces == nil {
		return nil
	}
	step := &r.sc.Steps[idx]
	env, iface := r.sc.Meta.Environment, r.sc.Meta.Interface

	m, err := e.interfaces.Load(env)
	if err != nil {
		return r.fail(KindValidationFailed, step, "could not load interface mappings", err)
	}
	if !m.AutoAudit() || !m.RequiresAudit(sr.Action.Name, sr.Action.Arguments) {
		return nil
	}

	auditFn := m.AuditFunction(iface)
	userID := r.scope.params[e.cfg.AuditUserParam]
	auditArgs, err := interfaces.AuditArguments(sr.Action.Name, sr.Action.Arguments, sr.Output, auditFn, userID)
	if err != nil {
		return r.fail(KindActionReturnedError, step, "audit log generation failed", err)
	}

	out, err := e.executor.Invoke(ctx, executor.Invocation{
		Action:      auditFn,
		Arguments:   auditArgs,
		Data:        r.data,
		Environment: env,
		Interface:   iface,
	})
	if err != nil {
		return r.fail(KindToolInvocationFailed, step, "audit log invocation failed", err)
	}
	output := parseOutput(out, r.log)
	if msg, ok := output.Field("error"); ok {
		return r.fail(KindActionReturnedError, step, "audit log returned error: "+msg.Text(), nil)
	}

	res.Actions = append(res.Actions, Action{Name: auditFn, Arguments: auditArgs, Output: output})
	e.trace.EmitAuditAppended(step.ID, auditFn)
	r.log.Info("appended audit log", zap.String("step", step.ID), zap.String("audit_action", auditFn))
	return nil
}

// parseOutput decodes runner output as JSON, keeping the raw text as a
// String when it is not JSON.
func parseOutput(out string, log *zap.Logger) value.Value {
	trimmed := strings.TrimSpace(out)
	v, err := value.ParseString(trimmed)
	if err != nil {
		log.Debug("action output is not JSON, keeping raw text", zap.Int("bytes", len(out)))
		return value.String(out)
	}
	return v
}

func sortedKeys(m map[string]value.Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func stepFailure(err error) *trace.Failure {
	return &trace.Failure{Kind: string(KindOf(err)), Message: err.Error()}
}
