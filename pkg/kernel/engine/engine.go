// Package engine executes scenarios: it resolves each step's inputs from
// scenario parameters, literals and earlier step outputs, invokes the step's
// tool action, and records the produced actions in order.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ormasoftchile/tasksmith/pkg/kernel/contract"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/executor"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/interfaces"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/schema"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/snapshot"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/trace"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/value"
)

// DefaultAuditUserParam is the scenario parameter holding the user recorded
// in audit-log actions.
const DefaultAuditUserParam = "performing_user_id"

// Config wires an Engine to its collaborators. Metadata and Executor are
// required; Snapshots is needed only for runs started without a snapshot.
type Config struct {
	Metadata   contract.MetadataProvider
	Executor   executor.ActionExecutor
	Snapshots  snapshot.Manager
	Interfaces *interfaces.Cache
	Trace      *trace.Writer
	Logger     *zap.Logger

	// StrictRequired fails a step whose required parameters are not all
	// resolved, instead of warning and invoking anyway.
	StrictRequired bool
	// AutoAudit allows audit-log actions after CRUD steps in environments
	// whose interface mappings enable them.
	AutoAudit      bool
	AuditUserParam string
}

// Engine runs scenarios. It holds no per-run state and may be reused; runs
// themselves are sequential.
type Engine struct {
	cfg        Config
	metadata   contract.MetadataProvider
	executor   executor.ActionExecutor
	snapshots  snapshot.Manager
	interfaces *interfaces.Cache
	trace      *trace.Writer
	log        *zap.Logger
}

// New creates an engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Metadata == nil {
		return nil, errors.New("engine: metadata provider is required")
	}
	if cfg.Executor == nil {
		return nil, errors.New("engine: action executor is required")
	}
	if cfg.AuditUserParam == "" {
		cfg.AuditUserParam = DefaultAuditUserParam
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:        cfg,
		metadata:   cfg.Metadata,
		executor:   cfg.Executor,
		snapshots:  cfg.Snapshots,
		interfaces: cfg.Interfaces,
		trace:      cfg.Trace,
		log:        logger.Named("engine"),
	}, nil
}

// Snapshots returns the snapshot manager the engine was configured with.
func (e *Engine) Snapshots() snapshot.Manager { return e.snapshots }

// Trace returns the configured trace writer, possibly nil.
func (e *Engine) Trace() *trace.Writer { return e.trace }

// Run executes sc step by step with the given parameters. When data is
// empty a snapshot is prepared for this run and deleted afterwards. The
// first failing step aborts the run with an *Error; no partial result is
// returned.
func (e *Engine) Run(ctx context.Context, sc *schema.Scenario, params map[string]value.Value, data snapshot.Handle) (*Result, error) {
	start := time.Now()
	name := sc.Meta.Name

	if err := sc.Validate(); err != nil {
		return nil, &Error{Kind: KindValidationFailed, Scenario: name, Reason: "invalid scenario", Err: err}
	}
	sources, err := compileSources(sc)
	if err != nil {
		return nil, &Error{Kind: KindValidationFailed, Scenario: name, Reason: "invalid input mapping", Err: err}
	}

	log := e.log.With(zap.String("scenario", name))
	log.Info("executing scenario",
		zap.Int("steps", len(sc.Steps)),
		zap.String("env", sc.Meta.Environment),
		zap.Int("interface", sc.Meta.Interface))

	if data == "" {
		if e.snapshots == nil {
			return nil, &Error{Kind: KindValidationFailed, Scenario: name, Reason: "no data snapshot given and no snapshot manager configured"}
		}
		h, err := e.snapshots.Prepare(ctx, sc.Meta.Environment)
		if err != nil {
			return nil, &Error{Kind: KindToolInvocationFailed, Scenario: name, Reason: "could not prepare data snapshot", Err: err}
		}
		defer func() {
			if err := e.snapshots.Delete(h); err != nil {
				log.Warn("failed to delete data snapshot", zap.String("snapshot", string(h)), zap.Error(err))
			}
		}()
		data = h
	}

	if params == nil {
		params = map[string]value.Value{}
	}
	res := newResult(name, sc.Meta.Environment, sc.Meta.Interface)
	r := &run{
		sc:      sc,
		sources: sources,
		scope:   &scope{params: params, prior: res, log: log},
		data:    data,
		log:     log,
	}

	e.trace.EmitRunStart(name, sc.Meta.Environment, sc.Meta.Interface, nativeParams(params))

	for i := range sc.Steps {
		step := &sc.Steps[i]
		stepStart := time.Now()
		log.Info("executing step",
			zap.Int("index", i+1),
			zap.Int("total", len(sc.Steps)),
			zap.String("step", step.ID),
			zap.String("action", step.Action))
		e.trace.EmitStepStart(step.ID, step.Action)

		sr, err := e.executeStep(ctx, r, i)
		if err == nil {
			res.add(sr)
			err = e.appendAudit(ctx, r, i, sr, res)
		}
		if err != nil {
			log.Error("step failed", zap.String("step", step.ID), zap.Error(err))
			e.trace.EmitStepComplete(step.ID, trace.StatusFailed, nil, time.Since(stepStart), stepFailure(err))
			e.trace.EmitRunComplete("failed", len(res.Actions), time.Since(start), stepFailure(err))
			return nil, err
		}
		e.trace.EmitStepComplete(step.ID, trace.StatusSuccess, sr.Output.Native(), time.Since(stepStart), nil)
	}

	res.Success = true
	res.Duration = time.Since(start)
	log.Info("scenario completed",
		zap.Int("actions", len(res.Actions)),
		zap.Duration("duration", res.Duration))
	e.trace.EmitRunComplete("completed", len(res.Actions), res.Duration, nil)
	return res, nil
}

func compileSources(sc *schema.Scenario) ([][]source, error) {
	out := make([][]source, len(sc.Steps))
	for i, st := range sc.Steps {
		out[i] = make([]source, len(st.Inputs))
		for j, m := range st.Inputs {
			src, err := compileSource(m)
			if err != nil {
				return nil, fmt.Errorf("steps[%d].inputs[%d]: %w", i, j, err)
			}
			out[i][j] = src
		}
	}
	return out, nil
}

func nativeParams(params map[string]value.Value) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v.Native()
	}
	return out
}
