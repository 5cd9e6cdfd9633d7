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
	"github.com/ormasoftchile/tasksmith/pkg/kernel/snapshot"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/value"
)

// MergedAction is one unique action and the scenarios that produced it.
type MergedAction struct {
	engine.Action
	Scenarios []string `json:"source_scenarios"`
	Signature string   `json:"-"`
}

func (a *MergedAction) addSource(name string) {
	for _, n := range a.Scenarios {
		if n == name {
			return
		}
	}
	a.Scenarios = append(a.Scenarios, name)
}

// ExecutionDetail records how one request went.
type ExecutionDetail struct {
	Scenario    string        `json:"scenario"`
	Environment string        `json:"environment"`
	Interface   int           `json:"interface"`
	Actions     int           `json:"actions"`
	Duration    time.Duration `json:"duration"`
	Success     bool          `json:"success"`
	Error       string        `json:"error,omitempty"`
}

// ActionResult is the outcome of MergeExecutions.
type ActionResult struct {
	Executions              []ExecutionDetail `json:"executions"`
	Actions                 []*MergedAction   `json:"actions"`
	TotalActionsBeforeMerge int               `json:"total_actions_before_merge"`
	DuplicatesRemoved       int               `json:"duplicates_removed"`
	Duration                time.Duration     `json:"duration"`
}

// ActionList returns the merged actions in order, without provenance.
func (r *ActionResult) ActionList() []engine.Action {
	out := make([]engine.Action, len(r.Actions))
	for i, a := range r.Actions {
		out[i] = a.Action
	}
	return out
}

// Successful counts the requests that completed.
func (r *ActionResult) Successful() int {
	n := 0
	for _, d := range r.Executions {
		if d.Success {
			n++
		}
	}
	return n
}

// Failed counts the requests that failed.
func (r *ActionResult) Failed() int { return len(r.Executions) - r.Successful() }

// Summary renders the one-line description of the merge.
func (r *ActionResult) Summary() string {
	return fmt.Sprintf("Executed %d scenarios (%d successful, %d failed) in %d ms: %d total actions -> %d unique actions (%d duplicates removed)",
		len(r.Executions), r.Successful(), r.Failed(), r.Duration.Milliseconds(),
		r.TotalActionsBeforeMerge, len(r.Actions), r.DuplicatesRemoved)
}

// MergeExecutions runs the requests in order and deduplicates the actions
// they produce. Environments used by more than one request, or flagged
// ReuseSnapshot, share one data snapshot for the whole call, released when it
// returns. The first failing request aborts the merge; its error is the only
// thing returned.
func (m *Merger) MergeExecutions(ctx context.Context, reqs []Request) (*ActionResult, error) {
	start := time.Now()
	if len(reqs) == 0 {
		return nil, &engine.Error{Kind: engine.KindValidationFailed, Reason: "at least one scenario request is required"}
	}
	if m.engine == nil {
		return nil, errors.New("merge: no engine configured")
	}
	for i, req := range reqs {
		if err := req.Validate(); err != nil {
			return nil, &engine.Error{Kind: engine.KindValidationFailed, Scenario: req.Scenario,
				Reason: fmt.Sprintf("invalid request %d", i), Err: err}
		}
	}

	names := make([]string, len(reqs))
	for i, r := range reqs {
		names[i] = r.Scenario
	}
	m.trace.EmitMergeStart("executions", names)
	m.log.Info("merging scenario executions", zap.Strings("scenarios", names))

	shared, err := m.prepareShared(ctx, reqs)
	defer m.releaseShared(shared)
	if err != nil {
		m.trace.EmitMergeComplete("failed: "+err.Error(), 0, 0, 0)
		return nil, err
	}

	res := &ActionResult{Actions: []*MergedAction{}}
	index := make(map[string]*MergedAction)
	outputs := make(map[string]*flatOutputs)

	for _, req := range reqs {
		reqStart := time.Now()
		run, err := m.execute(ctx, req, shared[req.Environment], outputs)
		if err != nil {
			res.Executions = append(res.Executions, ExecutionDetail{
				Scenario:    req.Scenario,
				Environment: req.Environment,
				Interface:   req.Interface,
				Duration:    time.Since(reqStart),
				Error:       err.Error(),
			})
			res.Duration = time.Since(start)
			m.log.Error("scenario execution failed, aborting merge",
				zap.String("scenario", req.Scenario), zap.Error(err),
				zap.String("progress", res.Summary()))
			m.trace.EmitMergeComplete("failed: "+err.Error(), res.TotalActionsBeforeMerge, len(res.Actions), res.DuplicatesRemoved)
			return nil, err
		}

		outputs[req.Scenario] = flatten(run)
		for _, a := range run.Actions {
			res.TotalActionsBeforeMerge++
			sig := ActionSignature(a)
			if existing, ok := index[sig]; ok {
				res.DuplicatesRemoved++
				existing.addSource(req.Scenario)
				m.log.Debug("duplicate action", zap.String("action", a.Name), zap.Strings("sources", existing.Scenarios))
				continue
			}
			ma := &MergedAction{Action: a, Scenarios: []string{req.Scenario}, Signature: sig}
			index[sig] = ma
			res.Actions = append(res.Actions, ma)
		}
		res.Executions = append(res.Executions, ExecutionDetail{
			Scenario:    req.Scenario,
			Environment: req.Environment,
			Interface:   req.Interface,
			Actions:     len(run.Actions),
			Duration:    run.Duration,
			Success:     true,
		})
		m.log.Info("scenario executed",
			zap.String("scenario", req.Scenario),
			zap.Int("actions", len(run.Actions)),
			zap.Duration("duration", run.Duration))
	}

	res.Duration = time.Since(start)
	m.log.Info(res.Summary())
	m.trace.EmitMergeComplete(res.Summary(), res.TotalActionsBeforeMerge, len(res.Actions), res.DuplicatesRemoved)
	return res, nil
}

// execute resolves the request's mappings, instantiates its scenario and
// runs it.
func (m *Merger) execute(ctx context.Context, req Request, data snapshot.Handle, outputs map[string]*flatOutputs) (*engine.Result, error) {
	params := make(map[string]value.Value, len(req.Params)+len(req.Mappings))
	for k, v := range req.Params {
		params[k] = v
	}
	for _, mp := range req.Mappings {
		v, err := resolveSourceSpec(mp.Source, outputs)
		if err != nil {
			var ee *engine.Error
			if errors.As(err, &ee) {
				ee.Scenario = req.Scenario
				return nil, ee
			}
			return nil, &engine.Error{Kind: engine.KindMappingUnresolved, Scenario: req.Scenario,
				Reason: fmt.Sprintf("failed to resolve mapping '%s' for target parameter '%s'", mp.Source, mp.Target), Err: err}
		}
		if v.IsNull() {
			return nil, &engine.Error{Kind: engine.KindMappingUnresolved, Scenario: req.Scenario,
				Reason: fmt.Sprintf("failed to resolve mapping '%s' for target parameter '%s' - ensure the source scenario and path exist and run earlier in the list", mp.Source, mp.Target)}
		}
		params[mp.Target] = v
	}

	inst, err := m.registry.Instantiate(req.Environment, req.Interface, req.Scenario, params)
	if err != nil {
		return nil, &engine.Error{Kind: engine.KindValidationFailed, Scenario: req.Scenario, Reason: "could not instantiate scenario", Err: err}
	}
	return m.engine.Run(ctx, inst.Scenario, inst.Params, data)
}

// prepareShared prepares one snapshot per environment that more than one
// request uses or that a request asks to reuse. Environments are handled in
// order of first appearance.
func (m *Merger) prepareShared(ctx context.Context, reqs []Request) (map[string]snapshot.Handle, error) {
	counts := make(map[string]int)
	reuse := make(map[string]bool)
	var order []string
	for _, r := range reqs {
		if counts[r.Environment] == 0 {
			order = append(order, r.Environment)
		}
		counts[r.Environment]++
		if r.ReuseSnapshot {
			reuse[r.Environment] = true
		}
	}

	shared := make(map[string]snapshot.Handle)
	for _, env := range order {
		if counts[env] < 2 && !reuse[env] {
			continue
		}
		snaps := m.engine.Snapshots()
		if snaps == nil {
			return shared, &engine.Error{Kind: engine.KindValidationFailed,
				Reason: fmt.Sprintf("shared data snapshot needed for environment '%s' but no snapshot manager is configured", env)}
		}
		h, err := snaps.Prepare(ctx, env)
		if err != nil {
			return shared, &engine.Error{Kind: engine.KindToolInvocationFailed,
				Reason: fmt.Sprintf("failed to prepare shared data snapshot for environment '%s'", env), Err: err}
		}
		shared[env] = h
		m.trace.EmitSnapshotShared(env, string(h))
		m.log.Info("prepared shared data snapshot", zap.String("env", env), zap.String("snapshot", string(h)))
	}
	return shared, nil
}

func (m *Merger) releaseShared(shared map[string]snapshot.Handle) {
	if len(shared) == 0 {
		return
	}
	snaps := m.engine.Snapshots()
	envs := make([]string, 0, len(shared))
	for env := range shared {
		envs = append(envs, env)
	}
	sort.Strings(envs)
	for _, env := range envs {
		h := shared[env]
		if err := snaps.Delete(h); err != nil {
			m.log.Warn("failed to delete shared data snapshot",
				zap.String("env", env), zap.String("snapshot", string(h)), zap.Error(err))
			continue
		}
		m.log.Info("deleted shared data snapshot", zap.String("env", env), zap.String("snapshot", string(h)))
	}
}

// ActionSignature identifies an action by name, arguments and output:
//
//	action:<name>|args:<k>=<json>,...|output:<json>
//
// Arguments are sorted by key; a null output is spelled none.
func ActionSignature(a engine.Action) string {
	var b strings.Builder
	b.WriteString("action:")
	b.WriteString(a.Name)
	b.WriteString("|args:")
	if len(a.Arguments) == 0 {
		b.WriteString("none")
	} else {
		parts := make([]string, 0, len(a.Arguments))
		for k, v := range a.Arguments {
			parts = append(parts, k+"="+v.JSON())
		}
		sort.Strings(parts)
		b.WriteString(strings.Join(parts, ","))
	}
	b.WriteString("|output:")
	if a.Output.IsNull() {
		b.WriteString("none")
	} else {
		b.WriteString(a.Output.JSON())
	}
	return b.String()
}
