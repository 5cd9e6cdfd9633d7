package testing

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ormasoftchile/tasksmith/pkg/kernel/contract"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/engine"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/registry"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/replay"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/schema"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/snapshot"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/validate"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/value"
)

// Case file names inside a case directory.
const (
	SpecFile    = "test.yaml"
	FixtureFile = "replay.yaml"
)

// TestResult is the result of running one test case.
type TestResult struct {
	ScenarioName string            `json:"scenario_name"`
	CaseName     string            `json:"case_name"`
	Status       string            `json:"status"` // passed, failed, skipped, error
	DurationMs   int64             `json:"duration_ms"`
	Assertions   []AssertionResult `json:"assertions,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// TestSummary aggregates counts across cases.
type TestSummary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

// TestOutput is the top-level output of a test run.
type TestOutput struct {
	Scenario string       `json:"scenario"`
	Cases    []TestResult `json:"cases"`
	Summary  TestSummary  `json:"summary"`
}

// Runner executes fixture-based test cases against a scenario file.
type Runner struct {
	Timeout  time.Duration
	FailFast bool
	// Metadata, when set, replaces the fixture's own action descriptions.
	Metadata contract.MetadataProvider
	Logger   *zap.Logger
}

// CaseInfo describes a discovered test case directory.
type CaseInfo struct {
	Name string
	Dir  string
}

// DiscoverCases finds the test cases of a scenario file. Cases live in a
// sibling tests/<scenario-file-base>/ directory, one subdirectory each,
// holding a test.yaml.
func DiscoverCases(scenarioPath string) ([]CaseInfo, error) {
	dir := filepath.Dir(scenarioPath)
	base := strings.TrimSuffix(filepath.Base(scenarioPath), filepath.Ext(scenarioPath))

	casesDir := filepath.Join(dir, "tests", base)
	entries, err := os.ReadDir(casesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read test cases dir: %w", err)
	}

	var cases []CaseInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		caseDir := filepath.Join(casesDir, entry.Name())
		if _, err := os.Stat(filepath.Join(caseDir, SpecFile)); err == nil {
			cases = append(cases, CaseInfo{Name: entry.Name(), Dir: caseDir})
		}
	}
	return cases, nil
}

// RunAll discovers and runs every test case of a scenario file.
func (r *Runner) RunAll(ctx context.Context, scenarioPath string) (*TestOutput, error) {
	cases, err := DiscoverCases(scenarioPath)
	if err != nil {
		return nil, err
	}
	sc, err := loadScenario(ctx, scenarioPath)
	if err != nil {
		return nil, err
	}

	output := &TestOutput{Scenario: sc.Meta.Name, Cases: []TestResult{}}
	for _, ci := range cases {
		result := r.runCase(ctx, sc, ci)
		output.Cases = append(output.Cases, result)

		switch result.Status {
		case "passed":
			output.Summary.Passed++
		case "failed":
			output.Summary.Failed++
		case "skipped":
			output.Summary.Skipped++
		case "error":
			output.Summary.Errors++
		}
		output.Summary.Total++

		if r.FailFast && (result.Status == "failed" || result.Status == "error") {
			break
		}
	}
	return output, nil
}

// RunCase runs a single named test case.
func (r *Runner) RunCase(ctx context.Context, scenarioPath, caseName string) (*TestResult, error) {
	sc, err := loadScenario(ctx, scenarioPath)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(scenarioPath)
	base := strings.TrimSuffix(filepath.Base(scenarioPath), filepath.Ext(scenarioPath))
	ci := CaseInfo{Name: caseName, Dir: filepath.Join(dir, "tests", base, caseName)}

	result := r.runCase(ctx, sc, ci)
	return &result, nil
}

func loadScenario(ctx context.Context, path string) (*schema.Scenario, error) {
	sc, errs := validate.ValidateFile(ctx, path, validate.Options{})
	if validate.HasErrors(errs) {
		return nil, fmt.Errorf("scenario validation failed: %s", validate.Errors(errs)[0])
	}
	return sc, nil
}

// runCase replays one case and evaluates its test spec.
func (r *Runner) runCase(ctx context.Context, sc *schema.Scenario, ci CaseInfo) TestResult {
	start := time.Now()
	result := TestResult{ScenarioName: sc.Meta.Name, CaseName: ci.Name}
	fail := func(format string, args ...any) TestResult {
		result.Status = "error"
		result.Error = fmt.Sprintf(format, args...)
		result.DurationMs = time.Since(start).Milliseconds()
		return result
	}

	spec, err := LoadTestSpec(filepath.Join(ci.Dir, SpecFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			result.Status = "skipped"
			result.DurationMs = time.Since(start).Milliseconds()
			return result
		}
		return fail("load test spec: %s", err)
	}
	fx, err := replay.LoadFixture(filepath.Join(ci.Dir, FixtureFile))
	if err != nil {
		return fail("load fixture: %s", err)
	}
	params := make(map[string]value.Value, len(spec.Params))
	for k, raw := range spec.Params {
		v, err := value.FromAny(raw)
		if err != nil {
			return fail("param %q: %s", k, err)
		}
		params[k] = v
	}

	replayExec := replay.NewExecutor(fx)
	var meta contract.MetadataProvider = replayExec
	if r.Metadata != nil {
		meta = r.Metadata
	}
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	eng, err := engine.New(engine.Config{
		Metadata: meta,
		Executor: replayExec,
		Logger:   logger.With(zap.String("case", ci.Name)),
	})
	if err != nil {
		return fail("%s", err)
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	run := &RunResult{Status: StatusCompleted}
	inst, err := registry.NewFactory(sc)(params)
	if err == nil {
		// Replayed runs never touch environment data.
		run.Result, err = eng.Run(ctx, inst.Scenario, inst.Params, snapshot.Handle("replay:"+ci.Name))
	} else {
		err = &engine.Error{Kind: engine.KindValidationFailed, Scenario: sc.Meta.Name, Reason: "invalid parameters", Err: err}
	}
	if err != nil {
		if ctx.Err() != nil {
			return fail("timeout")
		}
		run.Status = StatusFailed
		run.ErrorKind = string(engine.KindOf(err))
		run.Error = err
	}
	run.Remaining = replayExec.Remaining()

	result.Assertions = Evaluate(spec, run)
	result.Status = "passed"
	if HasFailures(result.Assertions) {
		result.Status = "failed"
	}
	if run.Error != nil && spec.ExpectedStatus == "" && spec.ExpectedError == "" {
		// An unexpected failure is never a pass.
		result.Status = "failed"
		result.Error = run.Error.Error()
	}
	result.DurationMs = time.Since(start).Milliseconds()
	return result
}
