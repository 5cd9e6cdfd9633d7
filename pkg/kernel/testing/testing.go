// Package testing implements fixture-based scenario tests. A test case
// replays canned action responses through a scenario and asserts on the
// run status, the emitted actions, their arguments and step outputs.
package testing

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ormasoftchile/tasksmith/pkg/kernel/engine"
)

// Run statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// TestSpec declares what to assert about one replayed run. All assertion
// fields are optional; omitted fields produce no assertions.
type TestSpec struct {
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Params      map[string]any `yaml:"params,omitempty" json:"params,omitempty"`

	ExpectedStatus string `yaml:"expected_status,omitempty" json:"expected_status,omitempty"` // completed, failed
	ExpectedError  string `yaml:"expected_error,omitempty" json:"expected_error,omitempty"`   // engine error kind

	ExpectedActions []string `yaml:"expected_actions,omitempty" json:"expected_actions,omitempty"` // exact, in order
	MustEmit        []string `yaml:"must_emit,omitempty" json:"must_emit,omitempty"`
	MustNotEmit     []string `yaml:"must_not_emit,omitempty" json:"must_not_emit,omitempty"`

	// Keys are <stepId>.<param>[.path] and <stepId>.<path>.
	ExpectedArguments map[string]string `yaml:"expected_arguments,omitempty" json:"expected_arguments,omitempty"`
	ExpectedOutputs   map[string]string `yaml:"expected_outputs,omitempty" json:"expected_outputs,omitempty"`

	// ConsumeAll fails the case when canned responses are left over.
	ConsumeAll bool     `yaml:"consume_all,omitempty" json:"consume_all,omitempty"`
	Tags       []string `yaml:"tags,omitempty" json:"tags,omitempty"`
}

// LoadTestSpec loads a test spec from a YAML file.
func LoadTestSpec(path string) (*TestSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read test spec: %w", err)
	}
	return ParseTestSpec(data)
}

// ParseTestSpec parses test spec YAML.
func ParseTestSpec(data []byte) (*TestSpec, error) {
	var s TestSpec
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse test spec: %w", err)
	}
	return &s, nil
}

// ---------------------------------------------------------------------------
// Run Result (input to assertion evaluator)
// ---------------------------------------------------------------------------

// RunResult captures execution data for assertion evaluation.
type RunResult struct {
	Status    string
	ErrorKind string
	Result    *engine.Result // nil when the run failed
	Remaining map[string]int // unconsumed canned responses
	Error     error
}

func (r *RunResult) actionNames() []string {
	if r.Result == nil {
		return nil
	}
	names := make([]string, len(r.Result.Actions))
	for i, a := range r.Result.Actions {
		names[i] = a.Name
	}
	return names
}

// ---------------------------------------------------------------------------
// Assertion Evaluation
// ---------------------------------------------------------------------------

// AssertionResult is the result of a single assertion.
type AssertionResult struct {
	Type     string `json:"type"` // expected_status, must_emit, expected_argument, ...
	Key      string `json:"key,omitempty"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Passed   bool   `json:"passed"`
	Message  string `json:"message,omitempty"`
}

// Evaluate runs all assertions from a TestSpec against a RunResult.
func Evaluate(spec *TestSpec, run *RunResult) []AssertionResult {
	var results []AssertionResult

	if spec.ExpectedStatus != "" {
		results = append(results, AssertionResult{
			Type:     "expected_status",
			Expected: spec.ExpectedStatus,
			Actual:   run.Status,
			Passed:   run.Status == spec.ExpectedStatus,
			Message:  fmt.Sprintf("status: expected %q, got %q", spec.ExpectedStatus, run.Status),
		})
	}

	if spec.ExpectedError != "" {
		results = append(results, AssertionResult{
			Type:     "expected_error",
			Expected: spec.ExpectedError,
			Actual:   run.ErrorKind,
			Passed:   run.ErrorKind == spec.ExpectedError,
			Message:  fmt.Sprintf("error kind: expected %q, got %q", spec.ExpectedError, run.ErrorKind),
		})
	}

	emitted := run.actionNames()
	if spec.ExpectedActions != nil {
		want := strings.Join(spec.ExpectedActions, ",")
		got := strings.Join(emitted, ",")
		results = append(results, AssertionResult{
			Type:     "expected_actions",
			Expected: want,
			Actual:   got,
			Passed:   want == got,
			Message:  fmt.Sprintf("actions: expected [%s], got [%s]", want, got),
		})
	}

	emittedSet := make(map[string]bool, len(emitted))
	for _, n := range emitted {
		emittedSet[n] = true
	}
	for _, name := range spec.MustEmit {
		passed := emittedSet[name]
		results = append(results, AssertionResult{
			Type:     "must_emit",
			Key:      name,
			Expected: "emitted",
			Actual:   emittedLabel(passed),
			Passed:   passed,
			Message:  fmt.Sprintf("must_emit %q: %s", name, emittedLabel(passed)),
		})
	}
	for _, name := range spec.MustNotEmit {
		found := emittedSet[name]
		results = append(results, AssertionResult{
			Type:     "must_not_emit",
			Key:      name,
			Expected: "not emitted",
			Actual:   emittedLabel(found),
			Passed:   !found,
			Message:  fmt.Sprintf("must_not_emit %q: %s", name, emittedLabel(found)),
		})
	}

	for _, key := range sortedKeys(spec.ExpectedArguments) {
		results = append(results, checkPath("expected_argument", key, spec.ExpectedArguments[key], run, argumentAt))
	}
	for _, key := range sortedKeys(spec.ExpectedOutputs) {
		results = append(results, checkPath("expected_output", key, spec.ExpectedOutputs[key], run, outputAt))
	}

	if spec.ConsumeAll {
		var left []string
		for _, name := range sortedKeys(run.Remaining) {
			left = append(left, fmt.Sprintf("%s=%d", name, run.Remaining[name]))
		}
		actual := strings.Join(left, ",")
		results = append(results, AssertionResult{
			Type:     "consume_all",
			Expected: "",
			Actual:   actual,
			Passed:   len(left) == 0,
			Message:  fmt.Sprintf("unconsumed responses: [%s]", actual),
		})
	}

	return results
}

type lookupFunc func(res *engine.Result, stepID, path string) (string, error)

func checkPath(typ, key, expected string, run *RunResult, lookup lookupFunc) AssertionResult {
	ar := AssertionResult{Type: typ, Key: key, Expected: expected}
	stepID, path, ok := strings.Cut(key, ".")
	switch {
	case !ok || stepID == "" || path == "":
		ar.Message = fmt.Sprintf("%s %q: key must be <stepId>.<path>", typ, key)
	case run.Result == nil:
		ar.Message = fmt.Sprintf("%s %q: run produced no result", typ, key)
	default:
		actual, err := lookup(run.Result, stepID, path)
		if err != nil {
			ar.Message = fmt.Sprintf("%s %q: %v", typ, key, err)
			break
		}
		ar.Actual = actual
		ar.Passed = compareValue(expected, actual)
		ar.Message = fmt.Sprintf("%s %q: expected %q, got %q", typ, key, expected, actual)
	}
	return ar
}

func argumentAt(res *engine.Result, stepID, path string) (string, error) {
	sr, ok := res.Step(stepID)
	if !ok {
		return "", fmt.Errorf("step %q did not run", stepID)
	}
	param, rest, _ := strings.Cut(path, ".")
	v, ok := sr.Action.Arguments[param]
	if !ok {
		return "", fmt.Errorf("parameter %q was not passed", param)
	}
	if rest != "" {
		var err error
		if v, err = v.Get(rest); err != nil {
			return "", err
		}
	}
	return v.Text(), nil
}

func outputAt(res *engine.Result, stepID, path string) (string, error) {
	sr, ok := res.Step(stepID)
	if !ok {
		return "", fmt.Errorf("step %q did not run", stepID)
	}
	v, err := sr.Output.Get(path)
	if err != nil {
		return "", err
	}
	return v.Text(), nil
}

// HasFailures returns true if any assertion failed.
func HasFailures(results []AssertionResult) bool {
	for _, r := range results {
		if !r.Passed {
			return true
		}
	}
	return false
}

// compareValue supports two match modes:
//   - /pattern/ → regex match
//   - exact string equality (default)
func compareValue(expected, actual string) bool {
	if strings.HasPrefix(expected, "/") && strings.HasSuffix(expected, "/") && len(expected) > 2 {
		re, err := regexp.Compile(expected[1 : len(expected)-1])
		if err != nil {
			return false
		}
		return re.MatchString(actual)
	}
	return expected == actual
}

func emittedLabel(b bool) string {
	if b {
		return "emitted"
	}
	return "not emitted"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
