// Package replay serves canned action responses from a YAML fixture,
// enabling deterministic scenario runs and merges without an action runner.
package replay

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ormasoftchile/tasksmith/pkg/kernel/contract"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/executor"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/value"
)

// Fixture is the replay document.
//
//	responses:
//	  create_user:
//	    - output: {user_id: U-1}
//	    - raw: "plain text"
//	    - error: "runner crashed"
//	actions:                      # optional, catalog/v0 entries
//	  create_user:
//	    parameters:
//	      email: {type: string, required: true}
type Fixture struct {
	Responses map[string][]Response          `yaml:"responses"`
	Actions   map[string]contract.CatalogEntry `yaml:"actions,omitempty"`
}

// Response is one canned answer. Exactly one of Output, Raw or Error is
// expected; Error simulates a transport failure.
type Response struct {
	Output any    `yaml:"output,omitempty"`
	Raw    string `yaml:"raw,omitempty"`
	Error  string `yaml:"error,omitempty"`
}

// Text renders the response the way a runner would print it.
func (r Response) Text() (string, error) {
	if r.Raw != "" {
		return r.Raw, nil
	}
	if r.Output == nil {
		return "{}", nil
	}
	v, err := value.FromAny(r.Output)
	if err != nil {
		return "", fmt.Errorf("replay output: %w", err)
	}
	return v.JSON(), nil
}

// LoadFixture loads a fixture from a YAML file.
func LoadFixture(path string) (*Fixture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read replay fixture: %w", err)
	}
	defer f.Close()
	return DecodeFixture(f)
}

// DecodeFixture decodes a fixture, rejecting unknown fields.
func DecodeFixture(r io.Reader) (*Fixture, error) {
	var fx Fixture
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fx); err != nil {
		return nil, fmt.Errorf("parse replay fixture: %w", err)
	}
	return &fx, nil
}

// ParseFixture parses fixture YAML.
func ParseFixture(data []byte) (*Fixture, error) {
	var fx Fixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("parse replay fixture: %w", err)
	}
	return &fx, nil
}

// Encode writes the fixture as YAML.
func (f *Fixture) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(f); err != nil {
		return fmt.Errorf("encode replay fixture: %w", err)
	}
	return enc.Close()
}

// Executor implements executor.ActionExecutor and contract.MetadataProvider
// from a Fixture. Responses are consumed in order per action.
type Executor struct {
	fixture *Fixture
	catalog *contract.Catalog

	mu       sync.Mutex
	consumed map[string]int
	calls    []executor.Invocation
}

// NewExecutor creates a replay executor.
func NewExecutor(f *Fixture) *Executor {
	e := &Executor{fixture: f, consumed: make(map[string]int)}
	if len(f.Actions) > 0 {
		e.catalog = &contract.Catalog{APIVersion: contract.APIVersionCatalog, Actions: f.Actions}
	}
	return e
}

// Invoke returns the next canned response for the action.
func (e *Executor) Invoke(_ context.Context, inv executor.Invocation) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls = append(e.calls, inv)
	responses, ok := e.fixture.Responses[inv.Action]
	if !ok {
		return "", fmt.Errorf("%w: replay: no canned response for %s", executor.ErrRunner, inv.Action)
	}
	idx := e.consumed[inv.Action]
	if idx >= len(responses) {
		return "", fmt.Errorf("%w: replay: exhausted canned responses for %s (used %d)", executor.ErrRunner, inv.Action, len(responses))
	}
	e.consumed[inv.Action] = idx + 1

	resp := responses[idx]
	if resp.Error != "" {
		return "", fmt.Errorf("%w: replay: %s", executor.ErrRunner, resp.Error)
	}
	return resp.Text()
}

// Metadata serves the fixture's actions section. Without one, every action
// is described as taking free-form parameters with none required.
func (e *Executor) Metadata(ctx context.Context, action, env string, iface int) (*contract.ActionMetadata, error) {
	if e.catalog == nil {
		return &contract.ActionMetadata{Name: action}, nil
	}
	return e.catalog.Metadata(ctx, action, env, iface)
}

// Calls returns the invocations received so far, in order.
func (e *Executor) Calls() []executor.Invocation {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]executor.Invocation, len(e.calls))
	copy(out, e.calls)
	return out
}

// Remaining reports unconsumed responses per action, sorted by action name.
func (e *Executor) Remaining() map[string]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.fixture.Responses))
	for n := range e.fixture.Responses {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make(map[string]int)
	for _, n := range names {
		if left := len(e.fixture.Responses[n]) - e.consumed[n]; left > 0 {
			out[n] = left
		}
	}
	return out
}

// Reset rewinds every action to its first response and forgets the calls.
func (e *Executor) Reset() {
	e.mu.Lock()
	e.consumed = make(map[string]int)
	e.calls = nil
	e.mu.Unlock()
}
