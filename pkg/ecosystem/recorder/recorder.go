// Package recorder captures live action responses so a run can be replayed
// later without the action runner.
package recorder

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ormasoftchile/tasksmith/pkg/kernel/executor"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/replay"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/value"
)

// Captured records a single action response.
type Captured struct {
	Action string
	Output string
	Err    string
}

// Recorder wraps an ActionExecutor and captures every response.
type Recorder struct {
	inner   executor.ActionExecutor
	secrets []string // env var names whose values should be redacted

	mu        sync.Mutex
	Responses []Captured
}

// New creates a recording wrapper around an existing executor.
func New(inner executor.ActionExecutor) *Recorder {
	return &Recorder{inner: inner}
}

// SetSecrets configures env var names whose values are redacted in captured output.
func (r *Recorder) SetSecrets(envVars []string) {
	r.secrets = envVars
}

// Invoke delegates to the inner executor and records the response. Transport
// failures are recorded too so a replay reproduces them.
func (r *Recorder) Invoke(ctx context.Context, inv executor.Invocation) (string, error) {
	out, err := r.inner.Invoke(ctx, inv)

	c := Captured{Action: inv.Action, Output: r.redact(out)}
	if err != nil {
		c.Err = r.redact(err.Error())
	}
	r.mu.Lock()
	r.Responses = append(r.Responses, c)
	r.mu.Unlock()
	return out, err
}

// Fixture converts the captured responses into a replay fixture. JSON
// outputs are stored structurally, anything else as raw text.
func (r *Recorder) Fixture() *replay.Fixture {
	r.mu.Lock()
	defer r.mu.Unlock()

	fx := &replay.Fixture{Responses: make(map[string][]replay.Response)}
	for _, c := range r.Responses {
		var resp replay.Response
		switch {
		case c.Err != "":
			resp.Error = c.Err
		default:
			if v, err := value.ParseString(c.Output); err == nil {
				resp.Output = v.Native()
			} else {
				resp.Raw = c.Output
			}
		}
		fx.Responses[c.Action] = append(fx.Responses[c.Action], resp)
	}
	return fx
}

// WriteFixture writes the captured responses as a replay fixture file.
func (r *Recorder) WriteFixture(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create replay fixture: %w", err)
	}
	if err := r.Fixture().Encode(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// redact replaces secret values with <REDACTED>.
func (r *Recorder) redact(s string) string {
	for _, envVar := range r.secrets {
		val := os.Getenv(envVar)
		if val != "" {
			s = strings.ReplaceAll(s, val, "<REDACTED>")
		}
	}
	return s
}
