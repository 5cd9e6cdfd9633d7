// Package executor invokes tool actions in an external action runner.
//
// Two transports are provided: Stdio spawns the runner once per call and
// RPC keeps one JSON-RPC 2.0 process alive for the whole session. Both speak
// the same request shape and both can describe actions, so they double as
// contract.MetadataProvider implementations.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ormasoftchile/tasksmith/pkg/kernel/contract"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/snapshot"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/value"
)

// DefaultTimeout bounds a single invocation when none is configured.
const DefaultTimeout = 30 * time.Second

// ErrRunner marks failures of the runner process itself (spawn, exit code,
// protocol). Business failures come back as an "error" key in the output.
var ErrRunner = errors.New("action runner failed")

// Invocation is one call of a tool action.
type Invocation struct {
	Action      string
	Arguments   map[string]value.Value
	Data        snapshot.Handle
	Environment string
	Interface   int
}

// ActionExecutor invokes an action and returns its raw textual output.
type ActionExecutor interface {
	Invoke(ctx context.Context, inv Invocation) (string, error)
}

// Runner is an executor that can also describe the actions it serves.
type Runner interface {
	ActionExecutor
	contract.MetadataProvider
}

// request is the payload understood by action runners.
type request struct {
	Op          string                 `json:"op"`
	Action      string                 `json:"action"`
	Arguments   map[string]value.Value `json:"arguments,omitempty"`
	DataFile    string                 `json:"data_file,omitempty"`
	Environment string                 `json:"environment"`
	Interface   int                    `json:"interface"`
}

func invokeRequest(inv Invocation) request {
	args := inv.Arguments
	if args == nil {
		args = map[string]value.Value{}
	}
	return request{
		Op:          "invoke",
		Action:      inv.Action,
		Arguments:   args,
		DataFile:    string(inv.Data),
		Environment: inv.Environment,
		Interface:   inv.Interface,
	}
}

func describeRequest(action, env string, iface int) request {
	return request{Op: "describe", Action: action, Environment: env, Interface: iface}
}

// parseDescription maps a describe response to ActionMetadata. A response
// carrying an "error" key means the runner does not know the action.
func parseDescription(action, out string) (*contract.ActionMetadata, error) {
	v, err := value.ParseString(out)
	if err == nil {
		if msg, ok := v.Field("error"); ok {
			return nil, fmt.Errorf("%w: %s: %s", contract.ErrActionNotFound, action, msg.Text())
		}
	}
	meta, err := contract.ParseFunctionSchema([]byte(out))
	if err != nil {
		return nil, fmt.Errorf("describe %q: %w", action, err)
	}
	return meta, nil
}

// jsonLines keeps the stdout lines that look like JSON documents, so runner
// log chatter does not corrupt the output. Without any, the trimmed text is
// returned as is.
func jsonLines(stdout string) string {
	stdout = normalizeLineEndings(stdout)
	var kept []string
	for _, line := range strings.Split(stdout, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
			kept = append(kept, trimmed)
		}
	}
	if len(kept) == 0 {
		return strings.TrimSpace(stdout)
	}
	return strings.Join(kept, "\n")
}

// normalizeLineEndings replaces \r\n with \n for cross-platform consistency.
func normalizeLineEndings(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}
