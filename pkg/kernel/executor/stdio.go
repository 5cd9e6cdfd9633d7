package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ormasoftchile/tasksmith/pkg/kernel/contract"
)

// Stdio runs the action runner as a fresh process per call. The request is
// written to stdin as one JSON line; the response is read from stdout.
type Stdio struct {
	Command string
	Args    []string
	Timeout time.Duration
	Env     []string // extra KEY=VALUE entries appended to os.Environ()
	Logger  *zap.Logger
}

// NewStdio returns a Stdio runner for command.
func NewStdio(command string, args []string, timeout time.Duration, logger *zap.Logger) *Stdio {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stdio{Command: command, Args: args, Timeout: timeout, Logger: logger.Named("stdio")}
}

// Invoke implements ActionExecutor.
func (s *Stdio) Invoke(ctx context.Context, inv Invocation) (string, error) {
	return s.run(ctx, invokeRequest(inv))
}

// Metadata implements contract.MetadataProvider through the describe op.
func (s *Stdio) Metadata(ctx context.Context, action, env string, iface int) (*contract.ActionMetadata, error) {
	out, err := s.run(ctx, describeRequest(action, env, iface))
	if err != nil {
		return nil, err
	}
	return parseDescription(action, out)
}

func (s *Stdio) run(ctx context.Context, req request) (string, error) {
	if s.Command == "" {
		return "", fmt.Errorf("%w: no runner command configured", ErrRunner)
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	cmd := exec.CommandContext(ctx, s.Command, s.Args...) //#nosec G204 -- runner command comes from operator configuration
	cmd.Env = append(os.Environ(), s.Env...)
	cmd.Stdin = bytes.NewReader(append(payload, '\n'))
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err = cmd.Run()
	log := s.log().With(zap.String("op", req.Op), zap.String("action", req.Action), zap.Duration("elapsed", time.Since(start)))

	if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		log.Warn("action runner timed out", zap.Duration("timeout", timeout))
		return "", fmt.Errorf("%w: %s %q timed out after %s", ErrRunner, req.Op, req.Action, timeout)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg := strings.TrimSpace(normalizeLineEndings(stderr.String()))
			log.Warn("action runner exited non-zero", zap.Int("exit_code", exitErr.ExitCode()), zap.String("stderr", msg))
			return "", fmt.Errorf("%w: %s %q exited with code %d: %s", ErrRunner, req.Op, req.Action, exitErr.ExitCode(), msg)
		}
		return "", fmt.Errorf("%w: exec %q: %v", ErrRunner, s.Command, err)
	}
	if stderr.Len() > 0 {
		log.Debug("action runner stderr", zap.String("stderr", strings.TrimSpace(stderr.String())))
	}
	return jsonLines(stdout.String()), nil
}

func (s *Stdio) log() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
