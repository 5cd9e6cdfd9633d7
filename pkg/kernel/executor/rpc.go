package executor

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ormasoftchile/tasksmith/pkg/kernel/contract"
)

// RPC talks to a long-lived action runner over newline-delimited JSON-RPC
// 2.0 on stdio. The process is spawned on first use and respawned after a
// timeout kills it. Calls are serialized.
type RPC struct {
	Command string
	Args    []string
	Timeout time.Duration
	Logger  *zap.Logger

	mu   sync.Mutex
	proc *rpcProcess
}

// NewRPC returns an RPC runner for command.
func NewRPC(command string, args []string, timeout time.Duration, logger *zap.Logger) *RPC {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RPC{Command: command, Args: args, Timeout: timeout, Logger: logger.Named("rpc")}
}

// Invoke implements ActionExecutor using the "invoke" method. The result is
// the JSON the runner returned, re-encoded as text.
func (r *RPC) Invoke(ctx context.Context, inv Invocation) (string, error) {
	res, err := r.call(ctx, "invoke", invokeRequest(inv))
	if err != nil {
		return "", err
	}
	return rpcText(res), nil
}

// Metadata implements contract.MetadataProvider using the "describe" method.
func (r *RPC) Metadata(ctx context.Context, action, env string, iface int) (*contract.ActionMetadata, error) {
	res, err := r.call(ctx, "describe", describeRequest(action, env, iface))
	if err != nil {
		return nil, err
	}
	return parseDescription(action, rpcText(res))
}

// Close asks the runner to shut down and waits briefly before killing it.
func (r *RPC) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.proc == nil {
		return nil
	}
	err := r.proc.shutdown(2 * time.Second)
	r.proc = nil
	return err
}

func (r *RPC) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.proc == nil || !r.proc.alive() {
		p, err := spawnRPC(r.Command, r.Args, r.log())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRunner, err)
		}
		r.proc = p
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type reply struct {
		res json.RawMessage
		err error
	}
	ch := make(chan reply, 1)
	p := r.proc
	go func() {
		res, err := p.call(method, params)
		ch <- reply{res, err}
	}()

	select {
	case rep := <-ch:
		if rep.err != nil {
			var rpcErr *rpcError
			if errors.As(rep.err, &rpcErr) {
				return nil, fmt.Errorf("%w: %s: %v", ErrRunner, method, rep.err)
			}
			// Broken pipe or garbage on stdout: drop the process.
			p.kill()
			r.proc = nil
			return nil, fmt.Errorf("%w: %s: %v", ErrRunner, method, rep.err)
		}
		return rep.res, nil
	case <-ctx.Done():
		r.log().Warn("action runner timed out, killing process", zap.String("method", method), zap.Duration("timeout", timeout))
		p.kill()
		r.proc = nil
		return nil, fmt.Errorf("%w: %s timed out after %s", ErrRunner, method, timeout)
	}
}

func (r *RPC) log() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

// rpcText renders a JSON-RPC result the way Stdio returns stdout: a JSON
// string result is unwrapped, anything else stays JSON.
func rpcText(res json.RawMessage) string {
	var s string
	if err := json.Unmarshal(res, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(res))
}

// ---------------------------------------------------------------------------
// Process
// ---------------------------------------------------------------------------

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// rpcError is a JSON-RPC error object. Codes may arrive as numbers or strings.
type rpcError struct {
	Code     int
	CodeText string
	Message  string
}

func (e *rpcError) Error() string {
	code := e.CodeText
	if code == "" {
		code = strconv.Itoa(e.Code)
	}
	return fmt.Sprintf("runner error [%s]: %s", code, e.Message)
}

func (e *rpcError) UnmarshalJSON(data []byte) error {
	var aux struct {
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	e.Message = aux.Message

	var codeInt int
	if err := json.Unmarshal(aux.Code, &codeInt); err == nil {
		e.Code = codeInt
		e.CodeText = strconv.Itoa(codeInt)
		return nil
	}
	var codeStr string
	if err := json.Unmarshal(aux.Code, &codeStr); err == nil {
		e.CodeText = codeStr
		if parsed, perr := strconv.Atoi(codeStr); perr == nil {
			e.Code = parsed
		}
		return nil
	}
	return fmt.Errorf("invalid jsonrpc error code: %s", string(aux.Code))
}

// rpcProcess is one running runner. Its methods are not safe for concurrent
// use; RPC serializes access.
type rpcProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	reader *bufio.Reader
	nextID int64
	done   chan struct{} // closed when the process exits
}

func spawnRPC(binary string, argv []string, log *zap.Logger) (*rpcProcess, error) {
	if binary == "" {
		return nil, fmt.Errorf("no runner command configured")
	}
	cmd := exec.Command(binary, argv...) //#nosec G204 -- runner command comes from operator configuration
	cmd.Env = os.Environ()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start runner %q: %w", binary, err)
	}

	done := make(chan struct{})
	go func() {
		cmd.Wait()
		close(done)
	}()
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			log.Debug("runner stderr", zap.String("line", scanner.Text()))
		}
	}()

	log.Info("started action runner", zap.String("command", binary), zap.Int("pid", cmd.Process.Pid))
	return &rpcProcess{
		cmd:    cmd,
		stdin:  stdin,
		reader: bufio.NewReader(stdout),
		done:   done,
	}, nil
}

// newPipeProcess wires a process to existing pipes. Used by tests to drive
// the protocol without spawning anything.
func newPipeProcess(stdin io.WriteCloser, stdout io.Reader) *rpcProcess {
	return &rpcProcess{
		stdin:  stdin,
		reader: bufio.NewReader(stdout),
		done:   make(chan struct{}),
	}
}

// call sends a request and waits for the response with the same id.
// Notifications and responses to other ids are skipped.
func (p *rpcProcess) call(method string, params any) (json.RawMessage, error) {
	if !p.alive() {
		return nil, fmt.Errorf("runner process has exited")
	}

	p.nextID++
	id := p.nextID
	data, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	if _, err := fmt.Fprintf(p.stdin, "%s\n", data); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	for {
		line, err := p.reader.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		var env struct {
			ID     json.RawMessage `json:"id,omitempty"`
			Result json.RawMessage `json:"result,omitempty"`
			Error  *rpcError       `json:"error,omitempty"`
		}
		if err := json.Unmarshal([]byte(line), &env); err != nil {
			return nil, fmt.Errorf("unmarshal response: %w (raw: %s)", err, strings.TrimSpace(line))
		}
		if len(env.ID) == 0 || !matchID(env.ID, id) {
			continue
		}
		if env.Error != nil {
			return nil, env.Error
		}
		return env.Result, nil
	}
}

// matchID accepts both numeric ids (1) and string ids ("1").
func matchID(raw json.RawMessage, id int64) bool {
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n == id
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s == strconv.FormatInt(id, 10)
	}
	return false
}

// shutdown sends a shutdown notification and kills the process if it does
// not exit within grace.
func (p *rpcProcess) shutdown(grace time.Duration) error {
	notif, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "method": "shutdown"})
	fmt.Fprintf(p.stdin, "%s\n", notif)

	select {
	case <-p.done:
		return nil
	case <-time.After(grace):
	}
	return p.kill()
}

func (p *rpcProcess) kill() error {
	p.stdin.Close()
	select {
	case <-p.done:
		return nil
	default:
	}
	if p.cmd != nil && p.cmd.Process != nil {
		return p.cmd.Process.Kill()
	}
	return nil
}

func (p *rpcProcess) alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}
