// Package trace implements the append-only JSONL event trail of scenario
// runs and merges.
package trace

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// EventType enumerates all trace event types.
type EventType string

const (
	EventRunStart       EventType = "run_start"
	EventRunComplete    EventType = "run_complete"
	EventStepStart      EventType = "step_start"
	EventStepComplete   EventType = "step_complete"
	EventInputResolved  EventType = "input_resolved"
	EventAuditAppended  EventType = "audit_appended"
	EventMergeStart     EventType = "merge_start"
	EventMergeComplete  EventType = "merge_complete"
	EventSnapshotShared EventType = "snapshot_shared"
)

// SigningKeyEnv names the environment variable holding the HMAC key used to
// sign the chain hash of run_complete and merge_complete events.
const SigningKeyEnv = "TASKSMITH_TRACE_SIGNING_KEY"

var genesisHash = strings.Repeat("0", 64)

// StepStatus is the execution status of a step.
type StepStatus string

const (
	StatusSuccess StepStatus = "success"
	StatusFailed  StepStatus = "failed"
)

// Event is a single trace event written to the JSONL stream.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id"`
	PrevHash  string         `json:"prev_hash"`
	Data      map[string]any `json:"data,omitempty"`
}

// Failure describes why a step failed.
type Failure struct {
	Kind    string `json:"kind"` // MappingUnresolved, ToolInvocationFailed, ...
	Message string `json:"message"`
}

// Writer writes trace events to an append-only JSONL stream. Each event
// carries the SHA-256 of the previous line so the file can be verified.
// A nil *Writer discards everything.
type Writer struct {
	mu       sync.Mutex
	w        io.Writer
	runID    string
	prevHash string
	closer   io.Closer

	redactions []*Redaction
}

// NewWriter creates a trace writer that writes to the given io.Writer.
func NewWriter(w io.Writer, runID string) *Writer {
	return &Writer{
		w:        w,
		runID:    runID,
		prevHash: genesisHash,
	}
}

// NewFileWriter creates a trace writer that appends to a JSONL file.
func NewFileWriter(path, runID string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	tw := NewWriter(f, runID)
	tw.closer = f
	return tw, nil
}

// RunID returns the run identifier stamped on every event.
func (tw *Writer) RunID() string {
	if tw == nil {
		return ""
	}
	return tw.runID
}

// Close releases the underlying file, if the writer owns one.
func (tw *Writer) Close() error {
	if tw == nil || tw.closer == nil {
		return nil
	}
	return tw.closer.Close()
}

// Emit writes a single trace event.
func (tw *Writer) Emit(eventType EventType, data map[string]any) error {
	if tw == nil {
		return nil
	}
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.emitLocked(eventType, tw.redact(data))
}

func (tw *Writer) emitLocked(eventType EventType, data map[string]any) error {
	evt := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		RunID:     tw.runID,
		PrevHash:  tw.prevHash,
		Data:      data,
	}
	line, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode trace event: %w", err)
	}
	sum := sha256.Sum256(line)
	if _, err := tw.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write trace event: %w", err)
	}
	tw.prevHash = hex.EncodeToString(sum[:])
	return nil
}

// emitSealed stamps the chain hash (and a signature when a key is set)
// onto a closing event.
func (tw *Writer) emitSealed(eventType EventType, data map[string]any) error {
	if tw == nil {
		return nil
	}
	tw.mu.Lock()
	defer tw.mu.Unlock()

	data = tw.redact(data)
	data["chain_hash"] = tw.prevHash
	if key := os.Getenv(SigningKeyEnv); key != "" {
		data["signature"] = sign(key, tw.prevHash)
		data["signing_key_id"] = SigningKeyEnv
	}
	return tw.emitLocked(eventType, data)
}

func sign(key, chainHash string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(chainHash))
	return hex.EncodeToString(mac.Sum(nil))
}

// EmitRunStart emits a run_start event with the scenario identity and the
// caller-supplied parameters.
func (tw *Writer) EmitRunStart(scenario, env string, iface int, params map[string]any) error {
	data := map[string]any{
		"scenario":    scenario,
		"environment": env,
		"interface":   iface,
	}
	if params != nil {
		data["params"] = params
	}
	return tw.Emit(EventRunStart, data)
}

// EmitStepStart emits a step_start event.
func (tw *Writer) EmitStepStart(stepID, action string) error {
	return tw.Emit(EventStepStart, map[string]any{
		"step_id": stepID,
		"action":  action,
	})
}

// EmitInputResolved records the value bound to one step parameter.
func (tw *Writer) EmitInputResolved(stepID, target, source string, resolved any) error {
	return tw.Emit(EventInputResolved, map[string]any{
		"step_id": stepID,
		"target":  target,
		"source":  source,
		"value":   resolved,
	})
}

// EmitStepComplete emits a step_complete event.
func (tw *Writer) EmitStepComplete(stepID string, status StepStatus, output any, duration time.Duration, failure *Failure) error {
	data := map[string]any{
		"step_id":  stepID,
		"status":   string(status),
		"duration": duration.String(),
	}
	if output != nil {
		data["output"] = output
	}
	if failure != nil {
		data["failure"] = map[string]any{
			"kind":    failure.Kind,
			"message": failure.Message,
		}
	}
	return tw.Emit(EventStepComplete, data)
}

// EmitAuditAppended records an audit action appended after a CRUD step.
func (tw *Writer) EmitAuditAppended(stepID, auditAction string) error {
	return tw.Emit(EventAuditAppended, map[string]any{
		"step_id": stepID,
		"action":  auditAction,
	})
}

// EmitRunComplete emits a run_complete event carrying the chain hash.
func (tw *Writer) EmitRunComplete(status string, actions int, duration time.Duration, failure *Failure) error {
	data := map[string]any{
		"status":   status,
		"actions":  actions,
		"duration": duration.String(),
	}
	if failure != nil {
		data["failure"] = map[string]any{
			"kind":    failure.Kind,
			"message": failure.Message,
		}
	}
	return tw.emitSealed(EventRunComplete, data)
}

// EmitMergeStart emits a merge_start event.
func (tw *Writer) EmitMergeStart(mode string, scenarios []string) error {
	return tw.Emit(EventMergeStart, map[string]any{
		"mode":      mode,
		"scenarios": scenarios,
	})
}

// EmitSnapshotShared records a data snapshot shared by several scenarios.
func (tw *Writer) EmitSnapshotShared(env, handle string) error {
	return tw.Emit(EventSnapshotShared, map[string]any{
		"environment": env,
		"snapshot":    handle,
	})
}

// EmitMergeComplete emits a merge_complete event carrying the chain hash.
func (tw *Writer) EmitMergeComplete(summary string, total, unique, duplicates int) error {
	return tw.emitSealed(EventMergeComplete, map[string]any{
		"summary":    summary,
		"total":      total,
		"unique":     unique,
		"duplicates": duplicates,
	})
}
