// Package validate implements the scenario/v0 3-phase validation pipeline:
// structural → semantic → domain.
package validate

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/ormasoftchile/tasksmith/pkg/kernel/contract"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/schema"
)

// Phases of the pipeline.
const (
	PhaseStructural = "structural"
	PhaseSemantic   = "semantic"
	PhaseDomain     = "domain"
)

// Severities.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// ValidationError represents one error or warning from the validation pipeline.
type ValidationError struct {
	Phase    string `json:"phase"`
	Path     string `json:"path"` // JSON-path-like location
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("[%s] %s at %s", e.Phase, e.Message, e.Path)
	}
	return fmt.Sprintf("[%s] %s", e.Phase, e.Message)
}

func errorf(phase, path, msg string, args ...any) *ValidationError {
	return &ValidationError{
		Phase:    phase,
		Path:     path,
		Message:  fmt.Sprintf(msg, args...),
		Severity: SeverityError,
	}
}

func warningf(phase, path, msg string, args ...any) *ValidationError {
	return &ValidationError{
		Phase:    phase,
		Path:     path,
		Message:  fmt.Sprintf(msg, args...),
		Severity: SeverityWarning,
	}
}

// Options tune the domain phase.
type Options struct {
	// Metadata, when set, is asked for every step action so unknown actions
	// and unmapped required parameters are reported.
	Metadata contract.MetadataProvider
}

// ValidateFile runs the full 3-phase pipeline on a scenario file.
func ValidateFile(ctx context.Context, path string, opts Options) (*schema.Scenario, []*ValidationError) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, []*ValidationError{errorf(PhaseStructural, "", "failed to read: %s", err)}
	}
	return ValidateBytes(ctx, data, opts)
}

// ValidateBytes runs the full pipeline on an in-memory document.
func ValidateBytes(ctx context.Context, data []byte, opts Options) (*schema.Scenario, []*ValidationError) {
	sc, err := schema.Load(bytes.NewReader(data))
	if err != nil {
		return nil, []*ValidationError{errorf(PhaseStructural, "", "failed to load: %s", err)}
	}
	return sc, ValidateScenario(ctx, sc, opts)
}

// ValidateScenario runs phases 2+3 on an already-loaded scenario. Domain
// rules only run when the semantic phase found no errors.
func ValidateScenario(ctx context.Context, sc *schema.Scenario, opts Options) []*ValidationError {
	errs := validateSemantic(sc)
	if HasErrors(errs) {
		return errs
	}
	return append(errs, validateDomain(ctx, sc, opts)...)
}

// HasErrors reports whether any entry is an error rather than a warning.
func HasErrors(errs []*ValidationError) bool {
	for _, e := range errs {
		if e.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Errors returns only the error-severity entries.
func Errors(errs []*ValidationError) []*ValidationError {
	var out []*ValidationError
	for _, e := range errs {
		if e.Severity == SeverityError {
			out = append(out, e)
		}
	}
	return out
}
