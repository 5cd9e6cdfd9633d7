package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ormasoftchile/tasksmith/pkg/kernel/value"
)

// ErrorKind classifies why a scenario run or merge failed.
type ErrorKind string

const (
	KindMappingUnresolved    ErrorKind = "MappingUnresolved"
	KindFieldNotFound        ErrorKind = "FieldNotFound"
	KindIndexOutOfRange      ErrorKind = "IndexOutOfRange"
	KindNotTraversable       ErrorKind = "NotTraversable"
	KindActionReturnedError  ErrorKind = "ActionReturnedError"
	KindToolInvocationFailed ErrorKind = "ToolInvocationFailed"
	KindValidationFailed     ErrorKind = "ValidationFailed"
)

// Error is the single structured failure of the engine and the mergers.
// Empty location fields are left out of the message.
type Error struct {
	Kind     ErrorKind
	Scenario string
	StepID   string
	Action   string
	Reason   string
	Err      error
}

func (e *Error) Error() string {
	var loc []string
	if e.Scenario != "" {
		loc = append(loc, fmt.Sprintf("scenario %q", e.Scenario))
	}
	if e.StepID != "" {
		loc = append(loc, fmt.Sprintf("step %q", e.StepID))
	}
	if e.Action != "" {
		loc = append(loc, fmt.Sprintf("action %q", e.Action))
	}

	var b strings.Builder
	b.WriteString(strings.Join(loc, " "))
	if e.Reason != "" {
		if b.Len() > 0 {
			b.WriteString(": ")
		}
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		if b.Len() > 0 {
			b.WriteString(": ")
		}
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf reports the kind of err. A path failure anywhere in the chain wins
// over a generic MappingUnresolved so callers see what went wrong in the
// output document. Errors from outside the engine have no kind.
func KindOf(err error) ErrorKind {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	if e.Kind == KindMappingUnresolved {
		if k := pathKind(e.Err); k != "" {
			return k
		}
	}
	return e.Kind
}

// pathKind maps a *value.PathError in err's chain to an ErrorKind.
func pathKind(err error) ErrorKind {
	var pe *value.PathError
	if !errors.As(err, &pe) {
		return ""
	}
	switch pe.Kind {
	case value.FieldNotFound:
		return KindFieldNotFound
	case value.IndexOutOfRange:
		return KindIndexOutOfRange
	case value.NotTraversable, value.NotAnArray:
		return KindNotTraversable
	}
	return KindMappingUnresolved
}
