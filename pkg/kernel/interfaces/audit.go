package interfaces

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ormasoftchile/tasksmith/pkg/kernel/value"
)

// ErrAuditArguments marks an audit action whose arguments could not be built.
var ErrAuditArguments = errors.New("audit log generation failed")

// referenceIDFields are probed, in order, for the id of the audited entity.
var referenceIDFields = []string{
	"id", "employee_id", "department_id", "user_id",
	"log_id", "position_id", "application_id", "review_id",
}

// AuditArguments builds the arguments of the audit-log call that records
// action. The reference id is taken from the action output first, then from
// its arguments.
func AuditArguments(action string, args map[string]value.Value, output value.Value, auditFn string, userID value.Value) (map[string]value.Value, error) {
	out := make(map[string]value.Value)
	if strings.Contains(auditFn, "manage") {
		out["operation"] = value.String("create")
	}
	out["user_id"] = userID

	op := auditOperation(args)
	out["action"] = value.String(op)

	refType, ok := referenceType(action, args)
	if !ok {
		return nil, fmt.Errorf("%w: reference_type missing for %q", ErrAuditArguments, action)
	}
	out["reference_type"] = value.String(refType)

	refID, ok := referenceID(output, args)
	if !ok {
		return nil, fmt.Errorf("%w: reference_id missing for %q", ErrAuditArguments, action)
	}
	out["reference_id"] = value.String(refID)

	if op == "update" {
		for _, k := range []string{"field_name", "old_value", "new_value"} {
			if v, ok := args[k]; ok {
				out[k] = v
			}
		}
	}
	return out, nil
}

func auditOperation(args map[string]value.Value) string {
	for _, k := range []string{"action", "operation"} {
		if v, ok := args[k]; ok && !v.IsNull() {
			if s := strings.ToLower(v.Text()); isCrudOperation(s) {
				return s
			}
		}
	}
	return "create"
}

func referenceType(action string, args map[string]value.Value) (string, bool) {
	if v, ok := args["reference_type"]; ok && !v.IsNull() {
		return v.Text(), true
	}
	parts := strings.Split(action, "_")
	if len(parts) < 2 {
		return "", false
	}
	return Pluralize(parts[len(parts)-1]), true
}

func referenceID(output value.Value, args map[string]value.Value) (string, bool) {
	if output.IsObject() {
		for _, f := range referenceIDFields {
			if v, ok := output.Field(f); ok && !v.IsNull() {
				return v.Text(), true
			}
		}
	}
	for _, f := range referenceIDFields {
		if v, ok := args[f]; ok && !v.IsNull() {
			return v.Text(), true
		}
	}
	return "", false
}

// Pluralize applies the English suffix rules used for reference types:
// employee -> employees, address -> addresses, policy -> policies.
func Pluralize(noun string) string {
	switch {
	case strings.HasSuffix(noun, "s"), strings.HasSuffix(noun, "x"), strings.HasSuffix(noun, "ch"):
		return noun + "es"
	case strings.HasSuffix(noun, "y"):
		return strings.TrimSuffix(noun, "y") + "ies"
	default:
		return noun + "s"
	}
}
