package contract

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/ormasoftchile/tasksmith/pkg/kernel/value"
)

// ArgumentError is one schema violation found in staged arguments.
type ArgumentError struct {
	Path    string
	Message string
}

func (e ArgumentError) String() string {
	if e.Path == "" {
		return e.Message
	}
	return e.Path + ": " + e.Message
}

// ArgumentsError collects every violation found by ValidateArguments.
type ArgumentsError struct {
	Action     string
	Violations []ArgumentError
}

func (e *ArgumentsError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return fmt.Sprintf("arguments for %s do not match its contract: %s", e.Action, strings.Join(parts, "; "))
}

var jsonSchemaTypes = map[string]bool{
	TypeString: true, TypeNumber: true, TypeInteger: true, TypeBoolean: true,
	TypeObject: true, TypeArray: true, TypeNull: true,
}

// JSONSchema renders the metadata as a JSON Schema object describing the
// action's arguments. Undeclared arguments are allowed.
func (m *ActionMetadata) JSONSchema() map[string]any {
	props := make(map[string]any, len(m.Parameters))
	for name, p := range m.Parameters {
		prop := map[string]any{}
		if jsonSchemaTypes[p.Type] {
			prop["type"] = p.Type
		}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		props[name] = prop
	}
	schema := map[string]any{
		"$schema":    "https://json-schema.org/draft/2020-12/schema",
		"type":       "object",
		"properties": props,
	}
	if req := m.RequiredParams(); len(req) > 0 {
		list := make([]any, len(req))
		for i, r := range req {
			list[i] = r
		}
		schema["required"] = list
	}
	return schema
}

// ValidateArguments checks staged arguments against the metadata's schema.
// It returns nil or an *ArgumentsError.
func ValidateArguments(m *ActionMetadata, args map[string]value.Value) error {
	url := "action-" + m.Name + ".json"
	c := sjsonschema.NewCompiler()
	if err := c.AddResource(url, m.JSONSchema()); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	sch, err := c.Compile(url)
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	doc := make(map[string]any, len(args))
	for k, v := range args {
		doc[k] = v.Interface()
	}

	err = sch.Validate(doc)
	if err == nil {
		return nil
	}
	var ve *sjsonschema.ValidationError
	if !errors.As(err, &ve) {
		return &ArgumentsError{Action: m.Name, Violations: []ArgumentError{{Message: err.Error()}}}
	}
	var out []ArgumentError
	for _, cause := range flattenValidationErrors(ve) {
		out = append(out, ArgumentError{
			Path:    strings.Join(cause.InstanceLocation, "/"),
			Message: fmt.Sprintf("%v", cause.ErrorKind),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return &ArgumentsError{Action: m.Name, Violations: out}
}

// flattenValidationErrors recursively collects all leaf validation errors.
func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}
