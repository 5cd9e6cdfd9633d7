// Package contract defines the parameter contract of tool actions: which
// parameters an action takes, their declared types, and which are required.
package contract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/ormasoftchile/tasksmith/pkg/kernel/value"
)

// ErrActionNotFound is returned by providers that have no metadata for an action.
var ErrActionNotFound = errors.New("action not found")

// Declared parameter types understood by Coerce.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeInteger = "integer"
	TypeBoolean = "boolean"
	TypeObject  = "object"
	TypeArray   = "array"
	TypeNull    = "null"
)

// ParamDef describes a single action parameter.
type ParamDef struct {
	Type        string `yaml:"type"                  json:"type"`
	Required    bool   `yaml:"required,omitempty"    json:"required,omitempty"`
	Default     any    `yaml:"default,omitempty"     json:"default,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Enum        []any  `yaml:"enum,omitempty"        json:"enum,omitempty"`
}

// ActionMetadata is the parameter contract of one tool action.
type ActionMetadata struct {
	Name        string              `yaml:"name"                  json:"name"`
	Description string              `yaml:"description,omitempty" json:"description,omitempty"`
	Parameters  map[string]ParamDef `yaml:"parameters,omitempty"  json:"parameters,omitempty"`
	Required    []string            `yaml:"required,omitempty"    json:"required,omitempty"`
}

// Param returns the definition of one parameter, or nil when undeclared.
func (m *ActionMetadata) Param(name string) *ParamDef {
	if m == nil {
		return nil
	}
	p, ok := m.Parameters[name]
	if !ok {
		return nil
	}
	return &p
}

// RequiredParams returns the sorted union of the Required list and the
// parameters flagged required.
func (m *ActionMetadata) RequiredParams() []string {
	if m == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(m.Required))
	var out []string
	for _, name := range m.Required {
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	for name, p := range m.Parameters {
		if _, ok := seen[name]; p.Required && !ok {
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// MissingRequired lists the required parameters that are absent or blank in args.
func (m *ActionMetadata) MissingRequired(args map[string]value.Value) []string {
	var missing []string
	for _, name := range m.RequiredParams() {
		v, ok := args[name]
		if !ok || value.IsBlank(v) {
			missing = append(missing, name)
		}
	}
	return missing
}

// MetadataProvider supplies action metadata for an environment and interface.
type MetadataProvider interface {
	Metadata(ctx context.Context, action, env string, iface int) (*ActionMetadata, error)
}

// functionSchema is the function-calling description tools publish about
// themselves.
type functionSchema struct {
	Type     string        `json:"type"`
	Function *functionSpec `json:"function"`
	functionSpec
}

type functionSpec struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  struct {
		Properties map[string]struct {
			Type        string `json:"type"`
			Description string `json:"description"`
			Enum        []any  `json:"enum"`
		} `json:"properties"`
		Required []string `json:"required"`
	} `json:"parameters"`
}

// ParseFunctionSchema converts a function-calling description, either
// wrapped as {"type":"function","function":{...}} or bare, into metadata.
func ParseFunctionSchema(data []byte) (*ActionMetadata, error) {
	var fs functionSchema
	if err := json.Unmarshal(data, &fs); err != nil {
		return nil, fmt.Errorf("parse function schema: %w", err)
	}
	spec := &fs.functionSpec
	if fs.Function != nil {
		spec = fs.Function
	}
	if spec.Name == "" {
		return nil, fmt.Errorf("parse function schema: missing function name")
	}

	meta := &ActionMetadata{
		Name:        spec.Name,
		Description: spec.Description,
		Parameters:  make(map[string]ParamDef, len(spec.Parameters.Properties)),
		Required:    append([]string(nil), spec.Parameters.Required...),
	}
	required := make(map[string]bool, len(meta.Required))
	for _, r := range meta.Required {
		required[r] = true
	}
	for name, prop := range spec.Parameters.Properties {
		meta.Parameters[name] = ParamDef{
			Type:        prop.Type,
			Required:    required[name],
			Description: prop.Description,
			Enum:        prop.Enum,
		}
	}
	return meta, nil
}
