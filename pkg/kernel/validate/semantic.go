package validate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/ormasoftchile/tasksmith/pkg/kernel/schema"
)

var (
	compileOnce sync.Once
	compiled    *sjsonschema.Schema
	compileErr  error
)

// scenarioSchema compiles the generated scenario/v0 schema once.
func scenarioSchema() (*sjsonschema.Schema, error) {
	compileOnce.Do(func() {
		raw, err := schema.GenerateScenarioJSONSchema()
		if err != nil {
			compileErr = err
			return
		}
		doc, err := sjsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			compileErr = fmt.Errorf("unmarshal schema: %w", err)
			return
		}
		c := sjsonschema.NewCompiler()
		if err := c.AddResource(schema.SchemaID, doc); err != nil {
			compileErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		compiled, compileErr = c.Compile(schema.SchemaID)
	})
	return compiled, compileErr
}

// validateSemantic checks the decoded scenario against the JSON Schema
// generated from the Go types.
func validateSemantic(sc *schema.Scenario) []*ValidationError {
	sch, err := scenarioSchema()
	if err != nil {
		return []*ValidationError{errorf(PhaseSemantic, "", "compile schema: %s", err)}
	}

	data, err := json.Marshal(sc)
	if err != nil {
		return []*ValidationError{errorf(PhaseSemantic, "", "marshal for schema validation: %s", err)}
	}
	doc, err := sjsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return []*ValidationError{errorf(PhaseSemantic, "", "unmarshal document: %s", err)}
	}

	err = sch.Validate(doc)
	if err == nil {
		return nil
	}
	var ve *sjsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []*ValidationError{errorf(PhaseSemantic, "", "%s", err)}
	}
	var errs []*ValidationError
	for _, cause := range flattenValidationErrors(ve) {
		errs = append(errs, errorf(PhaseSemantic, instancePath(cause.InstanceLocation), "%v", cause.ErrorKind))
	}
	return errs
}

// instancePath renders ["steps","0","id"] as steps[0].id.
func instancePath(loc []string) string {
	var b strings.Builder
	for _, seg := range loc {
		if isIndex(seg) {
			b.WriteString("[" + seg + "]")
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(seg)
	}
	return b.String()
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
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

func stepPath(i int) string {
	return fmt.Sprintf("steps[%d]", i)
}
