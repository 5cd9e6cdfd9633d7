package schema

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// SchemaID is the $id of the generated scenario/v0 schema.
const SchemaID = "https://github.com/ormasoftchile/tasksmith/schemas/scenario-v0.json"

// GenerateScenarioJSONSchema produces a JSON Schema Draft 2020-12 document
// from the scenario/v0 Go types.
func GenerateScenarioJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	s := r.Reflect(&Scenario{})
	s.ID = SchemaID
	s.Title = "Scenario (scenario/v0)"
	s.Description = "Schema for scenario/v0 workflow YAML documents (Draft 2020-12)"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal scenario schema: %w", err)
	}
	return data, nil
}
