package schema

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile reads and structurally decodes a scenario/v0 YAML document.
// Returns a structural error if the YAML contains unknown fields.
func LoadFile(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open scenario: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load reads a scenario/v0 document from a reader.
func Load(r io.Reader) (*Scenario, error) {
	var sc Scenario
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true) // strict: reject unknown fields
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("structural decode: %w", err)
	}
	return &sc, nil
}

// LoadBytes is Load for in-memory documents.
func LoadBytes(data []byte) (*Scenario, error) {
	return Load(bytes.NewReader(data))
}

// IsScenarioDocument reports whether data declares apiVersion scenario/v0.
// Used when scanning directories that mix scenario documents with other YAML.
func IsScenarioDocument(data []byte) bool {
	var head struct {
		APIVersion string `yaml:"apiVersion"`
	}
	if err := yaml.Unmarshal(data, &head); err != nil {
		return false
	}
	return head.APIVersion == APIVersionScenario
}
