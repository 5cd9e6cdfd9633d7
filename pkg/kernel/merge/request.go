package merge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ormasoftchile/tasksmith/pkg/kernel/schema"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/value"
)

// Request asks for one scenario run inside an execution merge.
type Request struct {
	Scenario    string                 `yaml:"scenario"                 json:"scenario"`
	Environment string                 `yaml:"environment"              json:"environment"`
	Interface   int                    `yaml:"interface"                json:"interface"`
	Params      map[string]value.Value `yaml:"params,omitempty"         json:"params,omitempty"`
	// Mappings feed parameters from scenarios that ran earlier in the same
	// merge. Sources are written "<scenario>.<stepId|@action|field>[.path]".
	Mappings      Mappings `yaml:"mappings,omitempty"       json:"mappings,omitempty"`
	ReuseSnapshot bool     `yaml:"reuse_snapshot,omitempty" json:"reuse_snapshot,omitempty"`
}

// Validate checks the request before anything runs.
func (r Request) Validate() error {
	var errs []error
	if r.Scenario == "" {
		errs = append(errs, errors.New("scenario is required"))
	}
	if r.Environment == "" {
		errs = append(errs, errors.New("environment is required"))
	}
	if r.Interface < schema.MinInterface || r.Interface > schema.MaxInterface {
		errs = append(errs, fmt.Errorf("interface %d out of range [%d, %d]", r.Interface, schema.MinInterface, schema.MaxInterface))
	}
	for i, m := range r.Mappings {
		if m.Target == "" || m.Source == "" {
			errs = append(errs, fmt.Errorf("mappings[%d]: target and source are required", i))
		}
	}
	return errors.Join(errs...)
}

// Mapping binds a target parameter to a source spec.
type Mapping struct {
	Target string `yaml:"target" json:"target"`
	Source string `yaml:"source" json:"source"`
}

// Mappings keeps declaration order. Both document forms are accepted:
//
//	mappings: {user_id: onboarding.find_user.user_id}
//	mappings: [{target: user_id, source: onboarding.find_user.user_id}]
type Mappings []Mapping

// UnmarshalYAML implements yaml.Unmarshaler.
func (m *Mappings) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.MappingNode:
		out := make(Mappings, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			k, v := node.Content[i], node.Content[i+1]
			if v.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: mapping source for %q must be a string", v.Line, k.Value)
			}
			out = append(out, Mapping{Target: k.Value, Source: v.Value})
		}
		*m = out
		return nil
	case yaml.SequenceNode:
		var list []Mapping
		if err := node.Decode(&list); err != nil {
			return err
		}
		*m = list
		return nil
	}
	return fmt.Errorf("line %d: mappings must be a map or a list", node.Line)
}

// UnmarshalJSON implements json.Unmarshaler, keeping object key order.
func (m *Mappings) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var list []Mapping
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*m = list
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*m = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("mappings must be an object or an array")
	}
	var out Mappings
	for dec.More() {
		k, err := dec.Token()
		if err != nil {
			return err
		}
		var src string
		if err := dec.Decode(&src); err != nil {
			return fmt.Errorf("mapping source for %v: %w", k, err)
		}
		out = append(out, Mapping{Target: k.(string), Source: src})
	}
	*m = out
	return nil
}

// LoadRequests reads a YAML list of requests.
func LoadRequests(r io.Reader) ([]Request, error) {
	var reqs []Request
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&reqs); err != nil {
		return nil, fmt.Errorf("decode merge requests: %w", err)
	}
	return reqs, nil
}

// LoadRequestsFile is LoadRequests for a file.
func LoadRequestsFile(path string) ([]Request, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open merge requests: %w", err)
	}
	defer f.Close()
	return LoadRequests(f)
}
