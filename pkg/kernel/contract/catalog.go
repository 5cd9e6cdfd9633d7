package contract

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// APIVersionCatalog is the apiVersion of tool catalog documents.
const APIVersionCatalog = "catalog/v0"

// Catalog is a static MetadataProvider loaded from a YAML document.
//
//	apiVersion: catalog/v0
//	actions:
//	  create_department:
//	    description: Create a department
//	    interfaces: [1, 2]       # optional; empty means every interface
//	    parameters:
//	      name: {type: string, required: true}
type Catalog struct {
	APIVersion string                  `yaml:"apiVersion"`
	Actions    map[string]CatalogEntry `yaml:"actions"`
}

// CatalogEntry is one action in a Catalog.
type CatalogEntry struct {
	Description  string              `yaml:"description,omitempty"`
	Environments []string            `yaml:"environments,omitempty"`
	Interfaces   []int               `yaml:"interfaces,omitempty"`
	Parameters   map[string]ParamDef `yaml:"parameters,omitempty"`
}

// LoadCatalogFile reads a catalog from disk.
func LoadCatalogFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return LoadCatalog(f)
}

// LoadCatalog decodes a catalog, rejecting unknown fields.
func LoadCatalog(r io.Reader) (*Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("structural decode: %w", err)
	}
	if c.APIVersion != APIVersionCatalog {
		return nil, fmt.Errorf("unsupported catalog apiVersion %q (want %s)", c.APIVersion, APIVersionCatalog)
	}
	return &c, nil
}

// Metadata implements MetadataProvider.
func (c *Catalog) Metadata(_ context.Context, action, env string, iface int) (*ActionMetadata, error) {
	entry, ok := c.Actions[action]
	if !ok || !entry.serves(env, iface) {
		return nil, fmt.Errorf("%w: %s (env %s, interface %d)", ErrActionNotFound, action, env, iface)
	}
	meta := &ActionMetadata{
		Name:        action,
		Description: entry.Description,
		Parameters:  make(map[string]ParamDef, len(entry.Parameters)),
	}
	for name, p := range entry.Parameters {
		meta.Parameters[name] = p
		if p.Required {
			meta.Required = append(meta.Required, name)
		}
	}
	sort.Strings(meta.Required)
	return meta, nil
}

// Names returns the sorted action names in the catalog.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.Actions))
	for n := range c.Actions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (e CatalogEntry) serves(env string, iface int) bool {
	if len(e.Environments) > 0 && !containsFold(e.Environments, env) {
		return false
	}
	if len(e.Interfaces) == 0 {
		return true
	}
	for _, i := range e.Interfaces {
		if i == iface {
			return true
		}
	}
	return false
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}

// cacheKey identifies one metadata lookup.
func cacheKey(action, env string, iface int) string {
	return env + "/" + strconv.Itoa(iface) + "/" + action
}
