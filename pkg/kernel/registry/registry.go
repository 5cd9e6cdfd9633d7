// Package registry holds the scenario catalog: one factory per
// (environment, interface, name), turning caller parameters into a runnable
// scenario instance.
package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ormasoftchile/tasksmith/pkg/kernel/schema"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/value"
)

var (
	// ErrScenarioNotFound is returned for a name the registry does not know.
	ErrScenarioNotFound = errors.New("scenario not found")
	// ErrInvalidParams is returned when required inputs are missing or blank.
	ErrInvalidParams = errors.New("invalid scenario parameters")
)

// Instance is a scenario ready to run with its effective parameters.
type Instance struct {
	Scenario *schema.Scenario
	Params   map[string]value.Value
}

// Factory builds an Instance from caller parameters.
type Factory func(params map[string]value.Value) (*Instance, error)

// Info describes a registered scenario.
type Info struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Category    string            `json:"category,omitempty"`
	Environment string            `json:"environment"`
	Interface   int               `json:"interface"`
	Inputs      []schema.InputDef `json:"inputs,omitempty"`
	Steps       int               `json:"steps"`
	Source      string            `json:"source,omitempty"`
}

type key struct {
	env   string
	iface int
	name  string
}

func keyOf(env string, iface int, name string) key {
	return key{env: env, iface: iface, name: strings.ToLower(name)}
}

type entry struct {
	info     Info
	template *schema.Scenario
	factory  Factory
}

// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[key]*entry
	log     *zap.Logger
}

// New creates an empty registry.
func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{entries: make(map[key]*entry), log: logger.Named("registry")}
}

// Register adds a scenario document with the default factory. A scenario
// registered twice under the same key replaces the earlier one.
func (r *Registry) Register(sc *schema.Scenario, source string) error {
	if err := sc.Validate(); err != nil {
		return fmt.Errorf("scenario %q: %w", sc.Meta.Name, err)
	}
	r.put(&entry{info: infoOf(sc, source), template: sc, factory: NewFactory(sc)})
	return nil
}

// RegisterFactory adds a scenario whose instances come from f. sc is the
// template reported by Template and used for step merging.
func (r *Registry) RegisterFactory(sc *schema.Scenario, f Factory) error {
	if err := sc.Validate(); err != nil {
		return fmt.Errorf("scenario %q: %w", sc.Meta.Name, err)
	}
	r.put(&entry{info: infoOf(sc, ""), template: sc, factory: f})
	return nil
}

func (r *Registry) put(e *entry) {
	k := keyOf(e.info.Environment, e.info.Interface, e.info.Name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.entries[k]; ok {
		r.log.Warn("scenario registered twice, keeping the later one",
			zap.String("scenario", e.info.Name),
			zap.String("previous", prev.info.Source),
			zap.String("source", e.info.Source))
	}
	r.entries[k] = e
}

// LoadDir registers every scenario/v0 document found under root. Other YAML
// files are ignored. Documents that fail to load are reported together; the
// valid ones are registered regardless.
func (r *Registry) LoadDir(root string) (int, error) {
	var (
		n    int
		errs []error
	)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, err)
			return nil
		}
		if !schema.IsScenarioDocument(data) {
			return nil
		}
		sc, err := schema.LoadBytes(data)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			return nil
		}
		if err := r.Register(sc, path); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			return nil
		}
		n++
		return nil
	})
	if err != nil {
		return n, fmt.Errorf("scan scenarios in %s: %w", root, err)
	}
	r.log.Info("loaded scenarios", zap.String("root", root), zap.Int("count", n), zap.Int("errors", len(errs)))
	return n, errors.Join(errs...)
}

// Environments lists the environments with at least one scenario, sorted.
func (r *Registry) Environments() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	for k := range r.entries {
		seen[k.env] = true
	}
	return sortedSet(seen)
}

// Interfaces lists the interfaces env has scenarios for, ascending.
func (r *Registry) Interfaces(env string) []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[int]bool)
	for k := range r.entries {
		if k.env == env {
			seen[k.iface] = true
		}
	}
	out := make([]int, 0, len(seen))
	for i := range seen {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// Scenarios lists the scenarios of env and iface sorted by name.
func (r *Registry) Scenarios(env string, iface int) []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Info
	for k, e := range r.entries {
		if k.env == env && k.iface == iface {
			out = append(out, e.info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup describes one scenario. Names match case-insensitively.
func (r *Registry) Lookup(env string, iface int, name string) (Info, error) {
	e, err := r.get(env, iface, name)
	if err != nil {
		return Info{}, err
	}
	return e.info, nil
}

// Template returns the scenario document behind a registration. Callers
// must not modify it.
func (r *Registry) Template(env string, iface int, name string) (*schema.Scenario, error) {
	e, err := r.get(env, iface, name)
	if err != nil {
		return nil, err
	}
	return e.template, nil
}

// Instantiate runs the scenario's factory with params.
func (r *Registry) Instantiate(env string, iface int, name string, params map[string]value.Value) (*Instance, error) {
	e, err := r.get(env, iface, name)
	if err != nil {
		return nil, err
	}
	return e.factory(params)
}

// Clear removes every registration.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.entries = make(map[key]*entry)
	r.mu.Unlock()
}

// Len reports the number of registered scenarios.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) get(env string, iface int, name string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[keyOf(env, iface, name)]; ok {
		return e, nil
	}
	var names []string
	for k, e := range r.entries {
		if k.env == env && k.iface == iface {
			names = append(names, e.info.Name)
		}
	}
	sort.Strings(names)
	return nil, fmt.Errorf("%w: %q for environment %q interface %d, available: [%s]",
		ErrScenarioNotFound, name, env, iface, strings.Join(names, ", "))
}

func infoOf(sc *schema.Scenario, source string) Info {
	return Info{
		Name:        sc.Meta.Name,
		Description: sc.Meta.Description,
		Category:    sc.Meta.Category,
		Environment: sc.Meta.Environment,
		Interface:   sc.Meta.Interface,
		Inputs:      sc.Inputs,
		Steps:       len(sc.Steps),
		Source:      source,
	}
}

func sortedSet(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for s := range m {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
