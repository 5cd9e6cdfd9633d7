// Package interfaces loads per-environment interface method mappings: which
// audit-log function each interface exposes and which actions are CRUD.
package interfaces

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ormasoftchile/tasksmith/pkg/kernel/value"
)

// MappingsFile is the per-environment file, relative to the environment dir.
const MappingsFile = "tools/interface_method_mappings.json"

// DefaultAuditFunction is used when the mappings name no audit function.
const DefaultAuditFunction = "manage_audit_logs"

// crudOperations are the keywords used when no category marks an action.
var crudOperations = []string{"create", "update", "delete", "remove"}

type mappingsDoc struct {
	IsAuditLog       any                       `json:"is_audit_log"`
	MethodMappings   map[string]map[string]any `json:"method_mappings"`
	MethodCategories map[string]struct {
		IsCrud any `json:"is_crud"`
	} `json:"method_categories"`
}

// Mappings is the parsed interface_method_mappings.json of one environment.
type Mappings struct {
	env        string
	autoAudit  bool
	audit      map[string]string // interface_N -> function
	categories map[string]string // function -> category
	crud       map[string]bool   // category -> is_crud
}

// Empty returns mappings for an environment without a mappings file.
func Empty(env string) *Mappings {
	return &Mappings{
		env:        env,
		audit:      map[string]string{},
		categories: map[string]string{},
		crud:       map[string]bool{},
	}
}

// Parse decodes an interface_method_mappings.json document.
func Parse(env string, data []byte) (*Mappings, error) {
	var doc mappingsDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse interface mappings for %q: %w", env, err)
	}

	m := Empty(env)
	if b, ok := doc.IsAuditLog.(bool); ok {
		m.autoAudit = b
	}
	for key, variants := range doc.MethodMappings {
		category, _ := variants["category"].(string)
		for name, fn := range variants {
			s, ok := fn.(string)
			if !ok || name == "category" {
				continue
			}
			if key == DefaultAuditFunction {
				m.audit[name] = s
			}
			if category != "" {
				m.categories[s] = category
			}
		}
	}
	for name, cat := range doc.MethodCategories {
		if b, ok := cat.IsCrud.(bool); ok {
			m.crud[name] = b
		}
	}
	return m, nil
}

// Environment returns the environment the mappings belong to.
func (m *Mappings) Environment() string { return m.env }

// AutoAudit reports whether the environment asks for audit-log actions after
// CRUD steps.
func (m *Mappings) AutoAudit() bool { return m.autoAudit }

// AuditFunction returns the audit-log function of interface iface.
func (m *Mappings) AuditFunction(iface int) string {
	if fn, ok := m.audit["interface_"+strconv.Itoa(iface)]; ok && fn != "" {
		return fn
	}
	return DefaultAuditFunction
}

// IsAuditFunction reports whether action is one of the audit-log functions.
func (m *Mappings) IsAuditFunction(action string) bool {
	if action == DefaultAuditFunction {
		return true
	}
	for _, fn := range m.audit {
		if fn == action {
			return true
		}
	}
	return false
}

// IsCrud reports whether action belongs to a category flagged is_crud.
func (m *Mappings) IsCrud(action string) bool {
	cat, ok := m.categories[action]
	if !ok {
		return false
	}
	return m.crud[cat]
}

// RequiresAudit decides whether an audit-log action must follow a step.
// The category flag wins; otherwise the action name or its action/operation
// argument must name a CRUD operation.
func (m *Mappings) RequiresAudit(action string, args map[string]value.Value) bool {
	if m.IsAuditFunction(action) {
		return false
	}
	if m.IsCrud(action) {
		return true
	}
	lower := strings.ToLower(action)
	for _, op := range crudOperations {
		if strings.Contains(lower, op) {
			return true
		}
	}
	return isCrudOperation(args["action"].Text()) || isCrudOperation(args["operation"].Text())
}

func isCrudOperation(s string) bool {
	s = strings.ToLower(s)
	for _, op := range crudOperations {
		if s == op {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Cache
// ---------------------------------------------------------------------------

// Cache loads and memoizes Mappings per environment. Safe for concurrent use.
type Cache struct {
	root string
	log  *zap.Logger

	mu      sync.RWMutex
	entries map[string]*Mappings
}

// NewCache returns a cache reading <root>/<env>/tools/interface_method_mappings.json.
func NewCache(root string, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		root:    root,
		log:     logger.Named("interfaces"),
		entries: make(map[string]*Mappings),
	}
}

// Load returns the mappings of env, reading them on first use. A missing
// file yields empty mappings.
func (c *Cache) Load(env string) (*Mappings, error) {
	c.mu.RLock()
	m, ok := c.entries[env]
	c.mu.RUnlock()
	if ok {
		return m, nil
	}

	path := filepath.Join(c.root, env, filepath.FromSlash(MappingsFile))
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		c.log.Debug("no interface mappings, auto-audit disabled", zap.String("env", env), zap.String("path", path))
		m = Empty(env)
	case err != nil:
		return nil, fmt.Errorf("read interface mappings: %w", err)
	default:
		m, err = Parse(env, data)
		if err != nil {
			return nil, err
		}
		c.log.Info("loaded interface mappings", zap.String("env", env), zap.Bool("auto_audit", m.autoAudit))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[env]; ok {
		return existing, nil
	}
	c.entries[env] = m
	return m, nil
}

// Reset drops every cached environment.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.entries = make(map[string]*Mappings)
	c.mu.Unlock()
}
