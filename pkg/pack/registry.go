// Package pack holds the data-driven pack registry: one Definition per
// domain namespace mapping it to its enumerated action types, its static
// option template table, its mandated safety actions and its capability
// snapshot schema.
//
// Pipeline logic stays pack-agnostic; only the registry data varies per
// domain. Option instantiation is a pure function of (action_type, pack).
package pack

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/tracelight-io/tracelight/pkg/contracts"
)

// NoAction is the mandatory resolution action present in every pack.
// Every exception's option list includes it.
const NoAction = "no_action"

// OptionTemplate is one row of a pack's static template table. Options are
// instantiated from these rows and from nothing else; current user or
// incident state never leaks in.
type OptionTemplate struct {
	ActionType       string                 `yaml:"action_type" json:"action_type"`
	Label            string                 `yaml:"label" json:"label"`
	Description      string                 `yaml:"description" json:"description"`
	Reversibility    contracts.Reversibility `yaml:"reversibility" json:"reversibility"`
	RiskAnnotations  []string               `yaml:"risk_annotations" json:"risk_annotations,omitempty"`
	Implications     []string               `yaml:"implications" json:"implications,omitempty"`
	PolicyReferences []string               `yaml:"policy_references" json:"policy_references"`
	HardOverride     bool                   `yaml:"hard_override" json:"hard_override,omitempty"`
}

// Definition describes one pack.
type Definition struct {
	Name string `yaml:"name"`

	// AllowedActionTypes is the domain's enumerated action set. Options
	// outside this set are a contract violation.
	AllowedActionTypes []string `yaml:"allowed_action_types"`

	// SafetyActionTypes are pack-mandated actions added to every option
	// set regardless of what the policy version licenses.
	SafetyActionTypes []string `yaml:"safety_action_types"`

	Templates []OptionTemplate `yaml:"templates"`

	// SnapshotSchema is the JSON Schema for this pack's capability
	// snapshots, enforced at signal ingestion.
	SnapshotSchema string `yaml:"snapshot_schema"`
}

// Registry maps pack names to definitions.
type Registry struct {
	mu      sync.RWMutex
	packs   map[string]*Definition
	schemas map[string]*jsonschema.Schema
	byType  map[string]map[string]*OptionTemplate
}

// NewRegistry returns a registry pre-loaded with the built-in packs.
func NewRegistry() (*Registry, error) {
	r := &Registry{
		packs:   make(map[string]*Definition),
		schemas: make(map[string]*jsonschema.Schema),
		byType:  make(map[string]map[string]*OptionTemplate),
	}
	for _, def := range builtinPacks() {
		if err := r.Register(def); err != nil {
			return nil, fmt.Errorf("builtin pack %s: %w", def.Name, err)
		}
	}
	return r, nil
}

// Register validates and installs a pack definition.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("%w: pack name is empty", contracts.ErrValidation)
	}

	allowed := make(map[string]bool, len(def.AllowedActionTypes)+1)
	for _, at := range def.AllowedActionTypes {
		allowed[at] = true
	}
	if !allowed[NoAction] {
		return fmt.Errorf("%w: pack %s does not enumerate %q", contracts.ErrValidation, def.Name, NoAction)
	}
	for _, at := range def.SafetyActionTypes {
		if !allowed[at] {
			return fmt.Errorf("%w: pack %s safety action %q outside enumerated set", contracts.ErrValidation, def.Name, at)
		}
	}

	templates := make(map[string]*OptionTemplate, len(def.Templates))
	for i := range def.Templates {
		t := &def.Templates[i]
		if !allowed[t.ActionType] {
			return fmt.Errorf("%w: pack %s template %q outside enumerated set", contracts.ErrValidation, def.Name, t.ActionType)
		}
		if !t.Reversibility.Valid() {
			return fmt.Errorf("%w: pack %s template %q has invalid reversibility %q", contracts.ErrValidation, def.Name, t.ActionType, t.Reversibility)
		}
		if len(t.PolicyReferences) == 0 {
			return fmt.Errorf("%w: pack %s template %q has no policy references", contracts.ErrValidation, def.Name, t.ActionType)
		}
		templates[t.ActionType] = t
	}
	if _, ok := templates[NoAction]; !ok {
		return fmt.Errorf("%w: pack %s has no %q template", contracts.ErrValidation, def.Name, NoAction)
	}

	var schema *jsonschema.Schema
	if def.SnapshotSchema != "" {
		compiled, err := jsonschema.CompileString(def.Name+"/capability_snapshot.json", def.SnapshotSchema)
		if err != nil {
			return fmt.Errorf("%w: pack %s snapshot schema: %v", contracts.ErrValidation, def.Name, err)
		}
		schema = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	d := def
	r.packs[def.Name] = &d
	r.byType[def.Name] = templates
	if schema != nil {
		r.schemas[def.Name] = schema
	}
	return nil
}

// Get returns the definition for a pack name.
func (r *Registry) Get(name string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.packs[name]
	if !ok {
		return nil, fmt.Errorf("%w: pack %s", contracts.ErrNotFound, name)
	}
	return def, nil
}

// Template returns the static template for (pack, actionType).
func (r *Registry) Template(pack, actionType string) (*OptionTemplate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	templates, ok := r.byType[pack]
	if !ok {
		return nil, fmt.Errorf("%w: pack %s", contracts.ErrNotFound, pack)
	}
	t, ok := templates[actionType]
	if !ok {
		return nil, fmt.Errorf("%w: pack %s has no template for %s", contracts.ErrNotFound, pack, actionType)
	}
	return t, nil
}

// Allowed reports whether actionType belongs to the pack's enumerated set.
func (r *Registry) Allowed(pack, actionType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.packs[pack]
	if !ok {
		return false
	}
	for _, at := range def.AllowedActionTypes {
		if at == actionType {
			return true
		}
	}
	return false
}

// ValidateSnapshot checks a capability snapshot against the pack's schema.
// Runs at signal ingestion; evaluation never validates (or fetches) state.
func (r *Registry) ValidateSnapshot(pack string, snapshot json.RawMessage) error {
	r.mu.RLock()
	schema, ok := r.schemas[pack]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	var v any
	if err := json.Unmarshal(snapshot, &v); err != nil {
		return fmt.Errorf("%w: snapshot is not valid JSON: %v", contracts.ErrValidation, err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("%w: snapshot schema violation: %v", contracts.ErrValidation, err)
	}
	return nil
}
