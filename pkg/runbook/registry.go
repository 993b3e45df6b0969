package runbook

import (
	"fmt"
	"sort"
	"sync"

	"github.com/heliosarchitect/axon/pkg/anomaly"
)

// Registry holds the registered runbook definitions.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewRegistry creates an empty definition registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// Register adds a definition. Duplicate IDs are rejected.
func (r *Registry) Register(d *Definition) error {
	if d == nil || d.ID == "" {
		return fmt.Errorf("runbook definition must have an ID")
	}
	if d.Build == nil {
		return fmt.Errorf("runbook %s has no step builder", d.ID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[d.ID]; exists {
		return fmt.Errorf("runbook %q already registered", d.ID)
	}
	r.defs[d.ID] = d
	return nil
}

// Get returns the definition for an ID.
func (r *Registry) Get(id string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[id]
	return d, ok
}

// ForAnomaly resolves the definition for an anomaly: the remediation
// hint wins when it names a registered runbook that applies; otherwise
// the first applicable definition by ID order.
func (r *Registry) ForAnomaly(a anomaly.Anomaly) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if a.RemediationHint != "" {
		if d, ok := r.defs[a.RemediationHint]; ok && d.Applies(a.Type) {
			return d, true
		}
	}
	ids := make([]string, 0, len(r.defs))
	for id := range r.defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if d := r.defs[id]; d.Applies(a.Type) {
			return d, true
		}
	}
	return nil, false
}

// All returns every definition, sorted by ID.
func (r *Registry) All() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
