package probe

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the registered probes, keyed by source ID.
type Registry struct {
	mu     sync.RWMutex
	probes map[string]Probe
}

// NewRegistry creates an empty probe registry.
func NewRegistry() *Registry {
	return &Registry{probes: make(map[string]Probe)}
}

// Register adds a probe. Duplicate source IDs are rejected.
func (r *Registry) Register(p Probe) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := p.SourceID()
	if _, exists := r.probes[id]; exists {
		return fmt.Errorf("probe %q already registered", id)
	}
	r.probes[id] = p
	return nil
}

// Get returns the probe for a source ID.
func (r *Registry) Get(sourceID string) (Probe, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.probes[sourceID]
	return p, ok
}

// All returns every registered probe, sorted by source ID for
// deterministic scheduling.
func (r *Registry) All() []Probe {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Probe, 0, len(r.probes))
	for _, p := range r.probes {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID() < out[j].SourceID() })
	return out
}

// Len returns the number of registered probes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.probes)
}
