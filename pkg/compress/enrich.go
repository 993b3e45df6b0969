package compress

import (
	"context"
	"fmt"

	"github.com/heliosarchitect/axon/pkg/atoms"
	"github.com/heliosarchitect/axon/pkg/config"
)

// enrichConfidence is deliberately below live-observation atoms; a
// distilled abstraction is one inference removed from the events.
const enrichConfidence = 0.7

// Enricher derives a causal atom from a compression when the model
// flagged the abstraction as causal.
type Enricher struct {
	atoms *atoms.Store
	cfg   *config.CompressionConfig
}

// NewEnricher wires the enricher over the atom store.
func NewEnricher(store *atoms.Store, cfg *config.CompressionConfig) *Enricher {
	return &Enricher{atoms: store, cfg: cfg}
}

// Enrich appends a causal atom for the compressed record, deduplicated
// against existing atoms. Returns the atom and whether a new one was
// inserted; (nil, false) when the distillation was not causal.
func (e *Enricher) Enrich(ctx context.Context, compressed *MemoryRecord, cl *Cluster, dist *Distillation) (*atoms.Atom, bool, error) {
	if !dist.IsCausal {
		return nil, false, nil
	}
	subject := "compression:" + cl.DominantCategory
	if cl.DominantCategory == "" {
		subject = "compression:general"
	}
	atom := atoms.Atom{
		Subject:      subject,
		Action:       fmt.Sprintf("distilled %d memories into one abstraction", len(cl.MemberIDs)),
		Outcome:      dist.Abstraction,
		Consequences: "sources archived behind " + compressed.ID,
		Confidence:   enrichConfidence,
		Source:       "compression",
		Categories:   compressed.Categories,
	}
	return e.atoms.AppendDedup(ctx, atom, e.cfg.AtomDedupSimilarity)
}
