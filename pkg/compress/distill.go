package compress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/heliosarchitect/axon/pkg/config"
	"github.com/heliosarchitect/axon/pkg/cortex"
)

const distillSystem = `You compress an AI agent's related short-term memories into one
abstraction. Respond with a single JSON object and nothing else:
{"abstraction": "<one dense paragraph capturing the shared insight>",
 "compression_ratio": <number>, "is_causal": <bool>,
 "categories": ["<optional refined categories>"]}
Keep the abstraction faithful; do not invent facts absent from the inputs.`

// Distillation is the validated model output for one cluster.
type Distillation struct {
	Abstraction      string   `json:"abstraction"`
	CompressionRatio float64  `json:"compression_ratio"`
	IsCausal         bool     `json:"is_causal"`
	Categories       []string `json:"categories,omitempty"`

	// Recomputed from actual token estimates; the model-reported ratio
	// is advisory only.
	TokensBefore int `json:"tokens_before"`
	TokensAfter  int `json:"tokens_after"`
}

// Ratio is the recomputed compression ratio.
func (d *Distillation) Ratio() float64 {
	if d.TokensAfter == 0 {
		return 0
	}
	return float64(d.TokensBefore) / float64(d.TokensAfter)
}

// Refusal is the non-error outcome when a distillation does not clear
// the ratio floor. The cluster is left untouched.
type Refusal struct {
	Reason string
	Ratio  float64
}

// Distiller turns a cluster into a compressed abstraction via the
// shared model router.
type Distiller struct {
	router *cortex.Router
	cfg    *config.CompressionConfig
	logger *slog.Logger
}

// NewDistiller wires the distiller over the router.
func NewDistiller(router *cortex.Router, cfg *config.CompressionConfig) *Distiller {
	return &Distiller{
		router: router,
		cfg:    cfg,
		logger: slog.Default().With("component", "distiller"),
	}
}

// Distill issues one model call for the cluster and validates the JSON
// response. Exactly one of the three results is populated: a valid
// distillation above the ratio floor, a refusal below it, or an error
// for transport and validation failures.
func (d *Distiller) Distill(ctx context.Context, cl *Cluster, members []MemoryRecord) (*Distillation, *Refusal, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Compress these %d related memories (dominant category %q):\n\n",
		len(members), cl.DominantCategory)
	for i, m := range members {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, m.Content)
	}

	resp, err := d.router.Complete(ctx, cortex.Request{
		Task:   "distill",
		System: distillSystem,
		Prompt: sb.String(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("distill cluster %s: %w", cl.ID, err)
	}

	dist, err := parseDistillation(resp.Text)
	if err != nil {
		return nil, nil, fmt.Errorf("distill cluster %s: %w", cl.ID, err)
	}

	dist.TokensBefore = cl.TotalTokens
	dist.TokensAfter = estimateTokens(dist.Abstraction)
	if ratio := dist.Ratio(); ratio < d.cfg.MinCompressionRatio {
		d.logger.Info("Distillation refused below ratio floor",
			"cluster", cl.ID, "ratio", ratio, "floor", d.cfg.MinCompressionRatio)
		return nil, &Refusal{
			Reason: fmt.Sprintf("compression ratio %.2f below floor %.2f", ratio, d.cfg.MinCompressionRatio),
			Ratio:  ratio,
		}, nil
	}
	return dist, nil, nil
}

// parseDistillation extracts and validates the JSON object from the
// model text, tolerating surrounding prose and code fences.
func parseDistillation(text string) (*Distillation, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in model response")
	}
	var dist Distillation
	if err := json.Unmarshal([]byte(text[start:end+1]), &dist); err != nil {
		return nil, fmt.Errorf("decode distillation JSON: %w", err)
	}
	if strings.TrimSpace(dist.Abstraction) == "" {
		return nil, fmt.Errorf("distillation missing abstraction")
	}
	return &dist, nil
}
