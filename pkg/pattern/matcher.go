package pattern

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/heliosarchitect/axon/pkg/config"
	"github.com/heliosarchitect/axon/pkg/metrics"
)

// Matcher runs the cross-domain pass: extract, persist, pair, rank.
type Matcher struct {
	cfg        *config.PatternConfig
	extractors []Extractor
	store      *FingerprintStore
	sink       *metrics.Sink
	logger     *slog.Logger
}

// NewMatcher wires a matcher over its extractors.
func NewMatcher(cfg *config.PatternConfig, store *FingerprintStore, sink *metrics.Sink, extractors ...Extractor) *Matcher {
	return &Matcher{
		cfg:        cfg,
		extractors: extractors,
		store:      store,
		sink:       sink,
		logger:     slog.Default().With("component", "pattern-matcher"),
	}
}

// RunResult is one matcher pass.
type RunResult struct {
	RunID        string  `json:"run_id"`
	Fingerprints int     `json:"fingerprints"`
	Matches      []Match `json:"matches"`
}

// Run executes one full pass. Extractor failures skip that domain and
// keep the pass going.
func (m *Matcher) Run(ctx context.Context) (*RunResult, error) {
	start := time.Now()
	runID := ulid.Make().String()
	res := &RunResult{RunID: runID}

	byDomain := map[Domain][]Fingerprint{}
	for _, ex := range m.extractors {
		fps, err := ex.Extract(ctx, runID)
		if err != nil {
			m.logger.Warn("Extractor failed, domain skipped",
				"domain", ex.Domain(), "version", ex.Version(), "error", err)
			continue
		}
		for _, fp := range fps {
			if err := m.store.Insert(ctx, fp); err != nil {
				return nil, err
			}
		}
		byDomain[ex.Domain()] = append(byDomain[ex.Domain()], fps...)
		res.Fingerprints += len(fps)
	}

	domains := make([]Domain, 0, len(byDomain))
	for d := range byDomain {
		domains = append(domains, d)
	}
	sort.Slice(domains, func(i, j int) bool { return domains[i] < domains[j] })

	for i := 0; i < len(domains); i++ {
		for j := i + 1; j < len(domains); j++ {
			res.Matches = append(res.Matches,
				m.matchPair(byDomain[domains[i]], byDomain[domains[j]])...)
		}
	}

	m.sink.WriteDuration(ctx, "pattern_run", time.Since(start), map[string]string{
		"run_id":       runID,
		"fingerprints": fmt.Sprintf("%d", res.Fingerprints),
		"matches":      fmt.Sprintf("%d", len(res.Matches)),
	})
	m.logger.Info("Pattern run completed",
		"run_id", runID, "fingerprints", res.Fingerprints, "matches", len(res.Matches))
	return res, nil
}

// matchPair ranks all cross pairs of two domains by distance and keeps
// the closest TopNPerPair under the threshold.
func (m *Matcher) matchPair(as, bs []Fingerprint) []Match {
	var out []Match
	for _, a := range as {
		for _, b := range bs {
			d := Distance(a.Structure, b.Structure)
			if d > m.cfg.MatchThreshold {
				continue
			}
			out = append(out, Match{A: a, B: b, Distance: d, Metaphor: renderMetaphor(a, b)})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if len(out) > m.cfg.TopNPerPair {
		out = out[:m.cfg.TopNPerPair]
	}
	return out
}
