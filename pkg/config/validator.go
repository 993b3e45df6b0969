package config

import (
	"fmt"
	"strings"
)

// Validate checks cross-field and range constraints. It collects all
// problems so operators see the full list in one pass.
func (c *Config) Validate() error {
	var problems []string

	h := c.Healing
	if h.ConfidenceAutoExecute < 0 || h.ConfidenceAutoExecute > 1 {
		problems = append(problems, "healing.confidence_auto_execute must be in [0,1]")
	}
	if h.DryRunGraduationCount < 1 {
		problems = append(problems, "healing.dry_run_graduation_count must be >= 1")
	}
	if h.MinClearReadings < 1 {
		problems = append(problems, "healing.min_clear_readings must be >= 1")
	}

	r := c.RTL
	if !r.Tier3DefaultOnTimeout.IsValid() {
		problems = append(problems, fmt.Sprintf(
			"rtl.tier3_default_on_timeout must be %q or %q, got %q",
			Tier3Skip, Tier3Commit, r.Tier3DefaultOnTimeout))
	}
	if r.SOPDirectory == "" {
		problems = append(problems, "rtl.sop_directory must not be empty")
	}
	if r.QueueCapacity < 1 {
		problems = append(problems, "rtl.queue_capacity must be >= 1")
	}

	k := c.Compression
	if k.ClusterMinMembers < 2 {
		problems = append(problems, "compression.cluster_min_members must be >= 2")
	}
	if k.ClusterSimilarityThreshold <= 0 || k.ClusterSimilarityThreshold > 1 {
		problems = append(problems, "compression.cluster_similarity_threshold must be in (0,1]")
	}
	if k.MinCompressionRatio < 1 {
		problems = append(problems, "compression.min_compression_ratio must be >= 1")
	}

	p := c.Pattern
	if p.MatchThreshold <= 0 || p.MatchThreshold > 1 {
		problems = append(problems, "pattern.match_threshold must be in (0,1]")
	}
	if p.TopNPerPair < 1 {
		problems = append(problems, "pattern.top_n_per_pair must be >= 1")
	}

	s := c.Session
	if s.RelevanceThreshold < 0 || s.RelevanceThreshold > 1 {
		problems = append(problems, "session.relevance_threshold must be in [0,1]")
	}
	if s.DecayMinFloor < 0 || s.DecayMinFloor > 1 {
		problems = append(problems, "session.decay_min_floor must be in [0,1]")
	}

	x := c.Cortex
	if x.DefaultModel == "" {
		problems = append(problems, "cortex.default_model must not be empty")
	}
	if x.MaxAttempts < 1 {
		problems = append(problems, "cortex.max_attempts must be >= 1")
	}

	if c.Store.Path == "" {
		problems = append(problems, "store.path must not be empty")
	}
	if c.Store.MetricsPath == c.Store.Path {
		problems = append(problems, "store.metrics_path must differ from store.path")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%d problem(s):\n  - %s",
			len(problems), strings.Join(problems, "\n  - "))
	}
	return nil
}
