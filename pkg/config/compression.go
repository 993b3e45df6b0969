package config

import "time"

// CompressionConfig controls the knowledge-compression pass: clustering of
// short-term memories, LLM distillation, and atom enrichment.
type CompressionConfig struct {
	// ClusterMinMembers is the minimum cluster size eligible for
	// distillation.
	ClusterMinMembers int `yaml:"cluster_min_members"`

	// ClusterSimilarityThreshold is the minimum average pairwise
	// similarity within a cluster.
	ClusterSimilarityThreshold float64 `yaml:"cluster_similarity_threshold"`

	// MinCompressionRatio is the hard floor below which a distillation
	// is refused (PolicyRefusal, not an error).
	MinCompressionRatio float64 `yaml:"min_compression_ratio"`

	// AtomDedupSimilarity is the similarity above which a derived atom is
	// considered a duplicate of an existing one and skipped.
	AtomDedupSimilarity float64 `yaml:"atom_dedup_similarity"`

	// MinMemoryAge excludes recent memories from clustering; only rows
	// older than this are scanned.
	MinMemoryAge time.Duration `yaml:"min_memory_age"`

	// MaxClusterTokens bounds the total token estimate of a cluster so a
	// single distillation prompt stays within model limits.
	MaxClusterTokens int `yaml:"max_cluster_tokens"`

	// ReportsDir is where per-run JSON report artifacts are written.
	ReportsDir string `yaml:"reports_dir"`
}

// DefaultCompressionConfig returns the built-in compression defaults.
func DefaultCompressionConfig() *CompressionConfig {
	return &CompressionConfig{
		ClusterMinMembers:          3,
		ClusterSimilarityThreshold: 0.72,
		MinCompressionRatio:        1.5,
		AtomDedupSimilarity:        0.85,
		MinMemoryAge:               48 * time.Hour,
		MaxClusterTokens:           4000,
		ReportsDir:                 "./reports",
	}
}
