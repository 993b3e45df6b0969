package config

import "time"

// Tier3TimeoutPolicy decides what happens when a tier-3 SOP patch preview
// expires without an operator decision.
type Tier3TimeoutPolicy string

const (
	// Tier3Skip drops the pending patch when the preview TTL expires.
	Tier3Skip Tier3TimeoutPolicy = "skip"
	// Tier3Commit commits the pending patch when the preview TTL expires.
	Tier3Commit Tier3TimeoutPolicy = "commit"
)

// IsValid checks if the timeout policy is a known value.
func (p Tier3TimeoutPolicy) IsValid() bool {
	return p == Tier3Skip || p == Tier3Commit
}

// RTLConfig controls the real-time learning pipeline: detection relays,
// the async queue, and propagation behavior.
type RTLConfig struct {
	// CorrectionKeywords are scanned (case-insensitive) in user messages
	// that arrive shortly after a tool call.
	CorrectionKeywords []string `yaml:"correction_keywords"`

	// CorrectionScanWindowMS bounds how long after a tool call a user
	// message is still considered a possible correction of it.
	CorrectionScanWindowMS int64 `yaml:"correction_scan_window_ms"`

	// RecurrenceWindowDays is the lookback for same-root-cause recurrence
	// detection after a propagation completes.
	RecurrenceWindowDays int `yaml:"recurrence_window_days"`

	// PreviewTTLMinutes is how long a tier-3 SOP patch preview stays
	// actionable before Tier3DefaultOnTimeout applies.
	PreviewTTLMinutes int `yaml:"preview_ttl_minutes"`

	// Tier3DefaultOnTimeout is the action taken when a preview expires.
	Tier3DefaultOnTimeout Tier3TimeoutPolicy `yaml:"tier3_default_on_timeout"`

	// SOPDirectory is the only directory the SOP patcher may write into.
	SOPDirectory string `yaml:"sop_directory"`

	// QueueCapacity bounds the detection queue. Enqueue never blocks;
	// detections beyond capacity are dropped with an error metric.
	QueueCapacity int `yaml:"queue_capacity"`
}

// CorrectionScanWindow returns the scan window as a Duration.
func (c *RTLConfig) CorrectionScanWindow() time.Duration {
	return time.Duration(c.CorrectionScanWindowMS) * time.Millisecond
}

// PreviewTTL returns the tier-3 preview TTL as a Duration.
func (c *RTLConfig) PreviewTTL() time.Duration {
	return time.Duration(c.PreviewTTLMinutes) * time.Minute
}

// RecurrenceWindow returns the recurrence lookback as a Duration.
func (c *RTLConfig) RecurrenceWindow() time.Duration {
	return time.Duration(c.RecurrenceWindowDays) * 24 * time.Hour
}

// DefaultRTLConfig returns the built-in RTL defaults.
func DefaultRTLConfig() *RTLConfig {
	return &RTLConfig{
		CorrectionKeywords: []string{
			"wrong", "incorrect", "not what i", "should be", "should have",
			"actually", "that's not", "don't do that", "undo", "revert",
			"wrong path", "wrong file",
		},
		CorrectionScanWindowMS: 120_000,
		RecurrenceWindowDays:   14,
		PreviewTTLMinutes:      60,
		Tier3DefaultOnTimeout:  Tier3Skip,
		SOPDirectory:           "./sop",
		QueueCapacity:          256,
	}
}
