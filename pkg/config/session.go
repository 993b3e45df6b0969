package config

import "time"

// SessionConfig controls end-of-session preservation and start-of-session
// context restoration.
type SessionConfig struct {
	// LookbackDays is how far back prior session snapshots are scanned
	// at restore time.
	LookbackDays int `yaml:"lookback_days"`

	// RelevanceThreshold is the minimum relevance score a prior session
	// needs to contribute to the preamble.
	RelevanceThreshold float64 `yaml:"relevance_threshold"`

	// MaxSessionsScored caps how many prior sessions are ranked.
	MaxSessionsScored int `yaml:"max_sessions_scored"`

	// MaxInheritedPins caps pinned context items carried into the preamble.
	MaxInheritedPins int `yaml:"max_inherited_pins"`

	// DecayMinFloor is the lower bound of the confidence decay factor
	// applied to inherited learnings at read time.
	DecayMinFloor float64 `yaml:"decay_min_floor"`

	// SessionDir is where session snapshot JSON documents are written.
	SessionDir string `yaml:"session_dir"`
}

// Lookback returns the restore lookback as a Duration.
func (c *SessionConfig) Lookback() time.Duration {
	return time.Duration(c.LookbackDays) * 24 * time.Hour
}

// DefaultSessionConfig returns the built-in session defaults.
func DefaultSessionConfig() *SessionConfig {
	return &SessionConfig{
		LookbackDays:       7,
		RelevanceThreshold: 0.35,
		MaxSessionsScored:  20,
		MaxInheritedPins:   8,
		DecayMinFloor:      0.3,
		SessionDir:         "./sessions",
	}
}
