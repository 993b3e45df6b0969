package config

// PatternConfig controls the cross-domain pattern matcher.
type PatternConfig struct {
	// MatchThreshold is the maximum normalized vector distance at which
	// two fingerprints from different domains count as a match.
	MatchThreshold float64 `yaml:"match_threshold"`

	// TopNPerPair caps how many matches are kept per domain pair.
	TopNPerPair int `yaml:"top_n_per_pair"`

	// MaxRowsPerSource clamps how many rows each extractor reads.
	MaxRowsPerSource int `yaml:"max_rows_per_source"`

	// External read-only SQLite databases for the domain extractors.
	// An empty path disables that extractor.
	TradingDBPath string `yaml:"trading_db_path"`
	RadioDBPath   string `yaml:"radio_db_path"`
	FleetDBPath   string `yaml:"fleet_db_path"`
}

// DefaultPatternConfig returns the built-in pattern-matcher defaults.
func DefaultPatternConfig() *PatternConfig {
	return &PatternConfig{
		MatchThreshold:   0.35,
		TopNPerPair:      5,
		MaxRowsPerSource: 200,
	}
}
