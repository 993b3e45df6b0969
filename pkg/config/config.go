// Package config loads, validates, and exposes the axond configuration.
//
// Configuration comes from a single axon.yaml file in the config directory,
// with environment variable expansion applied before parsing. Every option
// has a built-in default; an empty config directory yields a fully working
// (local, dry-run-only) setup.
package config

// Config is the umbrella configuration object returned by Initialize()
// and threaded through the application.
type Config struct {
	configDir string

	Healing     *HealingConfig
	RTL         *RTLConfig
	Compression *CompressionConfig
	Pattern     *PatternConfig
	Session     *SessionConfig
	Cortex      *CortexConfig
	Store       *StoreConfig
	Synapse     *SynapseConfig
	API         *APIConfig
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// Stats contains counts of configured items, for startup logging.
type Stats struct {
	ProbeOverrides      int
	CorrectionKeywords  int
	AutoExecuteRunbooks int
	FallbackModels      int
}

// Stats returns configuration statistics for logging/monitoring.
func (c *Config) Stats() Stats {
	s := Stats{}
	if c.Healing != nil {
		s.ProbeOverrides = len(c.Healing.ProbeIntervals)
		s.AutoExecuteRunbooks = len(c.Healing.AutoExecuteWhitelist)
	}
	if c.RTL != nil {
		s.CorrectionKeywords = len(c.RTL.CorrectionKeywords)
	}
	if c.Cortex != nil {
		s.FallbackModels = len(c.Cortex.FallbackModels)
	}
	return s
}
