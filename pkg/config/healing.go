package config

import "time"

// HealingConfig controls the self-healing engine: probe scheduling,
// runbook graduation, verification, and incident dismissal.
type HealingConfig struct {
	// Enabled gates the whole engine. When false, probes are not scheduled
	// and no incidents are opened.
	Enabled bool `yaml:"enabled"`

	// AutoExecuteWhitelist lists runbook IDs the operator has explicitly
	// approved for live execution. Graduation alone is not sufficient:
	// a runbook runs live only when it is graduated AND whitelisted.
	AutoExecuteWhitelist []string `yaml:"auto_execute_whitelist"`

	// ConfidenceAutoExecute is the minimum runbook confidence for tier-0
	// (silent) escalation handling.
	ConfidenceAutoExecute float64 `yaml:"confidence_auto_execute"`

	// DryRunGraduationCount is the number of recorded dry runs required
	// before a runbook may graduate to auto_execute mode.
	DryRunGraduationCount int `yaml:"dry_run_graduation_count"`

	// VerificationIntervalMS is the post-execution wait before the
	// verification probe re-polls the originating source.
	VerificationIntervalMS int `yaml:"verification_interval_ms"`

	// MinClearReadings is the number of consecutive anomaly-free readings
	// required before an open incident is considered self-resolved by the
	// engine's polling loop.
	MinClearReadings int `yaml:"min_clear_readings"`

	// IncidentDismissWindowMS is the default suppression window applied
	// when an operator dismisses an incident.
	IncidentDismissWindowMS int64 `yaml:"incident_dismiss_window_ms"`

	// ProbeIntervals overrides poll_interval_ms per probe source ID.
	ProbeIntervals map[string]int `yaml:"probe_intervals_ms"`

	// IncidentRetention is how long terminal incidents are kept before
	// the cleanup pass removes them.
	IncidentRetention time.Duration `yaml:"incident_retention"`

	// MonitoredProcesses are process names watched by liveness probes.
	MonitoredProcesses []string `yaml:"monitored_processes"`

	// GatewayURL is the HTTP endpoint the gateway probe polls. Empty
	// disables the probe.
	GatewayURL string `yaml:"gateway_url"`

	// DiskPath is the filesystem the disk-pressure probe samples.
	DiskPath string `yaml:"disk_path"`

	// SessionHeartbeatPath is the agent's heartbeat file. Empty disables
	// the freshness probe.
	SessionHeartbeatPath string `yaml:"session_heartbeat_path"`
}

// VerificationInterval returns the verification wait as a Duration.
func (c *HealingConfig) VerificationInterval() time.Duration {
	return time.Duration(c.VerificationIntervalMS) * time.Millisecond
}

// IncidentDismissWindow returns the default dismiss window as a Duration.
func (c *HealingConfig) IncidentDismissWindow() time.Duration {
	return time.Duration(c.IncidentDismissWindowMS) * time.Millisecond
}

// ProbeInterval returns the configured poll interval for a source ID,
// or the provided fallback when no override exists.
func (c *HealingConfig) ProbeInterval(sourceID string, fallback time.Duration) time.Duration {
	if ms, ok := c.ProbeIntervals[sourceID]; ok && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}

// IsWhitelisted reports whether a runbook ID is on the operator's
// auto-execute whitelist.
func (c *HealingConfig) IsWhitelisted(runbookID string) bool {
	for _, id := range c.AutoExecuteWhitelist {
		if id == runbookID {
			return true
		}
	}
	return false
}

// DefaultHealingConfig returns the built-in healing defaults.
func DefaultHealingConfig() *HealingConfig {
	return &HealingConfig{
		Enabled:                 true,
		AutoExecuteWhitelist:    []string{},
		ConfidenceAutoExecute:   0.8,
		DryRunGraduationCount:   3,
		VerificationIntervalMS:  5000,
		MinClearReadings:        2,
		IncidentDismissWindowMS: 24 * 60 * 60 * 1000,
		ProbeIntervals:          map[string]int{},
		IncidentRetention:       7 * 24 * time.Hour,
		MonitoredProcesses:      []string{},
		GatewayURL:              "",
		DiskPath:                "/",
		SessionHeartbeatPath:    "",
	}
}
