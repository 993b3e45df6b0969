package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// axonYAML represents the complete axon.yaml file structure.
// Every section is optional; omitted sections use built-in defaults.
type axonYAML struct {
	Healing     *HealingConfig     `yaml:"healing"`
	RTL         *RTLConfig         `yaml:"rtl"`
	Compression *CompressionConfig `yaml:"compression"`
	Pattern     *PatternConfig     `yaml:"pattern"`
	Session     *SessionConfig     `yaml:"session"`
	Cortex      *CortexConfig      `yaml:"cortex"`
	Store       *StoreConfig       `yaml:"store"`
	Synapse     *SynapseConfig     `yaml:"synapse"`
	API         *APIConfig         `yaml:"api"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
//
// Steps performed:
//  1. Read axon.yaml from configDir (missing file = all defaults)
//  2. Expand ${ENV_VAR} references
//  3. Parse YAML into typed sections
//  4. Fill omitted sections/fields with defaults
//  5. Validate the result
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg := &Config{
		configDir:   configDir,
		Healing:     DefaultHealingConfig(),
		RTL:         DefaultRTLConfig(),
		Compression: DefaultCompressionConfig(),
		Pattern:     DefaultPatternConfig(),
		Session:     DefaultSessionConfig(),
		Cortex:      DefaultCortexConfig(),
		Store:       DefaultStoreConfig(),
		Synapse:     DefaultSynapseConfig(),
		API:         DefaultAPIConfig(),
	}

	path := filepath.Join(configDir, "axon.yaml")
	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Info("No axon.yaml found, using built-in defaults")
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", path, err)
	default:
		expanded := expandEnv(string(raw))
		var parsed axonYAML
		if err := yaml.Unmarshal([]byte(expanded), &parsed); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		applySection(&cfg.Healing, parsed.Healing, mergeHealing)
		applySection(&cfg.RTL, parsed.RTL, mergeRTL)
		applySection(&cfg.Compression, parsed.Compression, mergeCompression)
		applySection(&cfg.Pattern, parsed.Pattern, mergePattern)
		applySection(&cfg.Session, parsed.Session, mergeSession)
		applySection(&cfg.Cortex, parsed.Cortex, mergeCortex)
		applySection(&cfg.Store, parsed.Store, mergeStore)
		applySection(&cfg.Synapse, parsed.Synapse, mergeSynapse)
		applySection(&cfg.API, parsed.API, mergeAPI)
		log.Info("Loaded axon.yaml", "path", path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized",
		"probe_overrides", stats.ProbeOverrides,
		"correction_keywords", stats.CorrectionKeywords,
		"auto_execute_runbooks", stats.AutoExecuteRunbooks,
		"fallback_models", stats.FallbackModels)

	return cfg, nil
}

// applySection merges a parsed YAML section over the defaults when present.
func applySection[T any](dst **T, parsed *T, merge func(def, in *T)) {
	if parsed == nil {
		return
	}
	merge(*dst, parsed)
}

// The merge functions overlay user-supplied values on the defaults.
// Zero values of numeric fields mean "not set" and keep the default;
// explicit false for Enabled is honored via the pointer check above
// only when the section itself is present.

func mergeHealing(def, in *HealingConfig) {
	def.Enabled = in.Enabled
	if in.AutoExecuteWhitelist != nil {
		def.AutoExecuteWhitelist = in.AutoExecuteWhitelist
	}
	if in.ConfidenceAutoExecute > 0 {
		def.ConfidenceAutoExecute = in.ConfidenceAutoExecute
	}
	if in.DryRunGraduationCount > 0 {
		def.DryRunGraduationCount = in.DryRunGraduationCount
	}
	if in.VerificationIntervalMS > 0 {
		def.VerificationIntervalMS = in.VerificationIntervalMS
	}
	if in.MinClearReadings > 0 {
		def.MinClearReadings = in.MinClearReadings
	}
	if in.IncidentDismissWindowMS > 0 {
		def.IncidentDismissWindowMS = in.IncidentDismissWindowMS
	}
	if in.ProbeIntervals != nil {
		def.ProbeIntervals = in.ProbeIntervals
	}
	if in.IncidentRetention > 0 {
		def.IncidentRetention = in.IncidentRetention
	}
	if in.MonitoredProcesses != nil {
		def.MonitoredProcesses = in.MonitoredProcesses
	}
	if in.GatewayURL != "" {
		def.GatewayURL = in.GatewayURL
	}
	if in.DiskPath != "" {
		def.DiskPath = in.DiskPath
	}
	if in.SessionHeartbeatPath != "" {
		def.SessionHeartbeatPath = in.SessionHeartbeatPath
	}
}

func mergeRTL(def, in *RTLConfig) {
	if in.CorrectionKeywords != nil {
		def.CorrectionKeywords = in.CorrectionKeywords
	}
	if in.CorrectionScanWindowMS > 0 {
		def.CorrectionScanWindowMS = in.CorrectionScanWindowMS
	}
	if in.RecurrenceWindowDays > 0 {
		def.RecurrenceWindowDays = in.RecurrenceWindowDays
	}
	if in.PreviewTTLMinutes > 0 {
		def.PreviewTTLMinutes = in.PreviewTTLMinutes
	}
	if in.Tier3DefaultOnTimeout != "" {
		def.Tier3DefaultOnTimeout = in.Tier3DefaultOnTimeout
	}
	if in.SOPDirectory != "" {
		def.SOPDirectory = in.SOPDirectory
	}
	if in.QueueCapacity > 0 {
		def.QueueCapacity = in.QueueCapacity
	}
}

func mergeCompression(def, in *CompressionConfig) {
	if in.ClusterMinMembers > 0 {
		def.ClusterMinMembers = in.ClusterMinMembers
	}
	if in.ClusterSimilarityThreshold > 0 {
		def.ClusterSimilarityThreshold = in.ClusterSimilarityThreshold
	}
	if in.MinCompressionRatio > 0 {
		def.MinCompressionRatio = in.MinCompressionRatio
	}
	if in.AtomDedupSimilarity > 0 {
		def.AtomDedupSimilarity = in.AtomDedupSimilarity
	}
	if in.MinMemoryAge > 0 {
		def.MinMemoryAge = in.MinMemoryAge
	}
	if in.MaxClusterTokens > 0 {
		def.MaxClusterTokens = in.MaxClusterTokens
	}
	if in.ReportsDir != "" {
		def.ReportsDir = in.ReportsDir
	}
}

func mergePattern(def, in *PatternConfig) {
	if in.MatchThreshold > 0 {
		def.MatchThreshold = in.MatchThreshold
	}
	if in.TopNPerPair > 0 {
		def.TopNPerPair = in.TopNPerPair
	}
	if in.MaxRowsPerSource > 0 {
		def.MaxRowsPerSource = in.MaxRowsPerSource
	}
	if in.TradingDBPath != "" {
		def.TradingDBPath = in.TradingDBPath
	}
	if in.RadioDBPath != "" {
		def.RadioDBPath = in.RadioDBPath
	}
	if in.FleetDBPath != "" {
		def.FleetDBPath = in.FleetDBPath
	}
}

func mergeSession(def, in *SessionConfig) {
	if in.LookbackDays > 0 {
		def.LookbackDays = in.LookbackDays
	}
	if in.RelevanceThreshold > 0 {
		def.RelevanceThreshold = in.RelevanceThreshold
	}
	if in.MaxSessionsScored > 0 {
		def.MaxSessionsScored = in.MaxSessionsScored
	}
	if in.MaxInheritedPins > 0 {
		def.MaxInheritedPins = in.MaxInheritedPins
	}
	if in.DecayMinFloor > 0 {
		def.DecayMinFloor = in.DecayMinFloor
	}
	if in.SessionDir != "" {
		def.SessionDir = in.SessionDir
	}
}

func mergeCortex(def, in *CortexConfig) {
	if in.DefaultModel != "" {
		def.DefaultModel = in.DefaultModel
	}
	if in.FallbackModels != nil {
		def.FallbackModels = in.FallbackModels
	}
	if in.TaskPolicies != nil {
		def.TaskPolicies = in.TaskPolicies
	}
	if in.MaxAttempts > 0 {
		def.MaxAttempts = in.MaxAttempts
	}
	if in.RequestTimeout > 0 {
		def.RequestTimeout = in.RequestTimeout
	}
}

func mergeStore(def, in *StoreConfig) {
	if in.Path != "" {
		def.Path = in.Path
	}
	if in.MetricsPath != "" {
		def.MetricsPath = in.MetricsPath
	}
}

func mergeSynapse(def, in *SynapseConfig) {
	if in.ExternalWebhookURL != "" {
		def.ExternalWebhookURL = in.ExternalWebhookURL
	}
	if in.ExternalTokenEnv != "" {
		def.ExternalTokenEnv = in.ExternalTokenEnv
	}
	if in.DeliveryTimeout > 0 {
		def.DeliveryTimeout = in.DeliveryTimeout
	}
	if in.LogRetention > 0 {
		def.LogRetention = in.LogRetention
	}
}

func mergeAPI(def, in *APIConfig) {
	if in.ListenAddr != "" {
		def.ListenAddr = in.ListenAddr
	}
	if in.AllowedWSOrigins != nil {
		def.AllowedWSOrigins = in.AllowedWSOrigins
	}
}
