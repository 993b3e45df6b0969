// Package anomaly defines the typed anomaly set and the rule-table
// classifier that maps probe readings to anomalies.
package anomaly

import (
	"time"

	"github.com/google/uuid"
)

// Type is the closed set of anomaly kinds the system recognizes.
type Type string

const (
	TypeProcessDead        Type = "process_dead"
	TypeProcessFlapping    Type = "process_flapping"
	TypeMemoryPressure     Type = "memory_pressure"
	TypeDiskPressure       Type = "disk_pressure"
	TypeGatewayUnreachable Type = "gateway_unreachable"
	TypeGatewayDegraded    Type = "gateway_degraded"
	TypeStoreCorruption    Type = "store_corruption"
	TypeStoreLocked        Type = "store_locked"
	TypeStaleReading       Type = "stale_reading"
	TypeProbeUnavailable   Type = "probe_unavailable"
	TypeSessionFileStale   Type = "session_file_stale"
	TypeChannelDisconnect  Type = "channel_disconnected"
	TypeClockSkew          Type = "clock_skew"
)

// AllTypes lists every anomaly type, for validation and API responses.
var AllTypes = []Type{
	TypeProcessDead, TypeProcessFlapping, TypeMemoryPressure,
	TypeDiskPressure, TypeGatewayUnreachable, TypeGatewayDegraded,
	TypeStoreCorruption, TypeStoreLocked, TypeStaleReading,
	TypeProbeUnavailable, TypeSessionFileStale, TypeChannelDisconnect,
	TypeClockSkew,
}

// IsValid checks membership in the closed type set.
func (t Type) IsValid() bool {
	for _, known := range AllTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Severity orders anomalies for escalation decisions.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns a comparable ordering value (low=0 .. critical=3).
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return -1
	}
}

// Anomaly is a transient deviation observed in a source. It is not
// persisted; acceptance turns it into an incident.
type Anomaly struct {
	ID         string
	Type       Type
	TargetID   string
	Severity   Severity
	DetectedAt time.Time
	SourceID   string
	Details    map[string]any
	// RemediationHint suggests a runbook ID. Empty means no suggestion.
	RemediationHint string
}

// newAnomaly fills the identity fields common to all rules.
func newAnomaly(t Type, targetID string, sev Severity, sourceID, hint string, details map[string]any) Anomaly {
	if details == nil {
		details = map[string]any{}
	}
	return Anomaly{
		ID:              uuid.New().String(),
		Type:            t,
		TargetID:        targetID,
		Severity:        sev,
		DetectedAt:      time.Now().UTC(),
		SourceID:        sourceID,
		Details:         details,
		RemediationHint: hint,
	}
}
