// Package incident manages the persisted incident state machine.
//
// An incident is keyed by (anomaly_type, target_id) and at most one open
// incident exists per key at any instant, enforced by a partial unique
// index over non-terminal states. Every state change appends to the
// incident's audit trail; entries are append-only with monotone
// timestamps.
package incident

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/heliosarchitect/axon/pkg/anomaly"
)

// State is the incident lifecycle state.
type State string

const (
	StateDetected          State = "detected"
	StateDiagnosing        State = "diagnosing"
	StateRemediating       State = "remediating"
	StateVerifying         State = "verifying"
	StateResolved          State = "resolved"
	StateRemediationFailed State = "remediation_failed"
	StateEscalated         State = "escalated"
	StateSelfResolved      State = "self_resolved"
	StateDismissed         State = "dismissed"
)

// terminalStates are excluded from the open-incident uniqueness key.
var terminalStates = map[State]bool{
	StateResolved:     true,
	StateSelfResolved: true,
	StateDismissed:    true,
}

// IsTerminal reports whether the state closes the incident.
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// AuditEntry is one step of an incident's history.
type AuditEntry struct {
	Timestamp time.Time `json:"timestamp"`
	State     State     `json:"state"`
	Actor     string    `json:"actor"`
	Note      string    `json:"note"`
}

// Incident is the persisted state machine instance.
type Incident struct {
	ID             string
	AnomalyType    anomaly.Type
	TargetID       string
	Severity       anomaly.Severity
	State          State
	RunbookID      string
	DetectedAt     time.Time
	StateChangedAt time.Time
	ResolvedAt     *time.Time
	EscalationTier *int
	EscalatedAt    *time.Time
	DismissUntil   *time.Time
	AuditTrail     []AuditEntry
	Details        map[string]any
	SchemaVersion  int
}

// Key renders the uniqueness key for logs.
func (inc *Incident) Key() string {
	return fmt.Sprintf("%s/%s", inc.AnomalyType, inc.TargetID)
}

// row is the sqlx scan target; JSON columns stay as text until decoded.
type row struct {
	ID             string     `db:"id"`
	AnomalyType    string     `db:"anomaly_type"`
	TargetID       string     `db:"target_id"`
	Severity       string     `db:"severity"`
	State          string     `db:"state"`
	RunbookID      *string    `db:"runbook_id"`
	DetectedAt     time.Time  `db:"detected_at"`
	StateChangedAt time.Time  `db:"state_changed_at"`
	ResolvedAt     *time.Time `db:"resolved_at"`
	EscalationTier *int       `db:"escalation_tier"`
	EscalatedAt    *time.Time `db:"escalated_at"`
	DismissUntil   *time.Time `db:"dismiss_until"`
	AuditTrail     string     `db:"audit_trail"`
	Details        string     `db:"details"`
	SchemaVersion  int        `db:"schema_version"`
}

func (r row) toIncident() (*Incident, error) {
	inc := &Incident{
		ID:             r.ID,
		AnomalyType:    anomaly.Type(r.AnomalyType),
		TargetID:       r.TargetID,
		Severity:       anomaly.Severity(r.Severity),
		State:          State(r.State),
		DetectedAt:     r.DetectedAt,
		StateChangedAt: r.StateChangedAt,
		ResolvedAt:     r.ResolvedAt,
		EscalationTier: r.EscalationTier,
		EscalatedAt:    r.EscalatedAt,
		DismissUntil:   r.DismissUntil,
		SchemaVersion:  r.SchemaVersion,
	}
	if r.RunbookID != nil {
		inc.RunbookID = *r.RunbookID
	}
	if err := json.Unmarshal([]byte(r.AuditTrail), &inc.AuditTrail); err != nil {
		return nil, fmt.Errorf("decode audit trail of %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.Details), &inc.Details); err != nil {
		return nil, fmt.Errorf("decode details of %s: %w", r.ID, err)
	}
	return inc, nil
}

func encodeAudit(trail []AuditEntry) (string, error) {
	b, err := json.Marshal(trail)
	if err != nil {
		return "", fmt.Errorf("encode audit trail: %w", err)
	}
	return string(b), nil
}

func encodeDetails(details map[string]any) (string, error) {
	if details == nil {
		details = map[string]any{}
	}
	b, err := json.Marshal(details)
	if err != nil {
		return "", fmt.Errorf("encode details: %w", err)
	}
	return string(b), nil
}
