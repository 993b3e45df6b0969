// Package rtl implements the real-time learning pipeline: failure
// detection relays feed a bounded queue, a classifier assigns root
// causes, and propagators push the lesson into SOPs, atoms, regression
// stubs, and the message bus.
package rtl

import (
	"encoding/json"
	"fmt"
	"time"
)

// FailureType is the closed set of detection sources.
type FailureType string

const (
	FailureToolError  FailureType = "TOOL_ERR"
	FailureCorrection FailureType = "CORRECT"
	FailureSOPViol    FailureType = "SOP_VIOL"
	FailureTrustDem   FailureType = "TRUST_DEM"
	FailurePipeline   FailureType = "PIPE_FAIL"
)

// IsValid checks if the failure type is a known value.
func (t FailureType) IsValid() bool {
	switch t {
	case FailureToolError, FailureCorrection, FailureSOPViol, FailureTrustDem, FailurePipeline:
		return true
	default:
		return false
	}
}

// PropagationStatus is the failure's processing state. Transitions only
// move forward along the enumerated order.
type PropagationStatus string

const (
	StatusPending    PropagationStatus = "pending"
	StatusInProgress PropagationStatus = "in_progress"
	StatusPropagated PropagationStatus = "propagated"
	StatusEscalated  PropagationStatus = "escalated"
	StatusNoFix      PropagationStatus = "no_fix_needed"
)

// statusOrder enforces forward-only transitions.
var statusOrder = map[PropagationStatus]int{
	StatusPending:    0,
	StatusInProgress: 1,
	StatusPropagated: 2,
	StatusEscalated:  3,
	StatusNoFix:      4,
}

// CanTransition reports whether moving from s to next is forward.
func (s PropagationStatus) CanTransition(next PropagationStatus) bool {
	a, ok1 := statusOrder[s]
	b, ok2 := statusOrder[next]
	return ok1 && ok2 && b > a
}

// TargetType names a propagation destination.
type TargetType string

const (
	TargetSOPPatch    TargetType = "sop_patch"
	TargetHookPattern TargetType = "hook_pattern"
	TargetAtom        TargetType = "atom"
	TargetRegression  TargetType = "regression_test"
	TargetSynapse     TargetType = "synapse_relay"
	TargetCrossSystem TargetType = "cross_system"
)

// DetectionPayload is what the relays enqueue.
type DetectionPayload struct {
	Type        FailureType    `json:"type"`
	Tier        int            `json:"tier"`
	Source      string         `json:"source"`
	Context     map[string]any `json:"context,omitempty"`
	RawInput    string         `json:"raw_input,omitempty"`
	FailureDesc string         `json:"failure_description"`
}

// Validate rejects malformed payloads at the queue boundary.
func (p DetectionPayload) Validate() error {
	if !p.Type.IsValid() {
		return fmt.Errorf("invalid failure type %q", p.Type)
	}
	if p.Tier < 1 || p.Tier > 3 {
		return fmt.Errorf("tier must be 1..3, got %d", p.Tier)
	}
	if p.FailureDesc == "" {
		return fmt.Errorf("failure description must not be empty")
	}
	return nil
}

// FailureEvent is the persisted failure record.
type FailureEvent struct {
	ID              string
	DetectedAt      time.Time
	Type            FailureType
	Tier            int
	Source          string
	Context         map[string]any
	RawInput        string
	FailureDesc     string
	RootCause       string
	Status          PropagationStatus
	RecurrenceCount int
	LastRecurredAt  *time.Time
}

// ShortID is the first 8 chars of the failure ID, used in atom subjects
// and stub names.
func (f *FailureEvent) ShortID() string {
	if len(f.ID) < 8 {
		return f.ID
	}
	return f.ID[:8]
}

// PropagationRecord tracks one (failure, target) attempt.
type PropagationRecord struct {
	ID           string
	FailureID    string
	StartedAt    time.Time
	CompletedAt  *time.Time
	Type         TargetType
	TargetFile   string
	CommitSHA    string
	SynapseMsgID string
	Status       string
	DiffPreview  string
	ErrorDetail  string
}

const (
	PropCommitted = "committed"
	PropPreviewed = "previewed"
	PropFailed    = "failed"
	PropSkipped   = "skipped"
)

type failureRow struct {
	ID              string     `db:"id"`
	DetectedAt      time.Time  `db:"detected_at"`
	Type            string     `db:"type"`
	Tier            int        `db:"tier"`
	Source          string     `db:"source"`
	Context         string     `db:"context"`
	RawInput        *string    `db:"raw_input"`
	FailureDesc     string     `db:"failure_desc"`
	RootCause       *string    `db:"root_cause"`
	Status          string     `db:"propagation_status"`
	RecurrenceCount int        `db:"recurrence_count"`
	LastRecurredAt  *time.Time `db:"last_recurred_at"`
}

func (r failureRow) toEvent() (*FailureEvent, error) {
	f := &FailureEvent{
		ID:              r.ID,
		DetectedAt:      r.DetectedAt,
		Type:            FailureType(r.Type),
		Tier:            r.Tier,
		Source:          r.Source,
		FailureDesc:     r.FailureDesc,
		Status:          PropagationStatus(r.Status),
		RecurrenceCount: r.RecurrenceCount,
		LastRecurredAt:  r.LastRecurredAt,
	}
	if r.RawInput != nil {
		f.RawInput = *r.RawInput
	}
	if r.RootCause != nil {
		f.RootCause = *r.RootCause
	}
	if err := json.Unmarshal([]byte(r.Context), &f.Context); err != nil {
		return nil, fmt.Errorf("decode failure context of %s: %w", r.ID, err)
	}
	return f, nil
}
