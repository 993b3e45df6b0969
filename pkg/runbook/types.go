// Package runbook defines remediation runbooks and the executor that
// runs them against open incidents.
//
// A runbook definition is static code; its persisted metadata carries
// the dry-run counter and the current execution mode. A runbook only
// graduates from dry_run to auto_execute after enough recorded dry
// runs AND an explicit entry on the operator's whitelist.
package runbook

import (
	"context"
	"time"

	"github.com/heliosarchitect/axon/pkg/anomaly"
)

// Mode is the runbook execution mode.
type Mode string

const (
	ModeDryRun      Mode = "dry_run"
	ModeAutoExecute Mode = "auto_execute"
)

// StepStatus is the outcome of a single step.
type StepStatus string

const (
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepDryRun    StepStatus = "dry_run"
)

// StepResult is what a step's Execute returns.
type StepResult struct {
	Status    StepStatus
	Output    string
	Artifacts []string
}

// Step is one ordered action of a runbook.
type Step struct {
	ID          string
	Description string
	Timeout     time.Duration

	// DryRun renders what the step would do without doing it.
	DryRun func() string

	// Execute performs the step. It must honor ctx cancellation; the
	// executor races it against the step timeout.
	Execute func(ctx context.Context) StepResult
}

// Definition is a static runbook: what it applies to and how to build
// its step sequence for a concrete anomaly.
type Definition struct {
	ID        string
	Label     string
	AppliesTo []anomaly.Type

	// AutoApproveWhitelist marks runbooks eligible for whitelisting at
	// all. Runbooks with this false never run live.
	AutoApproveWhitelist bool

	// DocURL points at the runbook's reference document (GitHub blob
	// URLs are converted to raw content URLs on fetch). Optional.
	DocURL string

	// Build constructs the ordered steps for the anomaly.
	Build func(a anomaly.Anomaly) []Step
}

// Applies reports whether the definition covers the anomaly type.
func (d *Definition) Applies(t anomaly.Type) bool {
	for _, at := range d.AppliesTo {
		if at == t {
			return true
		}
	}
	return false
}

// Meta is the persisted per-runbook execution record.
type Meta struct {
	RunbookID       string     `db:"runbook_id"`
	DryRunCount     int        `db:"dry_run_count"`
	LastExecutedAt  *time.Time `db:"last_executed_at"`
	LastSucceededAt *time.Time `db:"last_succeeded_at"`
	Confidence      float64    `db:"confidence"`
	Mode            Mode       `db:"mode"`
}

// StepOutcome is one executed (or dry-run) step in a Result.
type StepOutcome struct {
	StepID      string     `json:"step_id"`
	Description string     `json:"description"`
	Status      StepStatus `json:"status"`
	Output      string     `json:"output"`
	DurationMS  int64      `json:"duration_ms"`
}

// Result is the executor's outcome for one runbook invocation.
type Result struct {
	Success       bool
	Mode          Mode
	StepsExecuted []StepOutcome

	// VerificationPassed is nil when no verification ran (dry-run mode,
	// or the incident self-resolved before execution).
	VerificationPassed *bool

	EscalationNeeded bool
}
