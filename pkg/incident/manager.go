package incident

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/heliosarchitect/axon/pkg/anomaly"
	"github.com/heliosarchitect/axon/pkg/store"
)

// ErrNotFound is returned when an incident ID does not exist.
var ErrNotFound = errors.New("incident not found")

// DismissedID is the synthetic ID returned by Upsert while a dismissal
// window is active. No row backs it.
const DismissedID = "dismissed"

const selectColumns = `id, anomaly_type, target_id, severity, state, runbook_id,
	detected_at, state_changed_at, resolved_at, escalation_tier, escalated_at,
	dismiss_until, audit_trail, details, schema_version`

// Manager persists and transitions incidents.
type Manager struct {
	db     *store.Store
	logger *slog.Logger
}

// NewManager creates an incident manager over the store.
func NewManager(db *store.Store) *Manager {
	if db == nil {
		panic("incident.NewManager: db must not be nil")
	}
	return &Manager{
		db:     db,
		logger: slog.Default().With("component", "incident-manager"),
	}
}

// Upsert opens a new incident for the anomaly, refreshes an existing open
// one, or — while a dismissal window is active for the key — returns a
// synthetic dismissed incident without touching the database.
func (m *Manager) Upsert(ctx context.Context, a anomaly.Anomaly) (*Incident, error) {
	if !a.Type.IsValid() {
		return nil, fmt.Errorf("invalid anomaly type %q", a.Type)
	}
	if a.TargetID == "" {
		return nil, fmt.Errorf("anomaly target must not be empty")
	}

	dismissed, err := m.IsDismissed(ctx, a.Type, a.TargetID)
	if err != nil {
		return nil, err
	}
	if dismissed {
		m.logger.Debug("Upsert suppressed by dismissal window",
			"anomaly_type", a.Type, "target_id", a.TargetID)
		return &Incident{
			ID:          DismissedID,
			AnomalyType: a.Type,
			TargetID:    a.TargetID,
			Severity:    a.Severity,
			State:       StateDismissed,
		}, nil
	}

	existing, err := m.FindOpen(ctx, a.Type, a.TargetID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		return m.refresh(ctx, existing, a)
	}
	return m.create(ctx, a)
}

func (m *Manager) create(ctx context.Context, a anomaly.Anomaly) (*Incident, error) {
	now := time.Now().UTC()
	inc := &Incident{
		ID:             uuid.New().String(),
		AnomalyType:    a.Type,
		TargetID:       a.TargetID,
		Severity:       a.Severity,
		State:          StateDetected,
		RunbookID:      a.RemediationHint,
		DetectedAt:     now,
		StateChangedAt: now,
		Details:        a.Details,
		SchemaVersion:  1,
		AuditTrail: []AuditEntry{{
			Timestamp: now,
			State:     StateDetected,
			Actor:     "classifier",
			Note:      fmt.Sprintf("detected via %s", a.SourceID),
		}},
	}

	audit, err := encodeAudit(inc.AuditTrail)
	if err != nil {
		return nil, err
	}
	details, err := encodeDetails(inc.Details)
	if err != nil {
		return nil, err
	}

	var runbookID *string
	if inc.RunbookID != "" {
		runbookID = &inc.RunbookID
	}

	_, err = m.db.Run(ctx, `INSERT INTO incidents
		(id, anomaly_type, target_id, severity, state, runbook_id,
		 detected_at, state_changed_at, audit_trail, details, schema_version)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		inc.ID, string(inc.AnomalyType), inc.TargetID, string(inc.Severity),
		string(inc.State), runbookID, inc.DetectedAt, inc.StateChangedAt,
		audit, details, inc.SchemaVersion)
	if err != nil {
		return nil, fmt.Errorf("create incident %s: %w", inc.Key(), err)
	}

	m.logger.Info("Incident opened",
		"incident_id", inc.ID, "anomaly_type", inc.AnomalyType,
		"target_id", inc.TargetID, "severity", inc.Severity)
	return inc, nil
}

func (m *Manager) refresh(ctx context.Context, inc *Incident, a anomaly.Anomaly) (*Incident, error) {
	now := time.Now().UTC()
	inc.DetectedAt = now
	inc.AuditTrail = appendAudit(inc.AuditTrail, AuditEntry{
		Timestamp: now,
		State:     inc.State,
		Actor:     "classifier",
		Note:      fmt.Sprintf("re-detected via %s", a.SourceID),
	})

	audit, err := encodeAudit(inc.AuditTrail)
	if err != nil {
		return nil, err
	}
	_, err = m.db.Run(ctx,
		"UPDATE incidents SET detected_at = ?, audit_trail = ? WHERE id = ?",
		inc.DetectedAt, audit, inc.ID)
	if err != nil {
		return nil, fmt.Errorf("refresh incident %s: %w", inc.ID, err)
	}
	return inc, nil
}

// Transition moves the incident to newState and appends an audit entry.
// No transition matrix is enforced beyond the state set: invalid-looking
// transitions are recorded as-is for forensic clarity.
func (m *Manager) Transition(ctx context.Context, id string, newState State, note, actor string) (*Incident, error) {
	inc, err := m.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	inc.State = newState
	inc.StateChangedAt = now
	inc.AuditTrail = appendAudit(inc.AuditTrail, AuditEntry{
		Timestamp: now,
		State:     newState,
		Actor:     actor,
		Note:      note,
	})

	switch newState {
	case StateResolved, StateSelfResolved:
		inc.ResolvedAt = &now
	case StateEscalated:
		inc.EscalatedAt = &now
	}

	audit, err := encodeAudit(inc.AuditTrail)
	if err != nil {
		return nil, err
	}
	_, err = m.db.Run(ctx, `UPDATE incidents SET
		state = ?, state_changed_at = ?, resolved_at = ?, escalated_at = ?,
		audit_trail = ? WHERE id = ?`,
		string(inc.State), inc.StateChangedAt, inc.ResolvedAt, inc.EscalatedAt,
		audit, inc.ID)
	if err != nil {
		return nil, fmt.Errorf("transition incident %s to %s: %w", id, newState, err)
	}

	m.logger.Info("Incident transitioned",
		"incident_id", id, "state", newState, "actor", actor)
	return inc, nil
}

// SetEscalationTier records the tier chosen by the escalation router.
func (m *Manager) SetEscalationTier(ctx context.Context, id string, tier int) error {
	_, err := m.db.Run(ctx,
		"UPDATE incidents SET escalation_tier = ? WHERE id = ?", tier, id)
	if err != nil {
		return fmt.Errorf("set escalation tier on %s: %w", id, err)
	}
	return nil
}

// Dismiss suppresses the incident's key for the given window and
// transitions the incident to dismissed.
func (m *Manager) Dismiss(ctx context.Context, id, reason string, window time.Duration) (*Incident, error) {
	inc, err := m.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	until := time.Now().UTC().Add(window)
	if _, err := m.db.Run(ctx,
		"UPDATE incidents SET dismiss_until = ? WHERE id = ?", until, id); err != nil {
		return nil, fmt.Errorf("set dismiss window on %s: %w", id, err)
	}
	inc.DismissUntil = &until

	note := fmt.Sprintf("dismissed until %s: %s", until.Format(time.RFC3339), reason)
	return m.Transition(ctx, inc.ID, StateDismissed, note, "operator")
}

// IsDismissed reports whether an active dismissal window exists for the
// key. Used as the suppression filter by Upsert.
func (m *Manager) IsDismissed(ctx context.Context, t anomaly.Type, targetID string) (bool, error) {
	var n int
	err := m.db.Get(ctx, &n, `SELECT COUNT(*) FROM incidents
		WHERE anomaly_type = ? AND target_id = ? AND state = ?
		  AND dismiss_until IS NOT NULL AND dismiss_until > ?`,
		string(t), targetID, string(StateDismissed), time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("dismissal query for %s/%s: %w", t, targetID, err)
	}
	return n > 0, nil
}

// FindOpen returns the open incident for a key, or ErrNotFound.
func (m *Manager) FindOpen(ctx context.Context, t anomaly.Type, targetID string) (*Incident, error) {
	var r row
	err := m.db.Get(ctx, &r, `SELECT `+selectColumns+` FROM incidents
		WHERE anomaly_type = ? AND target_id = ?
		  AND state NOT IN (?,?,?)`,
		string(t), targetID,
		string(StateResolved), string(StateSelfResolved), string(StateDismissed))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find open incident %s/%s: %w", t, targetID, err)
	}
	return r.toIncident()
}

// GetByID returns an incident, or ErrNotFound.
func (m *Manager) GetByID(ctx context.Context, id string) (*Incident, error) {
	var r row
	err := m.db.Get(ctx, &r, `SELECT `+selectColumns+` FROM incidents WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get incident %s: %w", id, err)
	}
	return r.toIncident()
}

// ListOpen returns all non-terminal incidents, newest first.
func (m *Manager) ListOpen(ctx context.Context) ([]*Incident, error) {
	return m.list(ctx, `SELECT `+selectColumns+` FROM incidents
		WHERE state NOT IN (?,?,?) ORDER BY detected_at DESC`,
		string(StateResolved), string(StateSelfResolved), string(StateDismissed))
}

// ListRecent returns incidents (any state) detected within the window.
func (m *Manager) ListRecent(ctx context.Context, window time.Duration) ([]*Incident, error) {
	return m.list(ctx, `SELECT `+selectColumns+` FROM incidents
		WHERE detected_at > ? ORDER BY detected_at DESC`,
		time.Now().UTC().Add(-window))
}

func (m *Manager) list(ctx context.Context, query string, args ...any) ([]*Incident, error) {
	var rows []row
	if err := m.db.All(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	out := make([]*Incident, 0, len(rows))
	for _, r := range rows {
		inc, err := r.toIncident()
		if err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	return out, nil
}

// Cleanup removes terminal incidents older than the retention window.
func (m *Manager) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	res, err := m.db.Run(ctx, `DELETE FROM incidents
		WHERE state IN (?,?,?) AND state_changed_at < ?`,
		string(StateResolved), string(StateSelfResolved), string(StateDismissed),
		time.Now().UTC().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("cleanup incidents: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// appendAudit enforces monotone timestamps: a wall-clock step backwards
// (NTP adjustment) is clamped so insertion order and timestamps agree.
func appendAudit(trail []AuditEntry, entry AuditEntry) []AuditEntry {
	if n := len(trail); n > 0 && entry.Timestamp.Before(trail[n-1].Timestamp) {
		entry.Timestamp = trail[n-1].Timestamp.Add(time.Millisecond)
	}
	return append(trail, entry)
}
